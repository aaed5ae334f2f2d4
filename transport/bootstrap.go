package transport

import (
	"encoding/json"
	"time"

	"github.com/nocdem/dna-messenger-sub001/crypto"
	"github.com/sirupsen/logrus"
)

// bootstrapRegistryKey is the well-known key holding the live bootstrap
// node registry: SHA3-512("dna:bootstrap:registry"), truncated to 32
// bytes to match the [DHT] key type.
func bootstrapRegistryKey() [32]byte {
	full := crypto.Hash512([]byte("dna:bootstrap:registry"))
	var out [32]byte
	copy(out[:], full[:32])
	return out
}

const (
	bootstrapLivenessWindow  = 15 * time.Minute
	bootstrapRepublishPeriod = 5 * time.Minute
	bootstrapRegistryTTL     = 7 * 24 * time.Hour
)

// BootstrapRecord is one live bootstrap node's entry in the registry.
type BootstrapRecord struct {
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	NodeID   string `json:"node_id"`
	Version  string `json:"version"`
	LastSeen int64  `json:"last_seen"`
	Uptime   int64  `json:"uptime"`
}

// PingStats tracks ping outcomes for a bootstrap node, mirroring the
// ratio-based reliability scoring used for DHT peer selection.
type PingStats struct {
	LastPingSent     time.Time
	LastPingReceived time.Time
	PingCount        uint32
	SuccessCount     uint32
	FailureCount     uint32
}

// RecordPingSent marks that a ping was sent, for RTT/uptime accounting.
func (s *PingStats) RecordPingSent(now time.Time) {
	s.LastPingSent = now
	s.PingCount++
}

// RecordPingResponse records the outcome of a ping.
func (s *PingStats) RecordPingResponse(success bool, now time.Time) {
	if success {
		s.LastPingReceived = now
		s.SuccessCount++
	} else {
		s.FailureCount++
	}
}

// Reliability returns a 0.0-1.0 score: the fraction of pings that
// succeeded. A node never pinged scores 0.0, not undefined.
func (s *PingStats) Reliability() float64 {
	if s.PingCount == 0 {
		return 0.0
	}
	return float64(s.SuccessCount) / float64(s.PingCount)
}

// BootstrapRegistry maintains the local view of live bootstrap nodes
// and, for nodes this process itself operates, republishes their own
// entry on a fixed interval.
type BootstrapRegistry struct {
	dht   DHT
	stats map[string]*PingStats
}

// NewBootstrapRegistry constructs a registry bound to dht.
func NewBootstrapRegistry(dht DHT) *BootstrapRegistry {
	return &BootstrapRegistry{
		dht:   dht,
		stats: make(map[string]*PingStats),
	}
}

// FetchLiveNodes reads the bootstrap registry and returns the records
// whose last_seen is within the 15-minute liveness window of now.
func (r *BootstrapRegistry) FetchLiveNodes(now int64) ([]BootstrapRecord, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "FetchLiveNodes",
		"package":  "transport",
	})
	logger.Debug("Function entry: fetching bootstrap registry")
	defer logger.Debug("Function exit: FetchLiveNodes")

	values, err := r.dht.GetAll(bootstrapRegistryKey())
	if err != nil {
		return nil, newError("FetchLiveNodes", classifyGetError(err), err)
	}

	cutoff := now - int64(bootstrapLivenessWindow.Seconds())
	live := make([]BootstrapRecord, 0, len(values))
	for _, sv := range values {
		var rec BootstrapRecord
		if err := json.Unmarshal(sv.Value, &rec); err != nil {
			logger.WithError(err).Warn("Skipping malformed bootstrap record")
			continue
		}
		if rec.LastSeen >= cutoff {
			live = append(live, rec)
		}
	}
	return live, nil
}

// PublishSelf republishes this process's own bootstrap entry under a
// writer-stable value-id derived from its node id, per §4.3: "each live
// bootstrap node republishes its own entry every 5 min with a signed
// put and fixed value-id."
func (r *BootstrapRegistry) PublishSelf(rec BootstrapRecord, signingKey []byte) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return newError("PublishSelf", KindSerialize, err)
	}

	valueID := nodeValueID(rec.NodeID)
	if err := r.dht.PutSigned(bootstrapRegistryKey(), data, valueID, bootstrapRegistryTTL, signingKey); err != nil {
		return newError("PublishSelf", classifyPutError(err), err)
	}
	return nil
}

// RepublishInterval returns the fixed republish period (5 minutes).
func RepublishInterval() time.Duration {
	return bootstrapRepublishPeriod
}

// nodeValueID derives a writer-stable value-id for a bootstrap node
// from its node id, so repeated republishes replace rather than
// accumulate.
func nodeValueID(nodeID string) uint64 {
	full := crypto.Hash512([]byte(nodeID + ":bootstrap"))
	return uint64(full[0])<<56 | uint64(full[1])<<48 | uint64(full[2])<<40 | uint64(full[3])<<32 |
		uint64(full[4])<<24 | uint64(full[5])<<16 | uint64(full[6])<<8 | uint64(full[7])
}

// RecordPing records the outcome of a liveness probe against
// nodeID, creating its stats entry on first use.
func (r *BootstrapRegistry) RecordPing(nodeID string, success bool, now time.Time) {
	s, ok := r.stats[nodeID]
	if !ok {
		s = &PingStats{}
		r.stats[nodeID] = s
	}
	s.RecordPingSent(now)
	s.RecordPingResponse(success, now)
}

// Reliability returns nodeID's current reliability score, or 0.0 if it
// has never been pinged.
func (r *BootstrapRegistry) Reliability(nodeID string) float64 {
	s, ok := r.stats[nodeID]
	if !ok {
		return 0.0
	}
	return s.Reliability()
}

// RankByReliability returns records sorted most-to-least reliable,
// falling back to most-recently-seen for nodes tied at 0.0 (never
// pinged) reliability.
func (r *BootstrapRegistry) RankByReliability(records []BootstrapRecord) []BootstrapRecord {
	ranked := make([]BootstrapRecord, len(records))
	copy(ranked, records)

	for i := 1; i < len(ranked); i++ {
		j := i
		for j > 0 && r.less(ranked[j], ranked[j-1]) {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
			j--
		}
	}
	return ranked
}

func (r *BootstrapRegistry) less(a, b BootstrapRecord) bool {
	ra, rb := r.Reliability(a.NodeID), r.Reliability(b.NodeID)
	if ra != rb {
		return ra > rb
	}
	return a.LastSeen > b.LastSeen
}
