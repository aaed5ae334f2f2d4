package transport

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nocdem/dna-messenger-sub001/crypto"
	"github.com/nocdem/dna-messenger-sub001/limits"
	"github.com/sirupsen/logrus"
)

const (
	outboxTTL = limits.OutboxTTLSeconds * time.Second
	ackTTL    = limits.AckTTLSeconds * time.Second
	// ackValueID is fixed per §5: an ACK key has exactly one logical
	// value per (recipient, sender) pair, so there is nothing to
	// discriminate on.
	ackValueID uint64 = 1
)

// DayBucket returns the UTC day index used to key outbox buckets.
func DayBucket(unixTime int64) int64 {
	return unixTime / 86400
}

// OutboxBaseKey builds the base key for a DM outbox bucket, per §4.3:
// "<sender_fp>:outbox:<recipient_fp>:<day>".
func OutboxBaseKey(senderFP, recipientFP [64]byte, day int64) string {
	return fmt.Sprintf("%x:outbox:%x:%d", senderFP, recipientFP, day)
}

// GroupOutboxBaseKey builds the base key for a group outbox bucket, per
// §6: "dna:group:<uuid>:out:<day>".
func GroupOutboxBaseKey(groupUUID string, day int64) string {
	return fmt.Sprintf("dna:group:%s:out:%d", groupUUID, day)
}

// WriterValueID derives the writer-stable value-id used for replace
// semantics on a writer's own published values: a deterministic 64-bit
// function of their fingerprint.
func WriterValueID(fp [64]byte) uint64 {
	h := crypto.Hash512(append(fp[:], []byte(":valueid")...))
	return binary.BigEndian.Uint64(h[:8])
}

// OutboxEntry is one message queued in a sender's daily outbox bucket.
type OutboxEntry struct {
	SenderFP    [64]byte
	RecipientFP [64]byte
	OfflineSeq  uint64
	EnqueueTS   int64
	Expiry      int64
	Ciphertext  []byte
}

type outboxEntryWire struct {
	SenderFP    []byte `json:"sender_fp"`
	RecipientFP []byte `json:"recipient_fp"`
	OfflineSeq  uint64 `json:"offline_seq"`
	EnqueueTS   int64  `json:"enqueue_ts"`
	Expiry      int64  `json:"expiry"`
	Ciphertext  []byte `json:"ciphertext"`
}

func (e OutboxEntry) toWire() outboxEntryWire {
	return outboxEntryWire{
		SenderFP:    e.SenderFP[:],
		RecipientFP: e.RecipientFP[:],
		OfflineSeq:  e.OfflineSeq,
		EnqueueTS:   e.EnqueueTS,
		Expiry:      e.Expiry,
		Ciphertext:  e.Ciphertext,
	}
}

func (w outboxEntryWire) toEntry() OutboxEntry {
	var e OutboxEntry
	copy(e.SenderFP[:], w.SenderFP)
	copy(e.RecipientFP[:], w.RecipientFP)
	e.OfflineSeq = w.OfflineSeq
	e.EnqueueTS = w.EnqueueTS
	e.Expiry = w.Expiry
	e.Ciphertext = w.Ciphertext
	return e
}

func marshalEntries(entries []OutboxEntry) ([]byte, error) {
	wire := make([]outboxEntryWire, len(entries))
	for i, e := range entries {
		wire[i] = e.toWire()
	}
	return json.Marshal(wire)
}

func unmarshalEntries(data []byte) ([]OutboxEntry, error) {
	var wire []outboxEntryWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	entries := make([]OutboxEntry, len(wire))
	for i, w := range wire {
		entries[i] = w.toEntry()
	}
	return entries, nil
}

// capEntries enforces the 500-entry bucket cap by dropping the oldest
// entries by offline_seq, per §4.3 step 4.
func capEntries(entries []OutboxEntry) []OutboxEntry {
	if len(entries) <= limits.MaxOutboxEntries {
		return entries
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].OfflineSeq < entries[j].OfflineSeq
	})
	start := len(entries) - limits.MaxOutboxEntries
	return entries[start:]
}

// chunkCacheEntry holds the last reassembled value fetched for one
// (baseKey, writer) pair, keyed by its chunk-0 content hash so a later
// fetch can tell an unchanged value apart from a real update.
type chunkCacheEntry struct {
	hash  [32]byte
	value []byte
}

// Outbox implements the Spillway v2 publish and fetch paths on top of a
// [DHT] and [Config].
type Outbox struct {
	dht DHT
	cfg Config

	cacheMu sync.Mutex
	cache   map[string]chunkCacheEntry
}

// NewOutbox constructs an Outbox bound to dht, tuned by cfg.
func NewOutbox(dht DHT, cfg Config) *Outbox {
	return &Outbox{dht: dht, cfg: cfg, cache: make(map[string]chunkCacheEntry)}
}

func chunkCacheKey(baseKey string, valueID uint64) string {
	return fmt.Sprintf("%s#%d", baseKey, valueID)
}

func (o *Outbox) lookupChunkCache(baseKey string, valueID uint64) (chunkCacheEntry, bool) {
	o.cacheMu.Lock()
	defer o.cacheMu.Unlock()
	entry, ok := o.cache[chunkCacheKey(baseKey, valueID)]
	return entry, ok
}

func (o *Outbox) storeChunkCache(baseKey string, valueID uint64, hash [32]byte, value []byte) {
	o.cacheMu.Lock()
	defer o.cacheMu.Unlock()
	o.cache[chunkCacheKey(baseKey, valueID)] = chunkCacheEntry{hash: hash, value: value}
}

// publishChunkedValue compresses, chunks, and publishes value under
// baseKey with the given writer-stable valueID, replacing any prior
// value this writer published at the same base key.
func (o *Outbox) publishChunkedValue(baseKey string, value []byte, valueID uint64, ttl time.Duration, signingKey []byte) error {
	chunks, err := SplitValue(value)
	if err != nil {
		return err
	}
	for i, chunk := range chunks {
		key := ChunkKey(baseKey, uint32(i))
		if err := o.dht.PutSigned(key, chunk, valueID, ttl, signingKey); err != nil {
			return newError("publishChunkedValue", classifyPutError(err), err)
		}
	}
	return nil
}

// fetchWriterValue reassembles the chunked value published by a single
// known writer (identified by valueID) at baseKey. Returns
// KindNotFound if no chunk 0 from that writer exists.
func (o *Outbox) fetchWriterValue(baseKey string, valueID uint64) ([]byte, error) {
	chunk0s, err := o.dht.GetAll(ChunkKey(baseKey, 0))
	if err != nil {
		return nil, newError("fetchWriterValue", classifyGetError(err), err)
	}
	var chunk0 []byte
	found := false
	for _, sv := range chunk0s {
		if sv.ValueID == valueID {
			chunk0 = sv.Value
			found = true
			break
		}
	}
	if !found {
		return nil, newError("fetchWriterValue", KindNotFound, fmt.Errorf("no value for writer %d at %s", valueID, baseKey))
	}

	header, err := ParseChunk0Header(chunk0)
	if err != nil {
		return nil, err
	}

	// An unchanged value re-publishes with the same chunk-0 content
	// hash (§4.3 / S6): skip refetching chunks 1..N-1 entirely and
	// return the value already reassembled for this writer.
	if cached, ok := o.lookupChunkCache(baseKey, valueID); ok && cached.hash == header.ContentHash {
		return cached.value, nil
	}

	chunks := make([][]byte, header.TotalChunks)
	chunks[0] = chunk0
	for i := uint32(1); i < header.TotalChunks; i++ {
		svs, err := o.dht.GetAll(ChunkKey(baseKey, i))
		if err != nil {
			return nil, newError("fetchWriterValue", classifyGetError(err), err)
		}
		chunkFound := false
		for _, sv := range svs {
			if sv.ValueID == valueID {
				chunks[i] = sv.Value
				chunkFound = true
				break
			}
		}
		if !chunkFound {
			return nil, newError("fetchWriterValue", KindNotFound, fmt.Errorf("missing chunk %d for writer %d", i, valueID))
		}
	}

	value, err := ReassembleValue(chunks)
	if err != nil {
		return nil, err
	}
	o.storeChunkCache(baseKey, valueID, header.ContentHash, value)
	return value, nil
}

// fetchAllWriterValues reassembles every distinct writer's current
// value at baseKey, keyed by value-id, per the multi-writer read
// semantics used by group outboxes.
func (o *Outbox) fetchAllWriterValues(baseKey string) (map[uint64][]byte, error) {
	chunk0s, err := o.dht.GetAll(ChunkKey(baseKey, 0))
	if err != nil {
		return nil, newError("fetchAllWriterValues", classifyGetError(err), err)
	}
	out := make(map[uint64][]byte, len(chunk0s))
	for _, sv := range chunk0s {
		value, err := o.fetchWriterValue(baseKey, sv.ValueID)
		if err != nil {
			if terr, ok := err.(*Error); ok && terr.Kind == KindNotFound {
				continue
			}
			return nil, err
		}
		out[sv.ValueID] = value
	}
	return out, nil
}

// PublishChunkedValue compresses, chunks, and publishes value under
// baseKey with the given writer-stable valueID, exposing the chunked
// transport (§4.3) for callers outside this package, such as Initial
// Key Packet publication.
func (o *Outbox) PublishChunkedValue(baseKey string, value []byte, valueID uint64, ttl time.Duration, signingKey []byte) error {
	return o.publishChunkedValue(baseKey, value, valueID, ttl, signingKey)
}

// FetchWriterChunkedValue reassembles the chunked value published by a
// single known writer (identified by valueID) at baseKey.
func (o *Outbox) FetchWriterChunkedValue(baseKey string, valueID uint64) ([]byte, error) {
	return o.fetchWriterValue(baseKey, valueID)
}

// PublishDMEntry appends entry to the sender's outbox bucket for
// (senderFP, recipientFP) at the bucket for now, capping at 500
// entries by offline_seq, and republishes the whole bucket under the
// sender's writer-stable value-id.
func (o *Outbox) PublishDMEntry(senderFP, recipientFP [64]byte, entry OutboxEntry, signingKey []byte, now int64) error {
	logger := logrus.WithFields(logrus.Fields{
		"function": "PublishDMEntry",
		"package":  "transport",
	})
	logger.Debug("Function entry: publishing DM outbox entry")
	defer logger.Debug("Function exit: PublishDMEntry")

	day := DayBucket(now)
	base := OutboxBaseKey(senderFP, recipientFP, day)
	valueID := WriterValueID(senderFP)

	existing, err := o.fetchWriterValue(base, valueID)
	var entries []OutboxEntry
	if err != nil {
		if terr, ok := err.(*Error); !ok || terr.Kind != KindNotFound {
			return err
		}
	} else {
		entries, err = unmarshalEntries(existing)
		if err != nil {
			return newError("PublishDMEntry", KindSerialize, err)
		}
	}

	entries = append(entries, entry)
	entries = capEntries(entries)

	data, err := marshalEntries(entries)
	if err != nil {
		return newError("PublishDMEntry", KindSerialize, err)
	}

	return o.publishChunkedValue(base, data, valueID, outboxTTL, signingKey)
}

// FetchDMBucket reassembles senderFP's outbox bucket for recipientFP at
// day, returning (nil, nil) if the sender has not published anything
// there.
func (o *Outbox) FetchDMBucket(senderFP, recipientFP [64]byte, day int64) ([]OutboxEntry, error) {
	base := OutboxBaseKey(senderFP, recipientFP, day)
	valueID := WriterValueID(senderFP)

	data, err := o.fetchWriterValue(base, valueID)
	if err != nil {
		if terr, ok := err.(*Error); ok && terr.Kind == KindNotFound {
			return nil, nil
		}
		return nil, err
	}

	entries, err := unmarshalEntries(data)
	if err != nil {
		return nil, newError("FetchDMBucket", KindSerialize, err)
	}
	return entries, nil
}

// PublishGroupEntry appends entry to writerFP's slice of the group's
// outbox bucket for groupUUID at the bucket for now.
func (o *Outbox) PublishGroupEntry(groupUUID string, writerFP [64]byte, entry OutboxEntry, signingKey []byte, now int64) error {
	day := DayBucket(now)
	base := GroupOutboxBaseKey(groupUUID, day)
	valueID := WriterValueID(writerFP)

	existing, err := o.fetchWriterValue(base, valueID)
	var entries []OutboxEntry
	if err != nil {
		if terr, ok := err.(*Error); !ok || terr.Kind != KindNotFound {
			return err
		}
	} else {
		entries, err = unmarshalEntries(existing)
		if err != nil {
			return newError("PublishGroupEntry", KindSerialize, err)
		}
	}

	entries = append(entries, entry)
	entries = capEntries(entries)

	data, err := marshalEntries(entries)
	if err != nil {
		return newError("PublishGroupEntry", KindSerialize, err)
	}

	return o.publishChunkedValue(base, data, valueID, outboxTTL, signingKey)
}

// FetchGroupBucket merges every member's slice of the group's outbox
// bucket at day into a single list.
func (o *Outbox) FetchGroupBucket(groupUUID string, day int64) ([]OutboxEntry, error) {
	base := GroupOutboxBaseKey(groupUUID, day)

	perWriter, err := o.fetchAllWriterValues(base)
	if err != nil {
		return nil, err
	}

	var merged []OutboxEntry
	for _, data := range perWriter {
		entries, err := unmarshalEntries(data)
		if err != nil {
			return nil, newError("FetchGroupBucket", KindSerialize, err)
		}
		merged = append(merged, entries...)
	}
	return merged, nil
}

// SmartSyncDayRange returns the set of day buckets to fetch on a sync
// against a contact, per §4.3: a 3-day window (today-1..today+1) if the
// last successful sync was within 3 days, else the full 8-day
// retention window (today-6..today+1).
func SmartSyncDayRange(now int64, lastSync int64, hasSynced bool) []int64 {
	today := DayBucket(now)
	recent := hasSynced && now-lastSync <= 3*86400

	var start int64
	if recent {
		start = today - 1
	} else {
		start = today - 6
	}

	days := make([]int64, 0, today-start+2)
	for d := start; d <= today+1; d++ {
		days = append(days, d)
	}
	return days
}

// DedupKey identifies an entry for merge-time deduplication: by
// (writer fingerprint, offline_seq), per §4.3.
type DedupKey struct {
	WriterFP   [64]byte
	OfflineSeq uint64
}

// DedupEntries removes entries already seen (by (writer, offline_seq))
// according to seen, returning the fresh subset and mutating seen to
// include them.
func DedupEntries(entries []OutboxEntry, seen map[DedupKey]bool) []OutboxEntry {
	fresh := make([]OutboxEntry, 0, len(entries))
	for _, e := range entries {
		key := DedupKey{WriterFP: e.SenderFP, OfflineSeq: e.OfflineSeq}
		if seen[key] {
			continue
		}
		seen[key] = true
		fresh = append(fresh, e)
	}
	return fresh
}

// AckKey derives the DHT key for the delivery-acknowledgement record
// recipientFP publishes for sender senderFP: SHA3-512(recv ||
// ":ack:" || send), truncated to 32 bytes.
func AckKey(recipientFP, senderFP [64]byte) [32]byte {
	input := make([]byte, 0, 64+5+64)
	input = append(input, recipientFP[:]...)
	input = append(input, []byte(":ack:")...)
	input = append(input, senderFP[:]...)
	full := crypto.Hash512(input)
	var out [32]byte
	copy(out[:], full[:32])
	return out
}

// PublishAck publishes recipientFP's most recent successful sync
// timestamp against senderFP. Callers MUST NOT call this for
// background/cached syncs (§4.3: "Background fetches MUST NOT publish
// ACKs").
func (o *Outbox) PublishAck(recipientFP, senderFP [64]byte, now int64, signingKey []byte) error {
	key := AckKey(recipientFP, senderFP)
	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, uint64(now))
	if err := o.dht.PutSigned(key, value, ackValueID, ackTTL, signingKey); err != nil {
		return newError("PublishAck", classifyPutError(err), err)
	}
	return nil
}

// FetchAckTimestamp returns the maximum ACK timestamp any writer has
// published for (recipientFP, senderFP), used by the sender to flip
// SENT messages to RECEIVED.
func (o *Outbox) FetchAckTimestamp(recipientFP, senderFP [64]byte) (int64, error) {
	key := AckKey(recipientFP, senderFP)
	values, err := o.dht.GetAll(key)
	if err != nil {
		return 0, newError("FetchAckTimestamp", classifyGetError(err), err)
	}
	if len(values) == 0 {
		return 0, newError("FetchAckTimestamp", KindNotFound, fmt.Errorf("no ack record"))
	}

	var max int64
	for _, sv := range values {
		if len(sv.Value) != 8 {
			continue
		}
		ts := int64(binary.BigEndian.Uint64(sv.Value))
		if ts > max {
			max = ts
		}
	}
	return max, nil
}

// classifyPutError and classifyGetError pass an already-classified
// *Error through unchanged, and otherwise treat an opaque DHT failure
// as network-class (retryable).
func classifyPutError(err error) Kind {
	if terr, ok := err.(*Error); ok {
		return terr.Kind
	}
	return KindNetwork
}

func classifyGetError(err error) Kind {
	if terr, ok := err.(*Error); ok {
		return terr.Kind
	}
	return KindNetwork
}
