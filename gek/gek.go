package gek

import (
	"fmt"

	"github.com/nocdem/dna-messenger-sub001/crypto"
	"github.com/nocdem/dna-messenger-sub001/limits"
	"github.com/sirupsen/logrus"
)

// KeySize is the length in bytes of a GEK: a 32-byte AES-256 key.
const KeySize = 32

// RetentionSeconds is how long an owner keeps a GEK version locally
// past its expiry, so late-arriving messages encrypted under it can
// still be decrypted.
const RetentionSeconds = limits.GEKRetentionAfterExpirySeconds

// LifetimeSeconds is how long a GEK version is valid for before
// ExpiresAt, independent of the daily rotation heartbeat.
const LifetimeSeconds = limits.GEKLifetimeSeconds

// DailyRotationThresholdSeconds is the age at which the active GEK is
// due for the daily rotation heartbeat to replace it.
const DailyRotationThresholdSeconds = limits.GEKDailyRotationThresholdSeconds

// Member identifies one group participant by fingerprint and KEM
// public key, the two fields an IKP entry is built from.
type Member struct {
	Fingerprint [64]byte
	KEMPublic   []byte
}

// Key is one version of a group's encryption key.
type Key struct {
	GroupUUID string
	Version   uint32
	Material  []byte // KeySize bytes; zeroed by Wipe.
	CreatedAt int64
	ExpiresAt int64
}

// Wipe zeroes the key material in place.
func (k *Key) Wipe() {
	crypto.ZeroBytes(k.Material)
}

// Generate draws a fresh GEK for groupUUID at version (conventionally
// unix seconds at rotation time), per §4.4 "Generation".
func Generate(groupUUID string, version uint32, now int64) (*Key, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Generate",
		"package":  "gek",
	})
	logger.Debug("Function entry: generating group encryption key")
	defer logger.Debug("Function exit: Generate")

	material, err := crypto.RandomBytes(KeySize)
	if err != nil {
		return nil, newError("Generate", KindInvalidArg, err)
	}

	return &Key{
		GroupUUID: groupUUID,
		Version:   version,
		Material:  material,
		CreatedAt: now,
		ExpiresAt: now + LifetimeSeconds,
	}, nil
}

// State is TOMBSTONED once Delete is called: a fully-rotated-out
// group, per §4.4's diagram, carries the ACTIVE(v) label itself so
// only the terminal state needs representing here.
type State int

const (
	// StateActive is the normal operating state; ActiveVersion
	// identifies the current GEK.
	StateActive State = iota
	// StateTombstoned marks a deleted group; no further rotation is
	// permitted.
	StateTombstoned
)

// Group tracks a group's rotation state and every GEK version it has
// ever held locally, so late-arriving messages under older versions
// remain decryptable until they fall out of retention.
type Group struct {
	UUID          string
	OwnerFP       [64]byte
	State         State
	ActiveVersion uint32
	Versions      map[uint32]*Key
}

// NewGroup constructs a freshly-created group, already holding its
// first GEK version.
func NewGroup(uuid string, ownerFP [64]byte, initial *Key) *Group {
	return &Group{
		UUID:          uuid,
		OwnerFP:       ownerFP,
		State:         StateActive,
		ActiveVersion: initial.Version,
		Versions:      map[uint32]*Key{initial.Version: initial},
	}
}

// Active returns the group's current GEK, or ok=false if the group is
// tombstoned or has no versions recorded.
func (g *Group) Active() (*Key, bool) {
	if g.State != StateActive {
		return nil, false
	}
	k, ok := g.Versions[g.ActiveVersion]
	return k, ok
}

// Rotate generates a new GEK version and makes it active, resolving a
// same-second collision with the prior version by incrementing,
// per the duplicate-version rule in §9 Open Question #2.
func (g *Group) Rotate(now int64) (*Key, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Rotate",
		"package":  "gek",
	})
	logger.Debug("Function entry: rotating group encryption key")
	defer logger.Debug("Function exit: Rotate")

	if g.State != StateActive {
		return nil, newError("Rotate", KindTombstoned, fmt.Errorf("group %s is tombstoned", g.UUID))
	}

	version := uint32(now)
	for version <= g.ActiveVersion {
		version++
	}

	key, err := Generate(g.UUID, version, now)
	if err != nil {
		return nil, err
	}

	g.Versions[version] = key
	g.ActiveVersion = version
	return key, nil
}

// NeedsDailyRotation reports whether the active GEK's age exceeds the
// 24-hour rotation threshold, per §4.4's daily heartbeat trigger. Safe
// to call as often as desired; rotation itself is idempotent per
// calendar day only if the caller rotates exactly once when this
// returns true.
func (g *Group) NeedsDailyRotation(now int64) bool {
	active, ok := g.Active()
	if !ok {
		return false
	}
	return now-active.CreatedAt > DailyRotationThresholdSeconds
}

// Delete tombstones the group; no further rotation or IKP publication
// is permitted afterward.
func (g *Group) Delete() {
	g.State = StateTombstoned
}

// PruneExpired drops cached GEK versions whose retention window has
// elapsed (expires_at + 7 days), keeping the active version regardless
// of its own expiry.
func (g *Group) PruneExpired(now int64) {
	for version, key := range g.Versions {
		if version == g.ActiveVersion {
			continue
		}
		if now > key.ExpiresAt+RetentionSeconds {
			key.Wipe()
			delete(g.Versions, version)
		}
	}
}
