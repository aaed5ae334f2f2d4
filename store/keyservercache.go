package store

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// CachedProfile is a locally-cached copy of a remote identity's public
// profile, keyed by fingerprint, so sends don't require a fresh DHT
// lookup every time.
type CachedProfile struct {
	Fingerprint [64]byte
	SignPublic  []byte
	KEMPublic   []byte
	Name        string
	CachedAt    int64
}

type cachedProfileWire struct {
	Fingerprint []byte `json:"fingerprint"`
	SignPublic  []byte `json:"sign_public"`
	KEMPublic   []byte `json:"kem_public"`
	Name        string `json:"name"`
	CachedAt    int64  `json:"cached_at"`
}

func (c CachedProfile) toWire() cachedProfileWire {
	return cachedProfileWire{
		Fingerprint: c.Fingerprint[:],
		SignPublic:  c.SignPublic,
		KEMPublic:   c.KEMPublic,
		Name:        c.Name,
		CachedAt:    c.CachedAt,
	}
}

func (w cachedProfileWire) toProfile() CachedProfile {
	var c CachedProfile
	copy(c.Fingerprint[:], w.Fingerprint)
	c.SignPublic = w.SignPublic
	c.KEMPublic = w.KEMPublic
	c.Name = w.Name
	c.CachedAt = w.CachedAt
	return c
}

// KeyserverCache is the pebble-backed keyserver cache: fingerprint and
// name-lookup results cached locally between DHT reads.
type KeyserverCache struct {
	db *pebble.DB
}

// OpenKeyserverCache opens (creating if absent) the pebble database at
// dir.
func OpenKeyserverCache(dir string) (*KeyserverCache, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, newError("OpenKeyserverCache", KindStorage, err)
	}
	return &KeyserverCache{db: db}, nil
}

// Close releases the underlying database handle.
func (c *KeyserverCache) Close() error {
	if err := c.db.Close(); err != nil {
		return newError("Close", KindStorage, err)
	}
	return nil
}

func profileKey(fp [64]byte) []byte {
	return []byte(fmt.Sprintf("profile:%x", fp))
}

func nameKey(name string) []byte {
	return []byte(fmt.Sprintf("name:%s", name))
}

// PutProfile caches profile, indexing it by fingerprint and, if Name is
// set, by name.
func (c *KeyserverCache) PutProfile(profile CachedProfile) error {
	data, err := json.Marshal(profile.toWire())
	if err != nil {
		return newError("PutProfile", KindInvalidArg, err)
	}

	batch := c.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(profileKey(profile.Fingerprint), data, nil); err != nil {
		return newError("PutProfile", KindStorage, err)
	}
	if profile.Name != "" {
		if err := batch.Set(nameKey(profile.Name), profile.Fingerprint[:], nil); err != nil {
			return newError("PutProfile", KindStorage, err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return newError("PutProfile", KindStorage, err)
	}
	return nil
}

// GetByFingerprint returns the cached profile for fp.
func (c *KeyserverCache) GetByFingerprint(fp [64]byte) (CachedProfile, error) {
	data, closer, err := c.db.Get(profileKey(fp))
	if err != nil {
		if err == pebble.ErrNotFound {
			return CachedProfile{}, newError("GetByFingerprint", KindNotFound, err)
		}
		return CachedProfile{}, newError("GetByFingerprint", KindStorage, err)
	}
	defer closer.Close()

	var wire cachedProfileWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return CachedProfile{}, newError("GetByFingerprint", KindStorage, err)
	}
	return wire.toProfile(), nil
}

// ListProfiles returns every profile cached locally, used by the
// background sync sweep to discover which peers to poll without a
// separate contacts list.
func (c *KeyserverCache) ListProfiles() ([]CachedProfile, error) {
	prefix := []byte("profile:")
	iter, err := c.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, newError("ListProfiles", KindStorage, err)
	}
	defer iter.Close()

	var profiles []CachedProfile
	for iter.First(); iter.Valid(); iter.Next() {
		var wire cachedProfileWire
		if err := json.Unmarshal(iter.Value(), &wire); err != nil {
			return nil, newError("ListProfiles", KindStorage, err)
		}
		profiles = append(profiles, wire.toProfile())
	}
	if err := iter.Error(); err != nil {
		return nil, newError("ListProfiles", KindStorage, err)
	}
	return profiles, nil
}

// GetByName resolves a registered display name to its cached profile.
func (c *KeyserverCache) GetByName(name string) (CachedProfile, error) {
	data, closer, err := c.db.Get(nameKey(name))
	if err != nil {
		if err == pebble.ErrNotFound {
			return CachedProfile{}, newError("GetByName", KindNotFound, err)
		}
		return CachedProfile{}, newError("GetByName", KindStorage, err)
	}
	var fp [64]byte
	copy(fp[:], data)
	closer.Close()

	return c.GetByFingerprint(fp)
}
