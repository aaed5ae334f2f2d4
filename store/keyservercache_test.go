package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestKeyserverCache(t *testing.T) *KeyserverCache {
	t.Helper()
	c, err := OpenKeyserverCache(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestKeyserverCacheRoundTripByFingerprint(t *testing.T) {
	c := openTestKeyserverCache(t)

	profile := CachedProfile{
		Fingerprint: testFP(1),
		SignPublic:  []byte("sign-pub"),
		KEMPublic:   []byte("kem-pub"),
		Name:        "alice",
		CachedAt:    100,
	}
	require.NoError(t, c.PutProfile(profile))

	got, err := c.GetByFingerprint(profile.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, profile.Name, got.Name)
	assert.Equal(t, profile.SignPublic, got.SignPublic)
}

func TestKeyserverCacheLookupByName(t *testing.T) {
	c := openTestKeyserverCache(t)

	profile := CachedProfile{Fingerprint: testFP(2), Name: "bob"}
	require.NoError(t, c.PutProfile(profile))

	got, err := c.GetByName("bob")
	require.NoError(t, err)
	assert.Equal(t, profile.Fingerprint, got.Fingerprint)
}

func TestKeyserverCacheGetByNameNotFound(t *testing.T) {
	c := openTestKeyserverCache(t)
	_, err := c.GetByName("nobody")
	require.Error(t, err)
}

func TestKeyserverCacheListProfiles(t *testing.T) {
	c := openTestKeyserverCache(t)

	require.NoError(t, c.PutProfile(CachedProfile{Fingerprint: testFP(1), Name: "alice"}))
	require.NoError(t, c.PutProfile(CachedProfile{Fingerprint: testFP(2), Name: "bob"}))

	profiles, err := c.ListProfiles()
	require.NoError(t, err)
	require.Len(t, profiles, 2)
}
