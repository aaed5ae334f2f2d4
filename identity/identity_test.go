package identity

import (
	"testing"

	"github.com/nocdem/dna-messenger-sub001/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMasterSeed(fill byte) []byte {
	seed := make([]byte, MasterSeedSize)
	for i := range seed {
		seed[i] = fill
	}
	return seed
}

func TestFromMasterSeedFingerprintInvariant(t *testing.T) {
	id, err := FromMasterSeed(testMasterSeed(7))
	require.NoError(t, err)
	assert.Equal(t, crypto.Hash512(id.SignPublic), id.Fingerprint)
	assert.True(t, VerifyFingerprint(id))
}

func TestFromMasterSeedDeterministic(t *testing.T) {
	seed := testMasterSeed(42)
	id1, err := FromMasterSeed(seed)
	require.NoError(t, err)
	id2, err := FromMasterSeed(seed)
	require.NoError(t, err)

	assert.Equal(t, id1.SignPublic, id2.SignPublic)
	assert.Equal(t, id1.KEMPublic, id2.KEMPublic)
	assert.Equal(t, id1.Fingerprint, id2.Fingerprint)
}

func TestFromMasterSeedRejectsBadLength(t *testing.T) {
	_, err := FromMasterSeed(make([]byte, 10))
	require.Error(t, err)
	var ierr *Error
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, KindInvalidArg, ierr.Kind)
}

func TestDifferentSeedsProduceDifferentIdentities(t *testing.T) {
	id1, err := FromMasterSeed(testMasterSeed(1))
	require.NoError(t, err)
	id2, err := FromMasterSeed(testMasterSeed(2))
	require.NoError(t, err)

	assert.NotEqual(t, id1.Fingerprint, id2.Fingerprint)
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("abc"))
	assert.NoError(t, ValidateName("bob_the_builder1"))
	assert.Error(t, ValidateName("ab"))
	assert.Error(t, ValidateName("Bob"))
	assert.Error(t, ValidateName("has space"))
	assert.Error(t, ValidateName("way-too-long-for-a-username"))
}

func TestProfileSignVerifyRoundTrip(t *testing.T) {
	id, err := FromMasterSeed(testMasterSeed(9))
	require.NoError(t, err)

	p := &Profile{
		SignPublic: id.SignPublic,
		KEMPublic:  id.KEMPublic,
		Name:       "alice",
		Version:    1,
	}
	require.NoError(t, p.Sign(id.SignPrivate))
	assert.True(t, p.Verify())
	assert.Equal(t, id.Fingerprint, p.Fingerprint())
}

func TestProfileVerifyRejectsTamperedField(t *testing.T) {
	id, err := FromMasterSeed(testMasterSeed(11))
	require.NoError(t, err)

	p := &Profile{SignPublic: id.SignPublic, KEMPublic: id.KEMPublic, Name: "alice", Version: 1}
	require.NoError(t, p.Sign(id.SignPrivate))

	p.Name = "mallory"
	assert.False(t, p.Verify())
}
