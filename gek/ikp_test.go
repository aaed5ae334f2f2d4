package gek

import (
	"testing"

	"github.com/nocdem/dna-messenger-sub001/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testMember struct {
	sign *crypto.SignKeyPair
	kem  *crypto.KeyPair
	fp   [64]byte
}

func newTestMember(t *testing.T) testMember {
	t.Helper()
	signKP, err := crypto.GenerateSignKeyPair()
	require.NoError(t, err)
	kemKP, err := crypto.GenerateKEMKeyPair()
	require.NoError(t, err)
	fp := crypto.Hash512(signKP.Public)
	return testMember{sign: signKP, kem: kemKP, fp: fp}
}

func testUUID() string {
	return "11111111-1111-1111-1111-111111111111"
}

func TestBuildExtractIKPRoundTrip(t *testing.T) {
	owner := newTestMember(t)
	bob := newTestMember(t)

	key, err := Generate(testUUID(), 1000, 0)
	require.NoError(t, err)

	members := []Member{
		{Fingerprint: owner.fp, KEMPublic: owner.kem.Public},
		{Fingerprint: bob.fp, KEMPublic: bob.kem.Public},
	}

	ikp, err := BuildIKP(testUUID(), key, members, owner.sign.Private)
	require.NoError(t, err)
	require.True(t, ikp.Verify(owner.sign.Public))

	wire := ikp.Marshal()
	parsed, err := ParseIKP(wire)
	require.NoError(t, err)
	assert.True(t, parsed.Verify(owner.sign.Public))

	recovered, err := ExtractGEK(parsed, bob.fp, bob.kem.Private)
	require.NoError(t, err)
	assert.Equal(t, key.Material, recovered.Material)
	assert.Equal(t, key.Version, recovered.Version)
}

func TestExtractGEKFailsForNonMember(t *testing.T) {
	owner := newTestMember(t)
	stranger := newTestMember(t)

	key, err := Generate(testUUID(), 1000, 0)
	require.NoError(t, err)
	members := []Member{{Fingerprint: owner.fp, KEMPublic: owner.kem.Public}}

	ikp, err := BuildIKP(testUUID(), key, members, owner.sign.Private)
	require.NoError(t, err)

	_, err = ExtractGEK(ikp, stranger.fp, stranger.kem.Private)
	require.Error(t, err)
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindKeyUnavailable, gerr.Kind)
}

func TestIKPVerifyRejectsTamperedSignature(t *testing.T) {
	owner := newTestMember(t)
	key, err := Generate(testUUID(), 1000, 0)
	require.NoError(t, err)
	members := []Member{{Fingerprint: owner.fp, KEMPublic: owner.kem.Public}}

	ikp, err := BuildIKP(testUUID(), key, members, owner.sign.Private)
	require.NoError(t, err)

	ikp.Signature[0] ^= 0xFF
	assert.False(t, ikp.Verify(owner.sign.Public))
}

func TestBuildIKPRejectsTooManyMembers(t *testing.T) {
	owner := newTestMember(t)
	key, err := Generate(testUUID(), 1000, 0)
	require.NoError(t, err)

	members := make([]Member, 17)
	for i := range members {
		m := newTestMember(t)
		members[i] = Member{Fingerprint: m.fp, KEMPublic: m.kem.Public}
	}

	_, err = BuildIKP(testUUID(), key, members, owner.sign.Private)
	require.Error(t, err)
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindGroupTooLarge, gerr.Kind)
}

func TestBuildIKPAcceptsMaxMembers(t *testing.T) {
	owner := newTestMember(t)
	key, err := Generate(testUUID(), 1000, 0)
	require.NoError(t, err)

	members := make([]Member, 16)
	for i := range members {
		m := newTestMember(t)
		members[i] = Member{Fingerprint: m.fp, KEMPublic: m.kem.Public}
	}

	_, err = BuildIKP(testUUID(), key, members, owner.sign.Private)
	require.NoError(t, err)
}

func TestBuildIKPRejectsDuplicateFingerprint(t *testing.T) {
	owner := newTestMember(t)
	dup := newTestMember(t)
	key, err := Generate(testUUID(), 1000, 0)
	require.NoError(t, err)

	members := []Member{
		{Fingerprint: owner.fp, KEMPublic: owner.kem.Public},
		{Fingerprint: dup.fp, KEMPublic: dup.kem.Public},
		{Fingerprint: dup.fp, KEMPublic: dup.kem.Public},
	}

	_, err = BuildIKP(testUUID(), key, members, owner.sign.Private)
	require.Error(t, err)
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindInvalidArg, gerr.Kind)
}

func TestParseIKPRejectsBadMagic(t *testing.T) {
	owner := newTestMember(t)
	key, err := Generate(testUUID(), 1000, 0)
	require.NoError(t, err)
	members := []Member{{Fingerprint: owner.fp, KEMPublic: owner.kem.Public}}

	ikp, err := BuildIKP(testUUID(), key, members, owner.sign.Private)
	require.NoError(t, err)

	wire := ikp.Marshal()
	wire[0] = 'X'

	_, err = ParseIKP(wire)
	require.Error(t, err)
}

func TestParseIKPRejectsTruncated(t *testing.T) {
	_, err := ParseIKP([]byte("short"))
	require.Error(t, err)
}
