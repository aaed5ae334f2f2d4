package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKEMKeyPair(t *testing.T) {
	kp, err := GenerateKEMKeyPair()
	require.NoError(t, err)
	assert.Len(t, kp.Public, KEMPublicKeySize)
	assert.Len(t, kp.Private, KEMPrivateKeySize)
}

func TestGenerateKEMKeyPairFromSeedDeterministic(t *testing.T) {
	seed := make([]byte, SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}

	kp1, err := GenerateKEMKeyPairFromSeed(seed)
	require.NoError(t, err)
	kp2, err := GenerateKEMKeyPairFromSeed(seed)
	require.NoError(t, err)

	assert.Equal(t, kp1.Public, kp2.Public)
	assert.Equal(t, kp1.Private, kp2.Private)
}

func TestGenerateKEMKeyPairFromSeedRejectsBadLength(t *testing.T) {
	_, err := GenerateKEMKeyPairFromSeed(make([]byte, 10))
	require.Error(t, err)

	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, KindInvalidKey, cerr.Kind)
}

func TestKEMEncapsulateDecapsulateRoundTrip(t *testing.T) {
	kp, err := GenerateKEMKeyPair()
	require.NoError(t, err)

	ct, ss, err := KEMEncapsulate(kp.Public)
	require.NoError(t, err)
	assert.Len(t, ct, KEMCiphertextSize)
	assert.Len(t, ss, KEMSharedSecretSize)

	ss2, err := KEMDecapsulate(kp.Private, ct)
	require.NoError(t, err)
	assert.Equal(t, ss, ss2)
}

func TestKEMEncapsulateRejectsBadPublicKey(t *testing.T) {
	_, _, err := KEMEncapsulate([]byte("too short"))
	require.Error(t, err)

	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, KindInvalidKey, cerr.Kind)
}

func TestKEMDecapsulateRejectsBadCiphertext(t *testing.T) {
	kp, err := GenerateKEMKeyPair()
	require.NoError(t, err)

	_, err = KEMDecapsulate(kp.Private, []byte("not a ciphertext"))
	require.Error(t, err)

	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, KindInvalidCiphertext, cerr.Kind)
}

func TestKEMGeneratedKeyPairsAreDistinct(t *testing.T) {
	kp1, err := GenerateKEMKeyPair()
	require.NoError(t, err)
	kp2, err := GenerateKEMKeyPair()
	require.NoError(t, err)

	assert.NotEqual(t, kp1.Public, kp2.Public)
	assert.NotEqual(t, kp1.Private, kp2.Private)
}
