package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyAndNonce() (key, nonce []byte) {
	key = make([]byte, AEADKeySize)
	nonce = make([]byte, AEADNonceSize)
	for i := range key {
		key[i] = byte(i)
	}
	for i := range nonce {
		nonce[i] = byte(i + 1)
	}
	return key, nonce
}

func TestAEADEncryptDecryptRoundTrip(t *testing.T) {
	key, nonce := testKeyAndNonce()
	aad := []byte("envelope-header")
	plaintext := []byte("the quick brown fox")

	ct, tag, err := AEADEncrypt(key, nonce, aad, plaintext)
	require.NoError(t, err)
	assert.Len(t, tag, AEADTagSize)
	assert.Equal(t, len(plaintext), len(ct))

	recovered, err := AEADDecrypt(key, nonce, aad, ct, tag)
	require.NoError(t, err)
	assert.Equal(t, plaintext, recovered)
}

func TestAEADDecryptRejectsTamperedCiphertext(t *testing.T) {
	key, nonce := testKeyAndNonce()
	aad := []byte("aad")
	ct, tag, err := AEADEncrypt(key, nonce, aad, []byte("payload"))
	require.NoError(t, err)

	ct[0] ^= 0xFF

	_, err = AEADDecrypt(key, nonce, aad, ct, tag)
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, KindAuthTagMismatch, cerr.Kind)
}

func TestAEADDecryptRejectsTamperedAAD(t *testing.T) {
	key, nonce := testKeyAndNonce()
	ct, tag, err := AEADEncrypt(key, nonce, []byte("original-aad"), []byte("payload"))
	require.NoError(t, err)

	_, err = AEADDecrypt(key, nonce, []byte("different-aad"), ct, tag)
	require.Error(t, err)
}

func TestAEADDecryptRejectsTamperedTag(t *testing.T) {
	key, nonce := testKeyAndNonce()
	ct, tag, err := AEADEncrypt(key, nonce, nil, []byte("payload"))
	require.NoError(t, err)

	tag[0] ^= 0xFF

	_, err = AEADDecrypt(key, nonce, nil, ct, tag)
	require.Error(t, err)
}

func TestAEADEncryptRejectsBadKeySize(t *testing.T) {
	_, nonce := testKeyAndNonce()
	_, _, err := AEADEncrypt([]byte("short key"), nonce, nil, []byte("x"))
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, KindInvalidKey, cerr.Kind)
}

func TestAEADEncryptRejectsBadNonceSize(t *testing.T) {
	key, _ := testKeyAndNonce()
	_, _, err := AEADEncrypt(key, []byte("short"), nil, []byte("x"))
	require.Error(t, err)
}
