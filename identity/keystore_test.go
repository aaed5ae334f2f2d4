package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapUnwrapKeyRoundTrip(t *testing.T) {
	keyMaterial := []byte("super secret signing key bytes")

	wrapped, err := WrapKey("correct horse battery staple", keyMaterial)
	require.NoError(t, err)
	assert.True(t, len(wrapped) > len(keyMaterial))

	recovered, err := UnwrapKey("correct horse battery staple", wrapped)
	require.NoError(t, err)
	assert.Equal(t, keyMaterial, recovered)
}

func TestUnwrapKeyRejectsWrongPassword(t *testing.T) {
	wrapped, err := WrapKey("alpha", []byte("key material"))
	require.NoError(t, err)

	_, err = UnwrapKey("beta", wrapped)
	require.Error(t, err)
	var ierr *Error
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, KindWrongPassword, ierr.Kind)
}

func TestUnwrapKeyRequiresPassword(t *testing.T) {
	wrapped, err := WrapKey("alpha", []byte("key material"))
	require.NoError(t, err)

	_, err = UnwrapKey("", wrapped)
	require.Error(t, err)
	var ierr *Error
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, KindPasswordRequired, ierr.Kind)
}

func TestUnwrapKeyRejectsBadMagic(t *testing.T) {
	wrapped, err := WrapKey("alpha", []byte("key material"))
	require.NoError(t, err)
	wrapped[0] = 'X'

	_, err = UnwrapKey("alpha", wrapped)
	require.Error(t, err)
}

func TestUnwrapKeyRejectsTruncated(t *testing.T) {
	_, err := UnwrapKey("alpha", []byte("short"))
	require.Error(t, err)
}
