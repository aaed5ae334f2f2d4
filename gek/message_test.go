package gek

import (
	"testing"

	"github.com/nocdem/dna-messenger-sub001/crypto"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptGroupMessageRoundTrip(t *testing.T) {
	key, err := Generate(testUUID(), 1, 1000)
	require.NoError(t, err)

	wire, err := EncryptGroupMessage(key, []byte("still here?"))
	require.NoError(t, err)

	header, err := ParseGroupMessageHeader(wire)
	require.NoError(t, err)
	require.Equal(t, key.GroupUUID, header.GroupUUID)
	require.Equal(t, key.Version, header.Version)

	plaintext, err := DecryptGroupMessage(wire, key)
	require.NoError(t, err)
	require.Equal(t, []byte("still here?"), plaintext)
}

func TestDecryptGroupMessageRejectsWrongKey(t *testing.T) {
	key, err := Generate(testUUID(), 1, 1000)
	require.NoError(t, err)
	wire, err := EncryptGroupMessage(key, []byte("hello"))
	require.NoError(t, err)

	other, err := Generate(testUUID(), 2, 1000)
	require.NoError(t, err)
	other.GroupUUID = key.GroupUUID

	_, err = DecryptGroupMessage(wire, other)
	require.Error(t, err)
}

func TestParseGroupMessageHeaderRejectsBadMagic(t *testing.T) {
	wire := make([]byte, groupMsgHeaderSize+crypto.AEADTagSize)
	copy(wire[0:4], "XXXX")
	_, err := ParseGroupMessageHeader(wire)
	require.Error(t, err)
}
