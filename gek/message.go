package gek

import (
	"encoding/binary"
	"fmt"

	"github.com/nocdem/dna-messenger-sub001/crypto"
)

// Group messages bypass per-recipient KEM wrapping entirely: the
// payload is AEAD-sealed directly under the active GEK, with a small
// side header carrying (group_uuid, gek_version) so a receiver can
// pick the matching cached key, per §4.4 "Group send/receive".
const (
	groupMsgMagic      = "GMSG"
	groupMsgHeaderSize = 4 + ikpUUIDByteLen + 4 + crypto.AEADNonceSize // magic+uuid+version+nonce
)

// EncryptGroupMessage seals plaintext under key, returning the wire
// form: header, ciphertext, trailing AEAD tag.
func EncryptGroupMessage(key *Key, plaintext []byte) ([]byte, error) {
	if len(key.GroupUUID) != ikpUUIDByteLen {
		return nil, newError("EncryptGroupMessage", KindInvalidArg, fmt.Errorf("group uuid must be %d bytes", ikpUUIDByteLen))
	}

	nonce, err := crypto.RandomBytes(crypto.AEADNonceSize)
	if err != nil {
		return nil, newError("EncryptGroupMessage", KindInvalidArg, err)
	}

	header := make([]byte, groupMsgHeaderSize)
	copy(header[0:4], groupMsgMagic)
	copy(header[4:4+ikpUUIDByteLen], key.GroupUUID)
	binary.BigEndian.PutUint32(header[4+ikpUUIDByteLen:8+ikpUUIDByteLen], key.Version)
	copy(header[8+ikpUUIDByteLen:], nonce)

	ciphertext, tag, err := crypto.AEADEncrypt(key.Material, nonce, header, plaintext)
	if err != nil {
		return nil, newError("EncryptGroupMessage", KindInvalidArg, err)
	}

	wire := make([]byte, 0, len(header)+len(ciphertext)+len(tag))
	wire = append(wire, header...)
	wire = append(wire, ciphertext...)
	wire = append(wire, tag...)
	return wire, nil
}

// GroupMessageHeader is the parsed side header of a group message,
// identifying which cached GEK version to decrypt it with.
type GroupMessageHeader struct {
	GroupUUID string
	Version   uint32
}

// ParseGroupMessageHeader reads the side header without attempting
// decryption, so a receiver can select the matching cached key first.
func ParseGroupMessageHeader(wire []byte) (GroupMessageHeader, error) {
	if len(wire) < groupMsgHeaderSize+crypto.AEADTagSize {
		return GroupMessageHeader{}, newError("ParseGroupMessageHeader", KindMalformed, fmt.Errorf("wire too short"))
	}
	if string(wire[0:4]) != groupMsgMagic {
		return GroupMessageHeader{}, newError("ParseGroupMessageHeader", KindUnsupportedVersion, fmt.Errorf("bad magic"))
	}
	uuid := string(wire[4 : 4+ikpUUIDByteLen])
	version := binary.BigEndian.Uint32(wire[4+ikpUUIDByteLen : 8+ikpUUIDByteLen])
	return GroupMessageHeader{GroupUUID: uuid, Version: version}, nil
}

// DecryptGroupMessage opens a group message's wire form under key. The
// caller must already have resolved key to match the header's
// (group_uuid, gek_version); this only verifies the AEAD tag.
func DecryptGroupMessage(wire []byte, key *Key) ([]byte, error) {
	if len(wire) < groupMsgHeaderSize+crypto.AEADTagSize {
		return nil, newError("DecryptGroupMessage", KindMalformed, fmt.Errorf("wire too short"))
	}
	header := wire[:groupMsgHeaderSize]
	nonce := wire[8+ikpUUIDByteLen : groupMsgHeaderSize]
	body := wire[groupMsgHeaderSize:]
	ciphertext := body[:len(body)-crypto.AEADTagSize]
	tag := body[len(body)-crypto.AEADTagSize:]

	plaintext, err := crypto.AEADDecrypt(key.Material, nonce, header, ciphertext, tag)
	if err != nil {
		return nil, newError("DecryptGroupMessage", KindKeyUnavailable, err)
	}
	return plaintext, nil
}
