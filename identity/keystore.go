package identity

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/nocdem/dna-messenger-sub001/crypto"
	"github.com/nocdem/dna-messenger-sub001/limits"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/pbkdf2"
)

// keyStoreMagic is the 4-byte tag at the start of a wrapped key file.
const keyStoreMagic = "DNAK"

const (
	saltSize  = 16
	nonceSize = crypto.AEADNonceSize
)

// WrapKey seals keyMaterial under a password-derived key-encryption key,
// producing the on-disk "DNAK" format: magic || salt(16) || iterations(4,
// BE) || nonce(12) || ciphertext || tag(16).
func WrapKey(password string, keyMaterial []byte) ([]byte, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "WrapKey",
		"package":  "identity",
	})
	logger.Debug("Function entry: wrapping key material")
	defer logger.Debug("Function exit: WrapKey")

	salt, err := crypto.RandomBytes(saltSize)
	if err != nil {
		return nil, newError("WrapKey", KindInvalidArg, err)
	}

	kek := pbkdf2.Key([]byte(password), salt, limits.PBKDF2MinIterations, crypto.AEADKeySize, sha256.New)
	defer crypto.ZeroBytes(kek)

	nonce, err := crypto.RandomBytes(nonceSize)
	if err != nil {
		return nil, newError("WrapKey", KindInvalidArg, err)
	}

	aad := []byte(keyStoreMagic)
	ct, tag, err := crypto.AEADEncrypt(kek, nonce, aad, keyMaterial)
	if err != nil {
		return nil, newError("WrapKey", KindInvalidArg, err)
	}

	out := make([]byte, 0, 4+saltSize+4+nonceSize+len(ct)+crypto.AEADTagSize)
	out = append(out, keyStoreMagic...)
	out = append(out, salt...)
	var iterBuf [4]byte
	binary.BigEndian.PutUint32(iterBuf[:], uint32(limits.PBKDF2MinIterations))
	out = append(out, iterBuf[:]...)
	out = append(out, nonce...)
	out = append(out, ct...)
	out = append(out, tag...)

	return out, nil
}

// UnwrapKey reverses WrapKey. An incorrect password surfaces as
// KindWrongPassword, indistinguishable (by design) from corruption.
func UnwrapKey(password string, wrapped []byte) ([]byte, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "UnwrapKey",
		"package":  "identity",
	})
	logger.Debug("Function entry: unwrapping key material")
	defer logger.Debug("Function exit: UnwrapKey")

	minLen := 4 + saltSize + 4 + nonceSize + crypto.AEADTagSize
	if len(wrapped) < minLen {
		return nil, newError("UnwrapKey", KindInvalidArg, fmt.Errorf("wrapped key truncated"))
	}
	if string(wrapped[:4]) != keyStoreMagic {
		return nil, newError("UnwrapKey", KindInvalidArg, fmt.Errorf("bad magic"))
	}

	offset := 4
	salt := wrapped[offset : offset+saltSize]
	offset += saltSize
	iterations := binary.BigEndian.Uint32(wrapped[offset : offset+4])
	offset += 4
	nonce := wrapped[offset : offset+nonceSize]
	offset += nonceSize
	ctAndTag := wrapped[offset:]
	if len(ctAndTag) < crypto.AEADTagSize {
		return nil, newError("UnwrapKey", KindInvalidArg, fmt.Errorf("wrapped key truncated"))
	}
	ct := ctAndTag[:len(ctAndTag)-crypto.AEADTagSize]
	tag := ctAndTag[len(ctAndTag)-crypto.AEADTagSize:]

	if password == "" {
		return nil, newError("UnwrapKey", KindPasswordRequired, fmt.Errorf("password required"))
	}

	kek := pbkdf2.Key([]byte(password), salt, int(iterations), crypto.AEADKeySize, sha256.New)
	defer crypto.ZeroBytes(kek)

	aad := []byte(keyStoreMagic)
	plaintext, err := crypto.AEADDecrypt(kek, nonce, aad, ct, tag)
	if err != nil {
		logger.Warn("key unwrap authentication failed")
		return nil, newError("UnwrapKey", KindWrongPassword, err)
	}

	return plaintext, nil
}
