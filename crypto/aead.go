package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/sirupsen/logrus"
)

// AEADKeySize and AEADNonceSize are the fixed sizes the envelope format
// requires of callers: a 256-bit key and a 96-bit GCM nonce.
const (
	AEADKeySize   = 32
	AEADNonceSize = 12
	AEADTagSize   = 16
)

// AEADEncrypt seals plaintext under key and nonce, authenticating aad
// alongside it. It returns the ciphertext and the detached authentication
// tag separately so the envelope format can lay them out independently.
func AEADEncrypt(key, nonce, aad, plaintext []byte) (ciphertext, tag []byte, err error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "AEADEncrypt",
		"package":  "crypto",
	})
	logger.Debug("Function entry: sealing plaintext")
	defer logger.Debug("Function exit: AEADEncrypt")

	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, newError("AEADEncrypt", KindInvalidKey, err)
	}
	if len(nonce) != AEADNonceSize {
		err := fmt.Errorf("nonce must be %d bytes, got %d", AEADNonceSize, len(nonce))
		return nil, nil, newError("AEADEncrypt", KindInvalidKey, err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, aad)
	ct := sealed[:len(sealed)-AEADTagSize]
	t := sealed[len(sealed)-AEADTagSize:]

	logger.WithFields(logrus.Fields{
		"plaintext_size": len(plaintext),
	}).Debug("plaintext sealed")

	return ct, t, nil
}

// AEADDecrypt opens ciphertext+tag under key and nonce, authenticating
// aad. On any authentication failure it returns an error with
// KindAuthTagMismatch and no partial plaintext.
func AEADDecrypt(key, nonce, aad, ciphertext, tag []byte) ([]byte, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "AEADDecrypt",
		"package":  "crypto",
	})
	logger.Debug("Function entry: opening ciphertext")
	defer logger.Debug("Function exit: AEADDecrypt")

	gcm, err := newGCM(key)
	if err != nil {
		return nil, newError("AEADDecrypt", KindInvalidKey, err)
	}
	if len(nonce) != AEADNonceSize {
		err := fmt.Errorf("nonce must be %d bytes, got %d", AEADNonceSize, len(nonce))
		return nil, newError("AEADDecrypt", KindInvalidKey, err)
	}
	if len(tag) != AEADTagSize {
		err := fmt.Errorf("tag must be %d bytes, got %d", AEADTagSize, len(tag))
		return nil, newError("AEADDecrypt", KindInvalidCiphertext, err)
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, aad)
	if err != nil {
		logger.Warn("authentication failed, rejecting ciphertext")
		return nil, newError("AEADDecrypt", KindAuthTagMismatch, err)
	}

	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != AEADKeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", AEADKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithTagSize(block, AEADTagSize)
}
