package crypto

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/cloudflare/circl/kem/mlkem/mlkem1024"
	"github.com/sirupsen/logrus"
)

// Packed sizes of ML-KEM-1024 keys and ciphertexts, exposed the way the
// teacher exposes its own NaCl key size constants alongside the types
// that use them.
const (
	KEMPublicKeySize    = mlkem1024.PublicKeySize
	KEMPrivateKeySize   = mlkem1024.PrivateKeySize
	KEMCiphertextSize   = mlkem1024.CiphertextSize
	KEMSharedSecretSize = mlkem1024.SharedKeySize
)

// KeyPair holds a packed ML-KEM-1024 key pair. Private is secret
// material and must be wiped with ZeroBytes once no longer needed.
type KeyPair struct {
	Public  []byte
	Private []byte
}

// GenerateKEMKeyPair creates a new random ML-KEM-1024 key pair using the
// OS CSPRNG.
func GenerateKEMKeyPair() (*KeyPair, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "GenerateKEMKeyPair",
		"package":  "crypto",
	})
	logger.Debug("Function entry: generating ML-KEM-1024 key pair")
	defer logger.Debug("Function exit: GenerateKEMKeyPair")

	return generateKEMKeyPair(rand.Reader, logger)
}

// GenerateKEMKeyPairFromSeed derives a deterministic ML-KEM-1024 key pair
// from a 32-byte seed. The same seed always produces the same key pair.
func GenerateKEMKeyPairFromSeed(seed []byte) (*KeyPair, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "GenerateKEMKeyPairFromSeed",
		"package":  "crypto",
	})
	logger.Debug("Function entry: deriving ML-KEM-1024 key pair from seed")
	defer logger.Debug("Function exit: GenerateKEMKeyPairFromSeed")

	if len(seed) != SeedSize {
		err := fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
		return nil, newError("GenerateKEMKeyPairFromSeed", KindInvalidKey, err)
	}

	return generateKEMKeyPair(expandSeed(seed, "dna-messenger/kem-v1"), logger)
}

func generateKEMKeyPair(entropy io.Reader, logger *logrus.Entry) (*KeyPair, error) {
	publicKey, privateKey, err := mlkem1024.GenerateKeyPair(entropy)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"operation": "mlkem1024.GenerateKeyPair",
			"error":     err.Error(),
		}).Error("ML-KEM-1024 key pair generation failed")
		return nil, newError("GenerateKEMKeyPair", KindRNG, err)
	}

	pubBytes := make([]byte, KEMPublicKeySize)
	privBytes := make([]byte, KEMPrivateKeySize)
	publicKey.Pack(pubBytes)
	privateKey.Pack(privBytes)

	logger.WithFields(logrus.Fields{
		"public_key_preview": previewHex(pubBytes),
	}).Info("ML-KEM-1024 key pair generated")

	return &KeyPair{Public: pubBytes, Private: privBytes}, nil
}

// KEMEncapsulate generates a shared secret under recipientPublic and
// returns the ciphertext to send alongside it plus the shared secret
// itself. The caller must wipe the returned shared secret once it has
// been consumed by key derivation.
func KEMEncapsulate(recipientPublic []byte) (ciphertext, sharedSecret []byte, err error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "KEMEncapsulate",
		"package":  "crypto",
	})
	logger.Debug("Function entry: encapsulating shared secret")
	defer logger.Debug("Function exit: KEMEncapsulate")

	if len(recipientPublic) != KEMPublicKeySize {
		err := fmt.Errorf("invalid public key size: expected %d, got %d", KEMPublicKeySize, len(recipientPublic))
		return nil, nil, newError("KEMEncapsulate", KindInvalidKey, err)
	}

	var publicKey mlkem1024.PublicKey
	publicKey.Unpack(recipientPublic)

	ct := make([]byte, KEMCiphertextSize)
	ss := make([]byte, KEMSharedSecretSize)
	publicKey.EncapsulateTo(ct, ss, nil)

	return ct, ss, nil
}

// KEMDecapsulate recovers the shared secret from ciphertext using the
// holder's private key. The caller must wipe the returned shared secret
// once it has been consumed by key derivation.
func KEMDecapsulate(recipientPrivate, ciphertext []byte) (sharedSecret []byte, err error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "KEMDecapsulate",
		"package":  "crypto",
	})
	logger.Debug("Function entry: decapsulating shared secret")
	defer logger.Debug("Function exit: KEMDecapsulate")

	if len(recipientPrivate) != KEMPrivateKeySize {
		err := fmt.Errorf("invalid private key size: expected %d, got %d", KEMPrivateKeySize, len(recipientPrivate))
		return nil, newError("KEMDecapsulate", KindInvalidKey, err)
	}
	if len(ciphertext) != KEMCiphertextSize {
		err := fmt.Errorf("invalid ciphertext size: expected %d, got %d", KEMCiphertextSize, len(ciphertext))
		return nil, newError("KEMDecapsulate", KindInvalidCiphertext, err)
	}

	var privateKey mlkem1024.PrivateKey
	privateKey.Unpack(recipientPrivate)

	ss := make([]byte, KEMSharedSecretSize)
	privateKey.DecapsulateTo(ss, ciphertext)

	return ss, nil
}

func previewHex(b []byte) string {
	n := 8
	if len(b) < n {
		n = len(b)
	}
	const hextable = "0123456789abcdef"
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		out[i*2] = hextable[b[i]>>4]
		out[i*2+1] = hextable[b[i]&0x0f]
	}
	return string(out)
}
