package crypto

import (
	"crypto/rand"
	"fmt"

	"github.com/cloudflare/circl/sign/mldsa/mldsa87"
	"github.com/sirupsen/logrus"
)

// Packed sizes of ML-DSA-87 keys and signatures.
const (
	SignPublicKeySize  = mldsa87.PublicKeySize
	SignPrivateKeySize = mldsa87.PrivateKeySize
	SignatureSize      = mldsa87.SignatureSize
)

// SignKeyPair holds a packed ML-DSA-87 key pair. Private is secret
// material and must be wiped with ZeroBytes once no longer needed.
type SignKeyPair struct {
	Public  []byte
	Private []byte
}

// GenerateSignKeyPair creates a new random ML-DSA-87 key pair using the
// OS CSPRNG.
func GenerateSignKeyPair() (*SignKeyPair, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "GenerateSignKeyPair",
		"package":  "crypto",
	})
	logger.Debug("Function entry: generating ML-DSA-87 key pair")
	defer logger.Debug("Function exit: GenerateSignKeyPair")

	publicKey, privateKey, err := mldsa87.GenerateKey(rand.Reader)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"operation": "mldsa87.GenerateKey",
			"error":     err.Error(),
		}).Error("ML-DSA-87 key pair generation failed")
		return nil, newError("GenerateSignKeyPair", KindRNG, err)
	}

	kp := &SignKeyPair{
		Public:  publicKey.Bytes(),
		Private: privateKey.Bytes(),
	}

	logger.WithFields(logrus.Fields{
		"public_key_preview": previewHex(kp.Public),
	}).Info("ML-DSA-87 key pair generated")

	return kp, nil
}

// GenerateSignKeyPairFromSeed derives a deterministic ML-DSA-87 key pair
// from a 32-byte seed. The same seed always produces the same key pair.
func GenerateSignKeyPairFromSeed(seed []byte) (*SignKeyPair, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "GenerateSignKeyPairFromSeed",
		"package":  "crypto",
	})
	logger.Debug("Function entry: deriving ML-DSA-87 key pair from seed")
	defer logger.Debug("Function exit: GenerateSignKeyPairFromSeed")

	if len(seed) != SeedSize {
		err := fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
		return nil, newError("GenerateSignKeyPairFromSeed", KindInvalidKey, err)
	}

	publicKey, privateKey, err := mldsa87.GenerateKey(expandSeed(seed, "dna-messenger/dsa-v1"))
	if err != nil {
		logger.WithFields(logrus.Fields{
			"operation": "mldsa87.GenerateKey",
			"error":     err.Error(),
		}).Error("deterministic ML-DSA-87 key pair generation failed")
		return nil, newError("GenerateSignKeyPairFromSeed", KindRNG, err)
	}

	return &SignKeyPair{Public: publicKey.Bytes(), Private: privateKey.Bytes()}, nil
}

// Sign produces an ML-DSA-87 signature over message using privateKey.
func Sign(privateKey, message []byte) ([]byte, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Sign",
		"package":  "crypto",
	})
	logger.Debug("Function entry: signing message")
	defer logger.Debug("Function exit: Sign")

	if len(privateKey) != SignPrivateKeySize {
		err := fmt.Errorf("invalid private key size: expected %d, got %d", SignPrivateKeySize, len(privateKey))
		return nil, newError("Sign", KindInvalidKey, err)
	}

	var priv mldsa87.PrivateKey
	var arr [mldsa87.PrivateKeySize]byte
	copy(arr[:], privateKey)
	priv.Unpack(&arr)

	signature := make([]byte, SignatureSize)
	if err := mldsa87.SignTo(&priv, message, nil, false, signature); err != nil {
		logger.WithFields(logrus.Fields{"error": err.Error()}).Error("signing failed")
		return nil, newError("Sign", KindInvalidKey, err)
	}

	return signature, nil
}

// Verify checks an ML-DSA-87 signature over message against publicKey.
// It returns false (never an error) for any malformed signature or key,
// matching the teacher's bool-returning verification contract.
func Verify(publicKey, message, signature []byte) bool {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Verify",
		"package":  "crypto",
	})
	logger.Debug("Function entry: verifying signature")
	defer logger.Debug("Function exit: Verify")

	if len(publicKey) != SignPublicKeySize || len(signature) != SignatureSize {
		logger.Warn("signature verification rejected: malformed key or signature length")
		return false
	}

	var pub mldsa87.PublicKey
	var arr [mldsa87.PublicKeySize]byte
	copy(arr[:], publicKey)
	pub.Unpack(&arr)

	return mldsa87.Verify(&pub, message, nil, signature)
}
