package crypto

import (
	"crypto/rand"
	"io"

	"golang.org/x/crypto/sha3"
)

// Hash512 returns the SHA3-512 digest of data, used for content hashes
// that must resist length-extension and collision attacks at the
// 256-bit security level (message envelope integrity, GEK fingerprints).
func Hash512(data []byte) [64]byte {
	return sha3.Sum512(data)
}

// Hash256 returns the SHA3-256 digest of data, used for chunk content
// hashes in the transport layer where a 128-bit security margin is
// sufficient and the shorter digest saves wire bytes.
func Hash256(data []byte) [32]byte {
	return sha3.Sum256(data)
}

// RandomBytes returns n cryptographically secure random bytes read from
// the OS CSPRNG. It never returns a short read: either n bytes come back
// or an error does.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, newError("RandomBytes", KindRNG, err)
	}
	return buf, nil
}
