package crypto

import (
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

// SeedSize is the length in bytes of the input seed accepted by the
// deterministic key pair generators.
const SeedSize = 32

// expandSeed derives an arbitrary-length deterministic byte stream from
// seed via HKDF-SHA3-512, labelled with info so the KEM and signature
// derivations never collide even when called with the same seed.
//
// The returned reader is not itself a CSPRNG: it is deterministic by
// design so the same seed always reproduces the same key pair, which is
// the whole point of GenerateKEMKeyPairFromSeed / GenerateSignKeyPairFromSeed.
func expandSeed(seed []byte, info string) io.Reader {
	return hkdf.New(sha3.New512, seed, nil, []byte(info))
}
