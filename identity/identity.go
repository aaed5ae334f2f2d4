package identity

import (
	"fmt"

	"github.com/nocdem/dna-messenger-sub001/crypto"
	"github.com/sirupsen/logrus"
)

// MasterSeedSize is the length of the seed an identity is derived from.
const MasterSeedSize = 64

// Identity holds one user's full key material and derived fingerprint.
// Private key fields are secret material: call Wipe when the identity
// is no longer needed.
type Identity struct {
	Fingerprint [64]byte
	SignPublic  []byte
	SignPrivate []byte
	KEMPublic   []byte
	KEMPrivate  []byte
	MasterSeed  []byte
	Name        string
}

// Wipe zeroes every secret buffer held by id. id must not be used
// afterwards.
func (id *Identity) Wipe() {
	crypto.ZeroAll(id.SignPrivate, id.KEMPrivate, id.MasterSeed)
}

// FromMasterSeed derives both key pairs from a 64-byte master seed: the
// signing pair from seed[:32] and the encryption pair from seed[32:64],
// each under a distinct HKDF label so the derivations cannot collide.
func FromMasterSeed(masterSeed []byte) (*Identity, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "FromMasterSeed",
		"package":  "identity",
	})
	logger.Debug("Function entry: deriving identity from master seed")
	defer logger.Debug("Function exit: FromMasterSeed")

	if len(masterSeed) != MasterSeedSize {
		err := fmt.Errorf("master seed must be %d bytes, got %d", MasterSeedSize, len(masterSeed))
		return nil, newError("FromMasterSeed", KindInvalidArg, err)
	}

	signSeed := masterSeed[:32]
	kemSeed := masterSeed[32:64]

	signKP, err := crypto.GenerateSignKeyPairFromSeed(signSeed)
	if err != nil {
		return nil, newError("FromMasterSeed", KindInvalidArg, err)
	}
	kemKP, err := crypto.GenerateKEMKeyPairFromSeed(kemSeed)
	if err != nil {
		return nil, newError("FromMasterSeed", KindInvalidArg, err)
	}

	fp := crypto.Hash512(signKP.Public)

	seedCopy := make([]byte, MasterSeedSize)
	copy(seedCopy, masterSeed)

	logger.WithFields(logrus.Fields{
		"fingerprint_preview": fmt.Sprintf("%x", fp[:8]),
	}).Info("identity derived from master seed")

	return &Identity{
		Fingerprint: fp,
		SignPublic:  signKP.Public,
		SignPrivate: signKP.Private,
		KEMPublic:   kemKP.Public,
		KEMPrivate:  kemKP.Private,
		MasterSeed:  seedCopy,
	}, nil
}

// VerifyFingerprint re-checks the invariant that id.Fingerprint equals
// SHA3-512 of id.SignPublic. Callers must abort the session if this ever
// returns false.
func VerifyFingerprint(id *Identity) bool {
	return crypto.Hash512(id.SignPublic) == id.Fingerprint
}
