package identity

import (
	"encoding/json"
	"fmt"

	"github.com/nocdem/dna-messenger-sub001/crypto"
	"github.com/sirupsen/logrus"
)

// Profile is the public identity record published to the DHT at
// SHA3-512(fingerprint || ":profile") and mirrored at
// SHA3-512(name || ":lookup") when a name is registered.
type Profile struct {
	SignPublic         []byte `json:"sign_public"`
	KEMPublic          []byte `json:"kem_public"`
	Name               string `json:"name,omitempty"`
	RegistrationReceipt string `json:"registration_receipt,omitempty"`
	Bio                string `json:"bio,omitempty"`
	Version            uint64 `json:"version"`
	Signature          []byte `json:"signature,omitempty"`
}

// canonicalJSON returns the profile's canonical encoding with the
// Signature field elided, which is what gets signed and what signature
// verification re-derives.
func (p *Profile) canonicalJSON() ([]byte, error) {
	unsigned := *p
	unsigned.Signature = nil
	return json.Marshal(unsigned)
}

// Sign computes and stores the detached ML-DSA-87 signature over the
// profile's canonical JSON encoding (signature field elided).
func (p *Profile) Sign(signPrivate []byte) error {
	body, err := p.canonicalJSON()
	if err != nil {
		return newError("Sign", KindInvalidArg, err)
	}
	sig, err := crypto.Sign(signPrivate, body)
	if err != nil {
		return newError("Sign", KindInvalidArg, err)
	}
	p.Signature = sig
	return nil
}

// Verify checks the profile's signature against its own embedded public
// key — the "every published record must verify under its own embedded
// public key" invariant of §3.
func (p *Profile) Verify() bool {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Profile.Verify",
		"package":  "identity",
	})
	body, err := p.canonicalJSON()
	if err != nil {
		logger.Warn("failed to canonicalize profile for verification")
		return false
	}
	return crypto.Verify(p.SignPublic, body, p.Signature)
}

// Fingerprint returns SHA3-512 of the profile's embedded signing public
// key.
func (p *Profile) Fingerprint() [64]byte {
	return crypto.Hash512(p.SignPublic)
}

// ProfileKey returns the DHT key a profile is published at.
func ProfileKey(fingerprint [64]byte) [64]byte {
	return crypto.Hash512(append(append([]byte{}, fingerprint[:]...), ":profile"...))
}

// NameLookupKey returns the DHT key a name-to-profile mirror is
// published at.
func NameLookupKey(name string) [64]byte {
	return crypto.Hash512(append([]byte(name), ":lookup"...))
}

// ValidateName checks the 3-20 char, lowercase alphanumeric+underscore
// constraint on registerable names.
func ValidateName(name string) error {
	if len(name) < 3 || len(name) > 20 {
		return newError("ValidateName", KindInvalidArg, fmt.Errorf("name must be 3-20 characters"))
	}
	for _, r := range name {
		isLower := r >= 'a' && r <= 'z'
		isDigit := r >= '0' && r <= '9'
		if !isLower && !isDigit && r != '_' {
			return newError("ValidateName", KindInvalidArg, fmt.Errorf("name must be lowercase alphanumeric+underscore"))
		}
	}
	return nil
}
