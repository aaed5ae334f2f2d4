// Package identity implements the fingerprint-keyed identity model: key
// pair derivation from a 64-byte master seed, the public identity record
// published to the DHT, and password-wrapped persistence of private key
// material to local files.
//
// # Derivation
//
// Both the ML-DSA-87 signing key pair and the ML-KEM-1024 encryption key
// pair are derived deterministically, the signing pair from the first 32
// bytes of the master seed and the encryption pair from the last 32,
// each expanded through a distinct HKDF label so the two derivations
// never collide:
//
//	id, err := identity.FromMasterSeed(masterSeed)
//
// *Invariant:* id.Fingerprint always equals SHA3-512 of id.SignPublic;
// FromMasterSeed enforces this by construction, and [VerifyFingerprint]
// re-checks it; the engine's LoadIdentity calls it and refuses to load
// an identity whose stored signing public key does not match.
//
// # Persistence
//
// Private keys are never written to disk unwrapped. WrapKey derives a
// key-encryption key from a password via PBKDF2-HMAC-SHA256 (>=210000
// iterations, 16-byte salt) and seals the key material with
// AES-256-GCM, matching the "DNAK"-magic contract of the engine's
// persistent state layout.
package identity
