// Package crypto implements the fixed-contract cryptographic primitives
// the rest of the messenger is built on: ML-KEM-1024 key encapsulation,
// ML-DSA-87 signatures, AES-256-GCM authenticated encryption, RFC 3394
// AES key wrap, SHA3 hashing, a CSPRNG wrapper, and constant-time
// secret-memory wiping.
//
// # Design
//
// Every exported function either returns a complete, valid result or
// fails outright with an [Error] — there is no partial output on the
// error path — and every buffer that held secret material is wiped
// before the function returns, on every exit path including errors.
//
// # Key Encapsulation
//
//	kp, err := crypto.GenerateKEMKeyPair()
//	ct, ss, err := crypto.KEMEncapsulate(kp.Public)
//	ss2, err := crypto.KEMDecapsulate(kp.Private, ct)
//
// # Signatures
//
//	kp, err := crypto.GenerateSignKeyPair()
//	sig, err := crypto.Sign(kp.Private, message)
//	ok := crypto.Verify(kp.Public, message, sig)
//
// # Deterministic key derivation
//
// Both key pair generators accept a 32-byte seed and derive the same
// key pair every time for the same seed, expanding it through HKDF
// before handing the expanded randomness to the underlying scheme's
// key generator:
//
//	kp, err := crypto.GenerateKEMKeyPairFromSeed(seed)
//
// # Authenticated encryption and key wrap
//
//	ct, tag, err := crypto.AEADEncrypt(key, nonce, aad, plaintext)
//	pt, err := crypto.AEADDecrypt(key, nonce, aad, ct, tag)
//	wrapped, err := crypto.KeyWrap(kek, dek)
//	dek, err := crypto.KeyUnwrap(kek, wrapped)
//
// # Secure memory handling
//
// Sensitive buffers must be wiped with [ZeroBytes] or [SecureWipe] as
// soon as they are no longer needed:
//
//	defer crypto.ZeroBytes(sharedSecret)
//
// [SecureWipe] XORs a buffer against itself and pins it with
// runtime.KeepAlive so the compiler cannot optimize the write away.
package crypto
