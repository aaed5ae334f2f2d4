// Package envelope implements the v0.08 binary message envelope: a
// versioned container providing multi-recipient confidentiality via
// ML-KEM-1024 key wrapping, AES-256-GCM confidentiality and integrity
// over the sender fingerprint, timestamp, and plaintext, and a detached
// ML-DSA-87 signature over the plaintext alone.
//
// # Layout
//
//	HEADER (20 B)            magic, version, kem_algo, recipient_count,
//	                          message_type, encrypted_size, signature_size
//	RECIPIENTS (N x 1608 B)   kem_ciphertext (1568) || wrapped_dek (40)
//	NONCE (12 B)
//	ENCRYPTED PAYLOAD         AEAD(fingerprint || timestamp || plaintext)
//	AUTH TAG (16 B)
//	SIGNATURE                 type (1) || len (2, BE) || signature
//
// The AEAD's associated data is always the 20-byte header, bit-exact;
// tampering with any header field fails decryption even if the payload
// itself is untouched.
//
// # Encrypt / Decrypt
//
//	env, err := envelope.Encrypt(sender, recipients, messageType, plaintext, now)
//	wire := env.Marshal()
//
//	env, err := envelope.Unmarshal(wire)
//	result, err := env.Decrypt(selfKEMPriv, resolveSignPub)
package envelope
