// Package limits centralizes the size constants and DoS-hardening caps
// that the crypto, envelope, transport, and gek packages all enforce.
//
// # Size hierarchy
//
//   - MaxPlaintextMessage (512 KiB): the largest plaintext the envelope
//     encryption path accepts.
//   - MaxEnvelopeSize (10 MiB): the largest serialised envelope the
//     decryption path accepts, checked before any size-proportional
//     allocation.
//   - MaxOutboxEntries (500): the cap on a single daily outbox bucket.
//   - MaxChunkTotal (10000): the DoS cap on a chunked value's declared
//     total_chunks.
//   - MaxGroupMembers (16): the hard protocol cap on Initial Key Packet
//     member count.
//
// # Validation
//
//	if err := limits.ValidatePlaintextSize(plaintext); err != nil {
//	    // ErrMessageTooLarge
//	}
package limits
