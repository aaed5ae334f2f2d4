// Package limits provides centralized size limits and validators shared
// across the crypto, envelope, transport, and gek packages. Keeping the
// constants in one place ensures every component enforces the same
// boundaries the wire format and DoS hardening depend on.
package limits

import "errors"

const (
	// MaxPlaintextMessage is the largest plaintext accepted by the
	// envelope encryption path.
	MaxPlaintextMessage = 512 * 1024

	// MaxEnvelopeSize is the largest serialised envelope accepted by the
	// decryption path, checked before any allocation proportional to
	// attacker-controlled size fields.
	MaxEnvelopeSize = 10 * 1024 * 1024

	// MaxRecipients is the largest recipient_count an envelope header may
	// declare.
	MaxRecipients = 255

	// MinRecipients is the smallest recipient_count an envelope header may
	// declare; the sender is always included as a recipient, so zero is
	// rejected.
	MinRecipients = 1

	// RecipientEntrySize is the fixed size of one recipient entry: a
	// ML-KEM-1024 ciphertext plus an RFC 3394-wrapped 32-byte DEK.
	RecipientEntrySize = 1568 + 40

	// MaxOutboxEntries is the cap on messages retained in a single daily
	// outbox bucket; older entries are dropped by offline_seq once
	// exceeded.
	MaxOutboxEntries = 500

	// MaxChunkTotal is the DoS cap on the declared total_chunks field of a
	// chunked DHT value.
	MaxChunkTotal = 10000

	// ChunkPayloadSize is the target size of one chunk's compressed
	// payload before it is split further.
	ChunkPayloadSize = 45000

	// MaxGroupMembers is the hard protocol-level cap on Initial Key
	// Packet member count.
	MaxGroupMembers = 16

	// MaxListenTokens bounds concurrent DHT listen registrations.
	MaxListenTokens = 1024

	// MaxRetryCount is the number of delivery attempts before a message
	// requires manual retry.
	MaxRetryCount = 10

	// OutboxTTLSeconds is the DHT retention window for a daily outbox
	// bucket.
	OutboxTTLSeconds = 7 * 24 * 3600

	// AckTTLSeconds is the DHT retention window for an ACK record.
	AckTTLSeconds = 30 * 24 * 3600

	// GEKLifetimeSeconds is how long a GEK version is valid for before
	// ExpiresAt, independent of the daily rotation heartbeat.
	GEKLifetimeSeconds = 7 * 24 * 3600

	// GEKDailyRotationThresholdSeconds is the age at which the active GEK
	// is due for the daily rotation heartbeat to replace it, distinct from
	// GEKLifetimeSeconds's longer validity window.
	GEKDailyRotationThresholdSeconds = 24 * 3600

	// GEKRetentionAfterExpirySeconds is how long an expired GEK version is
	// kept locally to decrypt late-arriving messages.
	GEKRetentionAfterExpirySeconds = 7 * 24 * 3600

	// PBKDF2MinIterations is the minimum iteration count for deriving a
	// key-encryption key from a user password.
	PBKDF2MinIterations = 210000
)

var (
	// ErrMessageEmpty indicates an empty message was provided where one
	// is required.
	ErrMessageEmpty = errors.New("limits: empty message")

	// ErrMessageTooLarge indicates a value exceeds its configured maximum
	// size.
	ErrMessageTooLarge = errors.New("limits: value too large")

	// ErrRecipientCountOutOfRange indicates recipient_count is 0 or above
	// MaxRecipients.
	ErrRecipientCountOutOfRange = errors.New("limits: recipient count out of range")

	// ErrChunkTotalOutOfRange indicates a chunked value declares more
	// chunks than MaxChunkTotal.
	ErrChunkTotalOutOfRange = errors.New("limits: chunk total out of range")

	// ErrGroupTooLarge indicates an IKP declares more members than
	// MaxGroupMembers.
	ErrGroupTooLarge = errors.New("limits: group member count out of range")
)

// ValidatePlaintextSize rejects plaintext outside [0, MaxPlaintextMessage].
// Empty plaintext is valid; §8 of the boundary behaviours requires
// plaintext_len == 0 to succeed.
func ValidatePlaintextSize(plaintext []byte) error {
	if len(plaintext) > MaxPlaintextMessage {
		return ErrMessageTooLarge
	}
	return nil
}

// ValidateEnvelopeSize rejects a serialised envelope larger than
// MaxEnvelopeSize, to be checked before any size-proportional allocation.
func ValidateEnvelopeSize(envelope []byte) error {
	if len(envelope) == 0 {
		return ErrMessageEmpty
	}
	if len(envelope) > MaxEnvelopeSize {
		return ErrMessageTooLarge
	}
	return nil
}

// ValidateRecipientCount rejects a recipient count outside
// [MinRecipients, MaxRecipients].
func ValidateRecipientCount(count int) error {
	if count < MinRecipients || count > MaxRecipients {
		return ErrRecipientCountOutOfRange
	}
	return nil
}

// ValidateChunkTotal rejects a declared chunk total above MaxChunkTotal.
func ValidateChunkTotal(total uint32) error {
	if total == 0 || total > MaxChunkTotal {
		return ErrChunkTotalOutOfRange
	}
	return nil
}

// ValidateGroupMemberCount rejects a member count above MaxGroupMembers.
func ValidateGroupMemberCount(count int) error {
	if count <= 0 || count > MaxGroupMembers {
		return ErrGroupTooLarge
	}
	return nil
}
