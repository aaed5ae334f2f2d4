package transport

import "time"

// StoredValue is one value returned by a multi-writer DHT read, paired
// with the value-id it was published under so callers can tell distinct
// writers' entries at the same key apart.
type StoredValue struct {
	Value   []byte
	ValueID uint64
}

// ListenCallback is invoked once per value observed at a subscribed key.
// Implementations MUST NOT hold long locks in the callback body; the
// engine enqueues a decrypt-and-store task and returns immediately.
type ListenCallback func(key [32]byte, value []byte)

// ListenToken is an opaque handle returned by Listen, passed to
// CancelListen to tear the subscription down.
type ListenToken uint64

// DHT is the external contract this package depends on: signed puts
// with replace semantics via a writer-stable value-id, multi-writer
// reads, and push notification via listen/cancel. The DHT routing layer
// itself is out of scope — production code supplies a real
// implementation; tests use [MockDHT].
type DHT interface {
	// PutSigned publishes value at key under valueID, signed by
	// signingKey, replacing any prior value this writer published under
	// the same (key, valueID). ttl is the DHT-enforced expiry.
	PutSigned(key [32]byte, value []byte, valueID uint64, ttl time.Duration, signingKey []byte) error

	// GetAll returns every writer's current value at key.
	GetAll(key [32]byte) ([]StoredValue, error)

	// Listen subscribes to key, invoking cb for every value observed
	// (including ones published before the call, per typical DHT
	// semantics) until CancelListen is called with the returned token.
	Listen(key [32]byte, cb ListenCallback) (ListenToken, error)

	// CancelListen tears down a subscription created by Listen. Safe to
	// call at most once per token; implementations should treat a second
	// call as a no-op.
	CancelListen(token ListenToken) error
}

// Config holds the timeout, retry and listen settings an [Outbox] is
// constructed with. The Outbox stores it, but none of its operations
// read these fields: there is no per-operation timeout, no retry and no
// backoff inside this package, and Listen registrations are not counted
// here.
type Config struct {
	// NetworkTimeout is the configured bound for a single DHT operation.
	NetworkTimeout time.Duration
	// RetryAttempts is the configured retry budget for network-class
	// failures.
	RetryAttempts int
	// MaxListenTokens is the configured cap on concurrent Listen
	// registrations.
	MaxListenTokens int
}

// DefaultConfig returns the reference tuning: 30s timeout, 10 retries,
// 1024 listen tokens.
func DefaultConfig() Config {
	return Config{
		NetworkTimeout:  30 * time.Second,
		RetryAttempts:   10,
		MaxListenTokens: 1024,
	}
}
