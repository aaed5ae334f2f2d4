package transport

import (
	"sync"
	"time"
)

// MockDHT is an in-memory [DHT] implementation for tests. It enforces
// per-writer replace semantics (matching PutSigned's contract) but does
// not model TTL expiry, signature verification, or network failure —
// callers that need those inject failures via [MockDHT.FailNextPut] /
// [MockDHT.FailNextGet].
type MockDHT struct {
	mu      sync.Mutex
	values  map[[32]byte]map[uint64][]byte
	tokens  map[ListenToken]listenSub
	nextTok ListenToken

	failPut error
	failGet error

	getAllCalls map[[32]byte]int
}

type listenSub struct {
	key [32]byte
	cb  ListenCallback
}

// NewMockDHT constructs an empty MockDHT.
func NewMockDHT() *MockDHT {
	return &MockDHT{
		values:      make(map[[32]byte]map[uint64][]byte),
		tokens:      make(map[ListenToken]listenSub),
		getAllCalls: make(map[[32]byte]int),
	}
}

// GetAllCallCount reports how many times GetAll has been called for
// key, for tests asserting a fetch was (or wasn't) skipped.
func (m *MockDHT) GetAllCallCount(key [32]byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getAllCalls[key]
}

// FailNextPut makes the next PutSigned call return err instead of
// succeeding. Cleared after one use.
func (m *MockDHT) FailNextPut(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPut = err
}

// FailNextGet makes the next GetAll call return err instead of
// succeeding. Cleared after one use.
func (m *MockDHT) FailNextGet(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failGet = err
}

func (m *MockDHT) PutSigned(key [32]byte, value []byte, valueID uint64, ttl time.Duration, signingKey []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failPut != nil {
		err := m.failPut
		m.failPut = nil
		return err
	}

	if m.values[key] == nil {
		m.values[key] = make(map[uint64][]byte)
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	m.values[key][valueID] = stored

	for _, sub := range m.tokens {
		if sub.key == key {
			sub.cb(key, stored)
		}
	}
	return nil
}

func (m *MockDHT) GetAll(key [32]byte) ([]StoredValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.getAllCalls[key]++

	if m.failGet != nil {
		err := m.failGet
		m.failGet = nil
		return nil, err
	}

	byWriter := m.values[key]
	out := make([]StoredValue, 0, len(byWriter))
	for valueID, value := range byWriter {
		out = append(out, StoredValue{Value: value, ValueID: valueID})
	}
	return out, nil
}

func (m *MockDHT) Listen(key [32]byte, cb ListenCallback) (ListenToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextTok++
	tok := m.nextTok
	m.tokens[tok] = listenSub{key: key, cb: cb}
	return tok, nil
}

func (m *MockDHT) CancelListen(token ListenToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, token)
	return nil
}
