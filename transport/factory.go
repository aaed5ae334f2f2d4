package transport

import (
	"errors"
	"os"

	"github.com/sirupsen/logrus"
)

// FactoryConfig controls how [NewDHT] selects an implementation.
type FactoryConfig struct {
	// UseMock forces the in-memory [MockDHT], bypassing any real
	// implementation. Overridden by the DNA_MESSENGER_USE_MOCK_DHT
	// environment variable when set.
	UseMock bool
	// Real is the production DHT implementation to use when UseMock is
	// false. Required in that case; NewDHT returns an error otherwise.
	Real DHT
}

// FactoryOption mutates a FactoryConfig under construction.
type FactoryOption func(*FactoryConfig)

// WithMock forces mock-DHT selection regardless of environment.
func WithMock() FactoryOption {
	return func(c *FactoryConfig) {
		c.UseMock = true
	}
}

// WithReal supplies the production DHT implementation.
func WithReal(real DHT) FactoryOption {
	return func(c *FactoryConfig) {
		c.Real = real
	}
}

// mockDHTEnvVar, when set to "1" or "true", forces mock-DHT selection
// regardless of caller options — used in CI and local dev so tests
// never accidentally depend on a real DHT deployment.
const mockDHTEnvVar = "DNA_MESSENGER_USE_MOCK_DHT"

// NewDHT selects between [MockDHT] and a caller-supplied real
// implementation, in the same spirit as the transport factory this
// package's tests rely on: environment variable override first, then
// explicit options.
func NewDHT(opts ...FactoryOption) (DHT, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "NewDHT",
		"package":  "transport",
	})
	logger.Debug("Function entry: selecting DHT implementation")
	defer logger.Debug("Function exit: NewDHT")

	cfg := FactoryConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	if v := os.Getenv(mockDHTEnvVar); v == "1" || v == "true" {
		cfg.UseMock = true
	}

	if cfg.UseMock {
		logger.Debug("Using in-memory mock DHT")
		return NewMockDHT(), nil
	}

	if cfg.Real == nil {
		return nil, newError("NewDHT", KindStorage, errNoRealDHT)
	}
	return cfg.Real, nil
}

var errNoRealDHT = errors.New("no real DHT implementation supplied")
