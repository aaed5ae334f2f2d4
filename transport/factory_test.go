package transport

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDHTDefaultsToErrorWithoutMockOrReal(t *testing.T) {
	os.Unsetenv(mockDHTEnvVar)
	_, err := NewDHT()
	require.Error(t, err)
}

func TestNewDHTWithMockOption(t *testing.T) {
	dht, err := NewDHT(WithMock())
	require.NoError(t, err)
	_, ok := dht.(*MockDHT)
	assert.True(t, ok)
}

func TestNewDHTWithReal(t *testing.T) {
	real := NewMockDHT()
	dht, err := NewDHT(WithReal(real))
	require.NoError(t, err)
	assert.Same(t, real, dht)
}

func TestNewDHTEnvVarForcesMock(t *testing.T) {
	os.Setenv(mockDHTEnvVar, "1")
	defer os.Unsetenv(mockDHTEnvVar)

	real := NewMockDHT()
	dht, err := NewDHT(WithReal(real))
	require.NoError(t, err)
	_, ok := dht.(*MockDHT)
	assert.True(t, ok)
}
