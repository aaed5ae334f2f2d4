package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSelfAndFetchLiveNodes(t *testing.T) {
	dht := NewMockDHT()
	reg := NewBootstrapRegistry(dht)

	now := int64(1_700_000_000)
	rec := BootstrapRecord{
		IP: "198.51.100.1", Port: 33445, NodeID: "node-a",
		Version: "1.0.0", LastSeen: now, Uptime: 3600,
	}
	require.NoError(t, reg.PublishSelf(rec, []byte("signing-key")))

	live, err := reg.FetchLiveNodes(now + 60)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "node-a", live[0].NodeID)
}

func TestFetchLiveNodesFiltersStale(t *testing.T) {
	dht := NewMockDHT()
	reg := NewBootstrapRegistry(dht)

	now := int64(1_700_000_000)
	rec := BootstrapRecord{NodeID: "node-a", LastSeen: now}
	require.NoError(t, reg.PublishSelf(rec, []byte("key")))

	live, err := reg.FetchLiveNodes(now + int64(20*time.Minute.Seconds()))
	require.NoError(t, err)
	assert.Len(t, live, 0)
}

func TestPublishSelfReplacesOwnEntry(t *testing.T) {
	dht := NewMockDHT()
	reg := NewBootstrapRegistry(dht)

	now := int64(1_700_000_000)
	require.NoError(t, reg.PublishSelf(BootstrapRecord{NodeID: "node-a", LastSeen: now, Uptime: 10}, []byte("key")))
	require.NoError(t, reg.PublishSelf(BootstrapRecord{NodeID: "node-a", LastSeen: now + 300, Uptime: 610}, []byte("key")))

	live, err := reg.FetchLiveNodes(now + 300)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, int64(610), live[0].Uptime)
}

func TestPingStatsReliability(t *testing.T) {
	var s PingStats
	assert.Equal(t, 0.0, s.Reliability())

	now := time.Now()
	s.RecordPingSent(now)
	s.RecordPingResponse(true, now)
	s.RecordPingSent(now)
	s.RecordPingResponse(false, now)

	assert.Equal(t, 0.5, s.Reliability())
}

func TestRankByReliabilityOrdersDescending(t *testing.T) {
	dht := NewMockDHT()
	reg := NewBootstrapRegistry(dht)

	now := time.Now()
	reg.RecordPing("a", true, now)
	reg.RecordPing("b", true, now)
	reg.RecordPing("b", false, now)

	records := []BootstrapRecord{
		{NodeID: "b", LastSeen: 1},
		{NodeID: "a", LastSeen: 1},
	}
	ranked := reg.RankByReliability(records)
	require.Len(t, ranked, 2)
	assert.Equal(t, "a", ranked[0].NodeID)
}
