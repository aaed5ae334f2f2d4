package transport

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fp(b byte) [64]byte {
	var out [64]byte
	out[0] = b
	return out
}

func TestPublishAndFetchDMBucketRoundTrip(t *testing.T) {
	dht := NewMockDHT()
	ob := NewOutbox(dht, DefaultConfig())

	sender := fp(1)
	recipient := fp(2)
	now := int64(1_700_000_000)

	entry := OutboxEntry{
		SenderFP:    sender,
		RecipientFP: recipient,
		OfflineSeq:  1,
		EnqueueTS:   now,
		Expiry:      now + 7*86400,
		Ciphertext:  []byte("first message"),
	}

	err := ob.PublishDMEntry(sender, recipient, entry, []byte("signing-key"), now)
	require.NoError(t, err)

	fetched, err := ob.FetchDMBucket(sender, recipient, DayBucket(now))
	require.NoError(t, err)
	require.Len(t, fetched, 1)
	assert.Equal(t, entry.Ciphertext, fetched[0].Ciphertext)
	assert.Equal(t, entry.OfflineSeq, fetched[0].OfflineSeq)
}

func TestPublishDMEntryAppendsAndReplaces(t *testing.T) {
	dht := NewMockDHT()
	ob := NewOutbox(dht, DefaultConfig())

	sender := fp(1)
	recipient := fp(2)
	now := int64(1_700_000_000)

	for i := uint64(1); i <= 3; i++ {
		entry := OutboxEntry{
			SenderFP:    sender,
			RecipientFP: recipient,
			OfflineSeq:  i,
			EnqueueTS:   now,
			Ciphertext:  []byte("msg"),
		}
		require.NoError(t, ob.PublishDMEntry(sender, recipient, entry, []byte("key"), now))
	}

	fetched, err := ob.FetchDMBucket(sender, recipient, DayBucket(now))
	require.NoError(t, err)
	require.Len(t, fetched, 3)
}

func TestPublishDMEntryCapsAtMaxEntries(t *testing.T) {
	dht := NewMockDHT()
	ob := NewOutbox(dht, DefaultConfig())

	sender := fp(1)
	recipient := fp(2)
	now := int64(1_700_000_000)

	for i := uint64(1); i <= 502; i++ {
		entry := OutboxEntry{
			SenderFP:    sender,
			RecipientFP: recipient,
			OfflineSeq:  i,
			EnqueueTS:   now,
			Ciphertext:  []byte("msg"),
		}
		require.NoError(t, ob.PublishDMEntry(sender, recipient, entry, []byte("key"), now))
	}

	fetched, err := ob.FetchDMBucket(sender, recipient, DayBucket(now))
	require.NoError(t, err)
	require.Len(t, fetched, 500)
	assert.Equal(t, uint64(3), fetched[0].OfflineSeq)
	assert.Equal(t, uint64(502), fetched[len(fetched)-1].OfflineSeq)
}

func TestFetchDMBucketEmptyIsNotFound(t *testing.T) {
	dht := NewMockDHT()
	ob := NewOutbox(dht, DefaultConfig())

	fetched, err := ob.FetchDMBucket(fp(9), fp(10), DayBucket(1_700_000_000))
	require.NoError(t, err)
	assert.Nil(t, fetched)
}

func TestGroupOutboxMergesMultipleWriters(t *testing.T) {
	dht := NewMockDHT()
	ob := NewOutbox(dht, DefaultConfig())

	groupUUID := "11111111-1111-1111-1111-111111111111"
	now := int64(1_700_000_000)

	alice := fp(1)
	bob := fp(2)

	require.NoError(t, ob.PublishGroupEntry(groupUUID, alice, OutboxEntry{
		SenderFP: alice, OfflineSeq: 1, Ciphertext: []byte("hi from alice"),
	}, []byte("key-a"), now))

	require.NoError(t, ob.PublishGroupEntry(groupUUID, bob, OutboxEntry{
		SenderFP: bob, OfflineSeq: 1, Ciphertext: []byte("hi from bob"),
	}, []byte("key-b"), now))

	merged, err := ob.FetchGroupBucket(groupUUID, DayBucket(now))
	require.NoError(t, err)
	assert.Len(t, merged, 2)
}

func TestFetchWriterChunkedValueSkipsUnchangedChunks(t *testing.T) {
	dht := NewMockDHT()
	ob := NewOutbox(dht, DefaultConfig())

	owner := fp(5)
	valueID := WriterValueID(owner)
	baseKey := "group-x:ikp:1"

	// Incompressible, large enough to span more than one chunk after
	// zstd compression.
	value := make([]byte, 200_000)
	_, err := rand.Read(value)
	require.NoError(t, err)

	require.NoError(t, ob.PublishChunkedValue(baseKey, value, valueID, 24*time.Hour, []byte("signing-key")))

	first, err := ob.FetchWriterChunkedValue(baseKey, valueID)
	require.NoError(t, err)
	assert.Equal(t, value, first)

	chunk1Key := ChunkKey(baseKey, 1)
	callsAfterFirst := dht.GetAllCallCount(chunk1Key)
	require.Greater(t, callsAfterFirst, 0, "first fetch must actually read chunk 1")

	second, err := ob.FetchWriterChunkedValue(baseKey, valueID)
	require.NoError(t, err)
	assert.Equal(t, value, second)

	// The re-fetch sees the same chunk-0 content hash, so it must not
	// touch chunk 1 again.
	assert.Equal(t, callsAfterFirst, dht.GetAllCallCount(chunk1Key))
}

func TestWriterValueIDIsDeterministicAndDistinct(t *testing.T) {
	a := WriterValueID(fp(1))
	b := WriterValueID(fp(1))
	c := WriterValueID(fp(2))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestSmartSyncDayRangeRecentVsStale(t *testing.T) {
	now := int64(10 * 86400)

	recent := SmartSyncDayRange(now, now-86400, true)
	assert.Equal(t, []int64{9, 10, 11}, recent)

	stale := SmartSyncDayRange(now, now-4*86400, true)
	assert.Equal(t, []int64{4, 5, 6, 7, 8, 9, 10, 11}, stale)

	never := SmartSyncDayRange(now, 0, false)
	assert.Equal(t, []int64{4, 5, 6, 7, 8, 9, 10, 11}, never)
}

func TestDedupEntriesFiltersSeen(t *testing.T) {
	seen := make(map[DedupKey]bool)
	sender := fp(1)

	batch1 := []OutboxEntry{
		{SenderFP: sender, OfflineSeq: 1},
		{SenderFP: sender, OfflineSeq: 2},
	}
	fresh1 := DedupEntries(batch1, seen)
	assert.Len(t, fresh1, 2)

	batch2 := []OutboxEntry{
		{SenderFP: sender, OfflineSeq: 2},
		{SenderFP: sender, OfflineSeq: 3},
	}
	fresh2 := DedupEntries(batch2, seen)
	require.Len(t, fresh2, 1)
	assert.Equal(t, uint64(3), fresh2[0].OfflineSeq)
}

func TestAckPublishAndFetchTakesMax(t *testing.T) {
	dht := NewMockDHT()
	ob := NewOutbox(dht, DefaultConfig())

	recipient := fp(1)
	sender := fp(2)

	require.NoError(t, ob.PublishAck(recipient, sender, 100, []byte("key")))

	ts, err := ob.FetchAckTimestamp(recipient, sender)
	require.NoError(t, err)
	assert.Equal(t, int64(100), ts)

	require.NoError(t, ob.PublishAck(recipient, sender, 200, []byte("key")))
	ts, err = ob.FetchAckTimestamp(recipient, sender)
	require.NoError(t, err)
	assert.Equal(t, int64(200), ts)
}

func TestFetchAckTimestampNotFoundWhenUnpublished(t *testing.T) {
	dht := NewMockDHT()
	ob := NewOutbox(dht, DefaultConfig())

	_, err := ob.FetchAckTimestamp(fp(1), fp(2))
	require.Error(t, err)
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, KindNotFound, terr.Kind)
}

func TestAckKeyDeterministicAndDirectional(t *testing.T) {
	a := AckKey(fp(1), fp(2))
	b := AckKey(fp(1), fp(2))
	reversed := AckKey(fp(2), fp(1))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, reversed)
}
