package engine

import (
	"testing"
	"time"

	"github.com/nocdem/dna-messenger-sub001/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fp(b byte) [64]byte {
	var out [64]byte
	out[0] = b
	return out
}

// TestListenDeliversWithoutManualPoll establishes bob's push subscription
// on alice's outbox bucket (via an initial CheckOfflineMessages call, the
// same as contact-add would) and confirms a message alice sends afterward
// reaches bob's store on its own, through MockDHT's synchronous Listen
// callback and the worker pool, without bob polling again.
func TestListenDeliversWithoutManualPoll(t *testing.T) {
	dht := transport.NewMockDHT()
	alice := newTestEngine(t, dht)
	bob := newTestEngine(t, dht)

	aliceFP, err := alice.CreateIdentity("alice", seedFor(1), "pw")
	require.NoError(t, err)
	bobFP, err := bob.CreateIdentity("bob", seedFor(2), "pw")
	require.NoError(t, err)

	// Bob checking once subscribes him to alice's bucket for the rest of
	// the day, same as syncPeer's ensureContactListen call.
	_, err = bob.CheckOfflineMessages(aliceFP)
	require.NoError(t, err)

	_, err = alice.SendMessage(hexFP(t, bobFP), []byte("pushed"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		conv, err := bob.GetConversation(aliceFP)
		return err == nil && len(conv) == 1
	}, time.Second, 5*time.Millisecond, "message must arrive via push without a manual poll")
}

// TestEnsureContactListenStopsAtTokenCap confirms contacts past
// opts.ListenTokenCap fall back to poll-only delivery instead of erroring.
func TestEnsureContactListenStopsAtTokenCap(t *testing.T) {
	dht := transport.NewMockDHT()
	opts := NewOptions(WithDataDir(t.TempDir()), WithWorkerCount(2), WithListenTokenCap(1))
	e, err := New(opts, dht)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	_, err = e.CreateIdentity("alice", seedFor(1), "pw")
	require.NoError(t, err)

	now := time.Now().Unix()
	e.ensureContactListen(fp(1), fp(2), now)
	e.ensureContactListen(fp(1), fp(3), now)

	e.listenMu.Lock()
	count := e.activeListenCountLocked()
	e.listenMu.Unlock()
	assert.Equal(t, 1, count)
}
