package engine

import (
	"encoding/hex"
	"os"
	"testing"

	"github.com/nocdem/dna-messenger-sub001/identity"
	"github.com/nocdem/dna-messenger-sub001/store"
	"github.com/nocdem/dna-messenger-sub001/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedFor(tag byte) []byte {
	seed := make([]byte, 64)
	for i := range seed {
		seed[i] = tag
	}
	return seed
}

func newTestEngine(t *testing.T, dht transport.DHT) *Engine {
	t.Helper()
	opts := NewOptions(WithDataDir(t.TempDir()), WithWorkerCount(2))
	e, err := New(opts, dht)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestCreateIdentityThenLoadRoundTrip(t *testing.T) {
	dht := transport.NewMockDHT()
	e := newTestEngine(t, dht)

	fp, err := e.CreateIdentity("alice", seedFor(1), "hunter2")
	require.NoError(t, err)
	assert.True(t, e.HasIdentity())

	e.idMu.Lock()
	e.identity.Wipe()
	e.identity = nil
	e.idMu.Unlock()
	assert.False(t, e.HasIdentity())

	require.NoError(t, e.LoadIdentity(fp, "hunter2"))
	assert.True(t, e.HasIdentity())

	id, err := e.currentIdentity()
	require.NoError(t, err)
	assert.Equal(t, fp, id.Fingerprint)
	assert.NotEmpty(t, id.SignPublic)
	assert.NotEmpty(t, id.KEMPublic)
}

func TestLoadIdentityWrongPasswordFails(t *testing.T) {
	dht := transport.NewMockDHT()
	e := newTestEngine(t, dht)

	fp, err := e.CreateIdentity("alice", seedFor(1), "hunter2")
	require.NoError(t, err)

	e.idMu.Lock()
	e.identity = nil
	e.idMu.Unlock()

	err = e.LoadIdentity(fp, "wrong")
	require.Error(t, err)
}

func TestChangePasswordThenLoadWithNewPassword(t *testing.T) {
	dht := transport.NewMockDHT()
	e := newTestEngine(t, dht)

	fp, err := e.CreateIdentity("alice", seedFor(1), "old-pw")
	require.NoError(t, err)

	require.NoError(t, e.ChangePassword("old-pw", "new-pw"))

	e.idMu.Lock()
	e.identity = nil
	e.idMu.Unlock()

	require.NoError(t, e.LoadIdentity(fp, "new-pw"))
}

func TestLoadIdentityRecoversFullyStagedPasswordChange(t *testing.T) {
	dht := transport.NewMockDHT()
	e := newTestEngine(t, dht)

	fp, err := e.CreateIdentity("alice", seedFor(1), "old-pw")
	require.NoError(t, err)

	dsaPath, kemPath := identityKeyPaths(e.opts.DataDir)

	// Simulate a crash right after ChangePassword wrote both staged
	// files but before either rename: stage new-password copies without
	// going through ChangePassword itself.
	signPrivate, err := loadWrappedKey(dsaPath, "old-pw")
	require.NoError(t, err)
	kemPrivate, err := loadWrappedKey(kemPath, "old-pw")
	require.NoError(t, err)
	dsaWrapped, err := identity.WrapKey("new-pw", signPrivate)
	require.NoError(t, err)
	kemWrapped, err := identity.WrapKey("new-pw", kemPrivate)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dsaPath+".new", dsaWrapped, 0600))
	require.NoError(t, os.WriteFile(kemPath+".new", kemWrapped, 0600))

	e.idMu.Lock()
	e.identity = nil
	e.idMu.Unlock()

	require.NoError(t, e.LoadIdentity(fp, "new-pw"))
	_, err = os.Stat(dsaPath + ".new")
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(kemPath + ".new")
	assert.True(t, os.IsNotExist(err))
}

func TestLoadIdentityRecoversHalfRenamedPasswordChange(t *testing.T) {
	dht := transport.NewMockDHT()
	e := newTestEngine(t, dht)

	fp, err := e.CreateIdentity("alice", seedFor(1), "old-pw")
	require.NoError(t, err)

	dsaPath, kemPath := identityKeyPaths(e.opts.DataDir)

	signPrivate, err := loadWrappedKey(dsaPath, "old-pw")
	require.NoError(t, err)
	kemPrivate, err := loadWrappedKey(kemPath, "old-pw")
	require.NoError(t, err)
	dsaWrapped, err := identity.WrapKey("new-pw", signPrivate)
	require.NoError(t, err)
	kemWrapped, err := identity.WrapKey("new-pw", kemPrivate)
	require.NoError(t, err)

	// Simulate a crash between the two commit renames: dsaPath already
	// holds the new-password wrap, kemPath.new is still staged and
	// kemPath itself is still old-password.
	require.NoError(t, os.WriteFile(dsaPath, dsaWrapped, 0600))
	require.NoError(t, os.WriteFile(kemPath+".new", kemWrapped, 0600))

	e.idMu.Lock()
	e.identity = nil
	e.idMu.Unlock()

	require.NoError(t, e.LoadIdentity(fp, "new-pw"))
	_, err = os.Stat(kemPath + ".new")
	assert.True(t, os.IsNotExist(err))
}

func TestLoadIdentityDiscardsUnverifiedStagedPasswordChange(t *testing.T) {
	dht := transport.NewMockDHT()
	e := newTestEngine(t, dht)

	fp, err := e.CreateIdentity("alice", seedFor(1), "old-pw")
	require.NoError(t, err)

	dsaPath, kemPath := identityKeyPaths(e.opts.DataDir)

	signPrivate, err := loadWrappedKey(dsaPath, "old-pw")
	require.NoError(t, err)
	dsaWrapped, err := identity.WrapKey("new-pw", signPrivate)
	require.NoError(t, err)

	// Simulate a crash before kemPath.new was ever written: only
	// dsaPath.new is staged, with no verified pair behind it.
	require.NoError(t, os.WriteFile(dsaPath+".new", dsaWrapped, 0600))

	e.idMu.Lock()
	e.identity = nil
	e.idMu.Unlock()

	// Old password still unlocks both keys: the stray staged file was
	// discarded, not committed.
	require.NoError(t, e.LoadIdentity(fp, "old-pw"))
	_, err = os.Stat(dsaPath + ".new")
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(kemPath + ".new")
	assert.True(t, os.IsNotExist(err))
}

func TestSendMessageDeliversAndReceiverChecksOfflineMessages(t *testing.T) {
	dht := transport.NewMockDHT()
	alice := newTestEngine(t, dht)
	bob := newTestEngine(t, dht)

	aliceFP, err := alice.CreateIdentity("alice", seedFor(1), "pw")
	require.NoError(t, err)
	bobFP, err := bob.CreateIdentity("bob", seedFor(2), "pw")
	require.NoError(t, err)

	requestID, err := alice.SendMessage(hexFP(t, bobFP), []byte("hello bob"))
	require.NoError(t, err)
	assert.NotEmpty(t, requestID)

	n, err := bob.CheckOfflineMessages(aliceFP)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	conv, err := bob.GetConversation(aliceFP)
	require.NoError(t, err)
	require.Len(t, conv, 1)
	assert.Equal(t, "hello bob", string(conv[0].Plaintext))
	assert.Equal(t, store.DirectionInbound, conv[0].Direction)

	// A second check with nothing new must not re-deliver the message.
	n, err = bob.CheckOfflineMessages(aliceFP)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCheckOfflineMessagesCachedDoesNotPublishAck(t *testing.T) {
	dht := transport.NewMockDHT()
	alice := newTestEngine(t, dht)
	bob := newTestEngine(t, dht)

	aliceFP, err := alice.CreateIdentity("alice", seedFor(1), "pw")
	require.NoError(t, err)
	bobFP, err := bob.CreateIdentity("bob", seedFor(2), "pw")
	require.NoError(t, err)

	_, err = alice.SendMessage(hexFP(t, bobFP), []byte("hi"))
	require.NoError(t, err)

	n, err := bob.CheckOfflineMessagesCached(aliceFP)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = bob.outbox.FetchAckTimestamp(bobFP, aliceFP)
	require.Error(t, err)
}

func TestRetryPendingMessagesResendsFailedEntries(t *testing.T) {
	dht := transport.NewMockDHT()
	alice := newTestEngine(t, dht)
	bob := newTestEngine(t, dht)

	_, err := alice.CreateIdentity("alice", seedFor(1), "pw")
	require.NoError(t, err)
	bobFP, err := bob.CreateIdentity("bob", seedFor(2), "pw")
	require.NoError(t, err)

	_, err = alice.LookupProfile(bobFP)
	require.NoError(t, err)

	dht.FailNextPut(errInjected)
	requestID, err := alice.SendMessage(hexFP(t, bobFP), []byte("retry me"))
	require.Error(t, err)
	require.NotEmpty(t, requestID)

	retried, err := alice.RetryPendingMessages()
	require.NoError(t, err)
	assert.Equal(t, 1, retried)
}

func TestNextOfflineSeqIsGlobalAcrossRecipients(t *testing.T) {
	dht := transport.NewMockDHT()
	alice := newTestEngine(t, dht)
	bob := newTestEngine(t, dht)
	carol := newTestEngine(t, dht)

	_, err := alice.CreateIdentity("alice", seedFor(1), "pw")
	require.NoError(t, err)
	bobFP, err := bob.CreateIdentity("bob", seedFor(2), "pw")
	require.NoError(t, err)
	carolFP, err := carol.CreateIdentity("carol", seedFor(3), "pw")
	require.NoError(t, err)

	_, err = alice.SendMessage(hexFP(t, bobFP), []byte("to bob"))
	require.NoError(t, err)
	_, err = alice.SendMessage(hexFP(t, carolFP), []byte("to carol"))
	require.NoError(t, err)

	id, err := alice.currentIdentity()
	require.NoError(t, err)
	max, err := alice.msgStore.MaxOutboundOfflineSeq(id.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), max)
}

func hexFP(t *testing.T, fp [64]byte) string {
	t.Helper()
	return hex.EncodeToString(fp[:])
}

var errInjected = errInjectedType{}

type errInjectedType struct{}

func (errInjectedType) Error() string { return "injected failure" }
