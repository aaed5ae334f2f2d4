package engine

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nocdem/dna-messenger-sub001/envelope"
	"github.com/nocdem/dna-messenger-sub001/gek"
	"github.com/nocdem/dna-messenger-sub001/identity"
	"github.com/nocdem/dna-messenger-sub001/store"
	"github.com/nocdem/dna-messenger-sub001/transport"
	"github.com/sirupsen/logrus"
)

// Engine is the single long-lived owner of the crypto session, the DHT
// handle, the local database connections, and all wrapped private-key
// material, per §5 "Ownership and lifecycle".
type Engine struct {
	opts Options
	dht  transport.DHT

	outbox    *transport.Outbox
	msgStore  *store.MessageStore
	groupStore *store.GroupStore
	cache     *store.KeyserverCache

	idMu     sync.RWMutex
	identity *identity.Identity

	contactMu sync.Mutex
	contactLocks map[[64]byte]*sync.Mutex

	syncMu        sync.Mutex
	lastSync      map[[64]byte]int64
	groupLastSync map[string]int64

	groupsMu sync.Mutex
	groups   map[string]*gek.Group

	// listenMu guards the push-delivery subscriptions ensureContactListen
	// and ensureGroupListen maintain, capped at opts.ListenTokenCap;
	// contacts/groups past the cap fall back to heartbeatLoop's pollSweep.
	listenMu       sync.Mutex
	contactListens map[[64]byte]listenSub
	groupListens   map[string]listenSub

	// seqMu serialises offline_seq allocation: the counter is a single
	// per-sender space shared across every recipient and group (the
	// dedup key is (sender_fingerprint, offline_seq) with no recipient
	// component), so allocation cannot be scoped by the per-contact lock.
	seqMu sync.Mutex

	workers chan func()
	wg      sync.WaitGroup
	stopCh  chan struct{}
	hbDone  chan struct{}

	handlerMu sync.RWMutex
	handler   EventHandler
}

// New constructs an Engine backed by dht, opening (and creating if
// absent) its local storage under opts.DataDir, and starting its
// worker pool. Corresponds to §6's create(data_dir).
func New(opts Options, dht transport.DHT) (*Engine, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "New",
		"package":  "engine",
	})
	logger.Debug("Function entry: constructing engine")
	defer logger.Debug("Function exit: New")

	if err := os.MkdirAll(filepath.Join(opts.DataDir, "keys"), 0700); err != nil {
		return nil, newError("New", CodeDatabase, err)
	}

	msgStore, err := store.OpenMessageStore(filepath.Join(opts.DataDir, "db", "messages"))
	if err != nil {
		return nil, promote("New", err).(*Error)
	}
	groupStore, err := store.OpenGroupStore(filepath.Join(opts.DataDir, "db", "groups"))
	if err != nil {
		return nil, promote("New", err).(*Error)
	}
	cache, err := store.OpenKeyserverCache(filepath.Join(opts.DataDir, "db", "keyserver_cache"))
	if err != nil {
		return nil, promote("New", err).(*Error)
	}

	e := &Engine{
		opts:           opts,
		dht:            dht,
		outbox:         transport.NewOutbox(dht, transport.Config{NetworkTimeout: opts.NetworkTimeout, RetryAttempts: opts.DHTRetryBudget, MaxListenTokens: opts.ListenTokenCap}),
		msgStore:       msgStore,
		groupStore:     groupStore,
		cache:          cache,
		contactLocks:   make(map[[64]byte]*sync.Mutex),
		lastSync:       make(map[[64]byte]int64),
		groupLastSync:  make(map[string]int64),
		groups:         make(map[string]*gek.Group),
		contactListens: make(map[[64]byte]listenSub),
		groupListens:   make(map[string]listenSub),
		workers:        make(chan func(), 256),
		stopCh:         make(chan struct{}),
		hbDone:         make(chan struct{}),
	}

	for i := 0; i < opts.WorkerCount; i++ {
		e.wg.Add(1)
		go e.workerLoop()
	}

	go e.heartbeatLoop()

	return e, nil
}

func (e *Engine) workerLoop() {
	defer e.wg.Done()
	for task := range e.workers {
		task()
	}
}

func (e *Engine) submit(task func()) {
	select {
	case e.workers <- task:
	default:
		// Pool saturated: run inline rather than drop the task.
		task()
	}
}

// Close broadcasts shutdown: joins all workers and closes every local
// store handle.
func (e *Engine) Close() error {
	close(e.stopCh)
	<-e.hbDone

	close(e.workers)
	e.wg.Wait()

	e.listenMu.Lock()
	for _, sub := range e.contactListens {
		e.dht.CancelListen(sub.token)
	}
	e.contactListens = nil
	for _, sub := range e.groupListens {
		e.dht.CancelListen(sub.token)
	}
	e.groupListens = nil
	e.listenMu.Unlock()

	e.idMu.Lock()
	if e.identity != nil {
		e.identity.Wipe()
		e.identity = nil
	}
	e.idMu.Unlock()

	var firstErr error
	if err := e.msgStore.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.groupStore.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.cache.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// SetEventHandler registers the single handler receiving pushed
// events.
func (e *Engine) SetEventHandler(h EventHandler) {
	e.handlerMu.Lock()
	defer e.handlerMu.Unlock()
	e.handler = h
}

func (e *Engine) emit(ev Event) {
	e.handlerMu.RLock()
	h := e.handler
	e.handlerMu.RUnlock()
	if h != nil {
		h(ev)
	}
}

func (e *Engine) contactLock(fp [64]byte) *sync.Mutex {
	e.contactMu.Lock()
	defer e.contactMu.Unlock()
	m, ok := e.contactLocks[fp]
	if !ok {
		m = &sync.Mutex{}
		e.contactLocks[fp] = m
	}
	return m
}

// HasIdentity reports whether an identity is currently loaded.
func (e *Engine) HasIdentity() bool {
	e.idMu.RLock()
	defer e.idMu.RUnlock()
	return e.identity != nil
}

func (e *Engine) currentIdentity() (*identity.Identity, error) {
	e.idMu.RLock()
	defer e.idMu.RUnlock()
	if e.identity == nil {
		return nil, newError("currentIdentity", CodeNoIdentity, fmt.Errorf("no identity loaded"))
	}
	return e.identity, nil
}

func identityKeyPaths(dataDir string) (dsaPath, kemPath string) {
	return filepath.Join(dataDir, "keys", "identity.dsa"), filepath.Join(dataDir, "keys", "identity.kem")
}

func identityPublicKeyPath(dataDir string) string {
	return filepath.Join(dataDir, "keys", "identity.pub")
}

// identityPublicKeys is the on-disk sidecar persisted alongside the
// wrapped private key files so a later LoadIdentity can repopulate
// SignPublic/KEMPublic without re-deriving them from a master seed.
type identityPublicKeys struct {
	SignPublic []byte `json:"sign_public"`
	KEMPublic  []byte `json:"kem_public"`
}

func persistPublicKeys(path string, id *identity.Identity) error {
	data, err := json.Marshal(identityPublicKeys{SignPublic: id.SignPublic, KEMPublic: id.KEMPublic})
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func loadPublicKeys(path string) (identityPublicKeys, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return identityPublicKeys{}, err
	}
	var pub identityPublicKeys
	if err := json.Unmarshal(data, &pub); err != nil {
		return identityPublicKeys{}, err
	}
	return pub, nil
}

// CreateIdentity derives a fresh identity from masterSeed, registers
// its profile and name atomically with local key persistence (both
// succeed or neither does), and loads it as the active session.
// Corresponds to §6's create_identity.
func (e *Engine) CreateIdentity(name string, masterSeed []byte, password string) ([64]byte, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "CreateIdentity",
		"package":  "engine",
	})
	logger.Debug("Function entry: creating identity")
	defer logger.Debug("Function exit: CreateIdentity")

	if err := identity.ValidateName(name); err != nil {
		return [64]byte{}, newError("CreateIdentity", CodeInvalidArg, err)
	}

	id, err := identity.FromMasterSeed(masterSeed)
	if err != nil {
		return [64]byte{}, promote("CreateIdentity", err)
	}
	id.Name = name

	profile := &identity.Profile{
		SignPublic: id.SignPublic,
		KEMPublic:  id.KEMPublic,
		Name:       name,
		Version:    1,
	}
	if err := profile.Sign(id.SignPrivate); err != nil {
		return [64]byte{}, promote("CreateIdentity", err)
	}

	dsaPath, kemPath := identityKeyPaths(e.opts.DataDir)
	pubPath := identityPublicKeyPath(e.opts.DataDir)

	if err := persistWrappedKey(dsaPath, password, id.SignPrivate); err != nil {
		return [64]byte{}, promote("CreateIdentity", err)
	}
	if err := persistWrappedKey(kemPath, password, id.KEMPrivate); err != nil {
		os.Remove(dsaPath)
		return [64]byte{}, promote("CreateIdentity", err)
	}
	if err := persistPublicKeys(pubPath, id); err != nil {
		os.Remove(dsaPath)
		os.Remove(kemPath)
		return [64]byte{}, promote("CreateIdentity", err)
	}

	signingKey := id.SignPrivate
	profileKeyFull := identity.ProfileKey(id.Fingerprint)
	nameKeyFull := identity.NameLookupKey(name)

	profileData, err := json.Marshal(profile)
	if err != nil {
		os.Remove(dsaPath)
		os.Remove(kemPath)
		os.Remove(pubPath)
		return [64]byte{}, newError("CreateIdentity", CodeInternal, err)
	}

	if err := e.dht.PutSigned(truncate32(profileKeyFull), profileData, transport.WriterValueID(id.Fingerprint), 0, signingKey); err != nil {
		os.Remove(dsaPath)
		os.Remove(kemPath)
		os.Remove(pubPath)
		return [64]byte{}, promote("CreateIdentity", err)
	}
	if err := e.dht.PutSigned(truncate32(nameKeyFull), id.Fingerprint[:], transport.WriterValueID(id.Fingerprint), 0, signingKey); err != nil {
		os.Remove(dsaPath)
		os.Remove(kemPath)
		os.Remove(pubPath)
		return [64]byte{}, promote("CreateIdentity", err)
	}

	e.idMu.Lock()
	e.identity = id
	e.idMu.Unlock()

	e.emit(Event{Kind: EventIdentityLoaded, IdentityFP: id.Fingerprint})
	logger.Info("Identity created")
	return id.Fingerprint, nil
}

// LoadIdentity reads the wrapped key material for fingerprint from
// disk, unwraps it with password, and sets it as the active session.
func (e *Engine) LoadIdentity(fingerprint [64]byte, password string) error {
	dsaPath, kemPath := identityKeyPaths(e.opts.DataDir)
	pubPath := identityPublicKeyPath(e.opts.DataDir)

	if err := recoverPendingPasswordChange(dsaPath, kemPath); err != nil {
		return newError("LoadIdentity", CodeDatabase, err)
	}

	signPrivate, err := loadWrappedKey(dsaPath, password)
	if err != nil {
		return promote("LoadIdentity", err)
	}
	kemPrivate, err := loadWrappedKey(kemPath, password)
	if err != nil {
		return promote("LoadIdentity", err)
	}
	pub, err := loadPublicKeys(pubPath)
	if err != nil {
		return newError("LoadIdentity", CodeDatabase, err)
	}

	id := &identity.Identity{
		Fingerprint: fingerprint,
		SignPrivate: signPrivate,
		SignPublic:  pub.SignPublic,
		KEMPrivate:  kemPrivate,
		KEMPublic:   pub.KEMPublic,
	}
	if !identity.VerifyFingerprint(id) {
		return newError("LoadIdentity", CodeInternal, fmt.Errorf("fingerprint does not match the stored signing public key"))
	}

	e.idMu.Lock()
	e.identity = id
	e.idMu.Unlock()

	e.emit(Event{Kind: EventIdentityLoaded, IdentityFP: fingerprint})
	return nil
}

// ChangePassword re-wraps the on-disk key material under newPassword.
//
// Both files are fully re-wrapped and staged as ".new" siblings before
// either is committed into place, so a crash can only ever be
// interrupted between independent, idempotent steps: recoverPendingPasswordChange
// resolves any leftover staged pair on the next LoadIdentity, never
// leaving one key file readable under the old password and the other
// under the new one (spec.md §8 S5).
func (e *Engine) ChangePassword(oldPassword, newPassword string) error {
	dsaPath, kemPath := identityKeyPaths(e.opts.DataDir)

	signPrivate, err := loadWrappedKey(dsaPath, oldPassword)
	if err != nil {
		return promote("ChangePassword", err)
	}
	kemPrivate, err := loadWrappedKey(kemPath, oldPassword)
	if err != nil {
		return promote("ChangePassword", err)
	}

	dsaWrapped, err := identity.WrapKey(newPassword, signPrivate)
	if err != nil {
		return promote("ChangePassword", err)
	}
	kemWrapped, err := identity.WrapKey(newPassword, kemPrivate)
	if err != nil {
		return promote("ChangePassword", err)
	}

	dsaNew, kemNew := dsaPath+".new", kemPath+".new"
	if err := os.WriteFile(dsaNew, dsaWrapped, 0600); err != nil {
		return promote("ChangePassword", err)
	}
	if err := os.WriteFile(kemNew, kemWrapped, 0600); err != nil {
		os.Remove(dsaNew)
		return promote("ChangePassword", err)
	}

	// Both staged files are verified complete; commit each into place.
	// A crash here is the only half-committed window, and it is exactly
	// what recoverPendingPasswordChange resolves forward.
	if err := os.Rename(dsaNew, dsaPath); err != nil {
		return promote("ChangePassword", err)
	}
	if err := os.Rename(kemNew, kemPath); err != nil {
		return promote("ChangePassword", err)
	}
	return nil
}

// recoverPendingPasswordChange finishes or discards a ChangePassword
// call interrupted by a crash, judged from which ".new" staging files
// are still present:
//   - both present: both writes completed but no rename started yet —
//     commit forward, same order ChangePassword itself uses.
//   - only kemPath.new present: dsaPath was already renamed into place
//     (dsaPath.new is gone because the rename consumed it) and the
//     crash landed between the two renames — finish the one remaining.
//   - only dsaPath.new present: kemPath.new was never written, so the
//     staged dsa file does not correspond to a verified pair — discard
//     it rather than commit a lone new-password key file.
func recoverPendingPasswordChange(dsaPath, kemPath string) error {
	dsaNew, kemNew := dsaPath+".new", kemPath+".new"
	_, dsaNewErr := os.Stat(dsaNew)
	_, kemNewErr := os.Stat(kemNew)
	dsaNewExists := dsaNewErr == nil
	kemNewExists := kemNewErr == nil

	switch {
	case dsaNewExists && kemNewExists:
		if err := os.Rename(dsaNew, dsaPath); err != nil {
			return err
		}
		return os.Rename(kemNew, kemPath)
	case kemNewExists:
		return os.Rename(kemNew, kemPath)
	case dsaNewExists:
		return os.Remove(dsaNew)
	}
	return nil
}

func persistWrappedKey(path, password string, keyMaterial []byte) error {
	wrapped, err := identity.WrapKey(password, keyMaterial)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, wrapped, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func loadWrappedKey(path, password string) ([]byte, error) {
	wrapped, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return identity.UnwrapKey(password, wrapped)
}

func truncate32(full [64]byte) [32]byte {
	var out [32]byte
	copy(out[:], full[:32])
	return out
}

// resolveRecipient looks up a contact by fingerprint-hex or registered
// name, preferring the local keyserver cache over a fresh DHT read.
func (e *Engine) resolveRecipient(recipientFPOrName string) (store.CachedProfile, error) {
	if fp, ok := parseFingerprint(recipientFPOrName); ok {
		if cached, err := e.cache.GetByFingerprint(fp); err == nil {
			return cached, nil
		}
		return e.lookupProfileByFingerprint(fp)
	}
	if cached, err := e.cache.GetByName(recipientFPOrName); err == nil {
		return cached, nil
	}
	return e.lookupProfileByName(recipientFPOrName)
}

func (e *Engine) lookupProfileByFingerprint(fp [64]byte) (store.CachedProfile, error) {
	values, err := e.dht.GetAll(truncate32(identity.ProfileKey(fp)))
	if err != nil {
		return store.CachedProfile{}, promote("lookupProfileByFingerprint", err)
	}
	if len(values) == 0 {
		return store.CachedProfile{}, newError("lookupProfileByFingerprint", CodeNotFound, fmt.Errorf("no profile for fingerprint"))
	}
	var profile identity.Profile
	if err := json.Unmarshal(values[0].Value, &profile); err != nil {
		return store.CachedProfile{}, newError("lookupProfileByFingerprint", CodeInvalidArg, err)
	}
	if !profile.Verify() {
		return store.CachedProfile{}, newError("lookupProfileByFingerprint", CodeSignatureInvalid, fmt.Errorf("profile signature invalid"))
	}

	cached := store.CachedProfile{Fingerprint: fp, SignPublic: profile.SignPublic, KEMPublic: profile.KEMPublic, Name: profile.Name, CachedAt: time.Now().Unix()}
	e.cache.PutProfile(cached)
	return cached, nil
}

func (e *Engine) lookupProfileByName(name string) (store.CachedProfile, error) {
	values, err := e.dht.GetAll(truncate32(identity.NameLookupKey(name)))
	if err != nil {
		return store.CachedProfile{}, promote("lookupProfileByName", err)
	}
	if len(values) == 0 {
		return store.CachedProfile{}, newError("lookupProfileByName", CodeNotFound, fmt.Errorf("name not registered"))
	}
	var fp [64]byte
	copy(fp[:], values[0].Value)
	return e.lookupProfileByFingerprint(fp)
}

// LookupProfile resolves fp to its cached-or-fetched public profile.
func (e *Engine) LookupProfile(fp [64]byte) (store.CachedProfile, error) {
	return e.resolveRecipient(fmt.Sprintf("%x", fp))
}

// GetDisplayName resolves fp to its registered display name.
func (e *Engine) GetDisplayName(fp [64]byte) (string, error) {
	profile, err := e.LookupProfile(fp)
	if err != nil {
		return "", err
	}
	return profile.Name, nil
}

// RegisterName publishes a name-lookup record for the loaded identity.
func (e *Engine) RegisterName(name string) error {
	if err := identity.ValidateName(name); err != nil {
		return newError("RegisterName", CodeInvalidArg, err)
	}
	id, err := e.currentIdentity()
	if err != nil {
		return err
	}
	key := truncate32(identity.NameLookupKey(name))
	if err := e.dht.PutSigned(key, id.Fingerprint[:], transport.WriterValueID(id.Fingerprint), 0, id.SignPrivate); err != nil {
		return promote("RegisterName", err)
	}
	return nil
}

func parseFingerprint(s string) ([64]byte, bool) {
	var fp [64]byte
	if len(s) != 128 {
		return fp, false
	}
	decoded, err := hex.DecodeString(s)
	if err != nil || len(decoded) != 64 {
		return fp, false
	}
	copy(fp[:], decoded)
	return fp, true
}

// nextOfflineSeq allocates the next offline_seq for senderFP, a single
// counter shared across every recipient and group that sender writes
// to. Callers MUST hold e.seqMu for the full allocate-then-persist
// sequence to avoid handing out the same value twice.
func (e *Engine) nextOfflineSeq(senderFP [64]byte) uint64 {
	max, err := e.msgStore.MaxOutboundOfflineSeq(senderFP)
	if err != nil {
		return 1
	}
	return max + 1
}

// SendMessage envelope-encrypts plaintext for recipientFPOrName,
// persists it PENDING, and publishes it to the recipient's daily
// outbox bucket. Corresponds to §6's send_message.
func (e *Engine) SendMessage(recipientFPOrName string, plaintext []byte) (string, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "SendMessage",
		"package":  "engine",
	})
	logger.Debug("Function entry: sending message")
	defer logger.Debug("Function exit: SendMessage")

	id, err := e.currentIdentity()
	if err != nil {
		return "", err
	}

	recipient, err := e.resolveRecipient(recipientFPOrName)
	if err != nil {
		return "", err
	}

	lock := e.contactLock(recipient.Fingerprint)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().Unix()
	e.ensureContactListen(id.Fingerprint, recipient.Fingerprint, now)
	sender := envelope.Sender{SignPrivate: id.SignPrivate, SignPublic: id.SignPublic, KEMPublic: id.KEMPublic}
	recipients := []envelope.Recipient{{KEMPublic: recipient.KEMPublic}}

	env, err := envelope.Encrypt(sender, recipients, envelope.MessageTypeDirect, plaintext, now)
	if err != nil {
		return "", promote("SendMessage", err)
	}
	wire := env.Marshal()

	requestID := uuid.New().String()

	e.seqMu.Lock()
	seq := e.nextOfflineSeq(id.Fingerprint)
	msg := store.Message{
		ID:               requestID,
		SenderFP:         id.Fingerprint,
		RecipientFP:      recipient.Fingerprint,
		Plaintext:        plaintext,
		Timestamp:        now,
		Direction:        store.DirectionOutbound,
		Status:           store.StatusPending,
		MessageType:      envelope.MessageTypeDirect,
		OfflineSeq:       seq,
		CiphertextSHA256: store.CiphertextHash(wire),
	}
	putErr := e.msgStore.PutMessage(msg)
	e.seqMu.Unlock()
	if putErr != nil {
		return "", promote("SendMessage", putErr)
	}

	entry := transport.OutboxEntry{
		SenderFP:    id.Fingerprint,
		RecipientFP: recipient.Fingerprint,
		OfflineSeq:  seq,
		EnqueueTS:   now,
		Expiry:      now + 7*86400,
		Ciphertext:  wire,
	}

	if err := e.outbox.PublishDMEntry(id.Fingerprint, recipient.Fingerprint, entry, id.SignPrivate, now); err != nil {
		e.msgStore.UpdateStatus(requestID, store.StatusFailed)
		e.msgStore.IncrementRetry(requestID)
		e.emit(Event{Kind: EventMessageStatusChanged, MessageID: requestID, NewStatus: store.StatusFailed})
		return requestID, promote("SendMessage", err)
	}

	e.msgStore.UpdateStatus(requestID, store.StatusSent)
	e.emit(Event{Kind: EventMessageStatusChanged, MessageID: requestID, NewStatus: store.StatusSent})
	return requestID, nil
}

// GetConversation returns every user-visible message exchanged with
// peerFP, excluding internal group-membership notices.
func (e *Engine) GetConversation(peerFP [64]byte) ([]store.Message, error) {
	msgs, err := e.msgStore.GetConversation(peerFP)
	if err != nil {
		return nil, promote("GetConversation", err)
	}
	visible := msgs[:0]
	for _, msg := range msgs {
		if msg.MessageType == controlMessageTypeGroupInvite {
			continue
		}
		visible = append(visible, msg)
	}
	return visible, nil
}

// RetryPendingMessages republishes every FAILED message whose
// retry_count has not reached the configured budget.
func (e *Engine) RetryPendingMessages() (int, error) {
	id, err := e.currentIdentity()
	if err != nil {
		return 0, err
	}

	failed, err := e.msgStore.ListByStatus(store.StatusFailed)
	if err != nil {
		return 0, promote("RetryPendingMessages", err)
	}

	retried := 0
	now := time.Now().Unix()
	for _, msg := range failed {
		if msg.RetryCount >= e.opts.DHTRetryBudget {
			continue
		}

		recipient, err := e.cache.GetByFingerprint(msg.RecipientFP)
		if err != nil {
			e.msgStore.IncrementRetry(msg.ID)
			continue
		}

		sender := envelope.Sender{SignPrivate: id.SignPrivate, SignPublic: id.SignPublic, KEMPublic: id.KEMPublic}
		env, err := envelope.Encrypt(sender, []envelope.Recipient{{KEMPublic: recipient.KEMPublic}}, msg.MessageType, msg.Plaintext, msg.Timestamp)
		if err != nil {
			e.msgStore.IncrementRetry(msg.ID)
			continue
		}

		entry := transport.OutboxEntry{
			SenderFP:    msg.SenderFP,
			RecipientFP: msg.RecipientFP,
			OfflineSeq:  msg.OfflineSeq,
			EnqueueTS:   msg.Timestamp,
			Expiry:      msg.Timestamp + 7*86400,
			Ciphertext:  env.Marshal(),
		}

		if err := e.outbox.PublishDMEntry(id.Fingerprint, msg.RecipientFP, entry, id.SignPrivate, now); err != nil {
			e.msgStore.IncrementRetry(msg.ID)
			continue
		}
		e.msgStore.UpdateStatus(msg.ID, store.StatusSent)
		retried++
	}
	return retried, nil
}
