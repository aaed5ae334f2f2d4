package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nocdem/dna-messenger-sub001/envelope"
	"github.com/nocdem/dna-messenger-sub001/gek"
	"github.com/nocdem/dna-messenger-sub001/identity"
	"github.com/nocdem/dna-messenger-sub001/store"
	"github.com/nocdem/dna-messenger-sub001/transport"
)

// resolveSignPublic adapts [Engine.LookupProfile] to the shape
// [envelope.Decrypt] needs to verify a sender's signature.
func (e *Engine) resolveSignPublic(fp [64]byte) ([]byte, bool) {
	profile, err := e.LookupProfile(fp)
	if err != nil {
		return nil, false
	}
	return profile.SignPublic, true
}

// CheckOfflineMessages fetches and merges peerFP's outbox buckets across
// the smart-sync day range, storing every envelope not already held
// locally, then publishes an ACK recording this sync. Corresponds to
// §6's check_offline_messages.
func (e *Engine) CheckOfflineMessages(peerFP [64]byte) (int, error) {
	return e.syncPeer(peerFP, true)
}

// CheckOfflineMessagesCached runs the same merge as CheckOfflineMessages
// but never publishes an ACK, for background/cached polling per §4.3:
// "Background fetches MUST NOT publish ACKs".
func (e *Engine) CheckOfflineMessagesCached(peerFP [64]byte) (int, error) {
	return e.syncPeer(peerFP, false)
}

func (e *Engine) syncPeer(peerFP [64]byte, publishAck bool) (int, error) {
	id, err := e.currentIdentity()
	if err != nil {
		return 0, err
	}

	lock := e.contactLock(peerFP)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().Unix()
	e.ensureContactListen(id.Fingerprint, peerFP, now)

	e.syncMu.Lock()
	last, hasSynced := e.lastSync[peerFP]
	e.syncMu.Unlock()

	received := 0
	for _, day := range transport.SmartSyncDayRange(now, last, hasSynced) {
		entries, err := e.outbox.FetchDMBucket(peerFP, id.Fingerprint, day)
		if err != nil {
			return received, promote("CheckOfflineMessages", err)
		}
		for _, entry := range entries {
			ok, err := e.ingestDMEntry(id, entry)
			if err != nil {
				continue
			}
			if ok {
				received++
			}
		}
	}

	e.syncMu.Lock()
	e.lastSync[peerFP] = now
	e.syncMu.Unlock()

	if publishAck {
		if err := e.outbox.PublishAck(id.Fingerprint, peerFP, now, id.SignPrivate); err != nil {
			return received, promote("CheckOfflineMessages", err)
		}
	}

	return received, nil
}

// ingestDMEntry unmarshals, decrypts, and stores one outbox entry,
// reporting ok=false (no error) when the entry is already held locally.
func (e *Engine) ingestDMEntry(id *identity.Identity, entry transport.OutboxEntry) (bool, error) {
	env, err := envelope.Unmarshal(entry.Ciphertext)
	if err != nil {
		return false, promote("ingestDMEntry", err)
	}

	result, err := env.Decrypt(id.KEMPrivate, e.resolveSignPublic)
	if err != nil {
		return false, promote("ingestDMEntry", err)
	}

	msg := store.Message{
		ID:               uuid.New().String(),
		SenderFP:         result.SenderFingerprint,
		RecipientFP:      id.Fingerprint,
		Plaintext:        result.Plaintext,
		Timestamp:        result.Timestamp,
		Direction:        store.DirectionInbound,
		Status:           store.StatusReceived,
		MessageType:      env.Header.MessageType,
		OfflineSeq:       entry.OfflineSeq,
		CiphertextSHA256: store.CiphertextHash(entry.Ciphertext),
	}

	invite, isInvite := parseGroupInvite(result.Plaintext)
	if isInvite {
		msg.MessageType = controlMessageTypeGroupInvite
	}

	if err := e.msgStore.PutMessage(msg); err != nil {
		if serr, ok := err.(*store.Error); ok && serr.Kind == store.KindDuplicate {
			return false, nil
		}
		return false, promote("ingestDMEntry", err)
	}

	if isInvite {
		e.applyGroupInvite(invite)
		e.emit(Event{Kind: EventGroupInvitationReceived, GroupUUID: invite.GroupUUID, GroupInviterFP: result.SenderFingerprint})
		return true, nil
	}

	e.emit(Event{Kind: EventMessageReceived, Message: &msg})
	return true, nil
}

// CheckGroupMessages fetches and merges groupUUID's outbox bucket across
// the smart-sync day range. Group traffic carries no ACK record: every
// member writes to the same bucket and there is no single recipient to
// acknowledge to.
func (e *Engine) CheckGroupMessages(groupUUID string) (int, error) {
	group, err := e.ensureGroupLoaded(groupUUID)
	if err != nil {
		return 0, err
	}

	now := time.Now().Unix()
	e.ensureGroupListen(groupUUID, now)

	e.syncMu.Lock()
	last, hasSynced := e.groupLastSync[groupUUID]
	e.syncMu.Unlock()

	received := 0
	for _, day := range transport.SmartSyncDayRange(now, last, hasSynced) {
		entries, err := e.outbox.FetchGroupBucket(groupUUID, day)
		if err != nil {
			return received, promote("CheckGroupMessages", err)
		}
		for _, entry := range entries {
			ok, err := e.ingestGroupEntry(groupUUID, group, entry)
			if err != nil {
				continue
			}
			if ok {
				received++
			}
		}
	}

	e.syncMu.Lock()
	e.groupLastSync[groupUUID] = now
	e.syncMu.Unlock()

	return received, nil
}

// ingestGroupEntry decrypts one group outbox entry under the GEK
// version its header names, forcing a group resync if that version
// isn't cached yet.
func (e *Engine) ingestGroupEntry(groupUUID string, group *gek.Group, entry transport.OutboxEntry) (bool, error) {
	header, err := gek.ParseGroupMessageHeader(entry.Ciphertext)
	if err != nil {
		return false, promote("ingestGroupEntry", err)
	}

	key, err := e.lookupGroupKey(groupUUID, group, header.Version)
	if err != nil {
		return false, err
	}

	plaintext, err := gek.DecryptGroupMessage(entry.Ciphertext, key)
	if err != nil {
		return false, promote("ingestGroupEntry", err)
	}

	msg := store.Message{
		ID:               uuid.New().String(),
		SenderFP:         entry.SenderFP,
		Plaintext:        plaintext,
		Timestamp:        entry.EnqueueTS,
		Direction:        store.DirectionInbound,
		Status:           store.StatusReceived,
		GroupUUID:        groupUUID,
		MessageType:      envelope.MessageTypeGroup,
		OfflineSeq:       entry.OfflineSeq,
		CiphertextSHA256: store.CiphertextHash(entry.Ciphertext),
	}

	if err := e.msgStore.PutMessage(msg); err != nil {
		if serr, ok := err.(*store.Error); ok && serr.Kind == store.KindDuplicate {
			return false, nil
		}
		return false, promote("ingestGroupEntry", err)
	}

	e.emit(Event{Kind: EventMessageReceived, Message: &msg})
	return true, nil
}

// lookupGroupKey returns group's cached GEK for version, resyncing from
// the published IKP once if it isn't held yet (a member added after
// this process last observed the group, or a rotation it hasn't seen).
func (e *Engine) lookupGroupKey(groupUUID string, group *gek.Group, version uint32) (*gek.Key, error) {
	e.groupsMu.Lock()
	key, ok := group.Versions[version]
	e.groupsMu.Unlock()
	if ok {
		return key, nil
	}

	if err := e.SyncGroup(groupUUID); err != nil {
		return nil, err
	}

	e.groupsMu.Lock()
	key, ok = group.Versions[version]
	e.groupsMu.Unlock()
	if !ok {
		return nil, newError("lookupGroupKey", CodeKeyUnavailable, fmt.Errorf("no GEK version %d cached for group %s", version, groupUUID))
	}
	return key, nil
}
