package engine

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nocdem/dna-messenger-sub001/gek"
	"github.com/nocdem/dna-messenger-sub001/limits"
	"github.com/nocdem/dna-messenger-sub001/store"
	"github.com/nocdem/dna-messenger-sub001/transport"
)

const ikpTTL = 30 * 24 * time.Hour

// ikpBaseKey derives the base key an Initial Key Packet is chunked and
// published under, per §4.4: chunk 0 lives at SHA3-512(base ||
// ":chunk:0")[:32] the same way a DM outbox bucket does, with base
// identifying this group version uniquely.
func ikpBaseKey(groupUUID string, version uint32) string {
	return fmt.Sprintf("%s:ikp:%d", groupUUID, version)
}

// CreateGroup generates a fresh GEK, builds and publishes its Initial
// Key Packet to every named member plus the caller, and persists the
// group's roster. Corresponds to §6's create_group.
func (e *Engine) CreateGroup(name string, memberFPs [][64]byte) (string, error) {
	id, err := e.currentIdentity()
	if err != nil {
		return "", err
	}

	if err := limits.ValidateGroupMemberCount(len(memberFPs) + 1); err != nil {
		return "", newError("CreateGroup", CodeInvalidArg, err)
	}

	members, rosterFPs, err := e.resolveGroupMembers(id.Fingerprint, id.KEMPublic, memberFPs)
	if err != nil {
		return "", err
	}

	groupUUID := uuid.New().String()
	now := time.Now().Unix()

	key, err := gek.Generate(groupUUID, uint32(now), now)
	if err != nil {
		return "", promote("CreateGroup", err)
	}
	group := gek.NewGroup(groupUUID, id.Fingerprint, key)

	if err := e.publishIKP(group, key, members, id.SignPrivate); err != nil {
		return "", err
	}

	record := store.GroupRecord{
		UUID:          groupUUID,
		Name:          name,
		OwnerFP:       id.Fingerprint,
		MemberFPs:     rosterFPs,
		ActiveVersion: key.Version,
	}
	if err := e.groupStore.Put(record); err != nil {
		return "", promote("CreateGroup", err)
	}

	e.groupsMu.Lock()
	e.groups[groupUUID] = group
	e.groupsMu.Unlock()

	e.broadcastGroupUpdate(record)

	return groupUUID, nil
}

// AddGroupMember rotates the group to a new GEK version and republishes
// an IKP including fp, then adds fp to the persisted roster. Only the
// group's owner can do this, since membership changes require signing
// a fresh IKP with the owner's key.
func (e *Engine) AddGroupMember(groupUUID string, fp [64]byte) error {
	id, err := e.currentIdentity()
	if err != nil {
		return err
	}

	e.groupsMu.Lock()
	defer e.groupsMu.Unlock()

	group, record, err := e.loadOwnedGroupLocked(groupUUID, id.Fingerprint)
	if err != nil {
		return err
	}

	var others [][64]byte
	for _, existing := range record.MemberFPs {
		if existing == fp {
			return newError("AddGroupMember", CodeInvalidArg, fmt.Errorf("member already present"))
		}
		if existing != id.Fingerprint {
			others = append(others, existing)
		}
	}
	others = append(others, fp)

	if err := limits.ValidateGroupMemberCount(len(others) + 1); err != nil {
		return newError("AddGroupMember", CodeInvalidArg, err)
	}

	members, rosterFPs, err := e.resolveGroupMembers(id.Fingerprint, id.KEMPublic, others)
	if err != nil {
		return err
	}

	key, err := group.Rotate(time.Now().Unix())
	if err != nil {
		return promote("AddGroupMember", err)
	}
	if err := e.publishIKP(group, key, members, id.SignPrivate); err != nil {
		return err
	}

	record.MemberFPs = rosterFPs
	record.ActiveVersion = key.Version
	if err := e.groupStore.Put(record); err != nil {
		return promote("AddGroupMember", err)
	}
	e.broadcastGroupUpdate(record)
	return nil
}

// RemoveGroupMember rotates the group to a new GEK version and
// republishes an IKP excluding fp, so fp can no longer decrypt any
// message sent under the new version.
func (e *Engine) RemoveGroupMember(groupUUID string, fp [64]byte) error {
	id, err := e.currentIdentity()
	if err != nil {
		return err
	}

	e.groupsMu.Lock()
	defer e.groupsMu.Unlock()

	group, record, err := e.loadOwnedGroupLocked(groupUUID, id.Fingerprint)
	if err != nil {
		return err
	}

	remaining := make([][64]byte, 0, len(record.MemberFPs))
	for _, existing := range record.MemberFPs {
		if existing == fp {
			continue
		}
		remaining = append(remaining, existing)
	}

	var otherFPs [][64]byte
	for _, existing := range remaining {
		if existing != id.Fingerprint {
			otherFPs = append(otherFPs, existing)
		}
	}
	members, rosterFPs, err := e.resolveGroupMembers(id.Fingerprint, id.KEMPublic, otherFPs)
	if err != nil {
		return err
	}

	key, err := group.Rotate(time.Now().Unix())
	if err != nil {
		return promote("RemoveGroupMember", err)
	}
	if err := e.publishIKP(group, key, members, id.SignPrivate); err != nil {
		return err
	}

	record.MemberFPs = rosterFPs
	record.ActiveVersion = key.Version
	if err := e.groupStore.Put(record); err != nil {
		return promote("RemoveGroupMember", err)
	}
	e.broadcastGroupUpdate(record)
	return nil
}

// SendGroupMessage AEAD-seals plaintext under the group's active GEK
// and publishes it to the group-owned outbox bucket.
func (e *Engine) SendGroupMessage(groupUUID string, plaintext []byte) error {
	id, err := e.currentIdentity()
	if err != nil {
		return err
	}

	group, err := e.ensureGroupLoaded(groupUUID)
	if err != nil {
		return err
	}

	active, ok := group.Active()
	if !ok {
		return newError("SendGroupMessage", CodeInvalidArg, fmt.Errorf("group %s has no active key", groupUUID))
	}

	wire, err := gek.EncryptGroupMessage(active, plaintext)
	if err != nil {
		return promote("SendGroupMessage", err)
	}

	now := time.Now().Unix()

	e.seqMu.Lock()
	seq := e.nextOfflineSeq(id.Fingerprint)
	msg := store.Message{
		ID:               uuid.New().String(),
		SenderFP:         id.Fingerprint,
		Plaintext:        plaintext,
		Timestamp:        now,
		Direction:        store.DirectionOutbound,
		Status:           store.StatusPending,
		GroupUUID:        groupUUID,
		MessageType:      1,
		OfflineSeq:       seq,
		CiphertextSHA256: store.CiphertextHash(wire),
	}
	putErr := e.msgStore.PutMessage(msg)
	e.seqMu.Unlock()
	if putErr != nil {
		return promote("SendGroupMessage", putErr)
	}

	entry := transport.OutboxEntry{
		SenderFP:   id.Fingerprint,
		OfflineSeq: seq,
		EnqueueTS:  now,
		Expiry:     now + 7*86400,
		Ciphertext: wire,
	}
	if err := e.outbox.PublishGroupEntry(groupUUID, id.Fingerprint, entry, id.SignPrivate, now); err != nil {
		e.msgStore.UpdateStatus(msg.ID, store.StatusFailed)
		return promote("SendGroupMessage", err)
	}

	e.msgStore.UpdateStatus(msg.ID, store.StatusSent)
	return nil
}

// GetGroupConversation returns every message exchanged within groupUUID.
func (e *Engine) GetGroupConversation(groupUUID string) ([]store.Message, error) {
	msgs, err := e.msgStore.GetGroupConversation(groupUUID)
	if err != nil {
		return nil, promote("GetGroupConversation", err)
	}
	return msgs, nil
}

// SyncGroup forces GEK recovery for groupUUID: it re-fetches the
// roster's current IKP version and extracts the GEK, even if a
// (possibly stale) copy is already cached in memory.
func (e *Engine) SyncGroup(groupUUID string) error {
	id, err := e.currentIdentity()
	if err != nil {
		return err
	}

	record, err := e.groupStore.Get(groupUUID)
	if err != nil {
		return promote("SyncGroup", err)
	}

	ikp, err := e.fetchIKP(groupUUID, record.OwnerFP, record.ActiveVersion)
	if err != nil {
		return err
	}

	key, err := gek.ExtractGEK(ikp, id.Fingerprint, id.KEMPrivate)
	if err != nil {
		return promote("SyncGroup", err)
	}

	e.groupsMu.Lock()
	defer e.groupsMu.Unlock()

	group, ok := e.groups[groupUUID]
	if !ok {
		group = gek.NewGroup(groupUUID, record.OwnerFP, key)
		e.groups[groupUUID] = group
	} else if _, active := group.Active(); !active || group.ActiveVersion != key.Version {
		group.Versions[key.Version] = key
		group.ActiveVersion = key.Version
	}
	return nil
}

// ensureGroupLoaded returns the in-memory group for groupUUID, calling
// SyncGroup to recover it from the persisted roster and published IKP
// if the engine has not held it in memory since restart.
func (e *Engine) ensureGroupLoaded(groupUUID string) (*gek.Group, error) {
	e.groupsMu.Lock()
	group, ok := e.groups[groupUUID]
	e.groupsMu.Unlock()
	if ok {
		return group, nil
	}

	if err := e.SyncGroup(groupUUID); err != nil {
		return nil, err
	}

	e.groupsMu.Lock()
	defer e.groupsMu.Unlock()
	group, ok = e.groups[groupUUID]
	if !ok {
		return nil, newError("ensureGroupLoaded", CodeKeyUnavailable, fmt.Errorf("group %s not recoverable", groupUUID))
	}
	return group, nil
}

// loadOwnedGroupLocked returns the in-memory group and its persisted
// roster for groupUUID, requiring the caller to be its owner. Callers
// must hold e.groupsMu.
func (e *Engine) loadOwnedGroupLocked(groupUUID string, selfFP [64]byte) (*gek.Group, store.GroupRecord, error) {
	record, err := e.groupStore.Get(groupUUID)
	if err != nil {
		return nil, store.GroupRecord{}, promote("loadOwnedGroupLocked", err)
	}
	if record.OwnerFP != selfFP {
		return nil, store.GroupRecord{}, newError("loadOwnedGroupLocked", CodeInvalidArg, fmt.Errorf("only the group owner can change membership"))
	}

	group, ok := e.groups[groupUUID]
	if !ok {
		return nil, store.GroupRecord{}, newError("loadOwnedGroupLocked", CodeKeyUnavailable, fmt.Errorf("group %s not loaded; call SyncGroup first", groupUUID))
	}
	return group, record, nil
}

// resolveGroupMembers resolves otherFPs to their KEM public keys,
// returning the full gek.Member list (owner included) plus the
// roster (including the owner, for GroupRecord.MemberFPs).
func (e *Engine) resolveGroupMembers(ownerFP [64]byte, ownerKEMPublic []byte, otherFPs [][64]byte) ([]gek.Member, [][64]byte, error) {
	members := []gek.Member{{Fingerprint: ownerFP, KEMPublic: ownerKEMPublic}}
	roster := [][64]byte{ownerFP}

	seen := map[[64]byte]bool{ownerFP: true}
	for _, fp := range otherFPs {
		if fp == ownerFP {
			continue
		}
		if seen[fp] {
			return nil, nil, newError("resolveGroupMembers", CodeInvalidArg, fmt.Errorf("duplicate member fingerprint"))
		}
		seen[fp] = true
		profile, err := e.resolveRecipient(hex.EncodeToString(fp[:]))
		if err != nil {
			return nil, nil, err
		}
		members = append(members, gek.Member{Fingerprint: fp, KEMPublic: profile.KEMPublic})
		roster = append(roster, fp)
	}
	return members, roster, nil
}

// publishIKP builds, signs, and publishes the Initial Key Packet for
// key, then caches it locally under the owner's own entry so it can be
// recovered after a restart without a network round trip.
func (e *Engine) publishIKP(group *gek.Group, key *gek.Key, members []gek.Member, ownerSignPrivate []byte) error {
	ikp, err := gek.BuildIKP(group.UUID, key, members, ownerSignPrivate)
	if err != nil {
		return promote("publishIKP", err)
	}
	wire := ikp.Marshal()

	base := ikpBaseKey(group.UUID, key.Version)
	valueID := transport.WriterValueID(group.OwnerFP)
	if err := e.outbox.PublishChunkedValue(base, wire, valueID, ikpTTL, ownerSignPrivate); err != nil {
		return promote("publishIKP", err)
	}

	if err := e.groupStore.PutIKP(group.UUID, key.Version, wire); err != nil {
		return promote("publishIKP", err)
	}
	return nil
}

// fetchIKP fetches and verifies the IKP for (groupUUID, version),
// preferring a persisted local copy over a DHT round trip.
func (e *Engine) fetchIKP(groupUUID string, ownerFP [64]byte, version uint32) (*gek.IKP, error) {
	wire, err := e.groupStore.GetIKP(groupUUID, version)
	if err != nil {
		base := ikpBaseKey(groupUUID, version)
		valueID := transport.WriterValueID(ownerFP)
		wire, err = e.outbox.FetchWriterChunkedValue(base, valueID)
		if err != nil {
			return nil, promote("fetchIKP", err)
		}
	}

	ikp, err := gek.ParseIKP(wire)
	if err != nil {
		return nil, promote("fetchIKP", err)
	}

	owner, err := e.LookupProfile(ownerFP)
	if err != nil {
		return nil, err
	}
	if !ikp.Verify(owner.SignPublic) {
		return nil, newError("fetchIKP", CodeSignatureInvalid, fmt.Errorf("IKP signature invalid for group %s version %d", groupUUID, version))
	}
	return ikp, nil
}
