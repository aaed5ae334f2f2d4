package engine

import (
	"encoding/hex"
	"encoding/json"

	"github.com/nocdem/dna-messenger-sub001/store"
)

// controlMessageTypeGroupInvite tags a locally-stored [store.Message] as
// a group membership notice rather than user-visible chat content; it
// never appears on the wire (the envelope's own message_type is always
// MessageTypeDirect for these), only in the local store so
// GetConversation can filter it back out.
const controlMessageTypeGroupInvite uint8 = 0xFE

const groupInviteKind = "dna-group-invite"

// groupInviteWire is the control payload a group's owner sends to every
// current member over the ordinary DM transport whenever membership or
// the active GEK version changes, so members learn which IKP version to
// fetch without a separate wire format or key-distribution channel.
type groupInviteWire struct {
	Kind      string `json:"kind"`
	GroupUUID string `json:"group_uuid"`
	Name      string `json:"name"`
	OwnerFP   []byte `json:"owner_fp"`
	Version   uint32 `json:"version"`
}

func parseGroupInvite(plaintext []byte) (groupInviteWire, bool) {
	var wire groupInviteWire
	if err := json.Unmarshal(plaintext, &wire); err != nil {
		return groupInviteWire{}, false
	}
	if wire.Kind != groupInviteKind || wire.GroupUUID == "" || len(wire.OwnerFP) != 64 {
		return groupInviteWire{}, false
	}
	return wire, true
}

// broadcastGroupUpdate notifies every non-owner member of record of its
// current owner and active GEK version. Called after every successful
// create, membership change, or rotation; a member excluded from
// record.MemberFPs (just removed) simply isn't notified.
func (e *Engine) broadcastGroupUpdate(record store.GroupRecord) {
	for _, fp := range record.MemberFPs {
		if fp == record.OwnerFP {
			continue
		}
		e.sendGroupInvite(fp, record)
	}
}

func (e *Engine) sendGroupInvite(memberFP [64]byte, record store.GroupRecord) {
	wire := groupInviteWire{
		Kind:      groupInviteKind,
		GroupUUID: record.UUID,
		Name:      record.Name,
		OwnerFP:   record.OwnerFP[:],
		Version:   record.ActiveVersion,
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return
	}
	// Best-effort: a member who misses this notice can still be reached
	// by a later rotation's notice, or learn the group out-of-band.
	e.SendMessage(hex.EncodeToString(memberFP[:]), data)
}

// applyGroupInvite records or updates the local roster view for
// invite.GroupUUID and pulls its named GEK version, so the recipient can
// read and send group messages immediately.
func (e *Engine) applyGroupInvite(invite groupInviteWire) {
	var ownerFP [64]byte
	copy(ownerFP[:], invite.OwnerFP)

	record, err := e.groupStore.Get(invite.GroupUUID)
	if err != nil {
		record = store.GroupRecord{UUID: invite.GroupUUID, Name: invite.Name, OwnerFP: ownerFP}
	}
	record.ActiveVersion = invite.Version
	e.groupStore.Put(record)

	e.SyncGroup(invite.GroupUUID)
}
