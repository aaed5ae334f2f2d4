package engine

import (
	"time"

	"github.com/nocdem/dna-messenger-sub001/gek"
	"github.com/nocdem/dna-messenger-sub001/identity"
)

// heartbeatLoop runs the background maintenance tasks §5 describes as
// running "every 4 min while online": the GEK daily-rotation check for
// every group self owns, and a cached (no-ACK) resync sweep over every
// known contact and joined group, which doubles as the polling fallback
// for peers this process holds no active DHT listen subscription for.
func (e *Engine) heartbeatLoop() {
	defer close(e.hbDone)

	interval := e.opts.GEKRotationCheckInterval
	if interval <= 0 {
		interval = 4 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.submit(e.rotateDueGroups)
			e.submit(e.pollSweep)
		}
	}
}

// rotateDueGroups rotates the GEK of every group self owns whose active
// version has aged past the 24h threshold, per §4.4's daily heartbeat.
func (e *Engine) rotateDueGroups() {
	id, err := e.currentIdentity()
	if err != nil {
		return
	}

	now := time.Now().Unix()

	e.groupsMu.Lock()
	var due []*gek.Group
	for _, group := range e.groups {
		if group.OwnerFP == id.Fingerprint && group.NeedsDailyRotation(now) {
			due = append(due, group)
		}
	}
	e.groupsMu.Unlock()

	for _, group := range due {
		e.rotateGroupUnchanged(group, id)
	}
}

// rotateGroupUnchanged rotates group to a fresh GEK version and
// republishes an IKP for the same membership, the no-membership-change
// counterpart to AddGroupMember/RemoveGroupMember's rotation step.
func (e *Engine) rotateGroupUnchanged(group *gek.Group, id *identity.Identity) {
	e.groupsMu.Lock()
	defer e.groupsMu.Unlock()

	record, err := e.groupStore.Get(group.UUID)
	if err != nil {
		return
	}

	var otherFPs [][64]byte
	for _, fp := range record.MemberFPs {
		if fp != id.Fingerprint {
			otherFPs = append(otherFPs, fp)
		}
	}
	members, rosterFPs, err := e.resolveGroupMembers(id.Fingerprint, id.KEMPublic, otherFPs)
	if err != nil {
		return
	}

	key, err := group.Rotate(time.Now().Unix())
	if err != nil {
		return
	}
	if err := e.publishIKP(group, key, members, id.SignPrivate); err != nil {
		return
	}

	record.MemberFPs = rosterFPs
	record.ActiveVersion = key.Version
	e.groupStore.Put(record)
	e.broadcastGroupUpdate(record)
}

// pollSweep runs a cached (no-ACK) resync against every cached contact
// and every non-tombstoned group, the polling counterpart to a DHT
// listen subscription for peers this process isn't actively watching.
func (e *Engine) pollSweep() {
	if !e.HasIdentity() {
		return
	}

	profiles, err := e.cache.ListProfiles()
	if err == nil {
		for _, profile := range profiles {
			e.CheckOfflineMessagesCached(profile.Fingerprint)
		}
	}

	groups, err := e.groupStore.List()
	if err == nil {
		for _, record := range groups {
			e.CheckGroupMessages(record.UUID)
		}
	}
}
