package engine

import (
	"github.com/nocdem/dna-messenger-sub001/transport"
)

// listenSub tracks one active push-delivery subscription and the day
// bucket it was registered against, since Spillway bucket keys are
// day-scoped and a subscription has to be rotated forward at midnight.
type listenSub struct {
	token transport.ListenToken
	day   int64
}

// activeListenCountLocked returns the total number of live subscriptions.
// Callers must hold e.listenMu.
func (e *Engine) activeListenCountLocked() int {
	return len(e.contactListens) + len(e.groupListens)
}

// ensureContactListen establishes (or rotates forward across a day
// boundary) a push subscription on peerFP's current outbox bucket, so
// a message published while both parties are online triggers an
// immediate foreground sync instead of waiting for heartbeatLoop's
// poll sweep — spec §4.3 names Listen as a first-class delivery path
// alongside polling, and S1's 10s online-delivery bound is unreachable
// on the poll floor alone. Past opts.ListenTokenCap, this is a no-op:
// that contact is served by pollSweep only.
func (e *Engine) ensureContactListen(selfFP, peerFP [64]byte, now int64) {
	day := transport.DayBucket(now)

	e.listenMu.Lock()
	if sub, ok := e.contactListens[peerFP]; ok && sub.day == day {
		e.listenMu.Unlock()
		return
	}
	stale, hadStale := e.contactListens[peerFP]
	if !hadStale && e.activeListenCountLocked() >= e.opts.ListenTokenCap {
		e.listenMu.Unlock()
		return
	}
	delete(e.contactListens, peerFP)
	e.listenMu.Unlock()

	if hadStale {
		e.dht.CancelListen(stale.token)
	}

	base := transport.OutboxBaseKey(peerFP, selfFP, day)
	key := transport.ChunkKey(base, 0)
	token, err := e.dht.Listen(key, func(_ [32]byte, _ []byte) {
		e.submit(func() { e.CheckOfflineMessages(peerFP) })
	})
	if err != nil {
		return
	}

	e.listenMu.Lock()
	e.contactListens[peerFP] = listenSub{token: token, day: day}
	e.listenMu.Unlock()
}

// ensureGroupListen is ensureContactListen's group counterpart: it
// subscribes to groupUUID's current-day outbox bucket, which every
// member's PublishGroupEntry touches regardless of who wrote last, so
// one subscription observes the whole group's traffic.
func (e *Engine) ensureGroupListen(groupUUID string, now int64) {
	day := transport.DayBucket(now)

	e.listenMu.Lock()
	if sub, ok := e.groupListens[groupUUID]; ok && sub.day == day {
		e.listenMu.Unlock()
		return
	}
	stale, hadStale := e.groupListens[groupUUID]
	if !hadStale && e.activeListenCountLocked() >= e.opts.ListenTokenCap {
		e.listenMu.Unlock()
		return
	}
	delete(e.groupListens, groupUUID)
	e.listenMu.Unlock()

	if hadStale {
		e.dht.CancelListen(stale.token)
	}

	base := transport.GroupOutboxBaseKey(groupUUID, day)
	key := transport.ChunkKey(base, 0)
	token, err := e.dht.Listen(key, func(_ [32]byte, _ []byte) {
		e.submit(func() { e.CheckGroupMessages(groupUUID) })
	})
	if err != nil {
		return
	}

	e.listenMu.Lock()
	e.groupListens[groupUUID] = listenSub{token: token, day: day}
	e.listenMu.Unlock()
}
