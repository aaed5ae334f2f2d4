package engine

import "github.com/nocdem/dna-messenger-sub001/store"

// EventKind tags an Event's payload, per §6's event list.
type EventKind int

const (
	EventDHTConnected EventKind = iota
	EventDHTDisconnected
	EventMessageReceived
	EventMessageStatusChanged
	EventContactOnline
	EventContactOffline
	EventGroupInvitationReceived
	EventIdentityLoaded
	EventError
)

// Event is the tagged-union record delivered to a registered
// [EventHandler]. Only the field(s) relevant to Kind are populated.
type Event struct {
	Kind EventKind

	Message          *store.Message
	MessageID        string
	NewStatus        store.Status
	ContactFP        [64]byte
	GroupUUID        string
	GroupInviterFP   [64]byte
	IdentityFP       [64]byte
	ErrorCode        Code
	ErrorMessage     string
}

// EventHandler receives engine events. Implementations MUST NOT block:
// long work belongs on the caller's own goroutine, not inline in the
// callback, matching the constraint DHT listen callbacks operate under
// internally.
type EventHandler func(Event)
