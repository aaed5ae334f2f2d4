package store

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/nocdem/dna-messenger-sub001/crypto"
	"github.com/sirupsen/logrus"
)

// Direction distinguishes sent-by-us from received-from-peer messages.
type Direction uint8

const (
	DirectionOutbound Direction = iota
	DirectionInbound
)

// Status is a message's delivery state.
type Status uint8

const (
	StatusPending Status = iota
	StatusSent
	StatusReceived
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusSent:
		return "SENT"
	case StatusReceived:
		return "RECEIVED"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Message is one stored row, per §3's local message store schema.
type Message struct {
	ID                string
	SenderFP          [64]byte
	RecipientFP       [64]byte
	Plaintext         []byte
	Timestamp         int64 // from the envelope, not arrival
	Direction         Direction
	Status            Status
	RetryCount        int
	GroupUUID         string // empty for direct messages
	MessageType       uint8
	OfflineSeq        uint64
	CiphertextSHA256  [32]byte
}

type messageWire struct {
	ID               string `json:"id"`
	SenderFP         []byte `json:"sender_fp"`
	RecipientFP      []byte `json:"recipient_fp"`
	Plaintext        []byte `json:"plaintext"`
	Timestamp        int64  `json:"timestamp"`
	Direction        uint8  `json:"direction"`
	Status           uint8  `json:"status"`
	RetryCount       int    `json:"retry_count"`
	GroupUUID        string `json:"group_uuid,omitempty"`
	MessageType      uint8  `json:"message_type"`
	OfflineSeq       uint64 `json:"offline_seq"`
	CiphertextSHA256 []byte `json:"ciphertext_sha256"`
}

func (m Message) toWire() messageWire {
	return messageWire{
		ID:               m.ID,
		SenderFP:         m.SenderFP[:],
		RecipientFP:      m.RecipientFP[:],
		Plaintext:        m.Plaintext,
		Timestamp:        m.Timestamp,
		Direction:        uint8(m.Direction),
		Status:           uint8(m.Status),
		RetryCount:       m.RetryCount,
		GroupUUID:        m.GroupUUID,
		MessageType:      m.MessageType,
		OfflineSeq:       m.OfflineSeq,
		CiphertextSHA256: m.CiphertextSHA256[:],
	}
}

func (w messageWire) toMessage() Message {
	var m Message
	m.ID = w.ID
	copy(m.SenderFP[:], w.SenderFP)
	copy(m.RecipientFP[:], w.RecipientFP)
	m.Plaintext = w.Plaintext
	m.Timestamp = w.Timestamp
	m.Direction = Direction(w.Direction)
	m.Status = Status(w.Status)
	m.RetryCount = w.RetryCount
	m.GroupUUID = w.GroupUUID
	m.MessageType = w.MessageType
	m.OfflineSeq = w.OfflineSeq
	copy(m.CiphertextSHA256[:], w.CiphertextSHA256)
	return m
}

// MessageStore is the pebble-backed local message table.
type MessageStore struct {
	db *pebble.DB
}

// OpenMessageStore opens (creating if absent) the pebble database at
// dir.
func OpenMessageStore(dir string) (*MessageStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, newError("OpenMessageStore", KindStorage, err)
	}
	return &MessageStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *MessageStore) Close() error {
	if err := s.db.Close(); err != nil {
		return newError("Close", KindStorage, err)
	}
	return nil
}

func messageKey(id string) []byte {
	return []byte(fmt.Sprintf("msg:%s", id))
}

func conversationIndexKey(peerFP [64]byte, offlineSeq uint64, id string) []byte {
	return []byte(fmt.Sprintf("conv:%x:%020d:%s", peerFP, offlineSeq, id))
}

func groupConversationIndexKey(groupUUID string, offlineSeq uint64, id string) []byte {
	return []byte(fmt.Sprintf("groupconv:%s:%020d:%s", groupUUID, offlineSeq, id))
}

func dedupKey(senderFP [64]byte, offlineSeq uint64) []byte {
	return []byte(fmt.Sprintf("dedup:%x:%020d", senderFP, offlineSeq))
}

// conversationPeer returns the other party's fingerprint for indexing:
// the recipient for outbound messages, the sender for inbound ones.
func (m Message) conversationPeer() [64]byte {
	if m.Direction == DirectionOutbound {
		return m.RecipientFP
	}
	return m.SenderFP
}

// PutMessage inserts msg transactionally, enforcing the
// (sender_fingerprint, offline_seq) dedup invariant with a SHA3-256
// ciphertext cross-check, per §3. Returns a [KindDuplicate] *Error
// without modifying the store if an entry already exists for that key.
func (s *MessageStore) PutMessage(msg Message) error {
	logger := logrus.WithFields(logrus.Fields{
		"function": "PutMessage",
		"package":  "store",
	})
	logger.Debug("Function entry: storing message")
	defer logger.Debug("Function exit: PutMessage")

	dkey := dedupKey(msg.SenderFP, msg.OfflineSeq)
	if existingID, closer, err := s.db.Get(dkey); err == nil {
		existing := append([]byte(nil), existingID...)
		closer.Close()

		existingMsg, err := s.getByID(string(existing))
		if err != nil {
			return err
		}
		if existingMsg.CiphertextSHA256 != msg.CiphertextSHA256 {
			logger.Warn("Dedup key collision with mismatched ciphertext hash")
		}
		return newError("PutMessage", KindDuplicate, fmt.Errorf("message already stored for sender/offline_seq"))
	} else if err != pebble.ErrNotFound {
		return newError("PutMessage", KindStorage, err)
	}

	data, err := json.Marshal(msg.toWire())
	if err != nil {
		return newError("PutMessage", KindInvalidArg, err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(messageKey(msg.ID), data, nil); err != nil {
		return newError("PutMessage", KindStorage, err)
	}
	if msg.GroupUUID != "" {
		if err := batch.Set(groupConversationIndexKey(msg.GroupUUID, msg.OfflineSeq, msg.ID), []byte(msg.ID), nil); err != nil {
			return newError("PutMessage", KindStorage, err)
		}
	} else {
		if err := batch.Set(conversationIndexKey(msg.conversationPeer(), msg.OfflineSeq, msg.ID), []byte(msg.ID), nil); err != nil {
			return newError("PutMessage", KindStorage, err)
		}
	}
	if err := batch.Set(dkey, []byte(msg.ID), nil); err != nil {
		return newError("PutMessage", KindStorage, err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return newError("PutMessage", KindStorage, err)
	}
	return nil
}

func (s *MessageStore) getByID(id string) (Message, error) {
	data, closer, err := s.db.Get(messageKey(id))
	if err != nil {
		if err == pebble.ErrNotFound {
			return Message{}, newError("getByID", KindNotFound, err)
		}
		return Message{}, newError("getByID", KindStorage, err)
	}
	defer closer.Close()

	var wire messageWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return Message{}, newError("getByID", KindStorage, err)
	}
	return wire.toMessage(), nil
}

// GetConversation returns every message exchanged with peerFP, ordered
// by offline_seq regardless of arrival order (§8 ordering invariant).
func (s *MessageStore) GetConversation(peerFP [64]byte) ([]Message, error) {
	prefix := []byte(fmt.Sprintf("conv:%x:", peerFP))
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, newError("GetConversation", KindStorage, err)
	}
	defer iter.Close()

	var messages []Message
	for iter.First(); iter.Valid(); iter.Next() {
		id := string(append([]byte(nil), iter.Value()...))
		msg, err := s.getByID(id)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := iter.Error(); err != nil {
		return nil, newError("GetConversation", KindStorage, err)
	}
	return messages, nil
}

// MaxOutboundOfflineSeq returns the highest offline_seq senderFP has
// used across every outbound message this store holds (any recipient
// or group), or 0 if none. offline_seq is a single counter per sender
// shared across all of their traffic, matching the dedup key's
// (sender_fingerprint, offline_seq) scope, which does not distinguish
// recipients.
func (s *MessageStore) MaxOutboundOfflineSeq(senderFP [64]byte) (uint64, error) {
	prefix := []byte("msg:")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return 0, newError("MaxOutboundOfflineSeq", KindStorage, err)
	}
	defer iter.Close()

	var max uint64
	for iter.First(); iter.Valid(); iter.Next() {
		var wire messageWire
		if err := json.Unmarshal(append([]byte(nil), iter.Value()...), &wire); err != nil {
			return 0, newError("MaxOutboundOfflineSeq", KindStorage, err)
		}
		msg := wire.toMessage()
		if msg.Direction == DirectionOutbound && msg.SenderFP == senderFP && msg.OfflineSeq > max {
			max = msg.OfflineSeq
		}
	}
	if err := iter.Error(); err != nil {
		return 0, newError("MaxOutboundOfflineSeq", KindStorage, err)
	}
	return max, nil
}

// GetGroupConversation returns every message exchanged within groupUUID,
// ordered by offline_seq.
func (s *MessageStore) GetGroupConversation(groupUUID string) ([]Message, error) {
	prefix := []byte(fmt.Sprintf("groupconv:%s:", groupUUID))
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, newError("GetGroupConversation", KindStorage, err)
	}
	defer iter.Close()

	var messages []Message
	for iter.First(); iter.Valid(); iter.Next() {
		id := string(append([]byte(nil), iter.Value()...))
		msg, err := s.getByID(id)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := iter.Error(); err != nil {
		return nil, newError("GetGroupConversation", KindStorage, err)
	}
	return messages, nil
}

// UpdateStatus sets id's status in place.
func (s *MessageStore) UpdateStatus(id string, status Status) error {
	msg, err := s.getByID(id)
	if err != nil {
		return err
	}
	msg.Status = status
	data, err := json.Marshal(msg.toWire())
	if err != nil {
		return newError("UpdateStatus", KindInvalidArg, err)
	}
	if err := s.db.Set(messageKey(id), data, pebble.Sync); err != nil {
		return newError("UpdateStatus", KindStorage, err)
	}
	return nil
}

// IncrementRetry bumps id's retry_count and returns the new value.
func (s *MessageStore) IncrementRetry(id string) (int, error) {
	msg, err := s.getByID(id)
	if err != nil {
		return 0, err
	}
	msg.RetryCount++
	data, err := json.Marshal(msg.toWire())
	if err != nil {
		return 0, newError("IncrementRetry", KindInvalidArg, err)
	}
	if err := s.db.Set(messageKey(id), data, pebble.Sync); err != nil {
		return 0, newError("IncrementRetry", KindStorage, err)
	}
	return msg.RetryCount, nil
}

// ListByStatus returns every stored message with the given status, for
// the retry sweep and similar bulk scans.
func (s *MessageStore) ListByStatus(status Status) ([]Message, error) {
	prefix := []byte("msg:")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, newError("ListByStatus", KindStorage, err)
	}
	defer iter.Close()

	var out []Message
	for iter.First(); iter.Valid(); iter.Next() {
		var wire messageWire
		if err := json.Unmarshal(append([]byte(nil), iter.Value()...), &wire); err != nil {
			return nil, newError("ListByStatus", KindStorage, err)
		}
		msg := wire.toMessage()
		if msg.Status == status {
			out = append(out, msg)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, newError("ListByStatus", KindStorage, err)
	}
	return out, nil
}

// prefixUpperBound returns the smallest key that sorts after every key
// beginning with prefix, for bounding a pebble prefix scan.
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] != 0xFF {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}

// CiphertextHash computes the SHA3-256 cross-check hash stored
// alongside a message for dedup verification.
func CiphertextHash(ciphertext []byte) [32]byte {
	return crypto.Hash256(ciphertext)
}
