package store

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// GroupRecord is the locally-persisted metadata for one group: its
// membership roster and the GEK version currently active, independent
// of the GEK material itself (which gek.Group/gek.Key own in memory
// and the engine wraps at rest).
type GroupRecord struct {
	UUID          string
	Name          string
	OwnerFP       [64]byte
	MemberFPs     [][64]byte
	ActiveVersion uint32
	Tombstoned    bool
}

type groupRecordWire struct {
	UUID          string   `json:"uuid"`
	Name          string   `json:"name"`
	OwnerFP       []byte   `json:"owner_fp"`
	MemberFPs     [][]byte `json:"member_fps"`
	ActiveVersion uint32   `json:"active_version"`
	Tombstoned    bool     `json:"tombstoned"`
}

func (g GroupRecord) toWire() groupRecordWire {
	members := make([][]byte, len(g.MemberFPs))
	for i, fp := range g.MemberFPs {
		members[i] = fp[:]
	}
	return groupRecordWire{
		UUID:          g.UUID,
		Name:          g.Name,
		OwnerFP:       g.OwnerFP[:],
		MemberFPs:     members,
		ActiveVersion: g.ActiveVersion,
		Tombstoned:    g.Tombstoned,
	}
}

func (w groupRecordWire) toRecord() GroupRecord {
	var g GroupRecord
	g.UUID = w.UUID
	g.Name = w.Name
	copy(g.OwnerFP[:], w.OwnerFP)
	g.MemberFPs = make([][64]byte, len(w.MemberFPs))
	for i, m := range w.MemberFPs {
		copy(g.MemberFPs[i][:], m)
	}
	g.ActiveVersion = w.ActiveVersion
	g.Tombstoned = w.Tombstoned
	return g
}

// GroupStore is the pebble-backed group/GEK metadata table.
type GroupStore struct {
	db *pebble.DB
}

// OpenGroupStore opens (creating if absent) the pebble database at dir.
func OpenGroupStore(dir string) (*GroupStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, newError("OpenGroupStore", KindStorage, err)
	}
	return &GroupStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *GroupStore) Close() error {
	if err := s.db.Close(); err != nil {
		return newError("Close", KindStorage, err)
	}
	return nil
}

func groupKey(uuid string) []byte {
	return []byte(fmt.Sprintf("group:%s", uuid))
}

func ikpKey(uuid string, version uint32) []byte {
	return []byte(fmt.Sprintf("ikp:%s:%d", uuid, version))
}

// Put upserts record.
func (s *GroupStore) Put(record GroupRecord) error {
	data, err := json.Marshal(record.toWire())
	if err != nil {
		return newError("Put", KindInvalidArg, err)
	}
	if err := s.db.Set(groupKey(record.UUID), data, pebble.Sync); err != nil {
		return newError("Put", KindStorage, err)
	}
	return nil
}

// Get returns the group record for uuid.
func (s *GroupStore) Get(uuid string) (GroupRecord, error) {
	data, closer, err := s.db.Get(groupKey(uuid))
	if err != nil {
		if err == pebble.ErrNotFound {
			return GroupRecord{}, newError("Get", KindNotFound, err)
		}
		return GroupRecord{}, newError("Get", KindStorage, err)
	}
	defer closer.Close()

	var wire groupRecordWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return GroupRecord{}, newError("Get", KindStorage, err)
	}
	return wire.toRecord(), nil
}

// List returns every non-tombstoned group record.
func (s *GroupStore) List() ([]GroupRecord, error) {
	prefix := []byte("group:")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, newError("List", KindStorage, err)
	}
	defer iter.Close()

	var out []GroupRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var wire groupRecordWire
		if err := json.Unmarshal(append([]byte(nil), iter.Value()...), &wire); err != nil {
			return nil, newError("List", KindStorage, err)
		}
		record := wire.toRecord()
		if !record.Tombstoned {
			out = append(out, record)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, newError("List", KindStorage, err)
	}
	return out, nil
}

// Delete tombstones the group record for uuid (soft delete, preserving
// history for audit).
func (s *GroupStore) Delete(uuid string) error {
	record, err := s.Get(uuid)
	if err != nil {
		return err
	}
	record.Tombstoned = true
	return s.Put(record)
}

// PutIKP persists the signed wire bytes of an Initial Key Packet for
// (uuid, version) locally. This is how the owner's own copy of the GEK
// survives a restart: the owner's own member entry inside the IKP is
// itself a KEM-encapsulate-then-wrap of the GEK under the owner's own
// public key, so storing the IKP bytes verbatim satisfies "wrapped at
// rest by the owner's own KEM key" without a second encryption scheme.
func (s *GroupStore) PutIKP(uuid string, version uint32, wire []byte) error {
	if err := s.db.Set(ikpKey(uuid, version), wire, pebble.Sync); err != nil {
		return newError("PutIKP", KindStorage, err)
	}
	return nil
}

// GetIKP returns the persisted IKP wire bytes for (uuid, version).
func (s *GroupStore) GetIKP(uuid string, version uint32) ([]byte, error) {
	data, closer, err := s.db.Get(ikpKey(uuid, version))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, newError("GetIKP", KindNotFound, err)
		}
		return nil, newError("GetIKP", KindStorage, err)
	}
	defer closer.Close()
	return append([]byte(nil), data...), nil
}
