package gek

import (
	"encoding/binary"
	"fmt"

	"github.com/nocdem/dna-messenger-sub001/crypto"
	"github.com/nocdem/dna-messenger-sub001/limits"
	"github.com/sirupsen/logrus"
)

const (
	ikpMagic         = "GEK "
	ikpHeaderSize    = 45 // magic(4) uuid(36) version(4) member_count(1)
	ikpEntrySize     = 1672
	ikpFPSize        = 64
	ikpKEMCTSize     = 1568
	ikpWrappedSize   = 40
	ikpSigAlgoMLDSA  = 1
	ikpSigTagSize    = 3 // algo(1) length(2, BE)
	ikpUUIDByteLen   = 36
	ikpMaxMemberSize = limits.MaxGroupMembers
)

// MemberEntry is one member's share of a GEK, as carried in an IKP.
type MemberEntry struct {
	Fingerprint [64]byte
	KEMCT       []byte // ikpKEMCTSize bytes
	WrappedGEK  []byte // ikpWrappedSize bytes
}

// IKP is a signed Initial Key Packet: the distribution container for
// one GEK version.
type IKP struct {
	GroupUUID string
	Version   uint32
	Members   []MemberEntry
	SigAlgo   uint8
	Signature []byte
}

// BuildIKP constructs and signs an IKP distributing key to each of
// members, per §4.4 "Initial Key Packet build". ownerSignPrivate signs
// the header-plus-entries.
func BuildIKP(groupUUID string, key *Key, members []Member, ownerSignPrivate []byte) (*IKP, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "BuildIKP",
		"package":  "gek",
	})
	logger.Debug("Function entry: building initial key packet")
	defer logger.Debug("Function exit: BuildIKP")

	if len(groupUUID) != ikpUUIDByteLen {
		return nil, newError("BuildIKP", KindInvalidArg, fmt.Errorf("group uuid must be %d bytes, got %d", ikpUUIDByteLen, len(groupUUID)))
	}
	if err := limits.ValidateGroupMemberCount(len(members)); err != nil {
		return nil, newError("BuildIKP", KindGroupTooLarge, err)
	}
	seen := make(map[[64]byte]bool, len(members))
	for _, m := range members {
		if seen[m.Fingerprint] {
			return nil, newError("BuildIKP", KindInvalidArg, fmt.Errorf("duplicate member fingerprint"))
		}
		seen[m.Fingerprint] = true
	}

	entries := make([]MemberEntry, len(members))
	for i, m := range members {
		ciphertext, sharedSecret, err := crypto.KEMEncapsulate(m.KEMPublic)
		if err != nil {
			return nil, newError("BuildIKP", KindKeyUnavailable, err)
		}
		wrapped, err := crypto.KeyWrap(sharedSecret, key.Material)
		crypto.ZeroBytes(sharedSecret)
		if err != nil {
			return nil, newError("BuildIKP", KindKeyUnavailable, err)
		}
		entries[i] = MemberEntry{
			Fingerprint: m.Fingerprint,
			KEMCT:       ciphertext,
			WrappedGEK:  wrapped,
		}
	}

	ikp := &IKP{
		GroupUUID: groupUUID,
		Version:   key.Version,
		Members:   entries,
		SigAlgo:   ikpSigAlgoMLDSA,
	}

	signed := ikp.signableBytes()
	signature, err := crypto.Sign(ownerSignPrivate, signed)
	if err != nil {
		return nil, newError("BuildIKP", KindInvalidArg, err)
	}
	ikp.Signature = signature

	logger.Info("IKP built")
	return ikp, nil
}

// signableBytes returns the header-plus-entries bytes the signature
// covers: everything in Marshal except the trailing signature block.
func (p *IKP) signableBytes() []byte {
	buf := make([]byte, ikpHeaderSize+len(p.Members)*ikpEntrySize)
	copy(buf[0:4], ikpMagic)
	copy(buf[4:40], p.GroupUUID)
	binary.BigEndian.PutUint32(buf[40:44], p.Version)
	buf[44] = uint8(len(p.Members))

	off := ikpHeaderSize
	for _, m := range p.Members {
		copy(buf[off:off+ikpFPSize], m.Fingerprint[:])
		copy(buf[off+ikpFPSize:off+ikpFPSize+ikpKEMCTSize], m.KEMCT)
		copy(buf[off+ikpFPSize+ikpKEMCTSize:off+ikpEntrySize], m.WrappedGEK)
		off += ikpEntrySize
	}
	return buf
}

// Marshal serialises the IKP to its wire form: header, member entries,
// then the signature block.
func (p *IKP) Marshal() []byte {
	body := p.signableBytes()
	buf := make([]byte, len(body)+ikpSigTagSize+len(p.Signature))
	copy(buf, body)
	off := len(body)
	buf[off] = p.SigAlgo
	binary.BigEndian.PutUint16(buf[off+1:off+3], uint16(len(p.Signature)))
	copy(buf[off+3:], p.Signature)
	return buf
}

// ParseIKP parses and structurally validates an IKP, without verifying
// its signature (see [IKP.Verify]).
func ParseIKP(wire []byte) (*IKP, error) {
	if len(wire) < ikpHeaderSize+ikpSigTagSize {
		return nil, newError("ParseIKP", KindMalformed, fmt.Errorf("wire too short"))
	}
	if string(wire[0:4]) != ikpMagic {
		return nil, newError("ParseIKP", KindUnsupportedVersion, fmt.Errorf("bad magic"))
	}

	uuid := string(wire[4:40])
	version := binary.BigEndian.Uint32(wire[40:44])
	memberCount := int(wire[44])
	if memberCount == 0 || memberCount > ikpMaxMemberSize {
		return nil, newError("ParseIKP", KindGroupTooLarge, fmt.Errorf("member count %d out of range", memberCount))
	}

	entriesEnd := ikpHeaderSize + memberCount*ikpEntrySize
	if len(wire) < entriesEnd+ikpSigTagSize {
		return nil, newError("ParseIKP", KindMalformed, fmt.Errorf("wire truncated before entries end"))
	}

	members := make([]MemberEntry, memberCount)
	off := ikpHeaderSize
	for i := 0; i < memberCount; i++ {
		var m MemberEntry
		copy(m.Fingerprint[:], wire[off:off+ikpFPSize])
		m.KEMCT = append([]byte(nil), wire[off+ikpFPSize:off+ikpFPSize+ikpKEMCTSize]...)
		m.WrappedGEK = append([]byte(nil), wire[off+ikpFPSize+ikpKEMCTSize:off+ikpEntrySize]...)
		members[i] = m
		off += ikpEntrySize
	}

	sigAlgo := wire[entriesEnd]
	sigLen := int(binary.BigEndian.Uint16(wire[entriesEnd+1 : entriesEnd+3]))
	if len(wire) < entriesEnd+ikpSigTagSize+sigLen {
		return nil, newError("ParseIKP", KindMalformed, fmt.Errorf("wire truncated before signature end"))
	}
	signature := append([]byte(nil), wire[entriesEnd+ikpSigTagSize:entriesEnd+ikpSigTagSize+sigLen]...)

	return &IKP{
		GroupUUID: uuid,
		Version:   version,
		Members:   members,
		SigAlgo:   sigAlgo,
		Signature: signature,
	}, nil
}

// Verify checks the IKP's signature against ownerSignPublic.
func (p *IKP) Verify(ownerSignPublic []byte) bool {
	if p.SigAlgo != ikpSigAlgoMLDSA {
		return false
	}
	return crypto.Verify(ownerSignPublic, p.signableBytes(), p.Signature)
}

// ExtractGEK recovers the GEK from the IKP for the member identified by
// selfFingerprint, per §4.4 "Receive / fetch": scans for a matching
// entry, then KEM-decapsulates and key-unwraps.
func ExtractGEK(p *IKP, selfFingerprint [64]byte, selfKEMPrivate []byte) (*Key, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "ExtractGEK",
		"package":  "gek",
	})
	logger.Debug("Function entry: extracting GEK from IKP")
	defer logger.Debug("Function exit: ExtractGEK")

	for _, m := range p.Members {
		if m.Fingerprint != selfFingerprint {
			continue
		}

		sharedSecret, err := crypto.KEMDecapsulate(selfKEMPrivate, m.KEMCT)
		if err != nil {
			return nil, newError("ExtractGEK", KindKeyUnavailable, err)
		}
		material, err := crypto.KeyUnwrap(sharedSecret, m.WrappedGEK)
		crypto.ZeroBytes(sharedSecret)
		if err != nil {
			return nil, newError("ExtractGEK", KindKeyUnavailable, err)
		}

		return &Key{
			GroupUUID: p.GroupUUID,
			Version:   p.Version,
			Material:  material,
		}, nil
	}

	return nil, newError("ExtractGEK", KindKeyUnavailable, fmt.Errorf("no entry for this member in IKP"))
}
