package envelope

import (
	"encoding/binary"
	"fmt"

	"github.com/nocdem/dna-messenger-sub001/crypto"
	"github.com/nocdem/dna-messenger-sub001/limits"
	"github.com/sirupsen/logrus"
)

const (
	// Magic is the fixed 8-byte tag at the start of every envelope.
	Magic = "PQSIGENC"

	// Version is the only envelope version this package produces or
	// accepts. Decoding any other value fails with KindUnsupportedVersion
	// (no auto-upgrade).
	Version = 0x08

	// KEMAlgoMLKEM1024 is the only enc_key_type this package implements.
	KEMAlgoMLKEM1024 = 2

	// MessageTypeDirect and MessageTypeGroup are the two message_type
	// header values.
	MessageTypeDirect = 0
	MessageTypeGroup  = 1

	// HeaderSize is the fixed size of the envelope header, laid out
	// field-by-field in §4.2: magic(8) version(1) kem_algo(1)
	// recipient_count(1) message_type(1) encrypted_size(4)
	// signature_size(4).
	HeaderSize = 20

	// RecipientEntrySize is the fixed size of one recipient entry: a
	// ML-KEM-1024 ciphertext plus a wrapped 32-byte DEK.
	RecipientEntrySize = limits.RecipientEntrySize

	nonceSize  = crypto.AEADNonceSize
	tagSize    = crypto.AEADTagSize
	fpSize     = 64 // SHA3-512 fingerprint
	tsSize     = 8  // be64 sender timestamp
	sigTagSize = 3  // signature block: 1-byte type + 2-byte BE length

	// SignatureAlgoMLDSA87 is the only signature type value this package
	// emits.
	SignatureAlgoMLDSA87 = 1
)

// Header is the fixed-size, AAD-authenticated prefix of an envelope.
type Header struct {
	Version        uint8
	KEMAlgo        uint8
	RecipientCount uint8
	MessageType    uint8
	EncryptedSize  uint32
	SignatureSize  uint32
}

func (h Header) marshal() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:8], Magic)
	buf[8] = h.Version
	buf[9] = h.KEMAlgo
	buf[10] = h.RecipientCount
	buf[11] = h.MessageType
	binary.LittleEndian.PutUint32(buf[12:16], h.EncryptedSize)
	binary.LittleEndian.PutUint32(buf[16:20], h.SignatureSize)
	return buf
}

func parseHeader(buf []byte) (Header, error) {
	var h Header
	if len(buf) < HeaderSize {
		return h, fmt.Errorf("header truncated: got %d bytes, need %d", len(buf), HeaderSize)
	}
	if string(buf[0:8]) != Magic {
		return h, fmt.Errorf("bad magic")
	}
	h.Version = buf[8]
	h.KEMAlgo = buf[9]
	h.RecipientCount = buf[10]
	h.MessageType = buf[11]
	h.EncryptedSize = binary.LittleEndian.Uint32(buf[12:16])
	h.SignatureSize = binary.LittleEndian.Uint32(buf[16:20])
	return h, nil
}

// RecipientEntry is one per-recipient KEM wrap of the envelope's DEK.
type RecipientEntry struct {
	KEMCiphertext []byte // 1568 B
	WrappedDEK    []byte // 40 B
}

// Envelope is a fully assembled, ready-to-marshal or already-parsed v0.08
// message container.
type Envelope struct {
	Header     Header
	Recipients []RecipientEntry
	Nonce      []byte
	Ciphertext []byte
	Tag        []byte
	SigAlgo    uint8
	Signature  []byte
}

// Recipient identifies one message recipient by their ML-KEM-1024 public
// key, for use with Encrypt.
type Recipient struct {
	KEMPublic []byte
}

// Sender carries the keys Encrypt needs: the ML-DSA-87 signing key pair
// (to compute the fingerprint and the detached signature) and this
// sender's own ML-KEM-1024 public key (the sender is always included as
// recipients[0] so sent messages remain locally readable).
type Sender struct {
	SignPrivate []byte
	SignPublic  []byte
	KEMPublic   []byte
}

// Encrypt builds a v0.08 envelope per §4.2's algorithm. The sender is
// always recipients[0]; recipients must therefore not already include
// the sender's own KEM key.
func Encrypt(sender Sender, recipients []Recipient, messageType uint8, plaintext []byte, now int64) (*Envelope, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Encrypt",
		"package":  "envelope",
	})
	logger.Debug("Function entry: encrypting envelope")
	defer logger.Debug("Function exit: Encrypt")

	if err := limits.ValidatePlaintextSize(plaintext); err != nil {
		return nil, newError("Encrypt", KindInvalidArg, err)
	}

	allRecipients := make([]Recipient, 0, len(recipients)+1)
	allRecipients = append(allRecipients, Recipient{KEMPublic: sender.KEMPublic})
	allRecipients = append(allRecipients, recipients...)

	if err := limits.ValidateRecipientCount(len(allRecipients)); err != nil {
		return nil, newError("Encrypt", KindInvalidArg, err)
	}

	dek, err := crypto.RandomBytes(crypto.AEADKeySize)
	if err != nil {
		return nil, newError("Encrypt", KindInvalidArg, err)
	}
	defer crypto.ZeroBytes(dek)

	fp := crypto.Hash512(sender.SignPublic)

	sig, err := crypto.Sign(sender.SignPrivate, plaintext)
	if err != nil {
		return nil, newError("Encrypt", KindInvalidArg, err)
	}
	if len(sig) > 0xFFFF {
		return nil, newError("Encrypt", KindInvalidArg, fmt.Errorf("signature too large"))
	}

	payload := make([]byte, 0, fpSize+tsSize+len(plaintext))
	payload = append(payload, fp[:]...)
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(now))
	payload = append(payload, tsBuf[:]...)
	payload = append(payload, plaintext...)
	defer crypto.ZeroAll(payload)

	nonce, err := crypto.RandomBytes(nonceSize)
	if err != nil {
		return nil, newError("Encrypt", KindInvalidArg, err)
	}

	header := Header{
		Version:        Version,
		KEMAlgo:        KEMAlgoMLKEM1024,
		RecipientCount: uint8(len(allRecipients)),
		MessageType:    messageType,
		EncryptedSize:  uint32(len(payload)),
		SignatureSize:  uint32(len(sig)),
	}
	aad := header.marshal()

	ct, tag, err := crypto.AEADEncrypt(dek, nonce, aad, payload)
	if err != nil {
		return nil, newError("Encrypt", KindInvalidArg, err)
	}

	entries := make([]RecipientEntry, len(allRecipients))
	for i, r := range allRecipients {
		kemCt, ss, err := crypto.KEMEncapsulate(r.KEMPublic)
		if err != nil {
			return nil, newError("Encrypt", KindInvalidArg, err)
		}
		wrapped, err := crypto.KeyWrap(ss, dek)
		crypto.ZeroBytes(ss)
		if err != nil {
			return nil, newError("Encrypt", KindInvalidArg, err)
		}
		entries[i] = RecipientEntry{KEMCiphertext: kemCt, WrappedDEK: wrapped}
	}

	logger.WithFields(logrus.Fields{
		"recipient_count": header.RecipientCount,
		"plaintext_size":  len(plaintext),
	}).Info("envelope encrypted")

	return &Envelope{
		Header:     header,
		Recipients: entries,
		Nonce:      nonce,
		Ciphertext: ct,
		Tag:        tag,
		SigAlgo:    SignatureAlgoMLDSA87,
		Signature:  sig,
	}, nil
}

// Marshal serialises the envelope to its v0.08 wire layout.
func (e *Envelope) Marshal() []byte {
	out := make([]byte, 0, HeaderSize+len(e.Recipients)*RecipientEntrySize+nonceSize+len(e.Ciphertext)+tagSize+sigTagSize+len(e.Signature))
	out = append(out, e.Header.marshal()...)
	for _, r := range e.Recipients {
		out = append(out, r.KEMCiphertext...)
		out = append(out, r.WrappedDEK...)
	}
	out = append(out, e.Nonce...)
	out = append(out, e.Ciphertext...)
	out = append(out, e.Tag...)
	out = append(out, e.SigAlgo)
	var sigLen [2]byte
	binary.BigEndian.PutUint16(sigLen[:], uint16(len(e.Signature)))
	out = append(out, sigLen[:]...)
	out = append(out, e.Signature...)
	return out
}

// Unmarshal parses wire bytes into an Envelope without decrypting
// anything. Size fields are validated against the input length before
// any allocation proportional to an attacker-controlled size.
func Unmarshal(wire []byte) (*Envelope, error) {
	if err := limits.ValidateEnvelopeSize(wire); err != nil {
		return nil, newError("Unmarshal", KindMalformed, err)
	}

	header, err := parseHeader(wire)
	if err != nil {
		return nil, newError("Unmarshal", KindMalformed, err)
	}
	if header.Version != Version {
		return nil, newError("Unmarshal", KindUnsupportedVersion, fmt.Errorf("version %d", header.Version))
	}
	if err := limits.ValidateRecipientCount(int(header.RecipientCount)); err != nil {
		return nil, newError("Unmarshal", KindMalformed, err)
	}

	offset := HeaderSize
	recipientsBytes := int(header.RecipientCount) * RecipientEntrySize
	if len(wire) < offset+recipientsBytes+nonceSize {
		return nil, newError("Unmarshal", KindMalformed, fmt.Errorf("truncated recipients/nonce"))
	}

	recipients := make([]RecipientEntry, header.RecipientCount)
	for i := 0; i < int(header.RecipientCount); i++ {
		start := offset + i*RecipientEntrySize
		kemCt := make([]byte, limits.RecipientEntrySize-crypto.AEADKeySize-8)
		copy(kemCt, wire[start:start+len(kemCt)])
		wrapped := make([]byte, crypto.AEADKeySize+8)
		copy(wrapped, wire[start+len(kemCt):start+len(kemCt)+len(wrapped)])
		recipients[i] = RecipientEntry{KEMCiphertext: kemCt, WrappedDEK: wrapped}
	}
	offset += recipientsBytes

	nonce := make([]byte, nonceSize)
	copy(nonce, wire[offset:offset+nonceSize])
	offset += nonceSize

	if uint32(len(wire)-offset) < header.EncryptedSize+tagSize {
		return nil, newError("Unmarshal", KindMalformed, fmt.Errorf("truncated payload/tag"))
	}
	ct := make([]byte, header.EncryptedSize)
	copy(ct, wire[offset:offset+int(header.EncryptedSize)])
	offset += int(header.EncryptedSize)

	tag := make([]byte, tagSize)
	copy(tag, wire[offset:offset+tagSize])
	offset += tagSize

	if len(wire) < offset+sigTagSize {
		return nil, newError("Unmarshal", KindMalformed, fmt.Errorf("truncated signature block"))
	}
	sigAlgo := wire[offset]
	sigLen := binary.BigEndian.Uint16(wire[offset+1 : offset+3])
	offset += sigTagSize
	if sigLen != uint16(header.SignatureSize) {
		return nil, newError("Unmarshal", KindMalformed, fmt.Errorf("signature length mismatch"))
	}
	if len(wire) < offset+int(sigLen) {
		return nil, newError("Unmarshal", KindMalformed, fmt.Errorf("truncated signature"))
	}
	sig := make([]byte, sigLen)
	copy(sig, wire[offset:offset+int(sigLen)])

	return &Envelope{
		Header:     header,
		Recipients: recipients,
		Nonce:      nonce,
		Ciphertext: ct,
		Tag:        tag,
		SigAlgo:    sigAlgo,
		Signature:  sig,
	}, nil
}

// DecryptResult is the outcome of a successful Decrypt call.
type DecryptResult struct {
	Plaintext         []byte
	SenderFingerprint [64]byte
	Timestamp         int64
	Verified          bool
}

// SignPublicKeyResolver resolves a sender's ML-DSA-87 public key from
// their fingerprint, looking in a local cache before falling back to the
// DHT-backed keyserver. It returns ok=false if the fingerprint cannot be
// resolved right now.
type SignPublicKeyResolver func(fingerprint [64]byte) (publicKey []byte, ok bool)

// Decrypt reverses Encrypt per §4.2. selfKEMPrivate is the caller's own
// ML-KEM-1024 private key; recipient entries are tried in order and the
// first one that successfully unwraps the DEK is used. If no entry
// resolves, KindKeyUnavailable is returned.
func (e *Envelope) Decrypt(selfKEMPrivate []byte, resolve SignPublicKeyResolver) (*DecryptResult, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Decrypt",
		"package":  "envelope",
	})
	logger.Debug("Function entry: decrypting envelope")
	defer logger.Debug("Function exit: Decrypt")

	aad := e.Header.marshal()

	var dek []byte
	for _, r := range e.Recipients {
		ss, err := crypto.KEMDecapsulate(selfKEMPrivate, r.KEMCiphertext)
		if err != nil {
			continue
		}
		candidate, err := crypto.KeyUnwrap(ss, r.WrappedDEK)
		crypto.ZeroBytes(ss)
		if err == nil {
			dek = candidate
			break
		}
	}
	if dek == nil {
		return nil, newError("Decrypt", KindKeyUnavailable, fmt.Errorf("no recipient entry unwrapped"))
	}
	defer crypto.ZeroBytes(dek)

	payload, err := crypto.AEADDecrypt(dek, e.Nonce, aad, e.Ciphertext, e.Tag)
	if err != nil {
		logger.Warn("AEAD authentication failed")
		return nil, newError("Decrypt", KindAuthTagMismatch, err)
	}
	defer crypto.ZeroAll(payload)

	if len(payload) < fpSize+tsSize {
		return nil, newError("Decrypt", KindMalformed, fmt.Errorf("payload too short"))
	}
	var fp [64]byte
	copy(fp[:], payload[:fpSize])
	ts := int64(binary.BigEndian.Uint64(payload[fpSize : fpSize+tsSize]))
	plaintext := make([]byte, len(payload)-fpSize-tsSize)
	copy(plaintext, payload[fpSize+tsSize:])

	signPub, ok := resolve(fp)
	if !ok {
		return &DecryptResult{
			Plaintext:         plaintext,
			SenderFingerprint: fp,
			Timestamp:         ts,
			Verified:          false,
		}, nil
	}

	if !crypto.Verify(signPub, plaintext, e.Signature) {
		return nil, newError("Decrypt", KindSignatureInvalid, fmt.Errorf("signature verification failed"))
	}

	return &DecryptResult{
		Plaintext:         plaintext,
		SenderFingerprint: fp,
		Timestamp:         ts,
		Verified:          true,
	}, nil
}
