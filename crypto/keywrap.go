package crypto

import (
	"crypto/aes"
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"
)

// keyWrapIV is the default integrity check value from RFC 3394 section 2.2.3.1.
var keyWrapIV = [8]byte{0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6}

// KeyWrap wraps dek under kek following RFC 3394. dek must be a multiple
// of 8 bytes and at least 16 bytes long; the wrapped output is 8 bytes
// longer than dek. No ecosystem library in the corpus implements RFC
// 3394 key wrap, so this is a direct, from-spec implementation over
// stdlib crypto/aes (see DESIGN.md).
func KeyWrap(kek, dek []byte) ([]byte, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "KeyWrap",
		"package":  "crypto",
	})
	logger.Debug("Function entry: wrapping key")
	defer logger.Debug("Function exit: KeyWrap")

	if len(dek) < 16 || len(dek)%8 != 0 {
		err := fmt.Errorf("dek must be a multiple of 8 bytes, >= 16, got %d", len(dek))
		return nil, newError("KeyWrap", KindInvalidKey, err)
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, newError("KeyWrap", KindInvalidKey, err)
	}

	n := len(dek) / 8
	r := make([][8]byte, n+1)
	copy(r[0][:], keyWrapIV[:])
	for i := 0; i < n; i++ {
		copy(r[i+1][:], dek[i*8:(i+1)*8])
	}

	buf := make([]byte, 16)
	for j := 0; j <= 5; j++ {
		for i := 1; i <= n; i++ {
			copy(buf[:8], r[0][:])
			copy(buf[8:], r[i][:])
			block.Encrypt(buf, buf)

			t := uint64(n*j + i)
			var tBytes [8]byte
			binary.BigEndian.PutUint64(tBytes[:], t)
			for k := 0; k < 8; k++ {
				buf[k] ^= tBytes[k]
			}

			copy(r[0][:], buf[:8])
			copy(r[i][:], buf[8:])
		}
	}

	out := make([]byte, (n+1)*8)
	copy(out[:8], r[0][:])
	for i := 1; i <= n; i++ {
		copy(out[i*8:(i+1)*8], r[i][:])
	}

	return out, nil
}

// KeyUnwrap reverses KeyWrap, returning KindAuthTagMismatch if the
// integrity check value does not match after unwrapping — a tampered or
// mismatched kek is indistinguishable from corruption, by design.
func KeyUnwrap(kek, wrapped []byte) ([]byte, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "KeyUnwrap",
		"package":  "crypto",
	})
	logger.Debug("Function entry: unwrapping key")
	defer logger.Debug("Function exit: KeyUnwrap")

	if len(wrapped) < 24 || len(wrapped)%8 != 0 {
		err := fmt.Errorf("wrapped key must be a multiple of 8 bytes, >= 24, got %d", len(wrapped))
		return nil, newError("KeyUnwrap", KindInvalidCiphertext, err)
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, newError("KeyUnwrap", KindInvalidKey, err)
	}

	n := len(wrapped)/8 - 1
	r := make([][8]byte, n+1)
	copy(r[0][:], wrapped[:8])
	for i := 1; i <= n; i++ {
		copy(r[i][:], wrapped[i*8:(i+1)*8])
	}

	buf := make([]byte, 16)
	for j := 5; j >= 0; j-- {
		for i := n; i >= 1; i-- {
			t := uint64(n*j + i)
			var tBytes [8]byte
			binary.BigEndian.PutUint64(tBytes[:], t)

			copy(buf[:8], r[0][:])
			for k := 0; k < 8; k++ {
				buf[k] ^= tBytes[k]
			}
			copy(buf[8:], r[i][:])

			block.Decrypt(buf, buf)

			copy(r[0][:], buf[:8])
			copy(r[i][:], buf[8:])
		}
	}

	if r[0] != keyWrapIV {
		logger.Warn("key unwrap integrity check failed")
		return nil, newError("KeyUnwrap", KindAuthTagMismatch, fmt.Errorf("integrity check value mismatch"))
	}

	out := make([]byte, n*8)
	for i := 1; i <= n; i++ {
		copy(out[(i-1)*8:i*8], r[i][:])
	}

	return out, nil
}
