package crypto

import (
	"crypto/subtle"
	"errors"
	"runtime"
)

// SecureWipe erases the contents of a byte slice holding secret material.
// It returns an error if the slice is nil so callers notice a programming
// mistake instead of silently skipping the wipe.
//
// XORing a buffer with itself zeros it while using an operation the
// compiler cannot fold away (subtle.XORBytes is defined to run in
// constant time and is never eliminated as dead code).
func SecureWipe(data []byte) error {
	if data == nil {
		return errors.New("crypto: cannot wipe nil buffer")
	}

	subtle.XORBytes(data, data, data)

	// runtime.KeepAlive pins data past the XOR so the compiler cannot
	// decide the store is dead and drop it.
	runtime.KeepAlive(data)

	return nil
}

// ZeroBytes wipes data, discarding the (only ever nil-slice) error.
func ZeroBytes(data []byte) {
	if data == nil {
		return
	}
	_ = SecureWipe(data)
}

// ZeroAll wipes every buffer in bufs, in order. Safe to call with nil
// entries (e.g. a shared secret that was already consumed on an earlier
// exit path).
func ZeroAll(bufs ...[]byte) {
	for _, b := range bufs {
		ZeroBytes(b)
	}
}
