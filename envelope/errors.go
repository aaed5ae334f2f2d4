package envelope

import "fmt"

// Kind classifies envelope-level failures. The engine package promotes
// these into its own flat error taxonomy at the API boundary.
type Kind int

const (
	// KindInvalidArg marks malformed inputs to Encrypt: a bad recipient
	// count or an oversized plaintext.
	KindInvalidArg Kind = iota
	// KindMalformed marks a wire-format envelope that fails to parse:
	// bad magic, truncated sections, size fields that don't fit the
	// input.
	KindMalformed
	// KindUnsupportedVersion marks an envelope whose version field is
	// not the one this package implements.
	KindUnsupportedVersion
	// KindAuthTagMismatch marks an AEAD tag that failed to verify. No
	// plaintext is ever returned alongside this error.
	KindAuthTagMismatch
	// KindSignatureInvalid marks a signature that failed to verify
	// against the resolved sender public key. The plaintext is
	// discarded.
	KindSignatureInvalid
	// KindKeyUnavailable marks a decrypt attempt where none of the
	// recipient entries could be unwrapped with the caller's KEM private
	// key.
	KindKeyUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArg:
		return "invalid_arg"
	case KindMalformed:
		return "malformed"
	case KindUnsupportedVersion:
		return "unsupported_version"
	case KindAuthTagMismatch:
		return "auth_tag_mismatch"
	case KindSignatureInvalid:
		return "signature_invalid"
	case KindKeyUnavailable:
		return "key_unavailable"
	default:
		return "unknown"
	}
}

// Error is the sentinel error type returned by this package.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("envelope: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("envelope: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}
