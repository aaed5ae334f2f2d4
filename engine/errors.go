package engine

import (
	"errors"
	"fmt"

	"github.com/nocdem/dna-messenger-sub001/crypto"
	"github.com/nocdem/dna-messenger-sub001/envelope"
	"github.com/nocdem/dna-messenger-sub001/gek"
	"github.com/nocdem/dna-messenger-sub001/identity"
	"github.com/nocdem/dna-messenger-sub001/store"
	"github.com/nocdem/dna-messenger-sub001/transport"
)

// Code is the flat error taxonomy surfaced at the engine API boundary,
// per §7: every component error gets promoted to one of these.
type Code int

const (
	CodeInvalidArg Code = iota
	CodeNoIdentity
	CodeWrongPassword
	CodePasswordRequired
	CodeNotFound
	CodeNetwork
	CodeTimeout
	CodeAuthFailed
	CodeSignatureInvalid
	CodeKeyUnavailable
	CodeDatabase
	CodeCrypto
	CodeInternal
)

func (c Code) String() string {
	switch c {
	case CodeInvalidArg:
		return "InvalidArg"
	case CodeNoIdentity:
		return "NoIdentity"
	case CodeWrongPassword:
		return "WrongPassword"
	case CodePasswordRequired:
		return "PasswordRequired"
	case CodeNotFound:
		return "NotFound"
	case CodeNetwork:
		return "Network"
	case CodeTimeout:
		return "Timeout"
	case CodeAuthFailed:
		return "AuthFailed"
	case CodeSignatureInvalid:
		return "SignatureInvalid"
	case CodeKeyUnavailable:
		return "KeyUnavailable"
	case CodeDatabase:
		return "Database"
	case CodeCrypto:
		return "Crypto"
	case CodeInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error is the sentinel error type returned across the engine API
// boundary.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine: %s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("engine: %s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(op string, code Code, err error) *Error {
	return &Error{Op: op, Code: code, Err: err}
}

// promote maps a component-level sentinel error to the flat taxonomy,
// per §7's table. An error type this function doesn't recognize is
// treated as Internal: an invariant violation worth investigating, not
// a condition the caller can act on.
func promote(op string, err error) error {
	if err == nil {
		return nil
	}

	var cerr *crypto.Error
	if errors.As(err, &cerr) {
		return newError(op, CodeCrypto, err)
	}

	var eerr *envelope.Error
	if errors.As(err, &eerr) {
		switch eerr.Kind {
		case envelope.KindAuthTagMismatch:
			return newError(op, CodeAuthFailed, err)
		case envelope.KindSignatureInvalid:
			return newError(op, CodeSignatureInvalid, err)
		case envelope.KindKeyUnavailable:
			return newError(op, CodeKeyUnavailable, err)
		default:
			return newError(op, CodeInvalidArg, err)
		}
	}

	var ierr *identity.Error
	if errors.As(err, &ierr) {
		switch ierr.Kind {
		case identity.KindWrongPassword:
			return newError(op, CodeWrongPassword, err)
		case identity.KindPasswordRequired:
			return newError(op, CodePasswordRequired, err)
		case identity.KindFingerprintMismatch:
			return newError(op, CodeInternal, err)
		case identity.KindSignatureInvalid:
			return newError(op, CodeSignatureInvalid, err)
		default:
			return newError(op, CodeInvalidArg, err)
		}
	}

	var terr *transport.Error
	if errors.As(err, &terr) {
		switch terr.Kind {
		case transport.KindTimeout:
			return newError(op, CodeTimeout, err)
		case transport.KindNetwork:
			return newError(op, CodeNetwork, err)
		case transport.KindNotFound:
			return newError(op, CodeNotFound, err)
		case transport.KindAuthFailed:
			return newError(op, CodeAuthFailed, err)
		case transport.KindStorage:
			return newError(op, CodeDatabase, err)
		default:
			return newError(op, CodeInvalidArg, err)
		}
	}

	var gerr *gek.Error
	if errors.As(err, &gerr) {
		switch gerr.Kind {
		case gek.KindSignatureInvalid:
			return newError(op, CodeSignatureInvalid, err)
		case gek.KindKeyUnavailable:
			return newError(op, CodeKeyUnavailable, err)
		default:
			return newError(op, CodeInvalidArg, err)
		}
	}

	var serr *store.Error
	if errors.As(err, &serr) {
		switch serr.Kind {
		case store.KindNotFound:
			return newError(op, CodeNotFound, err)
		default:
			return newError(op, CodeDatabase, err)
		}
	}

	return newError(op, CodeInternal, err)
}
