// Package gek implements the Group Encryption Key lifecycle: generation,
// at-rest wrapping under the owner's own KEM key, Initial Key Packet
// (IKP) construction and verification, and the rotation state machine
// that provides forward secrecy against removed members.
//
// A group's active key material is never itself transmitted in the
// clear: the owner wraps a fresh 32-byte GEK per member by
// KEM-encapsulating to that member's public key and AES-key-wrapping
// the GEK under the resulting shared secret, exactly as a direct
// envelope wraps its own DEK per recipient. Removing a member and
// rotating is what keeps messages sent under the new version unreadable
// to them — the new IKP simply omits their entry. Messages under older
// versions stay readable with the keys they already hold.
package gek
