package model

import (
	"encoding/hex"
	"strings"

	appErrors "github.com/unclebandit/engagement-escrow/internal/errors"
)

// IdentityLength is the size in bytes of the ed25519 public key behind an Identity.
const IdentityLength = 32

// Identity is the lowercase hex form of a participant's ed25519 public key.
// The empty Identity means "unset".
type Identity string

// ParseIdentity normalizes and validates a hex-encoded public key.
func ParseIdentity(s string) (Identity, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != IdentityLength {
		return "", appErrors.NewInvalidInput("identity %q is not a %d-byte hex key", s, IdentityLength)
	}
	return Identity(s), nil
}

// IdentityFromKey encodes a raw public key.
func IdentityFromKey(key []byte) Identity {
	return Identity(hex.EncodeToString(key))
}

func (i Identity) IsZero() bool {
	return i == ""
}

// Valid reports whether i is a well-formed, set identity.
func (i Identity) Valid() bool {
	_, err := ParseIdentity(string(i))
	return err == nil && string(i) == strings.ToLower(string(i))
}

// Bytes returns the decoded public key, or nil if i is malformed.
func (i Identity) Bytes() []byte {
	raw, err := hex.DecodeString(string(i))
	if err != nil {
		return nil
	}
	return raw
}
