// Package address derives the storage key of a campaign from its creator
// and hashtag.
package address

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	appErrors "github.com/unclebandit/engagement-escrow/internal/errors"
	"github.com/unclebandit/engagement-escrow/internal/model"
)

var seedPrefix = []byte("campaign")

// Derive maps (creator, hashtag) to a stable campaign address. The creator
// key and the hashtag are length-checked first, so the concatenated seed is
// unambiguous.
func Derive(creator model.Identity, hashtag string) (model.Address, error) {
	key := creator.Bytes()
	if len(key) != model.IdentityLength {
		return "", appErrors.NewInvalidInput("creator %q is not a valid identity", creator)
	}
	if err := ValidateHashtag(hashtag); err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(seedPrefix)
	h.Write(key)
	h.Write([]byte(hashtag))
	return model.Address(hex.EncodeToString(h.Sum(nil))), nil
}

func ValidateHashtag(hashtag string) error {
	if hashtag == "" {
		return appErrors.NewInvalidInput("hashtag is required")
	}
	if len(hashtag) > model.MaxHashtagLength {
		return appErrors.NewInvalidInput("hashtag exceeds %d bytes", model.MaxHashtagLength)
	}
	return nil
}

// Parse validates the textual form of an address and normalizes it to the
// lowercase hex produced by Derive.
func Parse(s string) (model.Address, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != sha256.Size {
		return "", appErrors.NewInvalidInput("address %q is malformed", s)
	}
	return model.Address(s), nil
}
