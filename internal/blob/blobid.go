package blob

import (
	"encoding/base64"
	"fmt"
	"slices"

	"github.com/holiman/uint256"
)

// FromU256 converts the decimal u256 blob id stored in a ledger object into
// the textual id readers accept: the 32 little-endian bytes in URL-safe
// base64 without padding.
func FromU256(decimal string) (string, error) {
	v, err := uint256.FromDecimal(decimal)
	if err != nil {
		return "", fmt.Errorf("blob id %q: %w", decimal, err)
	}
	b := v.Bytes32()
	slices.Reverse(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}

// ToU256 is the inverse of FromU256.
func ToU256(id string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil {
		return "", fmt.Errorf("blob id %q: %w", id, err)
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("blob id %q: %d bytes, want 32", id, len(raw))
	}
	slices.Reverse(raw)
	return new(uint256.Int).SetBytes32(raw).Dec(), nil
}
