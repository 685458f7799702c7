package profile

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	hexAddress = regexp.MustCompile(`^0x[0-9a-fA-F]{1,64}$`)
	suiName    = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}(\.[a-z0-9][a-z0-9-]{0,62})*\.sui$`)
)

// ValidateAddress accepts a 0x-prefixed hex wallet address or a .sui name.
// Addresses name profile directories, so nothing else is allowed.
func ValidateAddress(addr string) error {
	if hexAddress.MatchString(addr) || suiName.MatchString(strings.ToLower(addr)) {
		return nil
	}
	return fmt.Errorf("invalid wallet %q: want 0x followed by 1-64 hex digits, or a .sui name", addr)
}
