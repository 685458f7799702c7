package chat

import (
	"hash/fnv"
	"net/url"
	"strings"
)

const avatarBaseURL = "https://api.dicebear.com/7.x/identicon/svg"

var avatarBackgrounds = []string{"b6e3f4", "c0aede", "d1d4f9", "ffd5dc", "ffdfbf"}

// ShortAddress abbreviates an address as 0x1234...abcd.
func ShortAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

// IsNameServiceName reports whether s is a human readable .sui identity.
func IsNameServiceName(s string) bool {
	return strings.HasSuffix(strings.ToLower(s), ".sui")
}

// AvatarURL returns the avatar for an address. The same address always
// yields the same URL.
func AvatarURL(addr string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(addr)))
	bg := avatarBackgrounds[h.Sum32()%uint32(len(avatarBackgrounds))]

	q := url.Values{}
	q.Set("seed", addr)
	q.Set("backgroundColor", bg)
	q.Set("radius", "50")
	return avatarBaseURL + "?" + q.Encode()
}
