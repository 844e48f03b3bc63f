package util

import (
	"net/url"
	"regexp"
)

var (
	uuidRegex   = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	hexKeyRegex = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

func IsValidUUID(s string) bool {
	if s == "" {
		return false
	}
	return uuidRegex.MatchString(s)
}

// IsValidHexKey accepts a lowercase 32-byte hex string, the form used for
// x-only public keys, secret keys and event ids.
func IsValidHexKey(s string) bool {
	return hexKeyRegex.MatchString(s)
}

func IsValidRelayURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "ws" || u.Scheme == "wss"
}
