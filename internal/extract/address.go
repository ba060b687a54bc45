package extract

import (
	"regexp"
	"strings"
)

// Email regex for finding address-shaped substrings in free text
var addressRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// IsRelayAddress reports whether addr belongs to the form-relay service.
// The relay identifier is matched as a case-insensitive substring so that
// both "noreply@formsubmit.co" and "formsubmit.co+token@..." are caught.
func IsRelayAddress(addr, relayIdentifier string) bool {
	if relayIdentifier == "" {
		return false
	}
	return strings.Contains(strings.ToLower(addr), strings.ToLower(relayIdentifier))
}

// FindAddress returns the first email-shaped substring in text that does not
// belong to the relay service, or "" if none exists.
func FindAddress(text, relayIdentifier string) string {
	for _, m := range addressRegex.FindAllString(text, -1) {
		if !IsRelayAddress(m, relayIdentifier) {
			return m
		}
	}
	return ""
}

// FindAllAddresses returns every relay-excluded address in text, in order.
func FindAllAddresses(text, relayIdentifier string) []string {
	var out []string
	for _, m := range addressRegex.FindAllString(text, -1) {
		if !IsRelayAddress(m, relayIdentifier) {
			out = append(out, m)
		}
	}
	return out
}
