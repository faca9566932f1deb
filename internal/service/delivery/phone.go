package delivery

import "strings"

// CanonicalPhone normalizes a recipient number to international form.
// Numbers already carrying a "+" prefix pass through unchanged; "00"
// international notation is rewritten to "+"; a bare number that starts with
// the region's country code gets a "+"; anything else is treated as a local
// number and receives the region's default prefix.
func CanonicalPhone(raw, defaultPrefix string) string {
	s := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	if strings.HasPrefix(s, "00") {
		s = "+" + s[2:]
	}
	if strings.HasPrefix(s, "+") {
		return s
	}

	cc := strings.TrimPrefix(defaultPrefix, "+")
	if cc != "" && strings.HasPrefix(s, cc) {
		return "+" + s
	}
	return defaultPrefix + s
}
