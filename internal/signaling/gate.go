package signaling

import "strings"

// browserMarkers are case-insensitive substrings expected somewhere in a real
// browser's User-Agent. The heuristic is intentionally loose: it exists to
// turn away scripted clients politely, not to fingerprint browsers.
var browserMarkers = []string{
	"mozilla",
	"chrome",
	"safari",
	"firefox",
	"edg",
	"opr",
	"mobile",
}

// isBrowser reports whether the client-identifying string looks like a
// browser User-Agent.
func isBrowser(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, marker := range browserMarkers {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}
