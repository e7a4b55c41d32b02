package signaling

import (
	"encoding/json"
	"testing"
)

func TestIsBrowser(t *testing.T) {
	browsers := []string{
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 Chrome/120.0 Safari/537.36",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile/15E148",
		"MOZILLA/5.0",
		"something Edg/120.0",
		"Opera OPR/106.0",
	}
	for _, ua := range browsers {
		if !isBrowser(ua) {
			t.Errorf("isBrowser(%q) = false, want true", ua)
		}
	}

	nonBrowsers := []string{
		"",
		"curl/8.4.0",
		"python-requests/2.31",
		"Go-http-client/1.1",
		"websocat/1.12",
	}
	for _, ua := range nonBrowsers {
		if isBrowser(ua) {
			t.Errorf("isBrowser(%q) = true, want false", ua)
		}
	}
}

func TestValidCandidate(t *testing.T) {
	valid := []string{
		``,
		`null`,
		` null `,
		`{}`,
		`{"candidate":"candidate:1 1 udp 2122260223 192.0.2.1 54400 typ host","sdpMid":"0","sdpMLineIndex":0}`,
	}
	for _, raw := range valid {
		if !validCandidate(json.RawMessage(raw)) {
			t.Errorf("validCandidate(%q) = false, want true", raw)
		}
	}

	invalid := []string{
		`"candidate:1 1 udp 2122260223 192.0.2.1 54400 typ host"`,
		`42`,
		`[1,2]`,
		`{"candidate":42}`,
		`{broken`,
	}
	for _, raw := range invalid {
		if validCandidate(json.RawMessage(raw)) {
			t.Errorf("validCandidate(%q) = true, want false", raw)
		}
	}
}
