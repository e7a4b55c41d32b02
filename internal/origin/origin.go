// Package origin validates browser Origin headers against the configured
// allow-list. The functions are pure so the admission path stays testable
// without HTTP machinery.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// Normalize validates an Origin header and returns it in canonical
// scheme://host[:port] form. Default ports are stripped, scheme and hostname
// are lowercased. The opaque value "null" is passed through unchanged.
func Normalize(originHeader string) (string, bool) {
	trimmed := strings.TrimSpace(originHeader)
	if trimmed == "" {
		return "", false
	}
	if trimmed == "null" {
		return "null", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return "", false
	}

	var port uint64
	if rawPort := u.Port(); rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host = host + ":" + strconv.FormatUint(port, 10)
	}
	return scheme + "://" + host, true
}

// Allowed reports whether a request may proceed under the configured
// allow-list.
//
// An empty allow-list admits everything, including requests with no Origin
// header at all (non-browser tooling, same-origin websockets in some agents).
// A non-empty list requires a present, well-formed Origin that normalizes to
// one of the configured entries; "*" matches any well-formed origin.
func Allowed(originHeader string, allowedOrigins []string) bool {
	if len(allowedOrigins) == 0 {
		return true
	}

	normalized, ok := Normalize(originHeader)
	if !ok {
		return false
	}

	for _, allowed := range allowedOrigins {
		if allowed == "*" {
			return true
		}
		if candidate, ok := Normalize(allowed); ok && candidate == normalized {
			return true
		}
	}
	return false
}
