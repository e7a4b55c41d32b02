// Package auth verifies the shared room token offered by connecting clients.
//
// Browsers cannot set arbitrary headers on a WebSocket handshake, so the token
// travels in the Sec-WebSocket-Protocol offer list, either as the raw value or
// prefixed as "token.<value>". A ?t= query parameter is accepted as a
// fallback for clients that cannot use subprotocols.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

var ErrInvalidToken = errors.New("invalid room token")

const tokenProtocolPrefix = "token."

// TokenVerifier checks offered tokens against the configured room token.
// An empty Expected token disables the check entirely.
type TokenVerifier struct {
	Expected string
}

// Verify checks a single offered value in constant time.
func (v TokenVerifier) Verify(offered string) error {
	if v.Expected == "" {
		return nil
	}
	if offered == "" {
		return ErrInvalidToken
	}
	if subtle.ConstantTimeCompare([]byte(offered), []byte(v.Expected)) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// Authorize inspects the subprotocol offer list and the query fallback.
//
// On success it returns the subprotocol item the server should echo back in
// the handshake response; Chrome drops the connection when the selected
// subprotocol is not one of the offered values, so the echo must reuse an
// offered item verbatim. The returned value is empty when the client offered
// no subprotocols.
func (v TokenVerifier) Authorize(subprotocolHeader, queryToken string) (echoProtocol string, err error) {
	offered := SplitProtocols(subprotocolHeader)

	if v.Expected == "" {
		// Open room: nothing to verify, still echo a sensible subprotocol.
		for _, item := range offered {
			if item != "null" {
				return item, nil
			}
		}
		if len(offered) > 0 {
			return offered[0], nil
		}
		return "", nil
	}

	for _, item := range offered {
		candidate := item
		if strings.HasPrefix(item, tokenProtocolPrefix) {
			candidate = item[len(tokenProtocolPrefix):]
		}
		if v.Verify(candidate) == nil {
			return item, nil
		}
	}

	if v.Verify(queryToken) == nil {
		if len(offered) > 0 {
			return offered[0], nil
		}
		return "", nil
	}

	return "", ErrInvalidToken
}

// SplitProtocols parses a Sec-WebSocket-Protocol header into its offered
// items, dropping empty entries.
func SplitProtocols(header string) []string {
	var out []string
	for _, part := range strings.Split(header, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
