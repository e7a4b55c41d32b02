package httpserver

import "net/http"

// contentSecurityPolicy locks the frontend down to same-origin assets plus
// the WebSocket endpoints it needs. Inline styles stay allowed because the
// call UI toggles layout through style attributes.
const contentSecurityPolicy = "default-src 'self'; " +
	"script-src 'self'; " +
	"style-src 'self' 'unsafe-inline'; " +
	"img-src 'self' data:; " +
	"connect-src 'self' ws: wss:; " +
	"base-uri 'none'; frame-ancestors 'none'"

func securityHeadersMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			setIfAbsent(h, "X-Content-Type-Options", "nosniff")
			setIfAbsent(h, "X-Frame-Options", "DENY")
			setIfAbsent(h, "Referrer-Policy", "no-referrer")
			setIfAbsent(h, "Strict-Transport-Security", "max-age=15552000")
			setIfAbsent(h, "Permissions-Policy", "camera=(self), microphone=(self), geolocation=()")
			setIfAbsent(h, "Content-Security-Policy", contentSecurityPolicy)
			next.ServeHTTP(w, r)
		})
	}
}

func setIfAbsent(h http.Header, key, value string) {
	if h.Get(key) == "" {
		h.Set(key, value)
	}
}
