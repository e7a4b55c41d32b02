package httpserver

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/securecall/webrtc-call-relay/internal/config"
	"github.com/securecall/webrtc-call-relay/internal/metrics"
	"github.com/securecall/webrtc-call-relay/internal/room"
)

var ErrServerClosed = http.ErrServerClosed

type BuildInfo struct {
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

// Server exposes the relay's HTTP surface: health and status probes, the
// metrics endpoint, ICE configuration for clients, the static frontend, and
// the signaling WebSocket itself.
type Server struct {
	log      *slog.Logger
	cfg      config.Config
	build    BuildInfo
	registry *room.Registry
	metrics  *metrics.Metrics

	ready atomic.Bool

	mux *http.ServeMux
	srv *http.Server
}

// Options wires the server's collaborators. Signaling handles the /ws route;
// Registry backs the /status report.
type Options struct {
	Config    config.Config
	Logger    *slog.Logger
	Build     BuildInfo
	Registry  *room.Registry
	Metrics   *metrics.Metrics
	Signaling http.Handler
}

func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		log:      log,
		cfg:      opts.Config,
		build:    opts.Build,
		registry: opts.Registry,
		metrics:  opts.Metrics,
		mux:      http.NewServeMux(),
	}

	s.registerRoutes(opts.Signaling)

	handler := chain(s.mux,
		recoverMiddleware(s.log),
		requestIDMiddleware(),
		requestLoggerMiddleware(s.log),
		securityHeadersMiddleware(),
		rateLimitMiddleware(s.cfg.HTTPRateLimitPerSecond, s.cfg.HTTPRateLimitBurst),
	)

	s.srv = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		// Other timeouts stay zero: /ws upgrades into a long-lived
		// connection that must not be cut by a server-wide deadline.
	}

	return s
}

func (s *Server) Serve(l net.Listener) error {
	s.ready.Store(true)
	s.log.Info("http server serving", "addr", l.Addr().String())
	return s.srv.Serve(l)
}

func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	return s.srv.Shutdown(ctx)
}

func (s *Server) Close() error {
	s.ready.Store(false)
	return s.srv.Close()
}

func (s *Server) registerRoutes(signaling http.Handler) {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	s.mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"ready": true})
	})

	s.mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, s.build)
	})

	s.mux.HandleFunc("GET /status", s.handleStatus)

	if s.metrics != nil {
		s.mux.Handle("GET /metrics", metrics.PrometheusHandler(s.metrics))
	}

	s.mux.HandleFunc("GET /webrtc/ice", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"iceServers": s.cfg.PeerConnectionICEServers()})
	})

	if signaling != nil {
		s.mux.Handle("/ws", signaling)
	}

	if s.cfg.StaticDir != "" {
		s.mux.Handle("/", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}
}

// handleStatus reports room occupancy, but only to callers that present the
// configured status secret while the admin flag is on. Everyone else gets a
// bare liveness acknowledgement instead of an error, so the endpoint leaks
// nothing about whether the detailed view exists.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AdminStatus && s.cfg.StatusSecret != "" && s.registry != nil {
		offered := r.Header.Get("X-Status-Secret")
		if subtle.ConstantTimeCompare([]byte(offered), []byte(s.cfg.StatusSecret)) == 1 {
			_, members := s.registry.Stats()
			WriteJSON(w, http.StatusOK, map[string]any{
				"peers":    members,
				"capacity": s.cfg.MaxPeers,
				"ok":       true,
			})
			return
		}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type Middleware func(http.Handler) http.Handler

func chain(handler http.Handler, middlewares ...Middleware) http.Handler {
	h := handler
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

func recoverMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic in http handler", "recover", rec, "stack", string(debug.Stack()))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func requestIDMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				var buf [16]byte
				if _, err := rand.Read(buf[:]); err == nil {
					reqID = hex.EncodeToString(buf[:])
				}
			}
			if reqID != "" {
				r.Header.Set("X-Request-ID", reqID)
				w.Header().Set("X-Request-ID", reqID)
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the hijackable writer underneath
// when the signaling handler upgrades /ws.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func requestLoggerMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(sw, r)

			// The signaling handler hijacks the connection, so the logged
			// status for /ws is the pre-upgrade 200.
			logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
				"request_id", r.Header.Get("X-Request-ID"),
			)
		})
	}
}

// WriteJSON writes a JSON response body and sets the Content-Type header.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}
