package signaling

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/securecall/webrtc-call-relay/internal/auth"
	"github.com/securecall/webrtc-call-relay/internal/config"
	"github.com/securecall/webrtc-call-relay/internal/metrics"
	"github.com/securecall/webrtc-call-relay/internal/origin"
	"github.com/securecall/webrtc-call-relay/internal/ratelimit"
	"github.com/securecall/webrtc-call-relay/internal/replay"
	"github.com/securecall/webrtc-call-relay/internal/room"
)

// Server terminates signaling WebSockets. It owns the admission gate and the
// per-connection lifecycle; room state lives in the shared Registry.
type Server struct {
	cfg      config.Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	clock    clock.Clock
	registry *room.Registry
	verifier auth.TokenVerifier
	flood    *ratelimit.FloodGovernor
	guard    *replay.Guard
	upgrader websocket.Upgrader
}

// Options wires the server's collaborators. Registry is required; nil
// Metrics, Clock, and Logger fall back to no-op/real implementations.
type Options struct {
	Config   config.Config
	Registry *room.Registry
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Clock    clock.Clock
}

func NewServer(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Server{
		cfg:      opts.Config,
		log:      log,
		metrics:  opts.Metrics,
		clock:    clk,
		registry: opts.Registry,
		verifier: auth.TokenVerifier{Expected: opts.Config.RoomToken},
		flood:    ratelimit.NewFloodGovernor(opts.Config.MaxWSMessagesPerSecond, clk, log),
		guard:    replay.NewGuard(clk),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin is enforced by the admission gate below, against the
			// configured allow-list rather than gorilla's same-host default.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP runs the admission gate and, on success, the connection's
// signaling session until the peer goes away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Hard rejections happen before the upgrade: the client gets a plain
	// HTTP status and no room state is touched.
	if !origin.Allowed(r.Header.Get("Origin"), s.cfg.AllowedOrigins) {
		s.metrics.Inc(metrics.EventRejectForbiddenOrigin)
		// The offered Origin value is deliberately not logged.
		s.log.Warn("rejected connection", "reason", "forbidden origin", "remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	echoProtocol, err := s.verifier.Authorize(r.Header.Get("Sec-WebSocket-Protocol"), r.URL.Query().Get("t"))
	if err != nil {
		s.metrics.Inc(metrics.EventRejectUnauthorized)
		s.log.Warn("rejected connection", "reason", "unauthorized token", "remote", r.RemoteAddr)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var respHeader http.Header
	if echoProtocol != "" {
		// Chrome closes the socket unless the server echoes one of the
		// offered subprotocols.
		respHeader = http.Header{"Sec-WebSocket-Protocol": {echoProtocol}}
	}

	conn, err := s.upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		return
	}
	conn.SetReadLimit(s.cfg.MaxWSMessageBytes)

	// Soft rejections: the connection opens, one explanatory message is
	// sent, then the server closes. Some clients only render the reason if
	// something arrives over the channel before the close frame.
	if s.cfg.BrowserOnly && !isBrowser(r.UserAgent()) {
		s.metrics.Inc(metrics.EventRejectBrowserOnly)
		s.log.Info("rejected connection", "reason", "browser-only", "remote", r.RemoteAddr)
		_ = writeJSONNow(conn, newBrowserOnly())
		writeClose(conn, websocket.ClosePolicyViolation, "browser required")
		_ = conn.Close()
		return
	}

	roomID := r.URL.Query().Get("room")
	wsc := newWSConn(conn)

	rm, memberID, existing, err := s.registry.Join(roomID, wsc)
	if errors.Is(err, room.ErrRoomFull) {
		s.metrics.Inc(metrics.EventRejectRoomFull)
		s.log.Info("rejected connection", "reason", "room full", "capacity", rm.Capacity())
		_ = writeJSONNow(conn, newFull(rm.Capacity()))
		writeClose(conn, websocket.CloseNormalClosure, "room full")
		_ = conn.Close()
		return
	}
	if err != nil {
		_ = conn.Close()
		return
	}

	s.runSession(wsc, rm, memberID, existing)
}

func (s *Server) runSession(wsc *wsConn, rm *room.Room, memberID string, existing []room.RosterEntry) {
	go wsc.writePump()

	defer func() {
		// Cleanup is unconditional: transport error, close frame, and
		// shutdown all land here.
		wsc.Close()
		s.flood.Forget(memberID)
		s.guard.Forget(rm.ID(), memberID)
		if rm.Leave(memberID) {
			rm.Broadcast(newPeerLeft(memberID), "")
			s.metrics.Inc(metrics.EventPeerLeft)
			s.log.Info("peer left", "peer", shortID(memberID), "room_size", rm.Size())
		}
	}()

	if err := wsc.SendJSON(newHello(memberID, existing)); err != nil {
		return
	}
	rm.Broadcast(newPeerJoined(memberID), memberID)
	s.metrics.Inc(metrics.EventPeerJoined)
	s.log.Info("peer joined", "peer", shortID(memberID), "room_size", rm.Size())

	rt := &router{
		log:      s.log,
		metrics:  s.metrics,
		clock:    s.clock,
		room:     rm,
		guard:    s.guard,
		memberID: memberID,
	}

	conn := wsc.conn
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		if msgType != websocket.TextMessage {
			continue
		}
		if !s.flood.Allow(memberID) {
			s.metrics.Inc(metrics.EventDropRateLimited)
			continue
		}
		rt.route(data)
	}
}
