package metrics

import "sync"

// Event names recorded by the signaling core. Counters are created lazily on
// first increment, so this list is documentation rather than registration.
const (
	EventPeerJoined   = "peer_joined"
	EventPeerLeft     = "peer_left"
	EventMsgForwarded = "msg_forwarded"
	EventMsgBroadcast = "msg_broadcast"

	EventDropRateLimited   = "drop_rate_limited"
	EventDropReplay        = "drop_replay_rejected"
	EventDropBadPayload    = "drop_bad_payload"
	EventDropUnknownType   = "drop_unknown_type"
	EventDropTargetMissing = "drop_target_missing"
	EventDropSendFailed    = "drop_send_failed"

	EventRejectForbiddenOrigin = "reject_forbidden_origin"
	EventRejectUnauthorized    = "reject_unauthorized_token"
	EventRejectBrowserOnly     = "reject_browser_only"
	EventRejectRoomFull        = "reject_room_full"
)

// Metrics is a minimal, concurrency-safe counter registry. The relay's
// observability needs are a handful of monotonic counters; anything richer
// belongs in the scraping side.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters for exposition.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
