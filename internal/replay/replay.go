// Package replay rejects re-delivered or rewound addressed signaling
// messages.
//
// Each addressed message carries a client-supplied timestamp. The guard
// requires timestamps from a given sender to be fresh (within a clock-skew
// window of server time) and strictly increasing, and additionally checks a
// small window of recently accepted values. There is no cryptographic binding:
// a sender fabricating ever-increasing timestamps passes, which is fine — the
// guard exists to stop replays of previously relayed messages, not to
// authenticate senders.
package replay

import (
	"math"
	"sync"

	"github.com/benbjohnson/clock"
)

const (
	// MaxSkewSeconds bounds how far a claimed timestamp may drift from server
	// time in either direction.
	MaxSkewSeconds = 20

	// windowSize is how many accepted timestamps are remembered per sender.
	windowSize = 64

	// epsilon is the tolerance used when matching against the recent window.
	epsilon = 1e-6

	// msThreshold detects millisecond-precision clients: anything above it is
	// treated as milliseconds and scaled down to seconds.
	msThreshold = 1e10
)

type key struct {
	room   string
	sender string
}

type senderState struct {
	lastAccepted float64
	recent       []float64 // FIFO, newest last, len <= windowSize
}

// Guard tracks per-sender replay state across rooms.
type Guard struct {
	clock clock.Clock

	mu     sync.Mutex
	states map[key]*senderState
}

// NewGuard creates a guard. A nil clk uses the real clock.
func NewGuard(clk clock.Clock) *Guard {
	if clk == nil {
		clk = clock.New()
	}
	return &Guard{
		clock:  clk,
		states: make(map[key]*senderState),
	}
}

// Validate decides whether an addressed message with the claimed timestamp
// may be forwarded, and records it on acceptance.
func (g *Guard) Validate(room, sender string, claimed float64) bool {
	if math.IsNaN(claimed) || math.IsInf(claimed, 0) || claimed <= 0 {
		return false
	}

	// Millisecond-precision clients (Date.now()) send values ~1e12; normalize
	// to seconds.
	if claimed > msThreshold {
		claimed /= 1000
	}

	now := float64(g.clock.Now().UnixNano()) / 1e9
	if math.Abs(now-claimed) > MaxSkewSeconds {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	k := key{room: room, sender: sender}
	st, ok := g.states[k]
	if !ok {
		st = &senderState{}
		g.states[k] = st
	}

	// Strictly increasing per sender. Equal timestamps are replays.
	if st.lastAccepted != 0 && claimed <= st.lastAccepted {
		return false
	}

	// Redundant with monotonicity today, but kept so relaxing the ordering
	// rule later cannot silently reopen exact-duplicate replays.
	for _, seen := range st.recent {
		if math.Abs(seen-claimed) < epsilon {
			return false
		}
	}

	st.lastAccepted = claimed
	st.recent = append(st.recent, claimed)
	if len(st.recent) > windowSize {
		st.recent = st.recent[1:]
	}
	return true
}

// Forget discards the replay state for a sender, typically on disconnect.
func (g *Guard) Forget(room, sender string) {
	g.mu.Lock()
	delete(g.states, key{room: room, sender: sender})
	g.mu.Unlock()
}
