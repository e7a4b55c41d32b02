// Package ratelimit bounds how fast a single connection may push signaling
// messages through the relay.
package ratelimit

import (
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"
)

// FloodGovernor grants each connection a fixed message budget per wall-clock
// second. Excess messages are dropped silently; the first drop in a given
// second is logged once so an abusive peer is visible without flooding the
// log itself.
//
// The one-second granularity is deliberately coarse: a burst straddling a
// second boundary can reach twice the configured rate, which is an accepted
// looseness in exchange for integer-only bookkeeping.
type FloodGovernor struct {
	log    *slog.Logger
	clock  clock.Clock
	budget int

	mu     sync.Mutex
	states map[string]*floodState
}

type floodState struct {
	second int64
	count  int
}

// NewFloodGovernor creates a governor allowing budget messages per second per
// connection. A nil clk uses the real clock.
func NewFloodGovernor(budget int, clk clock.Clock, log *slog.Logger) *FloodGovernor {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = slog.Default()
	}
	if budget <= 0 {
		budget = 1
	}
	return &FloodGovernor{
		log:    log,
		clock:  clk,
		budget: budget,
		states: make(map[string]*floodState),
	}
}

// Allow reports whether one more inbound message from the connection fits in
// the current second's budget.
func (g *FloodGovernor) Allow(connID string) bool {
	now := g.clock.Now().Unix()

	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.states[connID]
	if !ok {
		st = &floodState{second: now}
		g.states[connID] = st
	}

	if st.second != now {
		st.second = now
		st.count = 0
	}

	if st.count >= g.budget {
		if st.count == g.budget {
			// Log the first drop of this window only.
			st.count++
			g.log.Warn("rate limit exceeded", "conn", shortID(connID))
		}
		return false
	}

	st.count++
	return true
}

// Forget drops the state for a disconnected connection.
func (g *FloodGovernor) Forget(connID string) {
	g.mu.Lock()
	delete(g.states, connID)
	g.mu.Unlock()
}

func shortID(id string) string {
	if len(id) > 6 {
		return id[:6]
	}
	return id
}
