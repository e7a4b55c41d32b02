package signaling

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/benbjohnson/clock"

	"github.com/securecall/webrtc-call-relay/internal/metrics"
	"github.com/securecall/webrtc-call-relay/internal/replay"
	"github.com/securecall/webrtc-call-relay/internal/room"
)

// router classifies one admitted member's inbound messages and dispatches
// them. One router exists per connection; it is driven synchronously by the
// read loop, so per-connection ordering is preserved by construction.
type router struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	clock   clock.Clock

	room     *room.Room
	guard    *replay.Guard
	memberID string
}

// route handles a single raw message. Every failure mode is a silent drop;
// malformed traffic never terminates the connection.
func (rt *router) route(data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		rt.metrics.Inc(metrics.EventDropBadPayload)
		return
	}

	switch {
	case msg.Type == typeName:
		rt.handleName(msg)
	case msg.Type == typeChat:
		rt.handleChat(msg)
	case addressedTypes[msg.Type]:
		rt.handleAddressed(msg, data)
	default:
		rt.metrics.Inc(metrics.EventDropUnknownType)
	}
}

func (rt *router) handleName(msg inbound) {
	roster, ok := rt.room.SetName(rt.memberID, msg.Name)
	if !ok {
		return
	}
	rt.room.Broadcast(newRoster(roster), "")
	rt.metrics.Inc(metrics.EventMsgBroadcast)
}

func (rt *router) handleChat(msg inbound) {
	text := strings.TrimSpace(msg.Text)
	if runes := []rune(text); len(runes) > MaxChatLen {
		text = string(runes[:MaxChatLen])
	}
	if text == "" {
		return
	}

	// The server stamps chat timestamps; clients never control them.
	rt.room.Broadcast(chatMessage{
		Type: typeChat,
		From: rt.memberID,
		Name: rt.room.Name(rt.memberID),
		Text: text,
		TS:   rt.clock.Now().UnixMilli(),
	}, "")
	rt.metrics.Inc(metrics.EventMsgBroadcast)
}

func (rt *router) handleAddressed(msg inbound, data []byte) {
	if msg.To == "" || !rt.room.Has(msg.To) {
		rt.metrics.Inc(metrics.EventDropTargetMissing)
		return
	}

	if msg.Type == typeICE && !validCandidate(msg.Candidate) {
		rt.metrics.Inc(metrics.EventDropBadPayload)
		return
	}

	if msg.TS == nil || !rt.guard.Validate(rt.room.ID(), rt.memberID, *msg.TS) {
		rt.metrics.Inc(metrics.EventDropReplay)
		return
	}

	// Forward the payload as received, but never trust a client-supplied
	// "from": overwrite it with the sender's authenticated id.
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		rt.metrics.Inc(metrics.EventDropBadPayload)
		return
	}
	payload["from"] = rt.memberID

	if !rt.room.SendTo(msg.To, payload) {
		// Target vanished or its transport failed; the forward is dropped and
		// the sender learns about it through the peer-left broadcast.
		rt.metrics.Inc(metrics.EventDropSendFailed)
		rt.log.Warn("forward failed", "msg_type", msg.Type, "to", shortID(msg.To), "from", shortID(rt.memberID))
		return
	}

	rt.metrics.Inc(metrics.EventMsgForwarded)
	rt.log.Info("forwarded", "msg_type", msg.Type, "to", shortID(msg.To), "from", shortID(rt.memberID))
}

func shortID(id string) string {
	if len(id) > 6 {
		return id[:6]
	}
	return id
}
