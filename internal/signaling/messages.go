package signaling

import (
	"bytes"
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/securecall/webrtc-call-relay/internal/room"
)

// Client-declared message types. Anything else is dropped without comment.
const (
	typeName     = "name"
	typeChat     = "chat"
	typeOffer    = "offer"
	typeAnswer   = "answer"
	typeICE      = "ice"
	typeKey      = "key"
	typeChatE2E  = "chat-e2e"
	typeSafetyOK = "safety-ok"
)

// MaxChatLen caps chat text after trimming.
const MaxChatLen = 500

// addressedTypes are forwarded to a single target and protected by the
// replay guard. Their payloads pass through opaque except for the rewritten
// "from" field.
var addressedTypes = map[string]bool{
	typeOffer:    true,
	typeAnswer:   true,
	typeICE:      true,
	typeKey:      true,
	typeChatE2E:  true,
	typeSafetyOK: true,
}

// inbound is the routing envelope decoded from every client message. Fields
// beyond these travel through untouched on addressed forwards.
type inbound struct {
	Type      string          `json:"type"`
	Name      string          `json:"name"`
	Text      string          `json:"text"`
	To        string          `json:"to"`
	TS        *float64        `json:"ts"`
	Candidate json.RawMessage `json:"candidate"`
}

// Server→client messages.

type helloMessage struct {
	Type   string             `json:"type"`
	ID     string             `json:"id"`
	Roster []room.RosterEntry `json:"roster"`
}

type peerEvent struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type rosterMessage struct {
	Type   string             `json:"type"`
	Roster []room.RosterEntry `json:"roster"`
}

type chatMessage struct {
	Type string `json:"type"`
	From string `json:"from"`
	Name string `json:"name"`
	Text string `json:"text"`
	TS   int64  `json:"ts"`
}

type fullMessage struct {
	Type     string `json:"type"`
	Capacity int    `json:"capacity"`
}

type browserOnlyMessage struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func newHello(id string, roster []room.RosterEntry) helloMessage {
	if roster == nil {
		roster = []room.RosterEntry{}
	}
	return helloMessage{Type: "hello", ID: id, Roster: roster}
}

func newPeerJoined(id string) peerEvent { return peerEvent{Type: "peer-joined", ID: id} }
func newPeerLeft(id string) peerEvent   { return peerEvent{Type: "peer-left", ID: id} }

// PeerLeftNotice builds the broadcast sent when a member is evicted. It is
// handed to the room registry so evictions triggered inside the registry
// speak the same wire shape as the signaling layer.
func PeerLeftNotice(id string) any { return newPeerLeft(id) }

func newRoster(roster []room.RosterEntry) rosterMessage {
	if roster == nil {
		roster = []room.RosterEntry{}
	}
	return rosterMessage{Type: "roster", Roster: roster}
}

func newFull(capacity int) fullMessage {
	return fullMessage{Type: "full", Capacity: capacity}
}

func newBrowserOnly() browserOnlyMessage {
	return browserOnlyMessage{Type: "browser-only", Reason: "Please join from a web browser"}
}

// validCandidate accepts an absent or null candidate, or a structured object
// matching the browser's RTCIceCandidateInit shape. A bare SDP string is
// rejected: clients must send the structured form so sdpMid/sdpMLineIndex
// survive the relay.
func validCandidate(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return true
	}
	if trimmed[0] != '{' {
		return false
	}
	var init webrtc.ICECandidateInit
	return json.Unmarshal(trimmed, &init) == nil
}
