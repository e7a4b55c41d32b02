// Package signaling implements the relay's WebSocket signaling core: the
// admission gate for incoming upgrade requests, the per-connection receive
// loop, and the router that classifies inbound messages into roster updates,
// room-wide broadcasts, and addressed peer-to-peer forwards.
//
// The package never inspects SDP or ICE payload contents beyond shape
// validation; media negotiation stays entirely between the browsers.
package signaling
