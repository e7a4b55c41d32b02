// Package discovery lets call participants find a relay on the local network
// without exchanging addresses ahead of time. The relay answers UDP broadcast
// probes with its role and HTTP port; guests broadcast the probe and connect
// to whoever answers as host.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"time"
)

// Port is the UDP port the responder listens on.
const Port = 37020

// probeMagic is the exact datagram a guest broadcasts. Anything else hitting
// the port is ignored.
const probeMagic = "SECURECALL_WEBRTC_DISCOVER_V2"

const maxDatagram = 4096

// Announcement is the responder's answer to a probe. Host is filled in by
// Discover from the sender address, not from the payload.
type Announcement struct {
	Role string `json:"role"`
	Port int    `json:"port"`
	Host string `json:"host,omitempty"`
}

var ErrNotFound = errors.New("discovery: no host answered")

// Responder answers discovery probes with this relay's HTTP port.
type Responder struct {
	log        *slog.Logger
	listenPort int
	httpPort   int
}

func NewResponder(listenPort, httpPort int, log *slog.Logger) *Responder {
	if log == nil {
		log = slog.Default()
	}
	if listenPort <= 0 {
		listenPort = Port
	}
	return &Responder{log: log, listenPort: listenPort, httpPort: httpPort}
}

// Run binds the discovery port and serves probes until ctx is cancelled.
func (r *Responder) Run(ctx context.Context) error {
	lc := net.ListenConfig{}
	pc, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(r.listenPort)))
	if err != nil {
		return err
	}
	defer pc.Close()

	go func() {
		<-ctx.Done()
		_ = pc.Close()
	}()

	r.log.Info("discovery responder listening", "port", r.listenPort)

	reply, err := json.Marshal(Announcement{Role: "host", Port: r.httpPort})
	if err != nil {
		return err
	}

	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if string(buf[:n]) != probeMagic {
			continue
		}
		if _, err := pc.WriteTo(reply, addr); err != nil {
			r.log.Warn("discovery reply failed", "err", err)
		}
	}
}

// Discover broadcasts probes and returns the first host announcement. Each
// attempt waits up to timeout for an answer before rebroadcasting.
func Discover(ctx context.Context, attempts int, timeout time.Duration) (*Announcement, error) {
	return discover(ctx, "255.255.255.255:"+strconv.Itoa(Port), attempts, timeout)
}

func discover(ctx context.Context, target string, attempts int, timeout time.Duration) (*Announcement, error) {
	dst, err := net.ResolveUDPAddr("udp4", target)
	if err != nil {
		return nil, err
	}

	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if ann := probeOnce(dst, timeout); ann != nil {
			return ann, nil
		}
	}
	return nil, ErrNotFound
}

func probeOnce(dst *net.UDPAddr, timeout time.Duration) *Announcement {
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil
	}
	defer conn.Close()

	if _, err := conn.WriteToUDP([]byte(probeMagic), dst); err != nil {
		return nil
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))

	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return nil
		}
		var ann Announcement
		if json.Unmarshal(buf[:n], &ann) != nil || ann.Role != "host" {
			continue
		}
		ann.Host = addr.IP.String()
		return &ann
	}
}

