package discovery

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"
)

// freeUDPPort reserves and releases an ephemeral port so the responder can
// bind it on a loopback-only test run.
func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()
	return port
}

func TestResponderAnswersProbe(t *testing.T) {
	port := freeUDPPort(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewResponder(port, 8790, log)
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// Give the responder a moment to bind.
	time.Sleep(50 * time.Millisecond)

	target := "127.0.0.1:" + strconv.Itoa(port)
	ann, err := discover(ctx, target, 3, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if ann.Role != "host" || ann.Port != 8790 {
		t.Fatalf("announcement = %+v, want role=host port=8790", ann)
	}
	if ann.Host != "127.0.0.1" {
		t.Fatalf("host = %q, want the responder address", ann.Host)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("responder did not stop on cancel")
	}
}

func TestResponderIgnoresJunkDatagrams(t *testing.T) {
	port := freeUDPPort(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewResponder(port, 8790, log)
	go func() { _ = r.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer conn.Close()

	dst := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
	if _, err := conn.WriteToUDP([]byte("not the magic"), dst); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, maxDatagram)
	if n, _, err := conn.ReadFromUDP(buf); err == nil {
		t.Fatalf("got unexpected reply %q to a junk probe", buf[:n])
	}
}

func TestDiscoverTimesOutWithoutHost(t *testing.T) {
	port := freeUDPPort(t) // nothing listens here

	ctx := context.Background()
	target := "127.0.0.1:" + strconv.Itoa(port)
	start := time.Now()
	_, err := discover(ctx, target, 2, 100*time.Millisecond)
	if err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("discover took %v, attempts are not bounded", elapsed)
	}
}
