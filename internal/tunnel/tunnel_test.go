package tunnel

import (
	"context"
	"io"
	"log/slog"
	"os/exec"
	"testing"
	"time"
)

func TestExtractPublicURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://abc123.lhr.life", "https://abc123.lhr.life"},
		{"tunneled with tls termination, https://abc-def.lhr.life", "https://abc-def.lhr.life"},
		{"https://abc123.lhr.life/some/path more text", "https://abc123.lhr.life"},
		{"http://abc123.lhr.life", ""},
		{"https://evil.example.com", ""},
		{"no url here", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := extractPublicURL(tc.in); got != tc.want {
			t.Errorf("extractPublicURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRunnerCapturesURLFromSessionOutput(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	urls := make(chan string, 1)
	r := NewRunner(Options{
		LocalPort: 8790,
		Logger:    log,
		OnURL:     func(u string) { urls <- u },
	})
	// Stand in for ssh: print a banner like localhost.run's and linger so
	// the session looks alive.
	r.command = func(ctx context.Context) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c",
			`echo "your connection id is 0000"; echo "https://t3st.lhr.life tunneled with tls termination"; sleep 5`)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	select {
	case u := <-urls:
		if u != "https://t3st.lhr.life" {
			t.Fatalf("url = %q, want https://t3st.lhr.life", u)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("tunnel url was never reported")
	}
	if r.URL() != "https://t3st.lhr.life" {
		t.Fatalf("URL() = %q after banner", r.URL())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("runner did not stop on cancel")
	}
}

func TestRunnerRestartsDeadSession(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	starts := make(chan struct{}, 8)
	r := NewRunner(Options{LocalPort: 8790, Logger: log})
	r.command = func(ctx context.Context) *exec.Cmd {
		starts <- struct{}{}
		return exec.CommandContext(ctx, "true")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-starts:
		case <-ctx.Done():
			t.Fatalf("saw %d session starts before the deadline, want at least 2", i)
		}
	}
}
