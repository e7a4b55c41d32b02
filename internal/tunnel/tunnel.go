// Package tunnel publishes the relay over localhost.run so two devices can
// reach it without port forwarding. It shells out to OpenSSH with a reverse
// forward and scrapes the public https URL from the session banner.
package tunnel

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// DefaultHost is the localhost.run endpoint for keyless tunnels.
const DefaultHost = "nokey@localhost.run"

var urlPattern = regexp.MustCompile(`https://([a-z0-9\-]+\.lhr\.life)`)

// extractPublicURL pulls the first https://<sub>.lhr.life link out of ssh
// output, dropping any trailing path noise.
func extractPublicURL(text string) string {
	m := urlPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return "https://" + m[1]
}

// Options configures a Runner. Zero values get sensible defaults.
type Options struct {
	// LocalPort is the relay's HTTP port to expose.
	LocalPort int

	// Host overrides the ssh destination. Defaults to DefaultHost.
	Host string

	Logger *slog.Logger

	// OnURL is invoked once per ssh session when the public URL appears.
	OnURL func(url string)
}

// Runner keeps a localhost.run tunnel alive, restarting the ssh process with
// backoff when it dies.
type Runner struct {
	opts Options
	log  *slog.Logger

	mu  sync.Mutex
	url string

	// command builds the ssh invocation. Tests set it to avoid depending
	// on an installed ssh client; nil means the real thing.
	command func(ctx context.Context) *exec.Cmd
}

func NewRunner(opts Options) *Runner {
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Runner{opts: opts, log: log}
}

// URL returns the public URL of the current session, or "" before the
// banner has been seen.
func (r *Runner) URL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.url
}

// EnsureKey generates an ed25519 key at ~/.ssh/localhost_run when absent and
// returns its path. The key is optional for the nokey endpoint but lets
// users claim a stable subdomain later.
func EnsureKey() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	sshDir := filepath.Join(home, ".ssh")
	keyPath := filepath.Join(sshDir, "localhost_run")

	if _, err := os.Stat(keyPath); err == nil {
		return keyPath, nil
	}
	if err := os.MkdirAll(sshDir, 0o700); err != nil {
		return "", err
	}

	out, err := exec.Command("ssh-keygen", "-t", "ed25519", "-f", keyPath, "-N", "").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("ssh-keygen: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return keyPath, nil
}

func (r *Runner) sshCommand(ctx context.Context) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "ssh",
		"-tt",
		"-o", "StrictHostKeyChecking=accept-new",
		"-o", "ServerAliveInterval=30",
		"-o", "ExitOnForwardFailure=yes",
		"-R", fmt.Sprintf("80:127.0.0.1:%d", r.opts.LocalPort),
		r.opts.Host,
	)
	cmd.Env = append(os.Environ(), "TERM=xterm")
	return cmd
}

// Run starts the tunnel and keeps restarting it until ctx is cancelled.
// Returns early only when ssh is not installed.
func (r *Runner) Run(ctx context.Context) error {
	if r.command == nil {
		if _, err := exec.LookPath("ssh"); err != nil {
			return fmt.Errorf("tunnel: openssh client not found: %w", err)
		}
		r.command = r.sshCommand
	}

	backoff := time.Second
	for {
		err := r.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.log.Warn("tunnel session ended, restarting", "err", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) error {
	r.mu.Lock()
	r.url = ""
	r.mu.Unlock()

	cmd := r.command(ctx)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return err
	}
	r.log.Info("tunnel session starting")

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		r.log.Info("tunnel output", "line", line)

		if url := extractPublicURL(line); url != "" && r.URL() == "" {
			r.mu.Lock()
			r.url = url
			r.mu.Unlock()
			r.log.Info("tunnel url ready", "url", url)
			if r.opts.OnURL != nil {
				r.opts.OnURL(url)
			}
		}
	}

	return cmd.Wait()
}
