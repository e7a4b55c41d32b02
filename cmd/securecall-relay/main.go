package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/securecall/webrtc-call-relay/internal/config"
	"github.com/securecall/webrtc-call-relay/internal/discovery"
	"github.com/securecall/webrtc-call-relay/internal/httpserver"
	"github.com/securecall/webrtc-call-relay/internal/metrics"
	"github.com/securecall/webrtc-call-relay/internal/room"
	"github.com/securecall/webrtc-call-relay/internal/signaling"
	"github.com/securecall/webrtc-call-relay/internal/tunnel"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting securecall-relay",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"max_peers", cfg.MaxPeers,
		"browser_only", cfg.BrowserOnly,
		"origin_allowlist_size", len(cfg.AllowedOrigins),
		"room_token_set", cfg.RoomToken != "",
		"static_dir_set", cfg.StaticDir != "",
		"discovery_enabled", cfg.DiscoveryEnabled,
		"tunnel_enabled", cfg.TunnelEnabled,
	)
	if len(cfg.AllowedOrigins) == 0 {
		logger.Warn("no origin allow-list configured; any origin may connect")
	}
	if cfg.RoomToken == "" {
		logger.Warn("no room token configured; the room is open")
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	m := metrics.New()
	registry := room.NewRegistry(room.Options{
		Capacity:   cfg.MaxPeers,
		LeftNotice: signaling.PeerLeftNotice,
		Logger:     logger,
	})
	sig := signaling.NewServer(signaling.Options{
		Config:   cfg,
		Registry: registry,
		Metrics:  m,
		Logger:   logger,
	})

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(httpserver.Options{
		Config:    cfg,
		Logger:    logger,
		Build:     httpserver.BuildInfo{Commit: commit, BuildTime: built},
		Registry:  registry,
		Metrics:   m,
		Signaling: sig,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DiscoveryEnabled {
		httpPort := listenerPort(ln)
		responder := discovery.NewResponder(cfg.DiscoveryPort, httpPort, logger)
		go func() {
			if err := responder.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("discovery responder stopped", "err", err)
			}
		}()
	}

	if cfg.TunnelEnabled {
		runner := tunnel.NewRunner(tunnel.Options{
			LocalPort: listenerPort(ln),
			Logger:    logger,
			OnURL: func(url string) {
				logger.Info("relay reachable at public url", "url", url)
			},
		})
		go func() {
			if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("tunnel stopped", "err", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func listenerPort(ln net.Listener) int {
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

func resolveBuildInfo(commit, built string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the
	// Go build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if built == "" {
					built = s.Value
				}
			}
		}
	}
	return commit, built
}
