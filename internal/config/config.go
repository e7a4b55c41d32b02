// Package config loads the relay configuration from the environment.
//
// Every knob has a documented default so `securecall-relay` starts with no
// configuration at all (single room, capacity 2, no token, browsers only).
package config

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	envVarMode       = "MODE"
	envVarLogFormat  = "LOG_FORMAT"
	envVarLogLevel   = "LOG_LEVEL"
	envVarDebug      = "DEBUG"
	envVarListenAddr = "LISTEN_ADDR"

	envVarAllowedOrigins = "ALLOWED_ORIGINS"
	envVarRoomToken      = "ROOM_TOKEN"
	envVarMaxPeers       = "MAX_PEERS"
	envVarBrowserOnly    = "BROWSER_ONLY"

	envVarMaxWSMessageBytes   = "MAX_WS_MESSAGE_BYTES"
	envVarMaxWSMessagesPerSec = "MAX_WS_MESSAGES_PER_SECOND"
	envVarHTTPRateLimitPerSec = "HTTP_RATE_LIMIT_PER_SECOND"
	envVarHTTPRateLimitBurst  = "HTTP_RATE_LIMIT_BURST"
	envVarShutdownTimeout     = "SHUTDOWN_TIMEOUT"
	envVarStaticDir           = "STATIC_DIR"
	envVarAdminStatus         = "ADMIN_STATUS"
	envVarStatusSecret        = "STATUS_SECRET"
	envVarDiscoveryEnabled    = "DISCOVERY_ENABLED"
	envVarDiscoveryPort       = "DISCOVERY_PORT"
	envVarTunnelEnabled       = "TUNNEL_ENABLED"
	envVarStunURLs            = "STUN_URLS"
	envVarTurnURLs            = "TURN_URLS"
	envVarTurnUsername        = "TURN_USERNAME"
	envVarTurnCredential      = "TURN_CREDENTIAL"
)

const (
	DefaultListenAddr = ":8790"

	DefaultMaxPeers            = 2
	MaxPeersCeiling            = 10
	DefaultMaxWSMessageBytes   = 64 * 1024
	DefaultMaxWSMessagesPerSec = 20

	DefaultHTTPRateLimitPerSecond = 10
	DefaultHTTPRateLimitBurst     = 30

	DefaultShutdownTimeout = 10 * time.Second

	DefaultDiscoveryPort = 37020
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"

	DefaultMode = ModeDev
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// Config is the fully parsed runtime configuration.
type Config struct {
	Mode      Mode
	LogFormat LogFormat
	LogLevel  slog.Level

	ListenAddr string

	// AllowedOrigins is the normalized Origin allow-list. Empty means any
	// origin is accepted.
	AllowedOrigins []string

	// RoomToken guards admission when non-empty. Clients present it via the
	// WebSocket subprotocol list or the ?t= query parameter.
	RoomToken string

	// MaxPeers is the room capacity, clamped to 1..10.
	MaxPeers int

	// BrowserOnly rejects clients whose User-Agent carries no browser marker.
	BrowserOnly bool

	MaxWSMessageBytes      int64
	MaxWSMessagesPerSecond int
	HTTPRateLimitPerSecond float64
	HTTPRateLimitBurst     int

	ShutdownTimeout time.Duration

	// StaticDir serves the browser frontend when set.
	StaticDir string

	AdminStatus  bool
	StatusSecret string

	DiscoveryEnabled bool
	DiscoveryPort    int

	TunnelEnabled bool

	StunURLs       []string
	TurnURLs       []string
	TurnUsername   string
	TurnCredential string
}

// PeerConnectionICEServers renders the configured STUN/TURN servers in the
// shape browsers expect from /webrtc/ice.
func (c Config) PeerConnectionICEServers() []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if len(c.StunURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: c.StunURLs})
	}
	if len(c.TurnURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:       c.TurnURLs,
			Username:   c.TurnUsername,
			Credential: c.TurnCredential,
		})
	}
	return servers
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	fs := flag.NewFlagSet("securecall-relay", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: securecall-relay")
		fmt.Fprintln(os.Stderr, "configuration is read from the environment; see internal/config")
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	mode, err := parseMode(envOrDefault(lookup, envVarMode, string(DefaultMode)))
	if err != nil {
		return Config{}, err
	}

	logFormat, err := parseLogFormat(envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(mode)))
	if err != nil {
		return Config{}, err
	}

	logLevelDefault := defaultLogLevelForMode(mode)
	if debug, _ := lookup(envVarDebug); debug == "1" {
		// Original deployments enabled verbose logging with DEBUG=1; keep it
		// working alongside LOG_LEVEL.
		logLevelDefault = "debug"
	}
	logLevel, err := parseLogLevel(envOrDefault(lookup, envVarLogLevel, logLevelDefault))
	if err != nil {
		return Config{}, err
	}

	allowedOrigins := splitCSV(envOrDefault(lookup, envVarAllowedOrigins, ""))

	maxPeers, err := envIntOrDefault(lookup, envVarMaxPeers, DefaultMaxPeers)
	if err != nil {
		return Config{}, err
	}
	maxPeers = clampPeers(maxPeers)

	browserOnly, err := envBoolOrDefault(lookup, envVarBrowserOnly, true)
	if err != nil {
		return Config{}, err
	}

	maxMsgBytes, err := envIntOrDefault(lookup, envVarMaxWSMessageBytes, DefaultMaxWSMessageBytes)
	if err != nil {
		return Config{}, err
	}
	if maxMsgBytes <= 0 {
		return Config{}, fmt.Errorf("%s must be positive, got %d", envVarMaxWSMessageBytes, maxMsgBytes)
	}

	maxMsgsPerSec, err := envIntOrDefault(lookup, envVarMaxWSMessagesPerSec, DefaultMaxWSMessagesPerSec)
	if err != nil {
		return Config{}, err
	}
	if maxMsgsPerSec <= 0 {
		return Config{}, fmt.Errorf("%s must be positive, got %d", envVarMaxWSMessagesPerSec, maxMsgsPerSec)
	}

	httpRate, err := envFloatOrDefault(lookup, envVarHTTPRateLimitPerSec, DefaultHTTPRateLimitPerSecond)
	if err != nil {
		return Config{}, err
	}
	httpBurst, err := envIntOrDefault(lookup, envVarHTTPRateLimitBurst, DefaultHTTPRateLimitBurst)
	if err != nil {
		return Config{}, err
	}

	shutdownTimeout := DefaultShutdownTimeout
	if raw, ok := lookup(envVarShutdownTimeout); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarShutdownTimeout, raw, err)
		}
		shutdownTimeout = d
	}

	adminStatus, err := envBoolOrDefault(lookup, envVarAdminStatus, false)
	if err != nil {
		return Config{}, err
	}

	discoveryEnabled, err := envBoolOrDefault(lookup, envVarDiscoveryEnabled, false)
	if err != nil {
		return Config{}, err
	}
	discoveryPort, err := envIntOrDefault(lookup, envVarDiscoveryPort, DefaultDiscoveryPort)
	if err != nil {
		return Config{}, err
	}
	if discoveryPort <= 0 || discoveryPort > 65535 {
		return Config{}, fmt.Errorf("%s must be a valid port, got %d", envVarDiscoveryPort, discoveryPort)
	}

	tunnelEnabled, err := envBoolOrDefault(lookup, envVarTunnelEnabled, false)
	if err != nil {
		return Config{}, err
	}

	return Config{
		Mode:      mode,
		LogFormat: logFormat,
		LogLevel:  logLevel,

		ListenAddr: envOrDefault(lookup, envVarListenAddr, DefaultListenAddr),

		AllowedOrigins: allowedOrigins,
		RoomToken:      envOrDefault(lookup, envVarRoomToken, ""),
		MaxPeers:       maxPeers,
		BrowserOnly:    browserOnly,

		MaxWSMessageBytes:      int64(maxMsgBytes),
		MaxWSMessagesPerSecond: maxMsgsPerSec,
		HTTPRateLimitPerSecond: httpRate,
		HTTPRateLimitBurst:     httpBurst,

		ShutdownTimeout: shutdownTimeout,

		StaticDir: envOrDefault(lookup, envVarStaticDir, ""),

		AdminStatus:  adminStatus,
		StatusSecret: envOrDefault(lookup, envVarStatusSecret, ""),

		DiscoveryEnabled: discoveryEnabled,
		DiscoveryPort:    discoveryPort,

		TunnelEnabled: tunnelEnabled,

		StunURLs:       splitCSV(envOrDefault(lookup, envVarStunURLs, "")),
		TurnURLs:       splitCSV(envOrDefault(lookup, envVarTurnURLs, "")),
		TurnUsername:   envOrDefault(lookup, envVarTurnUsername, ""),
		TurnCredential: envOrDefault(lookup, envVarTurnCredential, ""),
	}, nil
}

// NewLogger builds the process logger from the loaded configuration.
func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func clampPeers(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxPeersCeiling {
		return MaxPeersCeiling
	}
	return n
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envFloatOrDefault(lookup func(string) (string, bool), key string, fallback float64) (float64, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return f, nil
}

func envBoolOrDefault(lookup func(string) (string, bool), key string, fallback bool) (bool, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func defaultLogFormatForMode(mode Mode) string {
	if mode == ModeProd {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func defaultLogLevelForMode(mode Mode) string {
	if mode == ModeProd {
		return "warn"
	}
	return "info"
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "dev", "development":
		return ModeDev, nil
	case "prod", "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid %s %q (want dev or prod)", envVarMode, raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "text":
		return LogFormatText, nil
	case "json":
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid %s %q (want text or json)", envVarLogFormat, raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid %s %q", envVarLogLevel, raw)
	}
}
