// Copyright © 2026 ソニーレベル <C7kali3@gmail.com>
// Worker and client settings with environment fallback

package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/sony-level/cmdproxy/internal/engine"
	"github.com/sony-level/cmdproxy/internal/execute"
	"github.com/sony-level/cmdproxy/internal/stage"
	"github.com/sony-level/cmdproxy/internal/store"
)

// Environment variables recognized by every command. Flags bind on top
// of the environment, so precedence is flag > environment > default.
const (
	EnvNatsURL       = "CMDPROXY_NATS_URL"
	EnvBucket        = "CMDPROXY_BUCKET"
	EnvPalette       = "CMDPROXY_COMMAND_PALETTE"
	EnvQueues        = "CMDPROXY_QUEUES"
	EnvPool          = "CMDPROXY_POOL"
	EnvBaseDir       = "CMDPROXY_BASE_DIR"
	EnvTransferLimit = "CMDPROXY_TRANSFER_LIMIT"
	EnvDrainTimeout  = "CMDPROXY_DRAIN_TIMEOUT"
	EnvGraceTimeout  = "CMDPROXY_GRACE_TIMEOUT"
	EnvLogLevel      = "CMDPROXY_LOG_LEVEL"
)

// Config holds the settings shared by the worker and client commands
type Config struct {
	NatsURL       string
	Bucket        string
	PalettePath   string
	Queues        []string
	PoolSize      int
	BaseDir       string
	TransferLimit int
	DrainTimeout  time.Duration
	GraceTimeout  time.Duration
	LogLevel      string
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		NatsURL:       nats.DefaultURL,
		Bucket:        store.DefaultBucket,
		Queues:        []string{"sh"},
		PoolSize:      engine.DefaultPoolSize,
		TransferLimit: stage.DefaultTransferLimit,
		DrainTimeout:  engine.DefaultDrainTimeout,
		GraceTimeout:  execute.DefaultGraceTimeout,
		LogLevel:      "info",
	}
}

// FromEnv returns the default configuration with CMDPROXY_* overrides
// applied. Unparseable numeric or duration values keep the default.
func FromEnv() *Config {
	c := Default()

	if v := os.Getenv(EnvNatsURL); v != "" {
		c.NatsURL = v
	}
	if v := os.Getenv(EnvBucket); v != "" {
		c.Bucket = v
	}
	if v := os.Getenv(EnvPalette); v != "" {
		c.PalettePath = v
	}
	if v := os.Getenv(EnvQueues); v != "" {
		if queues := SplitList(v); len(queues) > 0 {
			c.Queues = queues
		}
	}
	if v := os.Getenv(EnvPool); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.PoolSize = n
		}
	}
	if v := os.Getenv(EnvBaseDir); v != "" {
		c.BaseDir = v
	}
	if v := os.Getenv(EnvTransferLimit); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.TransferLimit = n
		}
	}
	if v := os.Getenv(EnvDrainTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.DrainTimeout = d
		}
	}
	if v := os.Getenv(EnvGraceTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.GraceTimeout = d
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	return c
}

// ParseLogLevel maps a level name onto its slog level
func ParseLogLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
}

// NewLogger builds the process logger for the configured level. An
// unknown level falls back to info rather than failing startup.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := ParseLogLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// SplitList parses a comma-separated list, dropping empty entries
func SplitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
