package fetchkit

import (
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// Logger receives structured debug output. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NewSimpleLogger returns a text logger writing every level to stderr.
func NewSimpleLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// DebugConfig selects which parts of the pipeline log.
type DebugConfig struct {
	Enabled     bool
	LogRequests bool
	LogRetries  bool
	LogCache    bool
	LogPlugins  bool
	// RequestIDGen produces the identifier attached to logs and errors.
	RequestIDGen func() string
	// RequestIDHeader, when set, sends the request ID on the wire.
	RequestIDHeader string
}

// DefaultDebugConfig logs everything once Enabled is set.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		LogRequests:  true,
		LogRetries:   true,
		LogCache:     true,
		LogPlugins:   true,
		RequestIDGen: uuid.NewString,
	}
}

func (c *Client) debugOn(flag func(*DebugConfig) bool) bool {
	return c.logger != nil && c.debug != nil && c.debug.Enabled && flag(c.debug)
}

func (c *Client) logRequest(msg string, args ...any) {
	if c.debugOn(func(d *DebugConfig) bool { return d.LogRequests }) {
		c.logger.Debug(msg, args...)
	}
}

func (c *Client) logRetry(msg string, args ...any) {
	if c.debugOn(func(d *DebugConfig) bool { return d.LogRetries }) {
		c.logger.Debug(msg, args...)
	}
}

func (c *Client) logCache(msg string, args ...any) {
	if c.debugOn(func(d *DebugConfig) bool { return d.LogCache }) {
		c.logger.Debug(msg, args...)
	}
}

func (c *Client) logPlugin(msg string, args ...any) {
	if c.debugOn(func(d *DebugConfig) bool { return d.LogPlugins }) {
		c.logger.Debug(msg, args...)
	}
}

// warn logs regardless of debug flags when a logger is configured.
func (c *Client) warn(msg string, args ...any) {
	if c != nil && c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}

func (c *Client) newRequestID() string {
	if c.debug == nil || c.debug.RequestIDGen == nil {
		return ""
	}
	if !c.debug.Enabled && c.debug.RequestIDHeader == "" {
		return ""
	}
	return c.debug.RequestIDGen()
}
