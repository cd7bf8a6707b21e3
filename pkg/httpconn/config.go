package httpconn

import (
	"io"
	"log"
	"time"
)

// Config holds the per-connection options, following the teacher's
// Config/DefaultConfig pattern (pkg/celeris/config.go) rather than a
// functional-options API.
type Config struct {
	// KeepAlive is the client's own keep-alive preference, mirrored into
	// the Connection header per spec.md §4.C rule 5.
	KeepAlive bool
	// TryUseCompression adds "Accept-Encoding: deflate, gzip" when the
	// caller didn't set one (spec.md §4.C rule 4).
	TryUseCompression bool
	// KeepAliveTimeoutSeconds seeds keep_alive_timeout_seconds; a server
	// "Keep-Alive: timeout=N" response header overrides it per exchange.
	KeepAliveTimeoutSeconds int
	// InboundHighWater overrides the default inbound buffer capacity of 5.
	InboundHighWater int
	// TryWebSocketDeflateFrameCompression / TryPerMessageWebSocketCompression
	// add the corresponding extension handshakers ahead of the handler.
	TryWebSocketDeflateFrameCompression bool
	TryPerMessageWebSocketCompression   bool

	// Logger receives diagnostic output for decode/transport failures.
	// Defaults to a silent logger, matching the teacher.
	Logger *log.Logger

	// now, when set, replaces time.Now for deterministic tests. Left nil in
	// production use.
	now func() time.Time
}

// newSilentLogger mirrors pkg/celeris/config.go's newSilentLogger.
func newSilentLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// DefaultConfig returns a Config with sensible defaults, matching the
// teacher's DefaultConfig shape.
func DefaultConfig() Config {
	return Config{
		KeepAlive:               true,
		TryUseCompression:       false,
		KeepAliveTimeoutSeconds: 0,
		InboundHighWater:        defaultInboundCapacity,
		Logger:                  newSilentLogger(),
	}
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = newSilentLogger()
	}
	if c.InboundHighWater <= 0 {
		c.InboundHighWater = defaultInboundCapacity
	}
	return c
}

func (c Config) clockNow() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

func (c *Connection) now() time.Time {
	return c.config.clockNow()
}
