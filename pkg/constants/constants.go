// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// MirrorTimeout bounds best-effort writes to the Redis presence mirror
	MirrorTimeout = 2 * time.Second

	// CallLogTimeout bounds call history writes made while a call changes state
	CallLogTimeout = 2 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second

	// RedisHealthCheckInterval is how often Redis is pinged to detect degraded mode
	RedisHealthCheckInterval = 15 * time.Second
)

// WebSocket relay constants
const (
	// WebSocketWriteWait is the time allowed to write a frame to the peer
	WebSocketWriteWait = 10 * time.Second

	// WebSocketPongWait is the time allowed to read the next pong from the peer
	WebSocketPongWait = 60 * time.Second

	// WebSocketPingInterval must be shorter than WebSocketPongWait
	WebSocketPingInterval = (WebSocketPongWait * 9) / 10

	// WebSocketMaxMessageSize covers session descriptions with many candidates
	WebSocketMaxMessageSize = 64 * 1024

	// WebSocketSendBuffer is the per-connection outbound queue length
	WebSocketSendBuffer = 256

	// WebSocketCloseGrace is how long a close frame may take to write
	WebSocketCloseGrace = time.Second
)

// Account constants
const (
	// MinNameLength is the shortest accepted display name
	MinNameLength = 2

	// MinPasswordLength is the shortest accepted password
	MinPasswordLength = 6
)
