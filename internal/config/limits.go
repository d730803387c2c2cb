package config

import "time"

// Websocket transport limits.
const (
	// Rate limiting applies to pointer traffic (cursor_move,
	// stroke_segment) only. It is bursty, so the per-peer budget is far
	// above what a chat needs.
	MaxMessagesPerSecond = 120
	RateLimitWindow      = time.Second

	// Timeouts
	WriteTimeout = 10 * time.Second
	PongTimeout  = 60 * time.Second

	// Sizes
	MaxMessageBytes      = 1 << 20 // a long stroke is a few thousand points
	ClientSendBufferSize = 256
	InboundBufferSize    = 1024
)
