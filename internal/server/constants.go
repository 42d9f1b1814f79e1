// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// Per-connection message rate limiting
	RateLimitMessages = 30          // Max messages per connection per window
	RateLimitWindow   = time.Second // Sliding window duration

	// JPEGQuality is the encoder setting for streamed frames
	JPEGQuality = 80

	// WindowTitleLimit truncates very long titles in API responses
	WindowTitleLimit = 200
)
