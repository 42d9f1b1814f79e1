package capture

import "time"

// Capture worker configuration constants
const (
	// FPS clamp bounds
	MinFPS = 1
	MaxFPS = 60

	// DefaultFPS when none is configured
	DefaultFPS = 30

	// DefaultOpenTimeout bounds a session open attempt
	DefaultOpenTimeout = 3 * time.Second

	// ShutdownWait bounds the join on the worker goroutine
	ShutdownWait = 2 * time.Second

	// Channel buffer sizes
	CommandBuffer = 32
	ControlBuffer = 4
	FrameBuffer   = 4
	EventBuffer   = 32
)
