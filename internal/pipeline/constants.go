package pipeline

import "time"

// Pipeline tuning constants
const (
	// CommandBuffer sizes the control command channel
	CommandBuffer = 16

	// EventBuffer sizes the outbound event channel
	EventBuffer = 64

	// StatsInterval paces stats events while capture is active
	StatsInterval = time.Second

	// MinRequestPeriod floors the capture request ticker
	MinRequestPeriod = 16 * time.Millisecond

	// FailureWarnThreshold is the consecutive capture failure count that
	// triggers a warning event; capture itself keeps running
	FailureWarnThreshold = 5

	// StartTimeout bounds the wait for a session open outcome
	StartTimeout = 5 * time.Second

	// StopWait bounds the join on the pipeline loop
	StopWait = 2 * time.Second
)
