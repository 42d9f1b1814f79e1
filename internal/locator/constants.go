package locator

import "time"

// Locator configuration constants
const (
	// CacheTTL is how long a cache entry survives without a sighting
	CacheTTL = 300 * time.Second

	// Reliability score adjustments
	ReliabilityGain  = 0.1
	ReliabilityLoss  = 0.2
	ReliabilityStart = 1.0

	// Adaptive interval multipliers
	IntervalGrowth = 1.2
	IntervalDecay  = 0.8

	// StopWait bounds the join on the search loop
	StopWait = 2 * time.Second

	// EventBuffer sizes the outbound event channel
	EventBuffer = 64

	// Search progress is reported on a 0-100 scale; strategy execution
	// covers the first 80 points
	progressSearchSpan = 80
	progressDone       = 100
)
