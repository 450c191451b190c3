package core

import "time"

// LegConfig defines one rate-limit leg (e.g. the per-second or the
// per-minute constraint of a dual-limit group).
type LegConfig struct {
	Rate     float64       // Sustained requests per second for this leg
	Burst    int           // Burst-window capacity (requests that may bypass steady spacing)
	Interval time.Duration // Observation interval covered by the burst window
}

// LegState is the mutable admission state for one leg: the GCRA
// theoretical arrival time and the bounded window of committed
// request timestamps (oldest first).
type LegState struct {
	TAT    time.Time   // Theoretical arrival time
	Window []time.Time // Committed request timestamps, len <= Burst
}

// LegResult contains the outcome of checking one leg.
type LegResult struct {
	Wait    time.Duration // 0 means the leg admits the request now
	NextTAT time.Time     // TAT to reserve if the overall decision is a grant
}

// Decision is the combined outcome of an admission check across every
// leg of a group.
type Decision struct {
	Allowed bool          // Whether the request is admitted now
	Wait    time.Duration // Suggested wait before retrying (0 when allowed)
}
