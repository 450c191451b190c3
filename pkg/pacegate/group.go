package pacegate

import (
	"time"

	"github.com/pacegate/pacegate/core"
)

// Group identifies a rate-limit category of the provider API. The set
// is fixed and closed; groups are configured once at startup.
type Group string

const (
	// GroupPublicRead covers unauthenticated market-data reads.
	GroupPublicRead Group = "public-read"

	// GroupPrivateDefault covers authenticated account reads and
	// miscellaneous private endpoints.
	GroupPrivateDefault Group = "private-default"

	// GroupPrivateOrder covers order placement and single cancels.
	GroupPrivateOrder Group = "private-order"

	// GroupPrivateBulkCancel covers the bulk cancel endpoint, which
	// providers limit far more aggressively than single orders.
	GroupPrivateBulkCancel Group = "private-bulk-cancel"

	// GroupWebSocket covers WebSocket subscription messages, which are
	// constrained by a per-second and a per-minute limit simultaneously.
	GroupWebSocket Group = "websocket"
)

// Groups returns every known group in a stable order.
func Groups() []Group {
	return []Group{
		GroupPublicRead,
		GroupPrivateDefault,
		GroupPrivateOrder,
		GroupPrivateBulkCancel,
		GroupWebSocket,
	}
}

// Valid reports whether g is one of the known groups.
func (g Group) Valid() bool {
	switch g {
	case GroupPublicRead, GroupPrivateDefault, GroupPrivateOrder,
		GroupPrivateBulkCancel, GroupWebSocket:
		return true
	}
	return false
}

// GroupConfig holds the immutable per-group limiter parameters.
// Durations use the Duration wrapper so configs round-trip through YAML.
type GroupConfig struct {
	// Primary (per-second scale) limit.
	BaseRPS       float64 `yaml:"base_rps"`
	BurstCapacity int     `yaml:"burst_capacity"`

	// Secondary per-minute limit; zero values mean the group is
	// single-limit.
	RequestsPerMinute float64 `yaml:"requests_per_minute,omitempty"`
	RPMBurstCapacity  int     `yaml:"rpm_burst_capacity,omitempty"`

	// Adaptive throttle parameters.
	ErrorThreshold int      `yaml:"error_threshold"`
	ErrorWindow    Duration `yaml:"error_window"`
	ReductionRatio float64  `yaml:"reduction_ratio"`
	MinRatio       float64  `yaml:"min_ratio"`
	RecoveryDelay  Duration `yaml:"recovery_delay"`
	RecoveryStep   float64  `yaml:"recovery_step"`

	// Preventive throttle parameters.
	PreventiveWindow   Duration `yaml:"preventive_window"`
	MaxPreventiveDelay Duration `yaml:"max_preventive_delay"`
}

// DualLimit reports whether the group carries a secondary per-minute
// constraint.
func (c GroupConfig) DualLimit() bool {
	return c.RequestsPerMinute > 0 && c.RPMBurstCapacity > 0
}

// Validate checks the group parameters.
func (c GroupConfig) Validate() error {
	if c.BaseRPS <= 0 {
		return ErrNegativeRate
	}
	if c.BurstCapacity <= 0 {
		return ErrNegativeBurst
	}
	if c.RequestsPerMinute < 0 || (c.RequestsPerMinute > 0 && c.RPMBurstCapacity <= 0) {
		return ErrInvalidSecondaryLimit
	}
	if c.ErrorThreshold < 1 {
		return ErrInvalidThrottleConfig
	}
	if c.ReductionRatio <= 0 || c.ReductionRatio >= 1 {
		return ErrInvalidThrottleConfig
	}
	if c.MinRatio <= 0 || c.MinRatio > 1 {
		return ErrInvalidThrottleConfig
	}
	if c.RecoveryStep <= 0 {
		return ErrInvalidThrottleConfig
	}
	return nil
}

// primaryObservationInterval is the window covered by the primary burst
// window. One second: the primary leg is the per-second limit.
const primaryObservationInterval = time.Second

// primaryLeg derives the core leg config for the per-second limit.
// The safety factor scales the advertised rate down so that scheduling
// slop never pushes the client over the provider's real limit.
//
// Single-limit groups observe the limit's unit period of one second.
// Dual-limit groups observe exactly one limiting period at the primary
// rate (burst × 1/rate), the same derivation as the secondary leg, so
// that whichever leg is the tighter constraint actually governs.
func (c GroupConfig) primaryLeg(safetyFactor float64) core.LegConfig {
	interval := primaryObservationInterval
	if c.DualLimit() {
		interval = time.Duration(float64(c.BurstCapacity) / c.BaseRPS * float64(time.Second))
	}
	return core.LegConfig{
		Rate:     c.BaseRPS * safetyFactor,
		Burst:    c.BurstCapacity,
		Interval: interval,
	}
}

// secondaryLeg derives the core leg config for the per-minute limit.
// Its observation interval is rpmBurst × 60/rpm: exactly one limiting
// period at the secondary rate.
func (c GroupConfig) secondaryLeg(safetyFactor float64) core.LegConfig {
	interval := time.Duration(float64(c.RPMBurstCapacity) * 60.0 / c.RequestsPerMinute * float64(time.Second))
	return core.LegConfig{
		Rate:     c.RequestsPerMinute / 60.0 * safetyFactor,
		Burst:    c.RPMBurstCapacity,
		Interval: interval,
	}
}

// maxObservationInterval returns the largest observation interval across
// the group's legs; wait caps derive from it.
func (c GroupConfig) maxObservationInterval(safetyFactor float64) time.Duration {
	max := c.primaryLeg(safetyFactor).Interval
	if c.DualLimit() {
		if s := c.secondaryLeg(safetyFactor).Interval; s > max {
			max = s
		}
	}
	return max
}
