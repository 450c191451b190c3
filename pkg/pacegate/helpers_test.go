package pacegate

import (
	"sync"
	"time"
)

// fakeClock is a manually advanced clock for deterministic admission
// tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testGroupConfig returns a small single-limit group with throttle
// parameters that are easy to reason about in tests.
func testGroupConfig(rps float64, burst int) GroupConfig {
	return GroupConfig{
		BaseRPS:            rps,
		BurstCapacity:      burst,
		ErrorThreshold:     1,
		ErrorWindow:        Duration(time.Minute),
		ReductionRatio:     0.5,
		MinRatio:           0.1,
		RecoveryDelay:      Duration(30 * time.Second),
		RecoveryStep:       0.1,
		PreventiveWindow:   Duration(5 * time.Second),
		MaxPreventiveDelay: Duration(time.Second),
	}
}

// testConfig returns a one-group config with SafetyFactor 1.0 so test
// arithmetic matches the configured rates exactly.
func testConfig(group Group, gc GroupConfig) *Config {
	cfg := DefaultConfig()
	cfg.SafetyFactor = 1.0
	cfg.Groups = map[Group]GroupConfig{group: gc}
	return cfg
}
