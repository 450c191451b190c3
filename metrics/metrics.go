// Package metrics tracks admission statistics for the rate limiter:
// per-group attempt/grant/timeout counters, provider violations, and
// fail-open releases. Counters are process-local and reset on restart.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks admission statistics per rate-limit group.
type Collector struct {
	mu        sync.RWMutex
	groups    map[string]*groupCounters
	startTime time.Time
}

type groupCounters struct {
	attempts   atomic.Int64
	grants     atomic.Int64
	timeouts   atomic.Int64
	cancels    atomic.Int64
	violations atomic.Int64
	forceWakes atomic.Int64
	released   atomic.Int64
}

// GroupSnapshot is a point-in-time view of one group's counters.
type GroupSnapshot struct {
	Group           string `json:"group"`
	Attempts        int64  `json:"attempts"`
	Grants          int64  `json:"grants"`
	Timeouts        int64  `json:"timeouts"`
	Cancels         int64  `json:"cancels"`
	Violations      int64  `json:"violations"`
	ForceWakes      int64  `json:"force_wakes"`
	WaitersReleased int64  `json:"waiters_released"`
}

// Snapshot is a point-in-time view of all counters.
type Snapshot struct {
	Groups        []GroupSnapshot `json:"groups"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	StartTime     time.Time       `json:"start_time"`
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		groups:    make(map[string]*groupCounters),
		startTime: time.Now(),
	}
}

func (c *Collector) counters(group string) *groupCounters {
	c.mu.RLock()
	gc, ok := c.groups[group]
	c.mu.RUnlock()
	if ok {
		return gc
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gc, ok = c.groups[group]; ok {
		return gc
	}
	gc = &groupCounters{}
	c.groups[group] = gc
	return gc
}

// RecordAttempt records one admission attempt and its outcome.
func (c *Collector) RecordAttempt(group string, granted bool) {
	gc := c.counters(group)
	gc.attempts.Add(1)
	if granted {
		gc.grants.Add(1)
	}
}

// RecordTimeout records an attempt that ended in a soft timeout.
func (c *Collector) RecordTimeout(group string) {
	c.counters(group).timeouts.Add(1)
}

// RecordCancel records an attempt cancelled by its caller.
func (c *Collector) RecordCancel(group string) {
	c.counters(group).cancels.Add(1)
}

// RecordViolation records a provider-reported overage.
func (c *Collector) RecordViolation(group string) {
	c.counters(group).violations.Add(1)
}

// RecordForceWake records a fail-open release of queued waiters.
func (c *Collector) RecordForceWake(group string, released int) {
	gc := c.counters(group)
	gc.forceWakes.Add(1)
	gc.released.Add(int64(released))
}

// GetSnapshot returns a copy of all counters.
func (c *Collector) GetSnapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	groups := make([]GroupSnapshot, 0, len(c.groups))
	for name, gc := range c.groups {
		groups = append(groups, GroupSnapshot{
			Group:           name,
			Attempts:        gc.attempts.Load(),
			Grants:          gc.grants.Load(),
			Timeouts:        gc.timeouts.Load(),
			Cancels:         gc.cancels.Load(),
			Violations:      gc.violations.Load(),
			ForceWakes:      gc.forceWakes.Load(),
			WaitersReleased: gc.released.Load(),
		})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Group < groups[j].Group })

	return &Snapshot{
		Groups:        groups,
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
		StartTime:     c.startTime,
	}
}
