package pacegate

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// WaitStats aggregates suspension outcomes for one group.
type WaitStats struct {
	Suspensions int64         `json:"suspensions"`
	Timeouts    int64         `json:"timeouts"`
	TotalWait   time.Duration `json:"total_wait"`
	MaxWait     time.Duration `json:"max_wait"`
}

// AverageWait returns the mean suspension time.
func (s WaitStats) AverageWait() time.Duration {
	if s.Suspensions == 0 {
		return 0
	}
	return s.TotalWait / time.Duration(s.Suspensions)
}

// timeoutGuard pairs each suspending admission attempt with a timeout
// timer, tracks the set of armed timers, and records wait-time
// statistics. Cleanup is idempotent: every exit path of Acquire calls
// disarm, and only the first call for a given waiter has any effect.
type timeoutGuard struct {
	timeout time.Duration
	clock   Clock

	mu     sync.Mutex
	active map[uuid.UUID]*time.Timer
	stats  map[Group]*WaitStats
}

func newTimeoutGuard(cfg *Config, clock Clock) *timeoutGuard {
	g := &timeoutGuard{
		timeout: cfg.WaiterTimeout.Std(),
		clock:   clock,
		active:  make(map[uuid.UUID]*time.Timer),
		stats:   make(map[Group]*WaitStats, len(cfg.Groups)),
	}
	for group := range cfg.Groups {
		g.stats[group] = &WaitStats{}
	}
	return g
}

// arm registers a timeout timer for a suspending waiter and returns it.
// The caller races the timer against the waiter's ready channel.
func (g *timeoutGuard) arm(id uuid.UUID) *time.Timer {
	t := time.NewTimer(g.timeout)
	g.mu.Lock()
	g.active[id] = t
	g.mu.Unlock()
	return t
}

// disarm stops and deregisters the waiter's timer. Returns false when
// the waiter was already cleaned up; callers may invoke it from any
// exit or cancellation path without coordination.
func (g *timeoutGuard) disarm(id uuid.UUID) bool {
	g.mu.Lock()
	t, ok := g.active[id]
	if ok {
		delete(g.active, id)
	}
	g.mu.Unlock()

	if !ok {
		return false
	}
	t.Stop()
	return true
}

// observe records how long a suspension lasted and whether it ended in
// a timeout.
func (g *timeoutGuard) observe(group Group, waited time.Duration, timedOut bool) {
	if waited < 0 {
		waited = 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.stats[group]
	if !ok {
		return
	}
	st.Suspensions++
	st.TotalWait += waited
	if waited > st.MaxWait {
		st.MaxWait = waited
	}
	if timedOut {
		st.Timeouts++
	}
}

// groupStats returns a copy of the group's wait statistics.
func (g *timeoutGuard) groupStats(group Group) WaitStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.stats[group]; ok {
		return *st
	}
	return WaitStats{}
}

// armedCount reports the number of currently armed timers (one per
// suspended caller).
func (g *timeoutGuard) armedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}
