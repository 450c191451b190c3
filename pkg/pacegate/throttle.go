package pacegate

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// recordViolation appends a provider-reported violation, applies the
// ratio reduction when the count inside ErrorWindow reaches the
// threshold, and honors an optional provider Retry-After by advancing
// the primary TAT. Reduction is immediate; recovery happens in the
// background loop.
func (r *registry) recordViolation(group Group, now time.Time, retryAfter time.Duration) (reduced bool, ratio float64) {
	st, err := r.state(group)
	if err != nil {
		return false, 0
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	st.pruneViolationsLocked(now)
	st.violations = append(st.violations, now)

	windowStart := now.Add(-st.cfg.ErrorWindow.Std())
	recent := 0
	for i := len(st.violations) - 1; i >= 0; i-- {
		if st.violations[i].Before(windowStart) {
			break
		}
		recent++
	}

	if recent >= st.cfg.ErrorThreshold {
		next := st.ratio * st.cfg.ReductionRatio
		if next < st.cfg.MinRatio {
			next = st.cfg.MinRatio
		}
		if next < st.ratio {
			st.ratio = next
			reduced = true
		}
		st.lastReductionAt = now
	}

	if retryAfter > 0 {
		// The provider told us when to come back; believe it.
		until := now.Add(retryAfter)
		if until.After(st.primary.TAT) {
			st.primary.TAT = until
		}
	}

	return reduced, st.ratio
}

// recoverTick steps the group's ratio back toward 1.0 when the recovery
// delay has elapsed since the most recent reduction or recovery step.
// Returns the new ratio and whether a step was taken.
func (r *registry) recoverTick(group Group, now time.Time) (float64, bool) {
	st, err := r.state(group)
	if err != nil {
		return 0, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.ratio >= 1.0 || st.lastReductionAt.IsZero() {
		return st.ratio, false
	}

	since := st.lastReductionAt
	if st.lastRecoveryAt.After(since) {
		since = st.lastRecoveryAt
	}
	if now.Sub(since) < st.cfg.RecoveryDelay.Std() {
		return st.ratio, false
	}

	st.ratio += st.cfg.RecoveryStep
	if st.ratio > 1.0 {
		st.ratio = 1.0
	}
	st.lastRecoveryAt = now
	return st.ratio, true
}

// currentRatio reads the group's throttle ratio.
func (r *registry) currentRatio(group Group) float64 {
	st, err := r.state(group)
	if err != nil {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.ratio
}

// adaptiveThrottle runs the periodic recovery loop. Reduction happens
// inline in Notify429; this loop only climbs back.
type adaptiveThrottle struct {
	registry *registry
	clock    Clock
	log      *zap.Logger
	tick     time.Duration
	groups   []Group

	stopped  chan struct{}
	done     chan struct{}
	haltOnce sync.Once
}

func newAdaptiveThrottle(cfg *Config, reg *registry, clock Clock, log *zap.Logger) *adaptiveThrottle {
	groups := make([]Group, 0, len(cfg.Groups))
	for group := range cfg.Groups {
		groups = append(groups, group)
	}
	return &adaptiveThrottle{
		registry: reg,
		clock:    clock,
		log:      log,
		tick:     cfg.RecoveryTick.Std(),
		groups:   groups,
		stopped:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (t *adaptiveThrottle) start() {
	go t.run()
}

func (t *adaptiveThrottle) halt() {
	t.haltOnce.Do(func() { close(t.stopped) })
	<-t.done
}

func (t *adaptiveThrottle) run() {
	defer close(t.done)

	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopped:
			return
		case <-ticker.C:
			now := t.clock.Now()
			for _, group := range t.groups {
				if ratio, stepped := t.registry.recoverTick(group, now); stepped {
					t.log.Info("throttle ratio recovered",
						zap.String("group", string(group)),
						zap.Float64("ratio", ratio),
					)
				}
			}
		}
	}
}
