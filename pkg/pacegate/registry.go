package pacegate

import (
	"fmt"
	"sync"
	"time"

	"github.com/pacegate/pacegate/core"
)

// violationRetention bounds how long violation timestamps are kept.
const violationRetention = time.Hour

// preventiveEpsilon is the decayed delay below which preventive
// throttling no longer forces a suspension.
const preventiveEpsilon = time.Millisecond

// groupState is the mutable per-group state. Every field is owned by mu;
// nothing escapes except through snapshots taken under the lock.
type groupState struct {
	mu sync.Mutex

	cfg          GroupConfig
	primaryCfg   core.LegConfig
	secondaryCfg core.LegConfig
	dual         bool
	maxInterval  time.Duration

	primary   core.LegState
	secondary core.LegState

	ratio           float64 // current throttle ratio in [MinRatio, 1.0]
	violations      []time.Time
	lastReductionAt time.Time
	lastRecoveryAt  time.Time
}

// registry holds the fixed set of groups. Each group has its own lock,
// so contention on one group never blocks another. admit and commit are
// the only mutating admission entry points; everything else reads
// snapshots.
type registry struct {
	groups map[Group]*groupState
}

func newRegistry(cfg *Config) (*registry, error) {
	r := &registry{groups: make(map[Group]*groupState, len(cfg.Groups))}
	for group, gc := range cfg.Groups {
		st := &groupState{
			cfg:         gc,
			primaryCfg:  gc.primaryLeg(cfg.SafetyFactor),
			dual:        gc.DualLimit(),
			maxInterval: gc.maxObservationInterval(cfg.SafetyFactor),
			ratio:       1.0,
		}
		if st.dual {
			st.secondaryCfg = gc.secondaryLeg(cfg.SafetyFactor)
		}
		r.groups[group] = st
	}
	return r, nil
}

func (r *registry) state(group Group) (*groupState, error) {
	st, ok := r.groups[group]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGroup, group)
	}
	return st, nil
}

// admit runs one atomic admission check for the group: preventive delay,
// the GCRA+window check per leg, and — on grant — the TAT reservation.
// Burst-window slots are consumed later, at commit. arrivedAt anchors the
// preventive delay to the attempt, so re-checks of one suspended attempt
// see a fixed target instead of a fresh delay; a first check passes
// arrivedAt == now.
func (r *registry) admit(group Group, arrivedAt, now time.Time) (core.Decision, error) {
	st, err := r.state(group)
	if err != nil {
		return core.Decision{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	legs := make([]core.LegResult, 0, 2)
	legs = append(legs, core.CheckLeg(st.primary, st.primaryCfg, st.ratio, now))
	if st.dual {
		legs = append(legs, core.CheckLeg(st.secondary, st.secondaryCfg, st.ratio, now))
	}

	decision := core.Combine(st.maxInterval, legs...)

	// Preventive throttling: after a recent violation the group spreads
	// load even when the core algorithm alone would admit.
	if pw := st.preventiveWaitLocked(arrivedAt, now); pw > 0 {
		decision.Allowed = false
		decision.Wait += pw
	}

	if decision.Allowed {
		st.primary.TAT = legs[0].NextTAT
		if st.dual {
			st.secondary.TAT = legs[1].NextTAT
		}
	}
	return decision, nil
}

// commit records a successfully completed call in the burst window(s).
// Phase two of admission: a granted request that never completed keeps
// its TAT reservation but consumes no burst slot.
func (r *registry) commit(group Group, grantedAt, now time.Time) {
	st, err := r.state(group)
	if err != nil {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	st.primary.Window = core.CommitWindow(st.primary.Window, st.primaryCfg, grantedAt, now)
	if st.dual {
		st.secondary.Window = core.CommitWindow(st.secondary.Window, st.secondaryCfg, grantedAt, now)
	}
}

// preventiveWaitLocked computes the remaining extra delay imposed by a
// recent provider violation: MaxPreventiveDelay at the moment of the
// violation, decaying linearly to zero as PreventiveWindow elapses. The
// delay is assigned once, from the attempt's arrival (or the violation,
// whichever is later), and the attempt is admitted as soon as
// arrival + delay passes — the realized extra delay never exceeds the
// delay assigned on arrival.
func (s *groupState) preventiveWaitLocked(arrivedAt, now time.Time) time.Duration {
	window := s.cfg.PreventiveWindow.Std()
	if window <= 0 || len(s.violations) == 0 {
		return 0
	}
	last := s.violations[len(s.violations)-1]
	base := arrivedAt
	if last.After(base) {
		base = last
	}
	elapsed := base.Sub(last)
	if elapsed >= window {
		return 0
	}
	frac := 1 - float64(elapsed)/float64(window)
	delay := time.Duration(frac * float64(s.cfg.MaxPreventiveDelay.Std()))
	wait := base.Add(delay).Sub(now)
	if wait < preventiveEpsilon {
		return 0
	}
	return wait
}

// pruneViolationsLocked drops violation timestamps past retention.
func (s *groupState) pruneViolationsLocked(now time.Time) {
	cutoff := now.Add(-violationRetention)
	i := 0
	for i < len(s.violations) && !s.violations[i].After(cutoff) {
		i++
	}
	if i > 0 {
		s.violations = append(s.violations[:0], s.violations[i:]...)
	}
}

// GroupStatus is a read-only diagnostic snapshot of one group.
type GroupStatus struct {
	Group        Group     `json:"group"`
	BaseRPS      float64   `json:"base_rps"`
	CurrentRatio float64   `json:"current_ratio"`
	TATPrimary   time.Time `json:"tat_primary"`
	DualLimit    bool      `json:"dual_limit"`
	TATSecondary time.Time `json:"tat_secondary,omitempty"`

	BurstWindowOccupancy int `json:"burst_window_occupancy"`
	BurstWindowCapacity  int `json:"burst_window_capacity"`
	SecondaryOccupancy   int `json:"secondary_occupancy,omitempty"`
	SecondaryCapacity    int `json:"secondary_capacity,omitempty"`

	ViolationCount int `json:"violation_count"`

	// Filled in by the limiter from the queue, supervisor, and guard.
	QueueDepth     int          `json:"queue_depth"`
	NotifierHealth HealthStatus `json:"notifier_health"`
	Waits          WaitStats    `json:"waits"`
}

// snapshot captures the registry-owned part of a group's status.
func (r *registry) snapshot(group Group, now time.Time) (GroupStatus, error) {
	st, err := r.state(group)
	if err != nil {
		return GroupStatus{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	st.pruneViolationsLocked(now)
	status := GroupStatus{
		Group:                group,
		BaseRPS:              st.cfg.BaseRPS,
		CurrentRatio:         st.ratio,
		TATPrimary:           st.primary.TAT,
		DualLimit:            st.dual,
		BurstWindowOccupancy: len(st.primary.Window),
		BurstWindowCapacity:  st.primaryCfg.Burst,
		ViolationCount:       len(st.violations),
	}
	if st.dual {
		status.TATSecondary = st.secondary.TAT
		status.SecondaryOccupancy = len(st.secondary.Window)
		status.SecondaryCapacity = st.secondaryCfg.Burst
	}
	return status, nil
}
