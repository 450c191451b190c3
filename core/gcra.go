// Package core implements the admission math for the hybrid rate
// limiter: a continuous-rate GCRA check combined with a bounded
// burst-timestamp window per leg. All functions are pure — they take
// state and a caller-supplied clock reading and return results without
// touching shared state, locks, or goroutines.
package core

import (
	"math"
	"time"
)

// minEffectiveRate is the floor for rate × ratio. The adaptive throttle
// clamps the ratio above zero already; this guards the division even if
// a caller hands in a degenerate config.
const minEffectiveRate = 1e-9

// EmissionInterval returns the steady-state spacing between requests
// for a leg at the given throttle ratio.
func EmissionInterval(rate, ratio float64) time.Duration {
	effective := rate * ratio
	if effective < minEffectiveRate {
		effective = minEffectiveRate
	}
	return time.Duration(math.Round(float64(time.Second) / effective))
}

// WindowWait returns how long the caller must wait for the burst window
// to free a slot. It walks the window from most recent backward, summing
// consecutive gaps; once the accumulated span reaches the observation
// interval a slot is effectively free and the wait is zero. Otherwise
// the shortfall between the interval and the accumulated span is the
// wait.
func WindowWait(window []time.Time, interval time.Duration, now time.Time) time.Duration {
	var span time.Duration
	prev := now
	for i := len(window) - 1; i >= 0; i-- {
		span += prev.Sub(window[i])
		if span >= interval {
			return 0
		}
		prev = window[i]
	}
	wait := interval - span
	if wait < 0 {
		return 0
	}
	return wait
}

// CheckLeg evaluates one leg of a group against the hybrid algorithm.
//
// The steady-rate (GCRA) wait is the distance to the theoretical
// arrival time. A free slot in the burst window overrides steady-rate
// spacing entirely; when the window is full the leg wait is the larger
// of the steady-rate wait and the window wait.
//
// NextTAT is the reservation to apply if the overall (all-leg) decision
// is a grant: max(now, TAT) + emissionInterval.
func CheckLeg(st LegState, cfg LegConfig, ratio float64, now time.Time) LegResult {
	emission := EmissionInterval(cfg.Rate, ratio)

	var steady time.Duration
	if now.Before(st.TAT) {
		steady = st.TAT.Sub(now)
	}

	var wait time.Duration
	if len(st.Window) < cfg.Burst {
		wait = 0
	} else {
		wait = steady
		if ww := WindowWait(st.Window, cfg.Interval, now); ww > wait {
			wait = ww
		}
	}
	if wait < 0 {
		wait = 0
	}

	base := st.TAT
	if now.After(base) {
		base = now
	}

	return LegResult{
		Wait:    wait,
		NextTAT: base.Add(emission),
	}
}

// Combine merges per-leg results into a single decision: every leg must
// admit simultaneously, and a denial carries the largest leg wait,
// capped at half the longest observation interval so that a single
// suspension never stalls pathologically. The cap only bounds one
// suspension chunk; callers re-check on wake.
func Combine(maxInterval time.Duration, legs ...LegResult) Decision {
	var wait time.Duration
	for _, leg := range legs {
		if leg.Wait > wait {
			wait = leg.Wait
		}
	}
	if wait == 0 {
		return Decision{Allowed: true}
	}
	if cap := maxInterval / 2; cap > 0 && wait > cap {
		wait = cap
	}
	return Decision{Allowed: false, Wait: wait}
}

// CommitWindow records a completed request in the burst window: entries
// older than the observation interval are evicted, the new timestamp is
// appended, and the window is trimmed to its capacity from the oldest
// end. Called only after the underlying network call succeeded — a
// failed call never consumes a burst slot.
func CommitWindow(window []time.Time, cfg LegConfig, grantedAt, now time.Time) []time.Time {
	cutoff := now.Add(-cfg.Interval)
	kept := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, grantedAt)
	// Commits can land out of grant order; keep the window sorted so the
	// backward gap walk stays meaningful.
	for i := len(kept) - 1; i > 0 && kept[i].Before(kept[i-1]); i-- {
		kept[i], kept[i-1] = kept[i-1], kept[i]
	}
	if len(kept) > cfg.Burst {
		kept = kept[len(kept)-cfg.Burst:]
	}
	return kept
}
