// Package pacegate paces outbound calls to a rate-limited provider API
// so the caller never exceeds the provider's limits and recovers
// gracefully when the provider reports an overage anyway.
//
// # Quick Start
//
//	limiter, err := pacegate.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer limiter.Close()
//
//	permit, err := limiter.Acquire(ctx, pacegate.GroupPrivateOrder)
//	if err != nil {
//	    // errors.Is(err, pacegate.ErrAcquireTimeout): soft, retry later
//	    return err
//	}
//	resp, err := placeOrder(ctx)
//	if err != nil {
//	    permit.Abandon() // the request never reached the provider
//	    return err
//	}
//	permit.Commit() // the request consumed a burst slot
//
//	if resp.StatusCode == http.StatusTooManyRequests {
//	    limiter.Notify429(pacegate.GroupPrivateOrder,
//	        pacegate.WithRetryAfter(retryAfter(resp)))
//	}
//
// # Algorithm
//
// Each group runs a hybrid of the Generic Cell Rate Algorithm and a
// bounded burst-timestamp window:
//
//   - GCRA enforces steady-rate spacing through a single theoretical
//     arrival time (TAT) advanced by one emission interval per grant.
//   - A window of the most recent committed request timestamps allows
//     bursts: while the window has free slots, steady-rate spacing is
//     bypassed entirely.
//   - Dual-limit groups (the websocket channel) apply the same check
//     against an independent per-minute TAT/window pair; both legs must
//     admit simultaneously.
//
// Admission is two-phase: a grant reserves the TAT immediately, but the
// burst slot is consumed only when the caller commits after a
// successful network call.
//
// # Admission queue
//
// Denied callers suspend on a per-caller channel. A background notifier
// task per group wakes waiters whose computed ready time has elapsed;
// every woken caller re-checks admission rather than trusting the stale
// decision. Fairness is soft FIFO: earlier arrivals are preferred, but
// exact ordering under concurrent re-checks is not guaranteed.
//
// A health supervisor watches each notifier. If a notifier degrades or
// dies, the supervisor releases every queued waiter for that group
// (fail open) and spawns a replacement, at most once per restart
// interval.
//
// # Adaptive throttling
//
// Notify429 reports feed a per-group throttle ratio. A violation
// reduces the effective rate immediately (zero tolerance by default);
// a background loop recovers the ratio slowly once the group stays
// clean. For a short window after any violation an extra, linearly
// decaying delay spreads load even when the core algorithm would
// already admit.
//
// # Configuration
//
// Defaults ship in DefaultConfig; load overrides from YAML:
//
//	safety_factor: 0.98
//	waiter_timeout: 10s
//	groups:
//	  private-order:
//	    base_rps: 8
//	    burst_capacity: 8
//	    error_threshold: 1
//	    error_window: 1m
//	    reduction_ratio: 0.5
//	    min_ratio: 0.1
//	    recovery_delay: 30s
//	    recovery_step: 0.1
//	    preventive_window: 5s
//	    max_preventive_delay: 1s
//
// All limiter state is process-local and resets on restart; sharing
// limits across processes is out of scope.
package pacegate
