package pacegate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pacegate/pacegate/metrics"
)

// Limiter is the unified client-side rate limiter. Construct one at
// startup with New and share it by reference with every client wrapper;
// there is no ambient global instance.
type Limiter struct {
	config *Config
	clock  Clock
	log    *zap.Logger
	stats  *metrics.Collector

	registry *registry
	queue    *admissionQueue
	guard    *timeoutGuard
	health   *healthSupervisor
	throttle *adaptiveThrottle

	closed    chan struct{}
	closeOnce sync.Once
}

// New creates a Limiter with the given options. Without options it uses
// DefaultConfig, the system clock, and a no-op logger.
//
// Example:
//
//	limiter, err := pacegate.New(
//	    pacegate.WithConfigFile("limits.yaml"),
//	    pacegate.WithLogger(log),
//	)
func New(opts ...Option) (*Limiter, error) {
	l := &Limiter{
		config: DefaultConfig(),
		clock:  systemClock{},
		log:    zap.NewNop(),
		stats:  metrics.NewCollector(),
		closed: make(chan struct{}),
	}

	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := l.config.Validate(); err != nil {
		return nil, err
	}

	reg, err := newRegistry(l.config)
	if err != nil {
		return nil, err
	}
	l.registry = reg
	l.queue = newAdmissionQueue(l.config, l.clock, l.log)
	l.guard = newTimeoutGuard(l.config, l.clock)
	l.health = newHealthSupervisor(l.config, l.queue, l.clock, l.log, l.stats)
	l.throttle = newAdaptiveThrottle(l.config, l.registry, l.clock, l.log)

	l.queue.start()
	l.health.start()
	l.throttle.start()

	return l, nil
}

// Permit is the result of a granted admission. Call Commit after the
// underlying network call succeeds so the request occupies its burst
// slot; call Abandon when the call never happened or failed before
// reaching the provider. Exactly one of the two, once.
type Permit struct {
	limiter   *Limiter
	group     Group
	grantedAt time.Time
	once      sync.Once
}

// Group returns the group the permit was granted for.
func (p *Permit) Group() Group { return p.group }

// Commit records the completed request in the group's burst window.
func (p *Permit) Commit() {
	p.once.Do(func() {
		p.limiter.registry.commit(p.group, p.grantedAt, p.limiter.clock.Now())
	})
}

// Abandon releases the permit without consuming a burst slot. The TAT
// reservation made at grant time stands; only the burst slot is
// returned.
func (p *Permit) Abandon() {
	p.once.Do(func() {})
}

// Acquire suspends until the group admits a request, the waiter timeout
// elapses (ErrAcquireTimeout, soft and retryable), or ctx is cancelled.
func (l *Limiter) Acquire(ctx context.Context, group Group) (*Permit, error) {
	return l.AcquireEndpoint(ctx, group, "")
}

// AcquireEndpoint is Acquire with an endpoint tag for diagnostics.
func (l *Limiter) AcquireEndpoint(ctx context.Context, group Group, endpoint string) (*Permit, error) {
	select {
	case <-l.closed:
		return nil, ErrClosed
	default:
	}
	if !group.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGroup, group)
	}

	arrivedAt := l.clock.Now()
	decision, err := l.registry.admit(group, arrivedAt, arrivedAt)
	if err != nil {
		return nil, err
	}
	if decision.Allowed {
		l.stats.RecordAttempt(string(group), true)
		return &Permit{limiter: l, group: group, grantedAt: arrivedAt}, nil
	}

	// Suspend. One waiter and one timeout timer for the whole attempt;
	// the waiter is re-armed on every denied re-check. One attempt is
	// counted per Acquire, at its terminal outcome — re-checks are
	// internal wakes, not caller attempts. Cleanup runs on every exit
	// path and is idempotent.
	w := l.queue.enqueue(group, arrivedAt, arrivedAt.Add(decision.Wait))
	timer := l.guard.arm(w.id)

	outcome := waiterCancelled
	defer func() {
		l.guard.disarm(w.id)
		l.queue.remove(w, outcome)
	}()

	if endpoint != "" {
		l.log.Debug("admission suspended",
			zap.String("group", string(group)),
			zap.String("endpoint", endpoint),
			zap.Duration("wait", decision.Wait),
		)
	}

	for {
		select {
		case <-l.queue.readyChan(w):
			// Woken. State may have changed while we slept; re-check
			// rather than trusting the old decision.
		case <-timer.C:
			outcome = waiterCancelled
			waited := l.clock.Now().Sub(arrivedAt)
			l.guard.observe(group, waited, true)
			l.stats.RecordAttempt(string(group), false)
			l.stats.RecordTimeout(string(group))
			return nil, fmt.Errorf("%w: group %s after %v", ErrAcquireTimeout, group, l.guard.timeout)
		case <-ctx.Done():
			outcome = waiterCancelled
			l.guard.observe(group, l.clock.Now().Sub(arrivedAt), false)
			l.stats.RecordAttempt(string(group), false)
			l.stats.RecordCancel(string(group))
			return nil, ctx.Err()
		case <-l.closed:
			outcome = waiterCancelled
			return nil, ErrClosed
		}

		now := l.clock.Now()
		decision, err = l.registry.admit(group, arrivedAt, now)
		if err != nil {
			return nil, err
		}
		if decision.Allowed {
			outcome = waiterCompleted
			l.guard.observe(group, now.Sub(arrivedAt), false)
			l.stats.RecordAttempt(string(group), true)
			return &Permit{limiter: l, group: group, grantedAt: now}, nil
		}
		l.queue.rearm(w, now.Add(decision.Wait))
	}
}

// ViolationOption annotates a Notify429 report.
type ViolationOption func(*violationReport)

type violationReport struct {
	endpoint   string
	retryAfter time.Duration
}

// WithRetryAfter forwards the provider's Retry-After hint; the group's
// primary TAT advances past it.
func WithRetryAfter(d time.Duration) ViolationOption {
	return func(v *violationReport) { v.retryAfter = d }
}

// WithEndpoint tags the violation with the endpoint that tripped it.
func WithEndpoint(endpoint string) ViolationOption {
	return func(v *violationReport) { v.endpoint = endpoint }
}

// Notify429 records a provider-side rate limit violation. A 429 is not
// an error of this layer; it is an input that tightens throttling.
func (l *Limiter) Notify429(group Group, opts ...ViolationOption) {
	if !group.Valid() {
		return
	}

	var report violationReport
	for _, opt := range opts {
		opt(&report)
	}

	now := l.clock.Now()
	reduced, ratio := l.registry.recordViolation(group, now, report.retryAfter)
	l.stats.RecordViolation(string(group))

	if reduced {
		l.log.Warn("throttle ratio reduced",
			zap.String("group", string(group)),
			zap.String("endpoint", report.endpoint),
			zap.Float64("ratio", ratio),
			zap.Duration("retry_after", report.retryAfter),
		)
	}
}

// Status returns a read-only snapshot per group for diagnostics.
func (l *Limiter) Status() map[Group]GroupStatus {
	now := l.clock.Now()
	out := make(map[Group]GroupStatus, len(l.config.Groups))
	for group := range l.config.Groups {
		status, err := l.registry.snapshot(group, now)
		if err != nil {
			continue
		}
		status.QueueDepth = l.queue.depth(group)
		status.NotifierHealth = l.health.status(group)
		status.Waits = l.guard.groupStats(group)
		out[group] = status
	}
	return out
}

// Metrics returns the limiter's statistics collector.
func (l *Limiter) Metrics() *metrics.Collector { return l.stats }

// Close shuts the limiter down: background loops stop and every
// suspended caller returns ErrClosed. Idempotent.
func (l *Limiter) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.throttle.halt()
		l.health.halt()
		l.queue.stop()
	})
	return nil
}
