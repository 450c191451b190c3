package pacegate

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// waiterState tracks a waiter through its lifetime inside the queue.
type waiterState int

const (
	waiterWaiting waiterState = iota
	waiterReady
	waiterCancelled
	waiterCompleted
)

// waiter is a suspended admission attempt. It never escapes the queue:
// callers only ever see its ready channel. The channel is closed exactly
// once per arming; re-arming swaps in a fresh channel.
type waiter struct {
	id        uuid.UUID
	group     Group
	arrivedAt time.Time
	seq       uint64

	// Guarded by the owning groupQueue's mutex.
	readyAt time.Time
	ready   chan struct{}
	state   waiterState
}

type groupQueue struct {
	mu      sync.Mutex
	waiters []*waiter // ordered by (readyAt, seq): soft FIFO
}

// insertLocked keeps the slice ordered by readyAt, breaking ties by
// arrival sequence so earlier callers are preferred.
func (gq *groupQueue) insertLocked(w *waiter) {
	i := sort.Search(len(gq.waiters), func(i int) bool {
		other := gq.waiters[i]
		if !other.readyAt.Equal(w.readyAt) {
			return other.readyAt.After(w.readyAt)
		}
		return other.seq > w.seq
	})
	gq.waiters = append(gq.waiters, nil)
	copy(gq.waiters[i+1:], gq.waiters[i:])
	gq.waiters[i] = w
}

func (gq *groupQueue) removeLocked(w *waiter) {
	for i, other := range gq.waiters {
		if other == w {
			gq.waiters = append(gq.waiters[:i], gq.waiters[i+1:]...)
			return
		}
	}
}

// admissionQueue suspends denied callers until their computed readyAt
// elapses. One notifier task per group scans for due waiters on a short
// tick; the health supervisor restarts notifiers that die.
type admissionQueue struct {
	clock     Clock
	log       *zap.Logger
	tick      time.Duration
	maxErrors int

	groups map[Group]*groupQueue

	mu        sync.Mutex // guards notifiers
	notifiers map[Group]*notifier

	seq atomic.Uint64
}

func newAdmissionQueue(cfg *Config, clock Clock, log *zap.Logger) *admissionQueue {
	q := &admissionQueue{
		clock:     clock,
		log:       log,
		tick:      cfg.NotifierTick.Std(),
		maxErrors: cfg.MaxConsecutiveErrors,
		groups:    make(map[Group]*groupQueue, len(cfg.Groups)),
		notifiers: make(map[Group]*notifier, len(cfg.Groups)),
	}
	for group := range cfg.Groups {
		q.groups[group] = &groupQueue{}
	}
	return q
}

// start spawns one notifier per configured group.
func (q *admissionQueue) start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for group := range q.groups {
		q.notifiers[group] = q.spawnNotifier(group)
	}
}

func (q *admissionQueue) stop() {
	q.mu.Lock()
	notifiers := make([]*notifier, 0, len(q.notifiers))
	for _, n := range q.notifiers {
		notifiers = append(notifiers, n)
	}
	q.mu.Unlock()

	for _, n := range notifiers {
		n.halt()
	}
}

func (q *admissionQueue) spawnNotifier(group Group) *notifier {
	n := &notifier{
		group:     group,
		queue:     q,
		tick:      q.tick,
		maxErrors: q.maxErrors,
		clock:     q.clock,
		log:       q.log,
		stopped:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	go n.run()
	return n
}

// notifier returns the current notifier task for a group.
func (q *admissionQueue) notifier(group Group) *notifier {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.notifiers[group]
}

// replaceNotifier halts the current task (if any) and spawns a fresh
// one. Called only by the health supervisor.
func (q *admissionQueue) replaceNotifier(group Group) *notifier {
	q.mu.Lock()
	old := q.notifiers[group]
	q.mu.Unlock()
	if old != nil {
		old.halt()
	}

	fresh := q.spawnNotifier(group)
	q.mu.Lock()
	q.notifiers[group] = fresh
	q.mu.Unlock()
	return fresh
}

// enqueue registers a new waiter that becomes due at readyAt.
func (q *admissionQueue) enqueue(group Group, now, readyAt time.Time) *waiter {
	gq := q.groups[group]
	w := &waiter{
		id:        uuid.New(),
		group:     group,
		arrivedAt: now,
		seq:       q.seq.Add(1),
		readyAt:   readyAt,
		ready:     make(chan struct{}),
		state:     waiterWaiting,
	}

	gq.mu.Lock()
	gq.insertLocked(w)
	gq.mu.Unlock()
	return w
}

// rearm puts a woken waiter back to sleep with a fresh readyAt after a
// denied re-check. The waiter keeps its identity and arrival order.
func (q *admissionQueue) rearm(w *waiter, readyAt time.Time) {
	gq := q.groups[w.group]
	gq.mu.Lock()
	defer gq.mu.Unlock()

	gq.removeLocked(w)
	w.readyAt = readyAt
	w.ready = make(chan struct{})
	w.state = waiterWaiting
	gq.insertLocked(w)
}

// readyChan returns the channel the caller suspends on. The channel is
// replaced on rearm, so it must be re-read after every wake.
func (q *admissionQueue) readyChan(w *waiter) <-chan struct{} {
	gq := q.groups[w.group]
	gq.mu.Lock()
	defer gq.mu.Unlock()
	return w.ready
}

// remove takes a waiter out of the queue on any terminal path. It is
// idempotent and safe from every cancellation path.
func (q *admissionQueue) remove(w *waiter, terminal waiterState) {
	gq := q.groups[w.group]
	gq.mu.Lock()
	defer gq.mu.Unlock()

	gq.removeLocked(w)
	if w.state == waiterWaiting {
		// Never strand a suspended caller.
		close(w.ready)
	}
	w.state = terminal
}

// depth reports the number of suspended callers for a group.
func (q *admissionQueue) depth(group Group) int {
	gq, ok := q.groups[group]
	if !ok {
		return 0
	}
	gq.mu.Lock()
	defer gq.mu.Unlock()
	return len(gq.waiters)
}

// wakeDue signals every waiter whose readyAt has elapsed. Woken waiters
// stay in the queue until their caller removes or re-arms them; the
// caller re-checks admission rather than trusting the old decision.
func (q *admissionQueue) wakeDue(group Group, now time.Time) int {
	gq := q.groups[group]
	gq.mu.Lock()
	defer gq.mu.Unlock()

	woken := 0
	for _, w := range gq.waiters {
		if w.readyAt.After(now) {
			break // ordered by readyAt; the rest are not due yet
		}
		if w.state == waiterWaiting {
			w.state = waiterReady
			close(w.ready)
			woken++
		}
	}
	return woken
}

// forceWake releases every suspended waiter for a group regardless of
// readyAt. Fail-open: used by the supervisor when the group's notifier
// is being replaced, so no caller is ever stuck behind an internal
// failure.
func (q *admissionQueue) forceWake(group Group) int {
	gq := q.groups[group]
	gq.mu.Lock()
	defer gq.mu.Unlock()

	released := 0
	for _, w := range gq.waiters {
		if w.state == waiterWaiting {
			w.state = waiterReady
			close(w.ready)
			released++
		}
	}
	return released
}

// notifier is the per-group background task that wakes due waiters.
// Its loop body runs inside a recovery shell: a panic increments the
// consecutive-error count, backs off with jitter, and after maxErrors
// the task self-terminates and leaves restart to the supervisor.
type notifier struct {
	group     Group
	queue     *admissionQueue
	tick      time.Duration
	maxErrors int
	clock     Clock
	log       *zap.Logger

	stopped  chan struct{}
	done     chan struct{}
	haltOnce sync.Once

	consecutiveErrors atomic.Int64
}

// notifierBackoffBase is the first retry delay after a loop failure.
const notifierBackoffBase = 50 * time.Millisecond

// notifierBackoffCap bounds the exponential backoff.
const notifierBackoffCap = 2 * time.Second

func (n *notifier) run() {
	defer close(n.done)

	ticker := time.NewTicker(n.tick)
	defer ticker.Stop()

	for {
		select {
		case <-n.stopped:
			return
		case <-ticker.C:
			if err := n.scanOnce(); err != nil {
				errs := n.consecutiveErrors.Add(1)
				n.log.Warn("notifier scan failed",
					zap.String("group", string(n.group)),
					zap.Int64("consecutive_errors", errs),
					zap.Error(err),
				)
				if errs >= int64(n.maxErrors) {
					// Escalate: die and let the supervisor fail open.
					n.log.Error("notifier giving up",
						zap.String("group", string(n.group)),
						zap.Int64("consecutive_errors", errs),
					)
					return
				}
				if !n.sleep(backoffWithJitter(errs)) {
					return
				}
			} else {
				n.consecutiveErrors.Store(0)
			}
		}
	}
}

// scanOnce wakes due waiters, converting any panic into an error for
// the recovery shell.
func (n *notifier) scanOnce() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()
	n.queue.wakeDue(n.group, n.clock.Now())
	return nil
}

// sleep waits for d or until the notifier is halted.
func (n *notifier) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-n.stopped:
		return false
	case <-t.C:
		return true
	}
}

// halt stops the task and waits for it to exit. Idempotent.
func (n *notifier) halt() {
	n.haltOnce.Do(func() { close(n.stopped) })
	<-n.done
}

// alive reports whether the task's goroutine is still running.
func (n *notifier) alive() bool {
	select {
	case <-n.done:
		return false
	default:
		return true
	}
}

// backoffWithJitter grows exponentially with the consecutive-error
// count, capped, with jitter proportional to the error count.
func backoffWithJitter(errs int64) time.Duration {
	backoff := notifierBackoffBase << uint(errs-1)
	if backoff <= 0 || backoff > notifierBackoffCap {
		backoff = notifierBackoffCap
	}
	jitter := time.Duration(rand.Int63n(int64(notifierBackoffBase))) * time.Duration(errs)
	return backoff + jitter
}
