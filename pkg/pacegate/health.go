package pacegate

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthStatus describes the state of a group's notifier task.
type HealthStatus string

const (
	HealthHealthy    HealthStatus = "healthy"
	HealthDegraded   HealthStatus = "degraded"
	HealthFailed     HealthStatus = "failed"
	HealthRestarting HealthStatus = "restarting"
)

// notifierHealth is the supervisor's per-group bookkeeping.
type notifierHealth struct {
	status            HealthStatus
	consecutiveErrors int64
	lastRestartAt     time.Time
	restarts          int64
}

// forceWakeObserver is notified when a supervisor fail-open releases
// queued waiters; the metrics collector implements it.
type forceWakeObserver interface {
	RecordForceWake(group string, released int)
}

// healthSupervisor watches every group's notifier task on a fixed
// interval. A task above half its error budget is DEGRADED; a dead task
// is FAILED. Either way the supervisor replaces the task and force-wakes
// all queued waiters so no caller is stuck behind an internal failure.
// Restarts are throttled per group.
type healthSupervisor struct {
	queue    *admissionQueue
	clock    Clock
	log      *zap.Logger
	observer forceWakeObserver

	interval     time.Duration
	restartEvery time.Duration
	maxErrors    int

	mu     sync.Mutex
	health map[Group]*notifierHealth

	stopped  chan struct{}
	done     chan struct{}
	haltOnce sync.Once
}

func newHealthSupervisor(cfg *Config, queue *admissionQueue, clock Clock, log *zap.Logger, observer forceWakeObserver) *healthSupervisor {
	s := &healthSupervisor{
		queue:        queue,
		clock:        clock,
		log:          log,
		observer:     observer,
		interval:     cfg.HealthCheckInterval.Std(),
		restartEvery: cfg.RestartInterval.Std(),
		maxErrors:    cfg.MaxConsecutiveErrors,
		health:       make(map[Group]*notifierHealth, len(cfg.Groups)),
		stopped:      make(chan struct{}),
		done:         make(chan struct{}),
	}
	for group := range cfg.Groups {
		s.health[group] = &notifierHealth{status: HealthHealthy}
	}
	return s
}

func (s *healthSupervisor) start() {
	go s.run()
}

func (s *healthSupervisor) halt() {
	s.haltOnce.Do(func() { close(s.stopped) })
	<-s.done
}

func (s *healthSupervisor) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopped:
			return
		case <-ticker.C:
			s.checkAll()
		}
	}
}

func (s *healthSupervisor) checkAll() {
	for group := range s.health {
		s.check(group)
	}
}

// check classifies one group's notifier and restarts it when degraded
// or failed.
func (s *healthSupervisor) check(group Group) {
	n := s.queue.notifier(group)
	if n == nil {
		return
	}

	errs := n.consecutiveErrors.Load()
	status := HealthHealthy
	switch {
	case !n.alive():
		status = HealthFailed
	case errs > int64(s.maxErrors)/2:
		status = HealthDegraded
	}

	s.mu.Lock()
	h := s.health[group]
	h.status = status
	h.consecutiveErrors = errs
	now := s.clock.Now()
	restartDue := status != HealthHealthy &&
		(h.lastRestartAt.IsZero() || now.Sub(h.lastRestartAt) >= s.restartEvery)
	if restartDue {
		h.status = HealthRestarting
		h.lastRestartAt = now
		h.restarts++
	}
	s.mu.Unlock()

	if !restartDue {
		return
	}

	// Fail open before replacing the task: a caller must never be stuck
	// indefinitely because of an internal crash.
	released := s.queue.forceWake(group)
	if s.observer != nil {
		s.observer.RecordForceWake(string(group), released)
	}
	s.queue.replaceNotifier(group)

	s.log.Warn("notifier restarted",
		zap.String("group", string(group)),
		zap.String("reason", string(status)),
		zap.Int64("consecutive_errors", errs),
		zap.Int("waiters_released", released),
	)

	s.mu.Lock()
	s.health[group].status = HealthHealthy
	s.health[group].consecutiveErrors = 0
	s.mu.Unlock()
}

// status returns the current health classification for a group.
func (s *healthSupervisor) status(group Group) HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.health[group]; ok {
		return h.status
	}
	return HealthFailed
}
