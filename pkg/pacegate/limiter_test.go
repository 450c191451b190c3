package pacegate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pacegate/pacegate/metrics"
)

// fastConfig is an integration-test config with real-time durations
// small enough to keep the suite quick.
func fastConfig(gc GroupConfig) *Config {
	cfg := testConfig(GroupPrivateOrder, gc)
	cfg.WaiterTimeout = Duration(time.Second)
	cfg.NotifierTick = Duration(time.Millisecond)
	cfg.HealthCheckInterval = Duration(10 * time.Millisecond)
	cfg.RecoveryTick = Duration(10 * time.Millisecond)
	return cfg
}

func newTestLimiter(t *testing.T, cfg *Config) *Limiter {
	t.Helper()
	l, err := New(WithConfig(cfg))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestAcquireBurstIsImmediate(t *testing.T) {
	l := newTestLimiter(t, fastConfig(testGroupConfig(100, 5)))
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		permit, err := l.Acquire(ctx, GroupPrivateOrder)
		if err != nil {
			t.Fatalf("Acquire %d: %v", i+1, err)
		}
		permit.Commit()
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("burst of 5 took %v, want nearly immediate", elapsed)
	}
}

func TestAcquirePacesBeyondBurst(t *testing.T) {
	// Burst 1: the window admits one request per observation interval,
	// so the second request suspends until roughly a second after the
	// first, crossing at least one re-check along the way.
	cfg := fastConfig(testGroupConfig(20, 1))
	cfg.WaiterTimeout = Duration(5 * time.Second)
	l := newTestLimiter(t, cfg)
	ctx := context.Background()

	permit, err := l.Acquire(ctx, GroupPrivateOrder)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	permit.Commit()

	start := time.Now()
	permit, err = l.Acquire(ctx, GroupPrivateOrder)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	permit.Commit()

	if elapsed := time.Since(start); elapsed < 800*time.Millisecond {
		t.Errorf("second request admitted after %v, want about a full interval", elapsed)
	}

	status := l.Status()[GroupPrivateOrder]
	if status.Waits.Suspensions != 1 {
		t.Errorf("Suspensions = %d, want 1", status.Waits.Suspensions)
	}

	// Two caller attempts, both granted — the denied re-checks of the
	// suspended attempt are not counted as attempts.
	snap := metricsFor(l, GroupPrivateOrder)
	if snap.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", snap.Attempts)
	}
	if snap.Grants != 2 {
		t.Errorf("Grants = %d, want 2", snap.Grants)
	}
}

func metricsFor(l *Limiter, group Group) metrics.GroupSnapshot {
	for _, g := range l.Metrics().GetSnapshot().Groups {
		if g.Group == string(group) {
			return g
		}
	}
	return metrics.GroupSnapshot{}
}

func TestAcquireTimeout(t *testing.T) {
	gc := testGroupConfig(0.1, 1)
	cfg := fastConfig(gc)
	cfg.WaiterTimeout = Duration(50 * time.Millisecond)

	l := newTestLimiter(t, cfg)
	ctx := context.Background()

	permit, err := l.Acquire(ctx, GroupPrivateOrder)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	permit.Commit()

	// The next slot is ten seconds away; the waiter timeout fires first
	// and the error is soft: the caller may simply try again.
	_, err = l.Acquire(ctx, GroupPrivateOrder)
	if !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("second Acquire = %v, want ErrAcquireTimeout", err)
	}

	status := l.Status()[GroupPrivateOrder]
	if status.Waits.Timeouts != 1 {
		t.Errorf("Timeouts = %d, want 1", status.Waits.Timeouts)
	}
	if status.QueueDepth != 0 {
		t.Errorf("QueueDepth after timeout = %d, want 0 (waiter cleaned up)", status.QueueDepth)
	}
	if l.guard.armedCount() != 0 {
		t.Errorf("armed timers after timeout = %d, want 0", l.guard.armedCount())
	}

	snap := metricsFor(l, GroupPrivateOrder)
	if snap.Attempts != 2 || snap.Grants != 1 || snap.Timeouts != 1 {
		t.Errorf("counters = %d attempts / %d grants / %d timeouts, want 2/1/1",
			snap.Attempts, snap.Grants, snap.Timeouts)
	}
}

func TestAcquireContextCancel(t *testing.T) {
	gc := testGroupConfig(0.1, 1)
	l := newTestLimiter(t, fastConfig(gc))

	permit, err := l.Acquire(context.Background(), GroupPrivateOrder)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	permit.Commit()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = l.Acquire(ctx, GroupPrivateOrder)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Acquire = %v, want context.Canceled", err)
	}
	if l.guard.armedCount() != 0 {
		t.Errorf("armed timers after cancel = %d, want 0", l.guard.armedCount())
	}

	snap := metricsFor(l, GroupPrivateOrder)
	if snap.Attempts != 2 || snap.Grants != 1 || snap.Cancels != 1 {
		t.Errorf("counters = %d attempts / %d grants / %d cancels, want 2/1/1",
			snap.Attempts, snap.Grants, snap.Cancels)
	}
}

func TestAcquireUnknownGroup(t *testing.T) {
	l := newTestLimiter(t, fastConfig(testGroupConfig(10, 10)))

	if _, err := l.Acquire(context.Background(), Group("mystery")); !errors.Is(err, ErrUnknownGroup) {
		t.Errorf("Acquire(mystery) = %v, want ErrUnknownGroup", err)
	}
	// Valid name, but not configured in this limiter.
	if _, err := l.Acquire(context.Background(), GroupWebSocket); !errors.Is(err, ErrUnknownGroup) {
		t.Errorf("Acquire(websocket) = %v, want ErrUnknownGroup", err)
	}
}

func TestAcquireAfterClose(t *testing.T) {
	l := newTestLimiter(t, fastConfig(testGroupConfig(10, 10)))
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Idempotent.
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, err := l.Acquire(context.Background(), GroupPrivateOrder); !errors.Is(err, ErrClosed) {
		t.Errorf("Acquire after Close = %v, want ErrClosed", err)
	}
}

func TestCloseReleasesSuspendedCallers(t *testing.T) {
	gc := testGroupConfig(0.1, 1)
	l := newTestLimiter(t, fastConfig(gc))

	permit, err := l.Acquire(context.Background(), GroupPrivateOrder)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	permit.Commit()

	result := make(chan error, 1)
	go func() {
		_, err := l.Acquire(context.Background(), GroupPrivateOrder)
		result <- err
	}()

	time.Sleep(20 * time.Millisecond)
	l.Close()

	select {
	case err := <-result:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("suspended Acquire = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close left a caller suspended")
	}
}

func TestPermitCommitOnce(t *testing.T) {
	l := newTestLimiter(t, fastConfig(testGroupConfig(100, 10)))

	permit, err := l.Acquire(context.Background(), GroupPrivateOrder)
	if err != nil {
		t.Fatal(err)
	}
	permit.Commit()
	permit.Commit()
	permit.Abandon()

	if got := l.Status()[GroupPrivateOrder].BurstWindowOccupancy; got != 1 {
		t.Errorf("occupancy = %d, want 1 (single commit)", got)
	}
}

func TestPermitAbandonKeepsSlotFree(t *testing.T) {
	l := newTestLimiter(t, fastConfig(testGroupConfig(100, 10)))

	permit, err := l.Acquire(context.Background(), GroupPrivateOrder)
	if err != nil {
		t.Fatal(err)
	}
	permit.Abandon()
	permit.Commit() // too late; the permit is spent

	status := l.Status()[GroupPrivateOrder]
	if status.BurstWindowOccupancy != 0 {
		t.Errorf("occupancy = %d, want 0 after abandon", status.BurstWindowOccupancy)
	}
	if status.TATPrimary.IsZero() {
		t.Error("abandon should not roll back the TAT reservation")
	}
}

func TestNotify429TightensAdmission(t *testing.T) {
	l := newTestLimiter(t, fastConfig(testGroupConfig(100, 10)))

	l.Notify429(GroupPrivateOrder, WithEndpoint("POST /v1/orders"))
	status := l.Status()[GroupPrivateOrder]
	if status.CurrentRatio != 0.5 {
		t.Errorf("CurrentRatio = %v, want 0.5", status.CurrentRatio)
	}
	if status.ViolationCount != 1 {
		t.Errorf("ViolationCount = %d, want 1", status.ViolationCount)
	}

	// Unknown groups are ignored.
	l.Notify429(Group("mystery"))
}

func TestNotify429RetryAfter(t *testing.T) {
	l := newTestLimiter(t, fastConfig(testGroupConfig(100, 10)))

	before := time.Now()
	l.Notify429(GroupPrivateOrder, WithRetryAfter(5*time.Second))

	status := l.Status()[GroupPrivateOrder]
	if status.TATPrimary.Before(before.Add(4 * time.Second)) {
		t.Errorf("TATPrimary = %v, want pushed ~5s past %v", status.TATPrimary, before)
	}
}

func TestStatusCoversConfiguredGroups(t *testing.T) {
	l := newTestLimiter(t, fastConfig(testGroupConfig(10, 10)))

	status := l.Status()
	if len(status) != 1 {
		t.Fatalf("Status() has %d groups, want 1", len(status))
	}
	st, ok := status[GroupPrivateOrder]
	if !ok {
		t.Fatal("Status() missing the configured group")
	}
	if st.Group != GroupPrivateOrder {
		t.Errorf("Group = %s, want %s", st.Group, GroupPrivateOrder)
	}
	if st.NotifierHealth != HealthHealthy {
		t.Errorf("NotifierHealth = %s, want healthy", st.NotifierHealth)
	}
	if st.BurstWindowCapacity != 10 {
		t.Errorf("BurstWindowCapacity = %d, want 10", st.BurstWindowCapacity)
	}
}

func TestMetricsCountAdmissions(t *testing.T) {
	l := newTestLimiter(t, fastConfig(testGroupConfig(100, 10)))

	for i := 0; i < 3; i++ {
		permit, err := l.Acquire(context.Background(), GroupPrivateOrder)
		if err != nil {
			t.Fatal(err)
		}
		permit.Commit()
	}
	l.Notify429(GroupPrivateOrder)

	snap := l.Metrics().GetSnapshot()
	var found bool
	for _, g := range snap.Groups {
		if g.Group != string(GroupPrivateOrder) {
			continue
		}
		found = true
		if g.Grants != 3 {
			t.Errorf("Grants = %d, want 3", g.Grants)
		}
		if g.Violations != 1 {
			t.Errorf("Violations = %d, want 1", g.Violations)
		}
	}
	if !found {
		t.Fatal("snapshot missing the exercised group")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SafetyFactor = 0

	if _, err := New(WithConfig(cfg)); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("New(bad config) = %v, want ErrInvalidConfig", err)
	}
}

func TestPreventiveDelayDelaysButAdmits(t *testing.T) {
	// After a violation an Acquire inside the preventive window pays its
	// assigned extra delay once and is then admitted — it is not held
	// until the window runs out.
	gc := testGroupConfig(100, 10)
	gc.PreventiveWindow = Duration(2 * time.Second)
	gc.MaxPreventiveDelay = Duration(200 * time.Millisecond)

	l := newTestLimiter(t, fastConfig(gc))
	l.Notify429(GroupPrivateOrder)

	start := time.Now()
	permit, err := l.Acquire(context.Background(), GroupPrivateOrder)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	permit.Commit()

	elapsed := time.Since(start)
	if elapsed < 100*time.Millisecond {
		t.Errorf("admitted after %v, want the preventive delay applied", elapsed)
	}
	if elapsed > time.Second {
		t.Errorf("admitted after %v, want well before the 2s window ends", elapsed)
	}
}
