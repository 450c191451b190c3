package core

import (
	"testing"
	"time"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestEmissionInterval(t *testing.T) {
	tests := []struct {
		name  string
		rate  float64
		ratio float64
		want  time.Duration
	}{
		{name: "10 rps full ratio", rate: 10, ratio: 1.0, want: 100 * time.Millisecond},
		{name: "5 rps full ratio", rate: 5, ratio: 1.0, want: 200 * time.Millisecond},
		{name: "halved ratio doubles spacing", rate: 10, ratio: 0.5, want: 200 * time.Millisecond},
		{name: "sub-1 rps", rate: 0.5, ratio: 1.0, want: 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EmissionInterval(tt.rate, tt.ratio); got != tt.want {
				t.Errorf("EmissionInterval(%v, %v) = %v, want %v", tt.rate, tt.ratio, got, tt.want)
			}
		})
	}
}

func TestEmissionIntervalNeverDividesByZero(t *testing.T) {
	got := EmissionInterval(10, 0)
	if got <= 0 {
		t.Fatalf("EmissionInterval with zero ratio = %v, want positive", got)
	}
}

func TestWindowWait(t *testing.T) {
	interval := time.Second

	tests := []struct {
		name   string
		window []time.Time
		now    time.Time
		want   time.Duration
	}{
		{
			name:   "empty window",
			window: nil,
			now:    base,
			want:   0,
		},
		{
			name: "oldest entry just inside interval",
			window: []time.Time{
				base.Add(-900 * time.Millisecond),
				base.Add(-100 * time.Millisecond),
			},
			now:  base,
			want: 100 * time.Millisecond,
		},
		{
			name: "oldest entry beyond interval",
			window: []time.Time{
				base.Add(-2 * time.Second),
				base.Add(-100 * time.Millisecond),
			},
			now:  base,
			want: 0,
		},
		{
			name:   "single fresh entry",
			window: []time.Time{base},
			now:    base,
			want:   time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WindowWait(tt.window, interval, tt.now); got != tt.want {
				t.Errorf("WindowWait() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckLegBurstOverridesSteadyRate(t *testing.T) {
	cfg := LegConfig{Rate: 1, Burst: 3, Interval: time.Second}
	// TAT far in the future, but the window has free slots.
	st := LegState{TAT: base.Add(5 * time.Second), Window: []time.Time{base}}

	res := CheckLeg(st, cfg, 1.0, base)
	if res.Wait != 0 {
		t.Errorf("leg wait = %v, want 0 (free burst slot overrides TAT)", res.Wait)
	}
}

func TestCheckLegFullWindowTakesMaxWait(t *testing.T) {
	cfg := LegConfig{Rate: 10, Burst: 1, Interval: time.Second}
	st := LegState{
		TAT:    base.Add(300 * time.Millisecond),
		Window: []time.Time{base.Add(-100 * time.Millisecond)},
	}

	res := CheckLeg(st, cfg, 1.0, base)
	// Steady wait is 300ms, window wait is 900ms; the leg takes the max.
	if res.Wait != 900*time.Millisecond {
		t.Errorf("leg wait = %v, want 900ms", res.Wait)
	}
}

func TestCheckLegNextTATAdvancesFromNow(t *testing.T) {
	cfg := LegConfig{Rate: 10, Burst: 5, Interval: time.Second}
	st := LegState{TAT: base.Add(-time.Second)}

	res := CheckLeg(st, cfg, 1.0, base)
	want := base.Add(100 * time.Millisecond)
	if !res.NextTAT.Equal(want) {
		t.Errorf("NextTAT = %v, want %v", res.NextTAT, want)
	}
}

func TestCheckLegNextTATAdvancesFromTAT(t *testing.T) {
	cfg := LegConfig{Rate: 10, Burst: 5, Interval: time.Second}
	st := LegState{TAT: base.Add(time.Second)}

	res := CheckLeg(st, cfg, 1.0, base)
	want := base.Add(time.Second + 100*time.Millisecond)
	if !res.NextTAT.Equal(want) {
		t.Errorf("NextTAT = %v, want %v", res.NextTAT, want)
	}
}

func TestCombine(t *testing.T) {
	tests := []struct {
		name        string
		maxInterval time.Duration
		legs        []LegResult
		wantAllowed bool
		wantWait    time.Duration
	}{
		{
			name:        "all legs admit",
			maxInterval: time.Minute,
			legs:        []LegResult{{Wait: 0}, {Wait: 0}},
			wantAllowed: true,
		},
		{
			name:        "one leg denies",
			maxInterval: time.Minute,
			legs:        []LegResult{{Wait: 0}, {Wait: 400 * time.Millisecond}},
			wantAllowed: false,
			wantWait:    400 * time.Millisecond,
		},
		{
			name:        "max of leg waits",
			maxInterval: time.Minute,
			legs:        []LegResult{{Wait: 700 * time.Millisecond}, {Wait: 200 * time.Millisecond}},
			wantAllowed: false,
			wantWait:    700 * time.Millisecond,
		},
		{
			name:        "wait capped at half the interval",
			maxInterval: time.Second,
			legs:        []LegResult{{Wait: 10 * time.Second}},
			wantAllowed: false,
			wantWait:    500 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Combine(tt.maxInterval, tt.legs...)
			if d.Allowed != tt.wantAllowed {
				t.Errorf("Allowed = %v, want %v", d.Allowed, tt.wantAllowed)
			}
			if d.Wait != tt.wantWait {
				t.Errorf("Wait = %v, want %v", d.Wait, tt.wantWait)
			}
		})
	}
}

func TestCommitWindowEvictsAndBounds(t *testing.T) {
	cfg := LegConfig{Rate: 10, Burst: 3, Interval: time.Second}
	window := []time.Time{
		base.Add(-5 * time.Second), // stale, evicted
		base.Add(-500 * time.Millisecond),
		base.Add(-200 * time.Millisecond),
	}

	got := CommitWindow(window, cfg, base, base)
	if len(got) != 3 {
		t.Fatalf("window length = %d, want 3", len(got))
	}
	if !got[0].Equal(base.Add(-500 * time.Millisecond)) {
		t.Errorf("oldest entry = %v, stale entry should have been evicted", got[0])
	}
	if !got[2].Equal(base) {
		t.Errorf("newest entry = %v, want %v", got[2], base)
	}
}

func TestCommitWindowNeverExceedsBurst(t *testing.T) {
	cfg := LegConfig{Rate: 10, Burst: 2, Interval: time.Hour}
	window := []time.Time{
		base.Add(-300 * time.Millisecond),
		base.Add(-200 * time.Millisecond),
	}

	got := CommitWindow(window, cfg, base, base)
	if len(got) != cfg.Burst {
		t.Errorf("window length = %d, want %d", len(got), cfg.Burst)
	}
	if !got[0].Equal(base.Add(-200 * time.Millisecond)) {
		t.Errorf("oldest surviving entry = %v, want the second newest", got[0])
	}
}

func TestCommitWindowKeepsOrderForLateCommits(t *testing.T) {
	cfg := LegConfig{Rate: 10, Burst: 4, Interval: time.Minute}
	window := []time.Time{
		base.Add(-300 * time.Millisecond),
		base.Add(-100 * time.Millisecond),
	}

	// A request granted before the newest entry commits late.
	got := CommitWindow(window, cfg, base.Add(-200*time.Millisecond), base)
	for i := 1; i < len(got); i++ {
		if got[i].Before(got[i-1]) {
			t.Fatalf("window out of order at %d: %v before %v", i, got[i], got[i-1])
		}
	}
}
