package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/clawden/internal/audit"
	"github.com/nextlevelbuilder/clawden/internal/bus"
	"github.com/nextlevelbuilder/clawden/internal/config"
	"github.com/nextlevelbuilder/clawden/internal/router"
	"github.com/nextlevelbuilder/clawden/internal/scanner"
	"github.com/nextlevelbuilder/clawden/internal/store"
	"github.com/nextlevelbuilder/clawden/internal/taint"
	"github.com/nextlevelbuilder/clawden/internal/workspace"
)

type rig struct {
	sched *Scheduler
	store *store.Store
	queue *bus.Queue
	audit *audit.Log
}

func newRig(t *testing.T, cfg config.SchedulerConfig) *rig {
	t.Helper()
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	log, err := audit.Open(":memory:", 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { log.Close() })

	ws, err := workspace.NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	q := bus.NewQueue(16)
	rt := router.New(scanner.New(0), taint.NewBudget(0.5, nil), log, q, nil)

	sched, err := New(cfg, st, rt, log, ws, "default")
	if err != nil {
		t.Fatal(err)
	}
	return &rig{sched: sched, store: st, queue: q, audit: log}
}

func TestCronFiresOnceTickDedup(t *testing.T) {
	r := newRig(t, config.SchedulerConfig{})
	ctx := context.Background()

	if err := r.store.AddJob(ctx, store.Job{ID: "j1", Kind: store.JobKindCron, CronExpr: "* * * * *", Prompt: "poll feeds"}); err != nil {
		t.Fatal(err)
	}

	fixed := time.Date(2026, 8, 24, 10, 30, 5, 0, time.UTC)
	r.sched.now = func() time.Time { return fixed }

	r.sched.tickCron(ctx)
	r.sched.tickCron(ctx) // same minute, must not double fire
	if r.queue.Len() != 1 {
		t.Fatalf("queue len = %d, want 1", r.queue.Len())
	}

	msg, _ := r.queue.TryDequeue()
	if msg.SessionID != "cron:default:j1" {
		t.Errorf("session = %q", msg.SessionID)
	}

	r.sched.now = func() time.Time { return fixed.Add(time.Minute) }
	r.sched.tickCron(ctx)
	if r.queue.Len() != 1 {
		t.Errorf("next minute did not fire")
	}
}

func TestRunOnceCronDeletedAfterFiring(t *testing.T) {
	r := newRig(t, config.SchedulerConfig{})
	ctx := context.Background()

	if err := r.store.AddJob(ctx, store.Job{ID: "j1", Kind: store.JobKindCron, CronExpr: "* * * * *", Prompt: "one time", RunOnce: true}); err != nil {
		t.Fatal(err)
	}
	r.sched.now = func() time.Time { return time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC) }
	r.sched.tickCron(ctx)

	jobs, err := r.store.ListJobs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Errorf("runOnce job survived: %+v", jobs)
	}
}

func TestOneShotTimerFires(t *testing.T) {
	r := newRig(t, config.SchedulerConfig{})
	ctx := context.Background()

	at := time.Now().Add(30 * time.Millisecond)
	if err := r.store.AddJob(ctx, store.Job{ID: "once1", Kind: store.JobKindOnce, At: at, Prompt: "remind me"}); err != nil {
		t.Fatal(err)
	}
	r.sched.rearmOnce(ctx)

	deadline := time.After(2 * time.Second)
	for r.queue.Len() == 0 {
		select {
		case <-deadline:
			t.Fatal("one-shot did not fire")
		case <-time.After(10 * time.Millisecond):
		}
	}
	jobs, _ := r.store.ListJobs(ctx)
	if len(jobs) != 0 {
		t.Errorf("one-shot job survived: %+v", jobs)
	}
}

func TestActiveHoursWindow(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
		hour       int
		want       bool
	}{
		{"inside", "08:00", "22:00", 12, true},
		{"before", "08:00", "22:00", 7, false},
		{"after", "08:00", "22:00", 23, false},
		{"overnight inside", "22:00", "06:00", 23, true},
		{"overnight morning", "22:00", "06:00", 5, true},
		{"overnight outside", "22:00", "06:00", 12, false},
		{"always", "00:00", "24:00", 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, config.SchedulerConfig{ActiveHoursStart: tt.start, ActiveHoursEnd: tt.end})
			now := time.Date(2026, 8, 24, tt.hour, 30, 0, 0, time.UTC)
			if got := r.sched.inActiveHours(now); got != tt.want {
				t.Errorf("inActiveHours(%02d:30) = %v, want %v", tt.hour, got, tt.want)
			}
		})
	}
}

func TestCronSkippedOutsideActiveHours(t *testing.T) {
	r := newRig(t, config.SchedulerConfig{ActiveHoursStart: "08:00", ActiveHoursEnd: "22:00"})
	ctx := context.Background()

	if err := r.store.AddJob(ctx, store.Job{ID: "j1", Kind: store.JobKindCron, CronExpr: "* * * * *", Prompt: "p"}); err != nil {
		t.Fatal(err)
	}
	r.sched.now = func() time.Time { return time.Date(2026, 8, 24, 3, 0, 0, 0, time.UTC) }
	r.sched.tickCron(ctx)
	if r.queue.Len() != 0 {
		t.Error("cron fired outside active hours")
	}
}

func TestHintGate(t *testing.T) {
	cfg := config.SchedulerConfig{
		HintConfidenceThreshold: 0.6,
		HintCooldownMinutes:     60,
		SessionTokenBudget:      1000,
	}
	r := newRig(t, cfg)
	ctx := context.Background()
	hint := Hint{Kind: "followup", Scope: "dm", Prompt: "check on the report", Confidence: 0.9, SessionID: "hint:default:s1"}

	// Low confidence is suppressed and audited.
	low := hint
	low.Confidence = 0.3
	if fired, reason := r.sched.SubmitHint(ctx, low); fired || reason != "low_confidence" {
		t.Errorf("low confidence: fired=%v reason=%q", fired, reason)
	}

	// First qualified hint fires.
	if fired, _ := r.sched.SubmitHint(ctx, hint); !fired {
		t.Fatal("qualified hint did not fire")
	}
	if r.queue.Len() != 1 {
		t.Errorf("queue len = %d", r.queue.Len())
	}

	// Identical hint inside the cooldown window is suppressed.
	if fired, reason := r.sched.SubmitHint(ctx, hint); fired || reason != "cooldown" {
		t.Errorf("cooldown: fired=%v reason=%q", fired, reason)
	}

	// Over-budget session defers the hint to the queue.
	r.sched.RecordTokens("hint:default:s2", 5000)
	other := hint
	other.Prompt = "different prompt"
	other.SessionID = "hint:default:s2"
	if fired, reason := r.sched.SubmitHint(ctx, other); fired || reason != "token_budget_exceeded" {
		t.Errorf("budget: fired=%v reason=%q", fired, reason)
	}
	if len(r.sched.QueuedHints()) != 1 {
		t.Errorf("queued hints = %d", len(r.sched.QueuedHints()))
	}

	rows, err := r.audit.Query(ctx, audit.Filter{Action: "hint_suppressed"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Errorf("hint_suppressed rows = %d, want 3", len(rows))
	}
}

func TestHeartbeatOverrideFile(t *testing.T) {
	r := newRig(t, config.SchedulerConfig{})
	r.sched.reloadHeartbeat()
	if r.sched.heartbeat != defaultHeartbeatPrompt {
		t.Errorf("default heartbeat = %q", r.sched.heartbeat)
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"00:00", 0, true},
		{"08:30", 510, true},
		{"24:00", 1440, true},
		{"24:30", 0, false},
		{"25:00", 0, false},
		{"garbage", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseClock(tt.in)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("parseClock(%q) = %d,%v want %d,%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
