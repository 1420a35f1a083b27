package audit

import (
	"context"
	"testing"
	"time"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(":memory:", 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestAppendAndQuery(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	entries := []Entry{
		{SessionID: "s1", Action: "llm_call", Result: ResultSuccess, DurationMs: 120},
		{SessionID: "s1", Action: "memory_write", Result: ResultBlocked, Taint: "external"},
		{SessionID: "s2", Action: "llm_call", Result: ResultSuccess, Args: map[string]any{"model": "small"}},
	}
	for _, e := range entries {
		if err := l.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	all, err := l.Query(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d entries, want 3", len(all))
	}
	if all[0].Timestamp.IsZero() {
		t.Error("timestamp should default to now")
	}

	byAction, err := l.Query(ctx, Filter{Action: "llm_call"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byAction) != 2 {
		t.Errorf("action filter: got %d, want 2", len(byAction))
	}

	bySession, err := l.Query(ctx, Filter{SessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(bySession) != 2 {
		t.Errorf("session filter: got %d, want 2", len(bySession))
	}
	if bySession[1].Action != "memory_write" || bySession[1].Taint != "external" {
		t.Errorf("row fields lost: %+v", bySession[1])
	}
	if bySession[1].Result != ResultBlocked {
		t.Errorf("result = %q, want blocked", bySession[1].Result)
	}

	withArgs, err := l.Query(ctx, Filter{SessionID: "s2"})
	if err != nil {
		t.Fatal(err)
	}
	if withArgs[0].Args["model"] != "small" {
		t.Errorf("args round trip: %+v", withArgs[0].Args)
	}
}

func TestQueryLimitAscending(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := l.Append(ctx, Entry{Action: "tick", Result: ResultSuccess}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := l.Query(ctx, Filter{Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("limit: got %d, want 3", len(got))
	}
	// Most recent 3 rows, ascending.
	if got[0].ID >= got[1].ID || got[1].ID >= got[2].ID {
		t.Errorf("rows not ascending: %d %d %d", got[0].ID, got[1].ID, got[2].ID)
	}
	if got[2].ID != 10 {
		t.Errorf("last row id = %d, want 10", got[2].ID)
	}
}

func TestQueryTimeWindow(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		e := Entry{Action: "tick", Result: ResultSuccess, Timestamp: base.Add(time.Duration(i) * time.Minute)}
		if err := l.Append(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := l.Query(ctx, Filter{Since: base.Add(1 * time.Minute), Until: base.Add(3 * time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("window: got %d, want 3", len(got))
	}
}

func TestRetentionPrune(t *testing.T) {
	l, err := Open(":memory:", 100)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	ctx := context.Background()

	// The retention check runs every pruneEvery appends.
	for i := 0; i < pruneEvery; i++ {
		if err := l.Append(ctx, Entry{Action: "tick", Result: ResultSuccess}); err != nil {
			t.Fatal(err)
		}
	}
	n, err := l.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 100 {
		t.Errorf("retention not applied: %d rows, want 100", n)
	}
}
