package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nextlevelbuilder/clawden/internal/taint"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConversationJournal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sid := "agent:default:cli:direct:u1"
	turns := []struct{ role, content string }{
		{"user", "hello"},
		{"assistant", "hi there"},
		{"user", "what time is it"},
		{"assistant", "noon"},
	}
	for _, tr := range turns {
		if err := s.AppendTurn(ctx, sid, tr.role, tr.content); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.History(ctx, sid, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 || all[0].Content != "hello" || all[3].Content != "noon" {
		t.Fatalf("history mangled: %+v", all)
	}

	last2, err := s.History(ctx, sid, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(last2) != 2 || last2[0].Content != "what time is it" {
		t.Fatalf("limited history wrong: %+v", last2)
	}

	if other, _ := s.History(ctx, "agent:other:cli:direct:u2", 0); len(other) != 0 {
		t.Error("history leaked across sessions")
	}
}

func TestMarkSeenDedup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.MarkSeen(ctx, "msg-001")
	if err != nil {
		t.Fatal(err)
	}
	if !first {
		t.Error("first sighting should be new")
	}
	second, err := s.MarkSeen(ctx, "msg-001")
	if err != nil {
		t.Fatal(err)
	}
	if second {
		t.Error("duplicate message id should not be new")
	}
}

func TestJobStore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := Job{ID: "j1", CronExpr: "0 9 * * 1", Prompt: "morning check", AgentID: "default", RunOnce: false}
	if err := s.AddJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	once := Job{ID: "j2", Kind: JobKindOnce, At: time.Now().Add(time.Hour), Prompt: "later"}
	if err := s.AddJob(ctx, once); err != nil {
		t.Fatal(err)
	}

	jobs, err := s.ListJobs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}
	if jobs[0].CronExpr != "0 9 * * 1" || jobs[0].Kind != JobKindCron {
		t.Errorf("cron job mangled: %+v", jobs[0])
	}
	if jobs[1].Kind != JobKindOnce || jobs[1].At.IsZero() {
		t.Errorf("one-shot mangled: %+v", jobs[1])
	}

	if err := s.RemoveJob(ctx, "j1"); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveJob(ctx, "j1"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("second remove = %v, want ErrJobNotFound", err)
	}
}

func TestMemoryStore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tag := taint.NewTag("dispatcher", taint.TrustUser)
	if err := s.WriteMemory(ctx, "default", "u1", "favorite-color", "blue", []string{"prefs"}, tag); err != nil {
		t.Fatal(err)
	}

	e, err := s.ReadMemory(ctx, "default", "u1", "favorite-color")
	if err != nil {
		t.Fatal(err)
	}
	if e.Content != "blue" || e.Taint.Trust != taint.TrustUser || len(e.Tags) != 1 {
		t.Errorf("entry mangled: %+v", e)
	}

	// Upsert replaces content and taint.
	extTag := taint.NewTag("web_fetch", taint.TrustExternal)
	if err := s.WriteMemory(ctx, "default", "u1", "favorite-color", "green", nil, extTag); err != nil {
		t.Fatal(err)
	}
	e, err = s.ReadMemory(ctx, "default", "u1", "favorite-color")
	if err != nil {
		t.Fatal(err)
	}
	if e.Content != "green" || e.Taint.Trust != taint.TrustExternal {
		t.Errorf("upsert failed: %+v", e)
	}

	// Query by substring.
	if err := s.WriteMemory(ctx, "default", "u1", "meeting-notes", "discussed quarterly budget", nil, tag); err != nil {
		t.Fatal(err)
	}
	hits, err := s.QueryMemory(ctx, "default", "u1", "BUDGET", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Key != "meeting-notes" {
		t.Errorf("query results: %+v", hits)
	}

	// Scoping: other user sees nothing.
	if hits, _ := s.ListMemory(ctx, "default", "u2", 10); len(hits) != 0 {
		t.Error("memory leaked across users")
	}

	if err := s.DeleteMemory(ctx, "default", "u1", "favorite-color"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReadMemory(ctx, "default", "u1", "favorite-color"); !errors.Is(err, ErrMemoryNotFound) {
		t.Errorf("read after delete = %v, want ErrMemoryNotFound", err)
	}
}

func TestProposalLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := SkillProposal{ID: "p1", AgentID: "default", Name: "summarize.md", Content: "# skill", Reason: "useful"}
	if err := s.AddProposal(ctx, p); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListProposals(ctx, "default")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Status != ProposalPending {
		t.Fatalf("list: %+v", list)
	}

	if err := s.ReviewProposal(ctx, "p1", ProposalApproved, "lgtm"); err != nil {
		t.Fatal(err)
	}
	list, _ = s.ListProposals(ctx, "default")
	if list[0].Status != ProposalApproved || list[0].Note != "lgtm" || list[0].DecidedAt.IsZero() {
		t.Errorf("review not recorded: %+v", list[0])
	}

	// A decided proposal cannot be re-reviewed.
	if err := s.ReviewProposal(ctx, "p1", ProposalRejected, ""); !errors.Is(err, ErrProposalNotFound) {
		t.Errorf("re-review = %v, want ErrProposalNotFound", err)
	}
	if err := s.ReviewProposal(ctx, "p1", "maybe", ""); err == nil {
		t.Error("invalid status should fail")
	}
}
