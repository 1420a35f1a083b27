// Package scheduler drives non-user invocations: cron jobs, one-shot timers,
// heartbeats and gated proactive hints. Everything it emits enters the system
// through the router as a synthetic inbound message with system trust.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/fsnotify/fsnotify"

	"github.com/nextlevelbuilder/clawden/internal/audit"
	"github.com/nextlevelbuilder/clawden/internal/bus"
	"github.com/nextlevelbuilder/clawden/internal/config"
	"github.com/nextlevelbuilder/clawden/internal/router"
	"github.com/nextlevelbuilder/clawden/internal/store"
	"github.com/nextlevelbuilder/clawden/internal/taint"
	"github.com/nextlevelbuilder/clawden/internal/workspace"
)

const (
	cronTick = 60 * time.Second

	// heartbeatFile overrides the default heartbeat prompt when present in
	// the agent dir.
	heartbeatFile          = "HEARTBEAT.md"
	defaultHeartbeatPrompt = "Heartbeat: review pending work and decide whether anything needs attention."

	minuteLayout = "2006-01-02T15:04"
)

// Scheduler owns the timers and the hint gate.
type Scheduler struct {
	cfg     config.SchedulerConfig
	store   *store.Store
	router  *router.Router
	auditor *audit.Log
	ws      *workspace.Manager
	agentID string
	loc     *time.Location

	mu         sync.Mutex
	lastFired  map[string]string // job id -> minute it last fired
	onceTimers map[string]*time.Timer
	cooldowns  map[string]time.Time
	tokensUsed map[string]int64
	queued     []Hint
	heartbeat  string

	// now is swappable for tests.
	now func() time.Time
}

// New builds a scheduler. The timezone must be a valid IANA name.
func New(cfg config.SchedulerConfig, st *store.Store, rt *router.Router, auditor *audit.Log, ws *workspace.Manager, agentID string) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler: timezone %q: %w", cfg.Timezone, err)
	}
	return &Scheduler{
		cfg:        cfg,
		store:      st,
		router:     rt,
		auditor:    auditor,
		ws:         ws,
		agentID:    agentID,
		loc:        loc,
		lastFired:  make(map[string]string),
		onceTimers: make(map[string]*time.Timer),
		cooldowns:  make(map[string]time.Time),
		tokensUsed: make(map[string]int64),
		heartbeat:  defaultHeartbeatPrompt,
		now:        time.Now,
	}, nil
}

// Run blocks until ctx is done, driving the cron tick, the heartbeat timer,
// the one-shot timers and the heartbeat file watcher.
func (s *Scheduler) Run(ctx context.Context) error {
	s.reloadHeartbeat()
	s.rearmOnce(ctx)

	go s.watchHeartbeat(ctx)

	cron := time.NewTicker(cronTick)
	defer cron.Stop()

	var heartbeatC <-chan time.Time
	if s.cfg.HeartbeatIntervalMinutes > 0 {
		hb := time.NewTicker(time.Duration(s.cfg.HeartbeatIntervalMinutes) * time.Minute)
		defer hb.Stop()
		heartbeatC = hb.C
	}

	for {
		select {
		case <-ctx.Done():
			s.stopOnceTimers()
			return ctx.Err()
		case <-cron.C:
			s.tickCron(ctx)
		case <-heartbeatC:
			s.fireHeartbeat(ctx)
		}
	}
}

// JobsChanged re-arms the one-shot timers after a job store mutation.
func (s *Scheduler) JobsChanged(ctx context.Context) {
	s.rearmOnce(ctx)
}

// tickCron fires every cron job whose expression matches the current minute.
// The last-fired map guards against double fire inside one minute.
func (s *Scheduler) tickCron(ctx context.Context) {
	now := s.now().In(s.loc)
	if !s.inActiveHours(now) {
		return
	}
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		slog.Error("scheduler.list_jobs_failed", "error", err)
		return
	}
	minute := now.Format(minuteLayout)
	g := gronx.New()

	for _, j := range jobs {
		if j.Kind != store.JobKindCron {
			continue
		}
		due, err := g.IsDue(j.CronExpr, now)
		if err != nil || !due {
			continue
		}
		s.mu.Lock()
		already := s.lastFired[j.ID] == minute
		if !already {
			s.lastFired[j.ID] = minute
		}
		s.mu.Unlock()
		if already {
			continue
		}
		s.fireJob(ctx, j)
	}
}

// rearmOnce synchronizes the one-shot timers with the job store.
func (s *Scheduler) rearmOnce(ctx context.Context) {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		slog.Error("scheduler.list_jobs_failed", "error", err)
		return
	}
	current := make(map[string]store.Job)
	for _, j := range jobs {
		if j.Kind == store.JobKindOnce {
			current[j.ID] = j
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, timer := range s.onceTimers {
		if _, ok := current[id]; !ok {
			timer.Stop()
			delete(s.onceTimers, id)
		}
	}
	for id, j := range current {
		if _, ok := s.onceTimers[id]; ok {
			continue
		}
		delay := time.Until(j.At)
		if delay < 0 {
			delay = 0
		}
		job := j
		s.onceTimers[id] = time.AfterFunc(delay, func() {
			s.mu.Lock()
			delete(s.onceTimers, job.ID)
			s.mu.Unlock()
			s.fireJob(ctx, job)
		})
	}
}

func (s *Scheduler) stopOnceTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, timer := range s.onceTimers {
		timer.Stop()
		delete(s.onceTimers, id)
	}
}

// fireJob routes the job prompt as a system-trust inbound message. One-shot
// and runOnce jobs are deleted after firing.
func (s *Scheduler) fireJob(ctx context.Context, j store.Job) {
	agentID := j.AgentID
	if agentID == "" {
		agentID = s.agentID
	}
	s.deliver(ctx, "cron:"+agentID+":"+j.ID, j.Prompt)

	if j.Kind == store.JobKindOnce || j.RunOnce {
		if err := s.store.RemoveJob(ctx, j.ID); err != nil {
			slog.Warn("scheduler.remove_fired_job_failed", "job_id", j.ID, "error", err)
		}
	}
}

func (s *Scheduler) fireHeartbeat(ctx context.Context) {
	now := s.now().In(s.loc)
	if !s.inActiveHours(now) {
		return
	}
	s.mu.Lock()
	prompt := s.heartbeat
	s.mu.Unlock()
	s.deliver(ctx, "heartbeat:"+s.agentID+":"+now.Format("20060102"), prompt)
}

func (s *Scheduler) deliver(ctx context.Context, sessionID, prompt string) {
	msg := &bus.InboundMessage{
		SessionID: sessionID,
		Address:   bus.Address{Provider: "scheduler", Scope: bus.ScopeDM, ID: s.agentID},
		Sender:    "scheduler",
		Content:   prompt,
		AgentID:   s.agentID,
	}
	res, err := s.router.ProcessInbound(ctx, msg, taint.TrustSystem)
	if err != nil {
		slog.Error("scheduler.deliver_failed", "session_id", sessionID, "error", err)
		return
	}
	if !res.Queued {
		slog.Warn("scheduler.delivery_not_queued", "session_id", sessionID, "verdict", res.Scan.Verdict)
	}
}

// reloadHeartbeat swaps the heartbeat prompt from HEARTBEAT.md when present.
func (s *Scheduler) reloadHeartbeat() {
	prompt := defaultHeartbeatPrompt
	if dir, err := s.ws.AgentDir(s.agentID); err == nil {
		if data, err := os.ReadFile(filepath.Join(dir, heartbeatFile)); err == nil && len(data) > 0 {
			prompt = string(data)
		}
	}
	s.mu.Lock()
	s.heartbeat = prompt
	s.mu.Unlock()
}

// watchHeartbeat reloads the heartbeat prompt when HEARTBEAT.md changes.
func (s *Scheduler) watchHeartbeat(ctx context.Context) {
	dir, err := s.ws.AgentDir(s.agentID)
	if err != nil {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("scheduler.watch_failed", "error", err)
		return
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		slog.Warn("scheduler.watch_failed", "dir", dir, "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) == heartbeatFile {
				s.reloadHeartbeat()
				slog.Info("scheduler.heartbeat_reloaded", "op", ev.Op.String())
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("scheduler.watch_error", "error", err)
		}
	}
}

// inActiveHours evaluates the configured window in the scheduler timezone.
// An unset or degenerate window is always active; a window with start after
// end spans midnight.
func (s *Scheduler) inActiveHours(now time.Time) bool {
	start, okS := parseClock(s.cfg.ActiveHoursStart)
	end, okE := parseClock(s.cfg.ActiveHoursEnd)
	if !okS || !okE || start == end {
		return true
	}
	cur := now.Hour()*60 + now.Minute()
	if start < end {
		return cur >= start && cur < end
	}
	return cur >= start || cur < end
}

// parseClock parses "HH:MM" to minutes since midnight. "24:00" is the end of
// day.
func parseClock(v string) (int, bool) {
	var h, m int
	if _, err := fmt.Sscanf(v, "%d:%d", &h, &m); err != nil {
		return 0, false
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, false
	}
	return h*60 + m, true
}
