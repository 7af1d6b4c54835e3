// Package scheduler runs workflows on cron schedules. Jobs live in memory;
// persisting their outcomes is the runner's concern.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/toolweave/toolweave/internal/engine"
	"github.com/toolweave/toolweave/pkg/schema"
)

// Runner is the interface the scheduler uses to execute workflows.
// Satisfied by the engine.
type Runner interface {
	Execute(ctx context.Context, def *schema.WorkflowDefinition) (*engine.ExecutionResult, error)
}

// Job is one recurring workflow schedule.
type Job struct {
	ID         string
	CronExpr   string
	Definition *schema.WorkflowDefinition

	schedule cron.Schedule
	nextRun  time.Time
	lastRun  time.Time
	lastOK   bool
}

// JobStatus is a read-only snapshot of a job's state.
type JobStatus struct {
	ID       string    `json:"id"`
	CronExpr string    `json:"cron"`
	Workflow string    `json:"workflow"`
	NextRun  time.Time `json:"next_run"`
	LastRun  time.Time `json:"last_run,omitempty"`
	LastOK   bool      `json:"last_ok"`
}

// Scheduler ticks once a minute and runs every due job. A job still running
// when it comes due again is skipped for that tick rather than overlapped.
type Scheduler struct {
	runner Runner
	parser cron.Parser
	logger *slog.Logger

	mu     sync.Mutex
	jobs   map[string]*Job
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// New creates a Scheduler over the given runner.
func New(runner Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		jobs:     make(map[string]*Job),
		inflight: make(map[string]struct{}),
	}
}

// Add registers a job and computes its first run time.
func (s *Scheduler) Add(id, cronExpr string, def *schema.WorkflowDefinition) error {
	if id == "" {
		return schema.NewError(schema.ErrCodeValidation, "job id is required")
	}
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "job workflow definition is required")
	}
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "parse cron expression %q: %s", cronExpr, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[id]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "job %q already scheduled", id)
	}
	s.jobs[id] = &Job{
		ID:         id,
		CronExpr:   cronExpr,
		Definition: def,
		schedule:   schedule,
		nextRun:    schedule.Next(time.Now().UTC()),
	}
	return nil
}

// Remove drops a job. Removing an unknown job is a no-op.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
}

// Jobs returns a snapshot of all registered jobs.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, JobStatus{
			ID:       job.ID,
			CronExpr: job.CronExpr,
			Workflow: job.Definition.Name,
			NextRun:  job.nextRun,
			LastRun:  job.lastRun,
			LastOK:   job.lastOK,
		})
	}
	return out
}

// Start launches the background scheduling loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	schedCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.loop(schedCtx, done)
	s.logger.Info("scheduler started")
	return nil
}

// Stop gracefully shuts down the scheduling loop. In-flight runs finish.
//
// The wait happens with s.mu released: tick takes the same mutex, so waiting
// while holding it would deadlock against a loop iteration already underway.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	s.logger.Info("scheduler stopped")
	return nil
}

// loop owns its done channel: Stop clears s.done before the loop exits, so
// closing through the struct field would race a restart.
func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs every due job in its own goroutine.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()

	s.mu.Lock()
	var due []*Job
	for _, job := range s.jobs {
		if !job.nextRun.After(now) {
			due = append(due, job)
			job.nextRun = job.schedule.Next(now)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		if !s.tryAcquire(job.ID) {
			s.logger.Warn("job still running, skipping tick", "job_id", job.ID)
			continue
		}
		go func(job *Job) {
			defer s.release(job.ID)
			s.runJob(ctx, job, now)
		}(job)
	}
}

func (s *Scheduler) runJob(ctx context.Context, job *Job, now time.Time) {
	s.logger.Info("running scheduled job", "job_id", job.ID, "workflow", job.Definition.Name)

	res, err := s.runner.Execute(ctx, job.Definition)
	ok := err == nil && res != nil && res.Success
	if err != nil {
		s.logger.Error("scheduled job failed to start", "job_id", job.ID, "error", err)
	} else if !res.Success {
		s.logger.Error("scheduled job run failed", "job_id", job.ID, "run_id", res.RunID, "error", res.Error)
	}

	s.mu.Lock()
	if current, exists := s.jobs[job.ID]; exists {
		current.lastRun = now
		current.lastOK = ok
	}
	s.mu.Unlock()
}

// tryAcquire marks the job in-flight unless it already is.
func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	delete(s.inflight, id)
	s.inflightMu.Unlock()
}

// NextRun computes the next run time for a cron expression.
func (s *Scheduler) NextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}
