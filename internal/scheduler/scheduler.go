// Package scheduler dispatches one-shot, interval, and cron jobs to a
// crawl runner, with bounded concurrency and per-job retry backoff.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/crawlforge/crawld/internal/crawl"
	"github.com/crawlforge/crawld/internal/metrics"
)

// Runner executes one due job. It blocks until the run finishes and
// returns the run's terminal error, if any.
type Runner interface {
	RunJob(ctx context.Context, job crawl.ScheduledJob) error
}

// Config bounds scheduler behavior.
type Config struct {
	// MaxConcurrentJobs caps simultaneous runs across all jobs.
	MaxConcurrentJobs int
	// RetryBase and RetryMax bound the backoff applied between failed runs.
	RetryBase time.Duration
	RetryMax  time.Duration
}

// Scheduler owns the job table: submission, cancelation, and the
// periodic dispatch loop. A job never has more than one active run.
type Scheduler struct {
	store   crawl.Store
	runner  Runner
	clock   crawl.Clock
	ids     crawl.IDGenerator
	logger  *zap.Logger
	backoff *crawl.ExponentialBackoff
	maxJobs int

	mu      sync.Mutex
	running map[string]struct{} // jobID -> in flight
	groups  map[string]string   // concurrency group -> jobID holding it
	wg      sync.WaitGroup
}

// New builds a Scheduler. MaxConcurrentJobs defaults to 4.
func New(cfg Config, store crawl.Store, runner Runner, clock crawl.Clock, ids crawl.IDGenerator, logger *zap.Logger) *Scheduler {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:   store,
		runner:  runner,
		clock:   clock,
		ids:     ids,
		logger:  logger,
		backoff: crawl.NewExponentialBackoff(cfg.RetryBase, cfg.RetryMax),
		maxJobs: cfg.MaxConcurrentJobs,
		running: map[string]struct{}{},
		groups:  map[string]string{},
	}
}

// Submit validates a job, stamps its identity and first due time, and
// persists it. The stored job is returned.
func (s *Scheduler) Submit(ctx context.Context, job crawl.ScheduledJob) (crawl.ScheduledJob, error) {
	if len(job.Seeds) == 0 {
		return crawl.ScheduledJob{}, fmt.Errorf("job needs at least one seed URL")
	}
	now := s.clock.Now()

	switch job.Kind {
	case crawl.ScheduleOnce:
		if job.RunAt.IsZero() {
			job.RunAt = now
		}
		job.NextRunAt = job.RunAt
	case crawl.ScheduleInterval:
		if job.Interval <= 0 {
			return crawl.ScheduledJob{}, fmt.Errorf("interval job needs a positive interval")
		}
		job.NextRunAt = now.Add(job.Interval)
		if !job.RunAt.IsZero() {
			job.NextRunAt = job.RunAt
		}
	case crawl.ScheduleCron:
		sched, err := cron.ParseStandard(job.CronExpr)
		if err != nil {
			return crawl.ScheduledJob{}, fmt.Errorf("parse cron expression %q: %w", job.CronExpr, err)
		}
		job.NextRunAt = sched.Next(now)
	default:
		return crawl.ScheduledJob{}, fmt.Errorf("unknown schedule kind %q", job.Kind)
	}

	if job.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return crawl.ScheduledJob{}, fmt.Errorf("generate job id: %w", err)
		}
		job.ID = id
	}
	job.Status = crawl.JobActive
	job.RetryCount = 0
	job.SubmittedAt = now

	if err := s.store.UpsertJob(ctx, job); err != nil {
		return crawl.ScheduledJob{}, fmt.Errorf("persist job: %w", err)
	}
	s.logger.Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.Time("next_run_at", job.NextRunAt))
	return job, nil
}

// Cancel marks a job canceled. An in-flight run completes; no further
// runs dispatch.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == crawl.JobDone || job.Status == crawl.JobCanceled {
		return fmt.Errorf("job %s already %s", jobID, job.Status)
	}
	job.Status = crawl.JobCanceled
	if err := s.store.UpsertJob(ctx, job); err != nil {
		return fmt.Errorf("persist cancel: %w", err)
	}
	s.logger.Info("job canceled", zap.String("job_id", jobID))
	return nil
}

// Reset reactivates a failed job with a cleared retry counter.
func (s *Scheduler) Reset(ctx context.Context, jobID string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != crawl.JobFailed {
		return fmt.Errorf("job %s is %s, only failed jobs can be reset", jobID, job.Status)
	}
	job.Status = crawl.JobActive
	job.RetryCount = 0
	next, err := s.nextOccurrence(job, s.clock.Now())
	if err != nil {
		return err
	}
	job.NextRunAt = next
	if err := s.store.UpsertJob(ctx, job); err != nil {
		return fmt.Errorf("persist reset: %w", err)
	}
	s.logger.Info("job reset", zap.String("job_id", jobID), zap.Time("next_run_at", job.NextRunAt))
	return nil
}

// Run drives the dispatch loop until ctx is canceled, then waits for
// in-flight runs to drain.
func (s *Scheduler) Run(ctx context.Context, tick time.Duration) error {
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return nil
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Warn("scheduler tick failed", zap.Error(err))
			}
		}
	}
}

// Tick dispatches every due job that clears the concurrency checks.
// Exposed so tests and callers can drive dispatch without the loop.
func (s *Scheduler) Tick(ctx context.Context) error {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	now := s.clock.Now()
	for _, job := range jobs {
		if job.Status != crawl.JobActive || job.NextRunAt.After(now) {
			continue
		}
		if !s.claim(job) {
			continue
		}
		job.Status = crawl.JobRunning
		if err := s.store.UpsertJob(ctx, job); err != nil {
			s.release(job)
			s.logger.Warn("mark job running failed", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		metrics.JobDispatched()
		s.wg.Add(1)
		go s.execute(ctx, job)
	}
	return nil
}

// Wait blocks until all in-flight runs finish.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// claim reserves the job's run slot and concurrency group. A job with
// an in-flight run, a busy group, or a full scheduler is skipped.
func (s *Scheduler) claim(job crawl.ScheduledJob) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.running) >= s.maxJobs {
		return false
	}
	if _, busy := s.running[job.ID]; busy {
		return false
	}
	if job.ConcurrencyGroup != "" {
		if _, busy := s.groups[job.ConcurrencyGroup]; busy {
			return false
		}
		s.groups[job.ConcurrencyGroup] = job.ID
	}
	s.running[job.ID] = struct{}{}
	return true
}

func (s *Scheduler) release(job crawl.ScheduledJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, job.ID)
	if job.ConcurrencyGroup != "" && s.groups[job.ConcurrencyGroup] == job.ID {
		delete(s.groups, job.ConcurrencyGroup)
	}
}

func (s *Scheduler) execute(ctx context.Context, job crawl.ScheduledJob) {
	defer s.wg.Done()
	defer s.release(job)

	runErr := s.runner.RunJob(ctx, job)
	if err := s.settle(ctx, job.ID, runErr); err != nil {
		s.logger.Error("settle job run failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// settle records the run outcome and computes the job's next state.
func (s *Scheduler) settle(ctx context.Context, jobID string, runErr error) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	now := s.clock.Now()

	// Cancel raced the run; keep the canceled status.
	if job.Status == crawl.JobCanceled {
		metrics.JobCompleted("canceled")
		return nil
	}

	if runErr != nil {
		job.LastRunResult = runErr.Error()
		job.RetryCount++
		if job.RetryCount > job.MaxRetries {
			job.Status = crawl.JobFailed
			metrics.JobCompleted("failed")
			s.logger.Warn("job failed permanently",
				zap.String("job_id", job.ID),
				zap.Int("retries", job.RetryCount-1),
				zap.Error(runErr))
		} else {
			job.Status = crawl.JobActive
			job.NextRunAt = now.Add(s.backoff.Delay(job.RetryCount))
			metrics.JobCompleted("retrying")
			s.logger.Info("job run failed, retrying",
				zap.String("job_id", job.ID),
				zap.Int("retry", job.RetryCount),
				zap.Time("next_run_at", job.NextRunAt),
				zap.Error(runErr))
		}
		return s.store.UpsertJob(ctx, job)
	}

	job.LastRunResult = "success"
	job.RetryCount = 0
	metrics.JobCompleted("success")
	if job.Kind == crawl.ScheduleOnce {
		job.Status = crawl.JobDone
	} else {
		job.Status = crawl.JobActive
		next, err := s.nextOccurrence(job, now)
		if err != nil {
			return err
		}
		job.NextRunAt = next
	}
	return s.store.UpsertJob(ctx, job)
}

func (s *Scheduler) nextOccurrence(job crawl.ScheduledJob, after time.Time) (time.Time, error) {
	switch job.Kind {
	case crawl.ScheduleOnce:
		return after, nil
	case crawl.ScheduleInterval:
		return after.Add(job.Interval), nil
	case crawl.ScheduleCron:
		sched, err := cron.ParseStandard(job.CronExpr)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron expression %q: %w", job.CronExpr, err)
		}
		return sched.Next(after), nil
	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind %q", job.Kind)
	}
}
