// Package scheduler implements the Scheduler (C10): crontab-string job
// specs run via robfig/cron/v3, plus a "oneshot" spec that runs a job once
// at startup and never reschedules. Grounded on
// original_source/rep0st/framework/scheduler.py's schedule/_run_task and
// handle_shutdown.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"rep0st/internal/metrics"
)

const (
	jobShutdownWait    = 60 * time.Second
	jobShutdownWatchdog = 5 * time.Second
)

// Job is a named unit of scheduled work.
type Job struct {
	Name     string
	Timespec string // crontab expression, or "oneshot"
	Fn       func(ctx context.Context) error
}

// Scheduler runs Jobs on their Timespec and tracks in-flight jobs so
// Shutdown can wait for them to finish (bounded) before returning.
type Scheduler struct {
	cron    *cron.Cron
	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		running: make(map[string]context.CancelFunc),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Schedule registers a job. An empty Timespec is ignored (matches the
// original's "task is ignored as the timespec is empty"). "oneshot" runs
// the job exactly once, immediately, in its own goroutine.
func (s *Scheduler) Schedule(job Job) {
	if job.Timespec == "" {
		slog.Debug("scheduler: job ignored, empty timespec", "job", job.Name)
		return
	}
	if job.Timespec == "oneshot" {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runOnce(job)
		}()
		return
	}

	spec := toQuartzSpec(job.Timespec)
	_, err := s.cron.AddFunc(spec, func() {
		s.wg.Add(1)
		defer s.wg.Done()
		s.runOnce(job)
	})
	if err != nil {
		slog.Error("scheduler: failed to register job", "job", job.Name, "spec", job.Timespec, "error", err)
	}
}

// toQuartzSpec adapts a standard 5-field crontab expression to
// robfig/cron's 6-field (seconds-first) form used via WithSeconds.
func toQuartzSpec(spec string) string {
	return "0 " + spec
}

func (s *Scheduler) runOnce(job Job) {
	jobCtx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	s.running[job.Name] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, job.Name)
		s.mu.Unlock()
		cancel()
	}()

	start := time.Now()
	slog.Debug("scheduler: executing job", "job", job.Name)
	if err := job.Fn(jobCtx); err != nil {
		slog.Error("scheduler: job failed", "job", job.Name, "error", err)
	}
	metrics.SchedulerJobDuration.WithLabelValues(job.Name).Observe(time.Since(start).Seconds())
}

// Start begins the cron scheduler loop. Call Schedule for every job before
// Start, or add jobs any time — new cron.AddFunc entries take effect
// immediately.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Shutdown cancels all running jobs' contexts, waits up to jobShutdownWait
// for them to return, and logs if any are still running after that —
// matching the original's 60-second join-timeout before giving up.
func (s *Scheduler) Shutdown(ctx context.Context) {
	slog.Info("scheduler: shutting down")
	cronCtx := s.cron.Stop()

	s.mu.Lock()
	for name, cancel := range s.running {
		slog.Info("scheduler: signaling running job to stop", "job", name)
		cancel()
	}
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		select {
		case <-cronCtx.Done():
		case <-ctx.Done():
		}
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("scheduler: all jobs finished")
	case <-time.After(jobShutdownWait):
		slog.Error("scheduler: jobs did not finish within shutdown wait, giving up", "wait", jobShutdownWait)
		select {
		case <-done:
		case <-time.After(jobShutdownWatchdog):
			slog.Error("scheduler: jobs still running after watchdog, abandoning", "watchdog", jobShutdownWatchdog)
		}
	}
}
