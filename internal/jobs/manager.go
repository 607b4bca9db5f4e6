package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"poolwatch/pkg/lock"
	"poolwatch/pkg/logger"
)

// DefaultInterval is used for jobs that report a non-positive interval
const DefaultInterval = time.Minute

// Job represents a periodic background task.
type Job interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

// AlignedJob is a job whose first run waits for the next interval boundary.
type AlignedJob interface {
	Job
	AlignToInterval() bool
}

// Func adapts a function to a Job
type Func struct {
	JobName  string
	Every    time.Duration
	Aligned  bool
	Function func(ctx context.Context) error
}

func (f *Func) Name() string                  { return f.JobName }
func (f *Func) Interval() time.Duration       { return f.Every }
func (f *Func) AlignToInterval() bool         { return f.Aligned }
func (f *Func) Run(ctx context.Context) error { return f.Function(ctx) }

// lockedJob skips a cycle unless it can take its lock, so that only one
// replica runs the job at a time
type lockedJob struct {
	Job
	locker lock.Locker
}

// WithLock wraps job so each run first takes locker. A nil locker returns job unchanged.
func WithLock(job Job, locker lock.Locker) Job {
	if locker == nil {
		return job
	}
	return &lockedJob{Job: job, locker: locker}
}

func (j *lockedJob) Run(ctx context.Context) error {
	acquired, err := j.locker.TryLock(ctx)
	if err != nil {
		return fmt.Errorf("lock for %s: %w", j.Name(), err)
	}
	if !acquired {
		logger.DebugCtx(ctx, "another instance is running %s, skipping this cycle", j.Name())
		return nil
	}
	defer func() {
		if err := j.locker.Unlock(ctx); err != nil {
			logger.WarnCtx(ctx, "failed to release lock for %s: %v", j.Name(), err)
		}
	}()
	return j.Job.Run(ctx)
}

func (j *lockedJob) AlignToInterval() bool {
	aligned, ok := j.Job.(AlignedJob)
	return ok && aligned.AlignToInterval()
}

// Manager orchestrates the lifecycle of background jobs.
type Manager struct {
	ctx     context.Context
	cancel  context.CancelFunc
	jobs    []Job
	started bool

	mu sync.Mutex
	wg sync.WaitGroup
}

// NewManager creates a job manager bound to the provided context.
func NewManager(parent context.Context) *Manager {
	ctx, cancel := context.WithCancel(parent)
	return &Manager{
		ctx:    ctx,
		cancel: cancel,
		jobs:   make([]Job, 0),
	}
}

// Register adds a job to the manager. Jobs registered after Start are ignored.
func (m *Manager) Register(job Job) {
	if job == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		logger.WarnCtx(m.ctx, "job %s registered after start, ignoring", job.Name())
		return
	}
	m.jobs = append(m.jobs, job)
}

// Names returns the names of registered jobs in registration order
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.jobs))
	for _, job := range m.jobs {
		names = append(names, job.Name())
	}
	return names
}

// Start launches all registered jobs.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	jobs := append([]Job(nil), m.jobs...)
	m.mu.Unlock()

	for _, job := range jobs {
		m.wg.Add(1)
		go m.runJob(job)
	}
}

// Stop signals all jobs to stop.
func (m *Manager) Stop() {
	m.cancel()
}

// Wait blocks until all jobs exit.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) runJob(job Job) {
	defer m.wg.Done()

	interval := job.Interval()
	if interval <= 0 {
		interval = DefaultInterval
	}

	if aligned, ok := job.(AlignedJob); ok && aligned.AlignToInterval() {
		now := time.Now()
		next := now.Truncate(interval).Add(interval)
		logger.InfoCtx(m.ctx, "job %s will start at %v (in %v)", job.Name(), next.Format("15:04:05"), next.Sub(now))

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(next.Sub(now)):
		}
	}
	m.executeJob(job)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.executeJob(job)
		}
	}
}

func (m *Manager) executeJob(job Job) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCtx(m.ctx, "background job %s panicked: %v", job.Name(), r)
		}
	}()
	if err := job.Run(m.ctx); err != nil {
		logger.WarnCtx(m.ctx, "background job %s failed: %v", job.Name(), err)
	}
}
