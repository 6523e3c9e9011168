package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"devicefarm/pkg/logger"
)

// Job represents a periodic background task.
type Job interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

// runningJob is the handle of one scheduled job instance.
type runningJob struct {
	job    Job
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager orchestrates the lifecycle of background jobs.
// At most one instance of a job name runs at any time.
type Manager struct {
	ctx     context.Context
	cancel  context.CancelFunc
	jobs    []Job
	started bool

	mu      sync.Mutex
	running map[string]*runningJob

	// scheduleMu serializes Schedule/Unschedule so a replaced instance is fully
	// stopped before its successor starts.
	scheduleMu sync.Mutex
	wg         sync.WaitGroup
}

// NewManager creates a job manager bound to the provided context.
func NewManager(parent context.Context) *Manager {
	ctx, cancel := context.WithCancel(parent)
	return &Manager{
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make([]Job, 0),
		running: make(map[string]*runningJob),
	}
}

// Register adds a job to the manager. Jobs registered after Start are scheduled immediately.
func (m *Manager) Register(job Job) {
	if job == nil {
		return
	}
	m.mu.Lock()
	started := m.started
	if !started {
		m.jobs = append(m.jobs, job)
	}
	m.mu.Unlock()

	if started {
		m.Schedule(job)
	}
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
		m.Schedule(job)
	}
}

// Schedule starts job, first stopping and waiting for any running job with the same name.
func (m *Manager) Schedule(job Job) {
	if job == nil {
		return
	}
	m.scheduleMu.Lock()
	defer m.scheduleMu.Unlock()

	m.stopLocked(job.Name())

	if m.ctx.Err() != nil {
		return
	}

	ctx, cancel := context.WithCancel(m.ctx)
	handle := &runningJob{job: job, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.running[job.Name()] = handle
	m.mu.Unlock()

	m.wg.Add(1)
	go m.runJob(ctx, handle)
}

// Unschedule stops the job with the given name. Returns false if it was not running.
func (m *Manager) Unschedule(name string) bool {
	m.scheduleMu.Lock()
	defer m.scheduleMu.Unlock()
	return m.stopLocked(name)
}

func (m *Manager) stopLocked(name string) bool {
	m.mu.Lock()
	prev, ok := m.running[name]
	if ok {
		delete(m.running, name)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	prev.cancel()
	<-prev.done
	return true
}

// Running returns the names of the scheduled jobs, sorted.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.running))
	for name := range m.running {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stop signals all jobs to stop.
func (m *Manager) Stop() {
	m.cancel()
}

// Wait blocks until all jobs exit.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) runJob(ctx context.Context, handle *runningJob) {
	defer m.wg.Done()
	defer close(handle.done)

	job := handle.job
	interval := job.Interval()
	if interval <= 0 {
		interval = time.Minute
	}

	// Run immediately once.
	m.executeJob(ctx, job)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.executeJob(ctx, job)
		}
	}
}

func (m *Manager) executeJob(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	if err := job.Run(ctx); err != nil {
		logger.WarnCtx(ctx, "background job %s failed: %v", job.Name(), err)
	}
}
