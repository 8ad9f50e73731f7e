// Package jobs runs evaluation and remediation work through bounded queues.
// Each manager owns one queue and one worker pool; evaluation and remediation
// get separate managers so a long remediation cannot starve evaluations.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/docscope/events"
	"github.com/c360studio/docscope/faults"
	"github.com/c360studio/docscope/issue"
)

// LogRingCapacity caps the per-job log kept for status responses. The SSE
// ring in the events bus is larger; this one only backs polling clients.
const LogRingCapacity = 200

// State is a job lifecycle state.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// RunFunc executes one job. It must honor ctx cancellation and report
// progress through job.Notify.
type RunFunc func(ctx context.Context, job *Job) (any, error)

// TerminalHook receives the canonical record of every job that reaches a
// terminal state. Used to hand results to the storage layer.
type TerminalHook func(snap Snapshot)

// LogEntry is one progress line kept in the job's log ring.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
}

// Failure describes why a job ended in failed or cancelled state.
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Snapshot is a point-in-time copy of a job's state.
type Snapshot struct {
	ID         string     `json:"jobId"`
	Kind       string     `json:"kind"`
	State      State      `json:"status"`
	Progress   int        `json:"progress"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Logs       []LogEntry `json:"logs,omitempty"`
	Result     any        `json:"result,omitempty"`
	Error      *Failure   `json:"error,omitempty"`

	// ProgressDetail is the snapshot evaluation jobs maintain through
	// SetProgress; remediation jobs leave it nil.
	ProgressDetail *issue.Progress `json:"progressDetail,omitempty"`
}

// Job is one unit of queued work. All mutable fields are guarded by the
// owning manager's lock.
type Job struct {
	id   string
	kind string
	run  RunFunc

	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time

	state          State
	progress       int
	progressDetail *issue.Progress
	logs           []LogEntry
	result         any
	failure        *Failure

	timeout         time.Duration
	cancel          context.CancelFunc
	cancelRequested bool

	mgr *Manager
}

// ID returns the job's identifier.
func (j *Job) ID() string { return j.id }

// Notify publishes a progress event on the bus and appends it to the job's
// log ring. Safe for concurrent use; nil-manager jobs (tests) only log.
func (j *Job) Notify(t events.Type, data map[string]any) {
	j.mgr.record(j, t, data)
}

// SetProgress replaces the job's progress snapshot. The percentage also
// drives the top-level progress field polled by status clients. Snapshots
// arriving after the terminal transition are dropped.
func (j *Job) SetProgress(p issue.Progress) {
	j.mgr.mu.Lock()
	defer j.mgr.mu.Unlock()
	if j.state.Terminal() {
		return
	}
	j.progressDetail = &p
	j.progress = p.Percentage
}

// Stats summarizes a manager's jobs for metrics.
type Stats struct {
	Queued    int
	Running   int
	Completed int
	Failed    int
	Cancelled int
	QueueCap  int
}

// Manager owns one bounded queue and its worker pool.
type Manager struct {
	name    string
	workers int
	timeout time.Duration

	bus    *events.Bus
	hook   TerminalHook
	logger *slog.Logger

	mu    sync.Mutex
	jobs  map[string]*Job
	queue chan *Job

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithTerminalHook registers the persistence callback invoked on every
// terminal transition.
func WithTerminalHook(hook TerminalHook) Option {
	return func(m *Manager) {
		m.hook = hook
	}
}

// WithJobTimeout bounds each job's wall clock. Zero disables the limit.
func WithJobTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.timeout = d
	}
}

// NewManager creates a manager named for its job kind with the given queue
// capacity and worker pool size. Call Start before submitting.
func NewManager(name string, capacity, workers int, bus *events.Bus, opts ...Option) *Manager {
	if capacity < 1 {
		capacity = 1
	}
	if workers < 1 {
		workers = 1
	}
	m := &Manager{
		name:    name,
		workers: workers,
		bus:     bus,
		logger:  slog.Default(),
		jobs:    make(map[string]*Job),
		queue:   make(chan *Job, capacity),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the worker pool.
func (m *Manager) Start() {
	m.runCtx, m.runCancel = context.WithCancel(context.Background())
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	m.logger.Info("Job manager started",
		"kind", m.name, "workers", m.workers, "capacity", cap(m.queue))
}

// Stop cancels running jobs and waits for the workers to drain.
func (m *Manager) Stop() {
	if m.runCancel != nil {
		m.runCancel()
	}
	m.wg.Wait()
}

// Submit enqueues a job. When the queue is at capacity it returns a
// QUEUE_FULL fault and leaves existing jobs untouched.
func (m *Manager) Submit(run RunFunc) (Snapshot, error) {
	job := &Job{
		id:        uuid.NewString(),
		kind:      m.name,
		run:       run,
		createdAt: time.Now().UTC(),
		state:     StateQueued,
		timeout:   m.timeout,
		mgr:       m,
	}

	m.mu.Lock()
	select {
	case m.queue <- job:
		m.jobs[job.id] = job
		snap := snapshotLocked(job, false)
		m.mu.Unlock()
		m.logger.Info("Job queued", "kind", m.name, "job_id", job.id)
		return snap, nil
	default:
		m.mu.Unlock()
		return Snapshot{}, faults.New(faults.CategoryQueue, faults.CodeQueueFull,
			m.name+" queue is full")
	}
}

// Get returns a snapshot of the job, including its log ring and result.
func (m *Manager) Get(id string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return Snapshot{}, false
	}
	return snapshotLocked(job, true), true
}

// Cancel requests cancellation. Queued jobs transition to cancelled
// immediately; running jobs are signalled and transition when the run
// function returns. Cancelling a terminal job is a no-op.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return faults.New(faults.CategoryNotFound, faults.CodeNotFound, "unknown job: "+id)
	}

	switch job.state {
	case StateQueued:
		job.cancelRequested = true
		failure := &Failure{Code: faults.CodeCancelled, Message: "cancelled before start"}
		m.finishLocked(job, StateCancelled, nil, failure)
		m.mu.Unlock()
	case StateRunning:
		job.cancelRequested = true
		cancel := job.cancel
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	default:
		m.mu.Unlock()
	}
	return nil
}

// Delete cancels the job if still active and removes its record and event
// log. Returns false when the id is unknown.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	job, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return false
	}

	_ = m.Cancel(job.id)

	m.mu.Lock()
	delete(m.jobs, id)
	m.mu.Unlock()
	m.bus.Drop(id)
	return true
}

// Stats counts jobs by state.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{QueueCap: cap(m.queue)}
	for _, job := range m.jobs {
		switch job.state {
		case StateQueued:
			s.Queued++
		case StateRunning:
			s.Running++
		case StateCompleted:
			s.Completed++
		case StateFailed:
			s.Failed++
		case StateCancelled:
			s.Cancelled++
		}
	}
	return s
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.runCtx.Done():
			return
		case job := <-m.queue:
			m.runJob(job)
		}
	}
}

func (m *Manager) runJob(job *Job) {
	m.mu.Lock()
	if job.state != StateQueued {
		// Cancelled while waiting in the queue.
		m.mu.Unlock()
		return
	}
	var ctx context.Context
	var cancel context.CancelFunc
	if job.timeout > 0 {
		ctx, cancel = context.WithTimeout(m.runCtx, job.timeout)
	} else {
		ctx, cancel = context.WithCancel(m.runCtx)
	}
	job.state = StateRunning
	job.startedAt = time.Now().UTC()
	job.cancel = cancel
	m.mu.Unlock()
	defer cancel()

	job.Notify(events.TypeJobStarted, map[string]any{"kind": job.kind})

	result, err := m.invoke(ctx, job)

	m.mu.Lock()
	defer m.mu.Unlock()
	if job.state.Terminal() {
		// Cancel won the race; the record already reflects it.
		return
	}

	if err != nil {
		state := StateFailed
		failure := m.failureFor(job, err)
		if failure.Code == faults.CodeCancelled {
			state = StateCancelled
		}
		m.finishLocked(job, state, nil, failure)
		return
	}
	m.finishLocked(job, StateCompleted, result, nil)
}

// invoke runs the job's function with panic recovery.
func (m *Manager) invoke(ctx context.Context, job *Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Job panicked",
				"kind", m.name, "job_id", job.id, "panic", r, "stack", string(debug.Stack()))
			err = faults.New(faults.CategoryInternal, faults.CodeInternal, "job panicked")
		}
	}()
	return job.run(ctx, job)
}

func (m *Manager) failureFor(job *Job, err error) *Failure {
	code := faults.CodeOf(err)
	if job.cancelRequested || errors.Is(err, context.Canceled) {
		code = faults.CodeCancelled
	} else if code == faults.CodeInternal && errors.Is(err, context.DeadlineExceeded) {
		code = faults.CodeJobTimeout
	}

	failure := &Failure{Code: code, Message: err.Error()}
	if f := faults.As(err); f != nil {
		failure.Message = f.Message
		failure.Details = f.Details
		if u := f.Unwrap(); u != nil && failure.Details == "" {
			failure.Details = u.Error()
		}
	}
	return failure
}

// finishLocked applies a terminal transition, publishes the terminal event,
// and hands the record to the persistence hook. Caller holds m.mu.
func (m *Manager) finishLocked(job *Job, state State, result any, failure *Failure) {
	job.state = state
	job.finishedAt = time.Now().UTC()
	job.result = result
	job.failure = failure

	var event events.Event
	if state == StateCompleted {
		job.progress = 100
		if job.progressDetail != nil {
			job.progressDetail.Percentage = 100
		}
		event = events.New(job.id, events.TypeJobCompleted, map[string]any{
			"percentage": 100,
			"durationMs": job.finishedAt.Sub(job.startedAt).Milliseconds(),
		})
	} else {
		data := map[string]any{"message": failure.Message, "code": failure.Code}
		if failure.Details != "" {
			data["details"] = failure.Details
		}
		event = events.New(job.id, events.TypeJobFailed, data)
	}
	m.appendLogLocked(job, event)

	snap := snapshotLocked(job, true)
	hook := m.hook

	// Publish and persist outside the lock.
	go func() {
		m.bus.Publish(event)
		if hook != nil {
			hook(snap)
		}
	}()

	m.logger.Info("Job finished", "kind", m.name, "job_id", job.id, "state", string(state))
}

// record appends a progress event to the job log and publishes it.
func (m *Manager) record(job *Job, t events.Type, data map[string]any) {
	event := events.New(job.id, t, data)

	m.mu.Lock()
	if job.state.Terminal() {
		m.mu.Unlock()
		return
	}
	m.appendLogLocked(job, event)
	if pct, ok := data["percentage"]; ok {
		switch v := pct.(type) {
		case int:
			job.progress = v
		case float64:
			job.progress = int(v)
		}
	}
	m.mu.Unlock()

	m.bus.Publish(event)
}

func (m *Manager) appendLogLocked(job *Job, event events.Event) {
	if len(job.logs) >= LogRingCapacity {
		job.logs = job.logs[1:]
	}
	job.logs = append(job.logs, LogEntry{
		Timestamp: event.Timestamp,
		Type:      string(event.Type),
		Data:      event.Data,
	})
}

func snapshotLocked(job *Job, withLogs bool) Snapshot {
	snap := Snapshot{
		ID:        job.id,
		Kind:      job.kind,
		State:     job.state,
		Progress:  job.progress,
		CreatedAt: job.createdAt,
		Result:    job.result,
	}
	if job.failure != nil {
		f := *job.failure
		snap.Error = &f
	}
	if job.progressDetail != nil {
		d := *job.progressDetail
		snap.ProgressDetail = &d
	}
	if !job.startedAt.IsZero() {
		t := job.startedAt
		snap.StartedAt = &t
	}
	if !job.finishedAt.IsZero() {
		t := job.finishedAt
		snap.FinishedAt = &t
	}
	if withLogs {
		snap.Logs = make([]LogEntry, len(job.logs))
		copy(snap.Logs, job.logs)
	}
	return snap
}
