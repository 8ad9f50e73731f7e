package events

import (
	"log/slog"
	"sync"
)

const (
	// RingCapacity caps the per-job event log; overflow drops the oldest.
	RingCapacity = 500

	// subscriberBufSize must exceed RingCapacity so a full replay never
	// blocks the subscribing goroutine.
	subscriberBufSize = RingCapacity + 64
)

// Mirror receives a copy of every published event. Used to optionally
// forward events to NATS; failures must be swallowed by the implementation.
type Mirror interface {
	Mirror(e Event)
}

// Bus is the per-job event bus. Events for one job are totally ordered;
// publish never blocks on subscribers — slow subscribers drop live events
// and can re-read the ring at their own cadence.
type Bus struct {
	mu     sync.Mutex
	jobs   map[string]*jobLog
	logger *slog.Logger
	mirror Mirror
}

type jobLog struct {
	ring     []Event
	dropped  int
	subs     map[int]chan Event
	nextSub  int
	terminal bool
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBusLogger sets the logger.
func WithBusLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) {
		b.logger = logger
	}
}

// WithMirror attaches an event mirror.
func WithMirror(m Mirror) BusOption {
	return func(b *Bus) {
		b.mirror = m
	}
}

// NewBus creates an event bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		jobs:   make(map[string]*jobLog),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish appends e to its job's log and fans out to current subscribers.
// A terminal event closes all subscriber channels after delivery.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()

	jl := b.jobs[e.JobID]
	if jl == nil {
		jl = &jobLog{subs: make(map[int]chan Event)}
		b.jobs[e.JobID] = jl
	}
	if jl.terminal {
		// Nothing may follow job.completed / job.failed.
		b.mu.Unlock()
		b.logger.Warn("Event published after terminal event, dropped",
			"job_id", e.JobID, "type", string(e.Type))
		return
	}

	if len(jl.ring) >= RingCapacity {
		jl.ring = jl.ring[1:]
		jl.dropped++
		if jl.dropped == 1 || jl.dropped%100 == 0 {
			b.logger.Warn("Event ring full, dropping oldest",
				"job_id", e.JobID, "dropped", jl.dropped)
		}
	}
	jl.ring = append(jl.ring, e)

	for id, ch := range jl.subs {
		select {
		case ch <- e:
		default:
			b.logger.Warn("Subscriber channel full, live event dropped",
				"job_id", e.JobID, "subscriber", id, "type", string(e.Type))
		}
	}

	if e.Type.Terminal() {
		jl.terminal = true
		for id, ch := range jl.subs {
			close(ch)
			delete(jl.subs, id)
		}
	}

	mirror := b.mirror
	b.mu.Unlock()

	if mirror != nil {
		mirror.Mirror(e)
	}
}

// Subscribe returns a channel that first replays the job's existing log in
// order, then delivers new events until the job reaches a terminal state,
// at which point the channel is closed. The returned cancel function detaches
// the subscriber; it is safe to call after the channel closed.
func (b *Bus) Subscribe(jobID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	jl := b.jobs[jobID]
	if jl == nil {
		jl = &jobLog{subs: make(map[int]chan Event)}
		b.jobs[jobID] = jl
	}

	ch := make(chan Event, subscriberBufSize)
	for _, e := range jl.ring {
		ch <- e
	}

	if jl.terminal {
		close(ch)
		return ch, func() {}
	}

	id := jl.nextSub
	jl.nextSub++
	jl.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if cur, ok := jl.subs[id]; ok {
			delete(jl.subs, id)
			close(cur)
		}
	}
	return ch, cancel
}

// Log returns a copy of the job's event log.
func (b *Bus) Log(jobID string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	jl := b.jobs[jobID]
	if jl == nil {
		return nil
	}
	out := make([]Event, len(jl.ring))
	copy(out, jl.ring)
	return out
}

// Drop discards a job's log and detaches its subscribers. Used when a job
// record is deleted.
func (b *Bus) Drop(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	jl := b.jobs[jobID]
	if jl == nil {
		return
	}
	for id, ch := range jl.subs {
		close(ch)
		delete(jl.subs, id)
	}
	delete(b.jobs, jobID)
}
