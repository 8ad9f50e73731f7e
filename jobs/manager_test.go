package jobs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/docscope/events"
	"github.com/c360studio/docscope/faults"
	"github.com/c360studio/docscope/issue"
)

// collect drains a job's event stream until the terminal event closes it.
func collect(t *testing.T, bus *events.Bus, id string) []events.Event {
	t.Helper()
	ch, cancel := bus.Subscribe(id)
	defer cancel()

	var out []events.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-timeout:
			t.Fatalf("timed out waiting for terminal event, got %d events", len(out))
		}
	}
}

func TestSubmitRunsToCompletion(t *testing.T) {
	bus := events.NewBus()
	var persisted []Snapshot
	m := NewManager("evaluation", 10, 2, bus,
		WithTerminalHook(func(s Snapshot) { persisted = append(persisted, s) }))
	m.Start()
	defer m.Stop()

	snap, err := m.Submit(func(ctx context.Context, job *Job) (any, error) {
		job.Notify(events.TypeDiscoveryCompleted, map[string]any{"filesFound": 1})
		return "the-result", nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateQueued, snap.State)
	assert.False(t, snap.CreatedAt.IsZero())

	seen := collect(t, bus, snap.ID)
	require.NotEmpty(t, seen)
	assert.Equal(t, events.TypeJobStarted, seen[0].Type)
	last := seen[len(seen)-1]
	assert.Equal(t, events.TypeJobCompleted, last.Type)
	assert.Equal(t, 100, last.Data["percentage"])

	got, ok := m.Get(snap.ID)
	require.True(t, ok)
	assert.Equal(t, StateCompleted, got.State)
	assert.Equal(t, "the-result", got.Result)
	assert.Equal(t, 100, got.Progress)
	assert.Nil(t, got.Error)
	require.NotEmpty(t, got.Logs)
	assert.Equal(t, string(events.TypeJobCompleted), got.Logs[len(got.Logs)-1].Type)

	assert.Eventually(t, func() bool { return len(persisted) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, StateCompleted, persisted[0].State)
}

func TestSubmitQueueFull(t *testing.T) {
	bus := events.NewBus()
	m := NewManager("evaluation", 1, 1, bus)
	m.Start()
	defer m.Stop()

	release := make(chan struct{})
	block := func(ctx context.Context, job *Job) (any, error) {
		select {
		case <-release:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	first, err := m.Submit(block)
	require.NoError(t, err)
	// Wait until the worker holds the first job so the queue slot is free.
	require.Eventually(t, func() bool {
		s, _ := m.Get(first.ID)
		return s.State == StateRunning
	}, time.Second, 5*time.Millisecond)

	_, err = m.Submit(block)
	require.NoError(t, err)

	_, err = m.Submit(block)
	require.Error(t, err)
	assert.Equal(t, faults.CodeQueueFull, faults.CodeOf(err))
	assert.Equal(t, faults.CategoryQueue, faults.CategoryOf(err))

	close(release)
}

func TestCancelQueuedJob(t *testing.T) {
	bus := events.NewBus()
	m := NewManager("evaluation", 2, 1, bus)
	m.Start()
	defer m.Stop()

	release := make(chan struct{})
	defer close(release)
	first, err := m.Submit(func(ctx context.Context, job *Job) (any, error) {
		<-release
		return nil, nil
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s, _ := m.Get(first.ID)
		return s.State == StateRunning
	}, time.Second, 5*time.Millisecond)

	queued, err := m.Submit(func(ctx context.Context, job *Job) (any, error) {
		t.Error("cancelled queued job must not run")
		return nil, nil
	})
	require.NoError(t, err)

	require.NoError(t, m.Cancel(queued.ID))

	seen := collect(t, bus, queued.ID)
	require.NotEmpty(t, seen)
	last := seen[len(seen)-1]
	assert.Equal(t, events.TypeJobFailed, last.Type)
	assert.Equal(t, faults.CodeCancelled, last.Data["code"])

	got, ok := m.Get(queued.ID)
	require.True(t, ok)
	assert.Equal(t, StateCancelled, got.State)
}

func TestCancelRunningJob(t *testing.T) {
	bus := events.NewBus()
	m := NewManager("remediation", 2, 1, bus)
	m.Start()
	defer m.Stop()

	started := make(chan struct{})
	snap, err := m.Submit(func(ctx context.Context, job *Job) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)

	<-started
	require.NoError(t, m.Cancel(snap.ID))

	seen := collect(t, bus, snap.ID)
	last := seen[len(seen)-1]
	assert.Equal(t, events.TypeJobFailed, last.Type)
	assert.Equal(t, faults.CodeCancelled, last.Data["code"])

	got, _ := m.Get(snap.ID)
	assert.Equal(t, StateCancelled, got.State)
	require.NotNil(t, got.Error)
	assert.Equal(t, faults.CodeCancelled, got.Error.Code)
}

func TestCancelUnknownJob(t *testing.T) {
	m := NewManager("evaluation", 1, 1, events.NewBus())
	err := m.Cancel("nope")
	require.Error(t, err)
	assert.Equal(t, faults.CodeNotFound, faults.CodeOf(err))
}

func TestJobTimeout(t *testing.T) {
	bus := events.NewBus()
	m := NewManager("evaluation", 1, 1, bus, WithJobTimeout(30*time.Millisecond))
	m.Start()
	defer m.Stop()

	snap, err := m.Submit(func(ctx context.Context, job *Job) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)

	seen := collect(t, bus, snap.ID)
	last := seen[len(seen)-1]
	assert.Equal(t, events.TypeJobFailed, last.Type)
	assert.Equal(t, faults.CodeJobTimeout, last.Data["code"])

	got, _ := m.Get(snap.ID)
	assert.Equal(t, StateFailed, got.State)
}

func TestJobFailureCarriesFaultCode(t *testing.T) {
	bus := events.NewBus()
	m := NewManager("evaluation", 1, 1, bus)
	m.Start()
	defer m.Stop()

	snap, err := m.Submit(func(ctx context.Context, job *Job) (any, error) {
		return nil, faults.New(faults.CategoryRepository, faults.CodeRepoError, "clone failed")
	})
	require.NoError(t, err)

	seen := collect(t, bus, snap.ID)
	last := seen[len(seen)-1]
	assert.Equal(t, events.TypeJobFailed, last.Type)
	assert.Equal(t, faults.CodeRepoError, last.Data["code"])
	assert.Equal(t, "clone failed", last.Data["message"])
}

func TestJobPanicBecomesInternalFailure(t *testing.T) {
	bus := events.NewBus()
	m := NewManager("evaluation", 1, 1, bus)
	m.Start()
	defer m.Stop()

	snap, err := m.Submit(func(ctx context.Context, job *Job) (any, error) {
		panic("boom")
	})
	require.NoError(t, err)

	seen := collect(t, bus, snap.ID)
	last := seen[len(seen)-1]
	assert.Equal(t, events.TypeJobFailed, last.Type)
	assert.Equal(t, faults.CodeInternal, last.Data["code"])

	got, _ := m.Get(snap.ID)
	assert.Equal(t, StateFailed, got.State)
}

func TestLogRingBounded(t *testing.T) {
	bus := events.NewBus()
	m := NewManager("evaluation", 1, 1, bus)
	m.Start()
	defer m.Stop()

	snap, err := m.Submit(func(ctx context.Context, job *Job) (any, error) {
		for i := 0; i < LogRingCapacity+50; i++ {
			job.Notify(events.TypeEvaluatorProgress, map[string]any{"n": i})
		}
		return nil, nil
	})
	require.NoError(t, err)
	collect(t, bus, snap.ID)

	got, _ := m.Get(snap.ID)
	assert.Len(t, got.Logs, LogRingCapacity)

	// Chronologically non-decreasing.
	for i := 1; i < len(got.Logs); i++ {
		assert.False(t, got.Logs[i].Timestamp.Before(got.Logs[i-1].Timestamp))
	}
	// Oldest entries were dropped; the terminal event survives.
	assert.Equal(t, string(events.TypeJobCompleted), got.Logs[len(got.Logs)-1].Type)
}

func TestDelete(t *testing.T) {
	bus := events.NewBus()
	m := NewManager("evaluation", 1, 1, bus)
	m.Start()
	defer m.Stop()

	snap, err := m.Submit(func(ctx context.Context, job *Job) (any, error) {
		return nil, nil
	})
	require.NoError(t, err)
	collect(t, bus, snap.ID)

	assert.True(t, m.Delete(snap.ID))
	_, ok := m.Get(snap.ID)
	assert.False(t, ok)

	assert.False(t, m.Delete(snap.ID), "second delete finds nothing")
	assert.False(t, m.Delete("unknown"))
}

func TestStats(t *testing.T) {
	bus := events.NewBus()
	m := NewManager("evaluation", 5, 1, bus)
	m.Start()
	defer m.Stop()

	release := make(chan struct{})
	running, err := m.Submit(func(ctx context.Context, job *Job) (any, error) {
		<-release
		return nil, nil
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s, _ := m.Get(running.ID)
		return s.State == StateRunning
	}, time.Second, 5*time.Millisecond)

	for i := 0; i < 2; i++ {
		_, err := m.Submit(func(ctx context.Context, job *Job) (any, error) {
			<-release
			return nil, nil
		})
		require.NoError(t, err, fmt.Sprintf("submit %d", i))
	}

	s := m.Stats()
	assert.Equal(t, 1, s.Running)
	assert.Equal(t, 2, s.Queued)
	assert.Equal(t, 5, s.QueueCap)

	close(release)
}

func TestSetProgressSurfacesSnapshot(t *testing.T) {
	bus := events.NewBus()
	m := NewManager("evaluation", 2, 1, bus)
	m.Start()
	defer m.Stop()

	release := make(chan struct{})
	snap, err := m.Submit(func(ctx context.Context, job *Job) (any, error) {
		job.SetProgress(issue.Progress{
			CurrentFile:         "AGENTS.md",
			CurrentEvaluator:    "accuracy",
			CompletedFiles:      1,
			TotalFiles:          2,
			CompletedEvaluators: 3,
			TotalEvaluators:     10,
			Percentage:          30,
		})
		<-release
		return "done", nil
	})
	require.NoError(t, err)

	// Mid-run status reflects the snapshot, not a flat zero.
	require.Eventually(t, func() bool {
		got, ok := m.Get(snap.ID)
		return ok && got.Progress == 30
	}, 5*time.Second, 10*time.Millisecond)

	got, ok := m.Get(snap.ID)
	require.True(t, ok)
	require.NotNil(t, got.ProgressDetail)
	assert.Equal(t, "AGENTS.md", got.ProgressDetail.CurrentFile)
	assert.Equal(t, "accuracy", got.ProgressDetail.CurrentEvaluator)
	assert.Equal(t, 2, got.ProgressDetail.TotalFiles)
	assert.Equal(t, 10, got.ProgressDetail.TotalEvaluators)

	close(release)
	require.Eventually(t, func() bool {
		got, ok := m.Get(snap.ID)
		return ok && got.State == StateCompleted
	}, 5*time.Second, 10*time.Millisecond)

	got, _ = m.Get(snap.ID)
	assert.Equal(t, 100, got.Progress)
	require.NotNil(t, got.ProgressDetail)
	assert.Equal(t, 100, got.ProgressDetail.Percentage)
}
