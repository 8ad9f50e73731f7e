package evaluation

import (
	"sync"

	"github.com/c360studio/docscope/events"
	"github.com/c360studio/docscope/issue"
)

// ProgressFunc receives the job's progress snapshot after every change.
type ProgressFunc func(issue.Progress)

// progressTracker maintains the job's progress snapshot across the fan-out
// pool. It emits file.started before a file's first task and file.completed
// after its last one, whatever order the pool executes them in, and keeps
// the completed/total counters the status surface reports. TotalEvaluators
// counts evaluator tasks, so in independent mode it is evaluators×files.
type progressTracker struct {
	mu       sync.Mutex
	notify   Notify
	progress ProgressFunc

	snap       issue.Progress
	remaining  map[string]int
	started    map[string]bool
	doneTasks  int
	totalTasks int
}

func newProgressTracker(notify Notify, progress ProgressFunc) *progressTracker {
	if progress == nil {
		progress = func(issue.Progress) {}
	}
	return &progressTracker{
		notify:    notify,
		progress:  progress,
		remaining: make(map[string]int),
		started:   make(map[string]bool),
	}
}

// register counts one pending task. Called while tasks are being built,
// before the pool starts; no locking needed yet.
func (t *progressTracker) register(file string) {
	t.totalTasks++
	t.snap.TotalEvaluators = t.totalTasks
	if file != "" {
		t.remaining[file]++
		t.snap.TotalFiles = len(t.remaining)
	}
}

// announce publishes the zeroed snapshot once all tasks are registered, so
// totals are visible before the first task completes.
func (t *progressTracker) announce() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress(t.snap)
}

func (t *progressTracker) starting(file, evaluatorID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.CurrentFile = file
	t.snap.CurrentEvaluator = evaluatorID
	if file != "" && !t.started[file] {
		t.started[file] = true
		t.notify(events.TypeFileStarted, map[string]any{"file": file})
	}
	t.progress(t.snap)
}

func (t *progressTracker) finished(file string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.doneTasks++
	t.snap.CompletedEvaluators = t.doneTasks
	t.snap.Percentage = t.percentLocked()
	if file != "" {
		t.remaining[file]--
		if t.remaining[file] == 0 {
			t.snap.CompletedFiles++
			t.notify(events.TypeFileCompleted, map[string]any{"file": file})
		}
	}
	t.progress(t.snap)
}

// percentLocked maps completed tasks onto [0..99]; the terminal transition
// owns 100.
func (t *progressTracker) percentLocked() int {
	if t.totalTasks == 0 {
		return 0
	}
	pct := t.doneTasks * 100 / t.totalTasks
	if pct > 99 {
		pct = 99
	}
	return pct
}

// enrich decorates evaluator events with the job-level counters so stream
// consumers see completed/total alongside the evaluator and file.
func (t *progressTracker) enrich(notify Notify) Notify {
	return func(typ events.Type, data map[string]any) {
		if typ == events.TypeEvaluatorProgress || typ == events.TypeEvaluatorCompleted {
			if data == nil {
				data = make(map[string]any)
			}
			t.mu.Lock()
			data["completedFiles"] = t.snap.CompletedFiles
			data["totalFiles"] = t.snap.TotalFiles
			data["completedEvaluators"] = t.snap.CompletedEvaluators
			data["totalEvaluators"] = t.snap.TotalEvaluators
			data["percentage"] = t.snap.Percentage
			t.mu.Unlock()
		}
		notify(typ, data)
	}
}
