package store

import (
	"sort"
	"sync"
)

// Memory is an in-process Store. Records survive for the lifetime of the
// server; a durable backend can replace it behind the same interfaces.
type Memory struct {
	mu           sync.RWMutex
	evaluations  map[string]EvaluationRecord
	remediations map[string]RemediationRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		evaluations:  make(map[string]EvaluationRecord),
		remediations: make(map[string]RemediationRecord),
	}
}

// PutEvaluation inserts or replaces an evaluation record.
func (m *Memory) PutEvaluation(rec EvaluationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evaluations[rec.ID] = rec
	return nil
}

// GetEvaluation returns the record or ErrNotFound.
func (m *Memory) GetEvaluation(id string) (EvaluationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.evaluations[id]
	if !ok {
		return EvaluationRecord{}, ErrNotFound
	}
	return rec, nil
}

// DeleteEvaluation removes the record, returning ErrNotFound when absent.
func (m *Memory) DeleteEvaluation(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.evaluations[id]; !ok {
		return ErrNotFound
	}
	delete(m.evaluations, id)
	return nil
}

// ListEvaluations returns all evaluation records, newest first.
func (m *Memory) ListEvaluations() ([]EvaluationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]EvaluationRecord, 0, len(m.evaluations))
	for _, rec := range m.evaluations {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// PutRemediation inserts or replaces a remediation record.
func (m *Memory) PutRemediation(rec RemediationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remediations[rec.ID] = rec
	return nil
}

// GetRemediation returns the record or ErrNotFound.
func (m *Memory) GetRemediation(id string) (RemediationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.remediations[id]
	if !ok {
		return RemediationRecord{}, ErrNotFound
	}
	return rec, nil
}

// DeleteRemediation removes the record, returning ErrNotFound when absent.
func (m *Memory) DeleteRemediation(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.remediations[id]; !ok {
		return ErrNotFound
	}
	delete(m.remediations, id)
	return nil
}

// ListRemediations returns all remediation records, newest first.
func (m *Memory) ListRemediations() ([]RemediationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RemediationRecord, 0, len(m.remediations))
	for _, rec := range m.remediations {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// SweepAbandoned marks every non-terminal record as abandoned.
func (m *Memory) SweepAbandoned() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, rec := range m.evaluations {
		if !rec.Status.Terminal() {
			rec.Status = StatusAbandoned
			m.evaluations[id] = rec
			n++
		}
	}
	for id, rec := range m.remediations {
		if !rec.Status.Terminal() {
			rec.Status = StatusAbandoned
			m.remediations[id] = rec
			n++
		}
	}
	return n, nil
}
