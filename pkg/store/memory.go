package store

import (
	"sort"
	"sync"
	"time"

	"github.com/ksachdeva/probability/pkg/models"
)

// MemoryStore is an in-memory implementation of the data store
type MemoryStore struct {
	runs    map[string]*models.Run
	samples map[string][]*models.Sample
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:    make(map[string]*models.Run),
		samples: make(map[string][]*models.Sample),
	}
}

// CreateRun adds a run to the store
func (s *MemoryStore) CreateRun(run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = cloneRun(run)
	return nil
}

// GetRun retrieves a run by ID
func (s *MemoryStore) GetRun(id string) (*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return cloneRun(run), nil
}

// ListRuns returns all runs, optionally filtered by status, oldest first
func (s *MemoryStore) ListRuns(status string) ([]*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*models.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != "" && string(run.Status) != status {
			continue
		}
		runs = append(runs, cloneRun(run))
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
	return runs, nil
}

// UpdateRun replaces a stored run
func (s *MemoryStore) UpdateRun(run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; !ok {
		return ErrRunNotFound
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

// DeleteRun removes a run and its samples
func (s *MemoryStore) DeleteRun(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[id]; !ok {
		return ErrRunNotFound
	}
	delete(s.runs, id)
	delete(s.samples, id)
	return nil
}

// UpdateRunStatus transitions a run's state, validating against the FSM
func (s *MemoryStore) UpdateRunStatus(id string, status models.RunStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	return applyTransition(run, status, reason)
}

// SetRunProgress updates the surfaced-draw count and acceptance rate
func (s *MemoryStore) SetRunProgress(id string, progress int, acceptanceRate float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	run.Progress = progress
	run.AcceptanceRate = acceptanceRate
	return nil
}

// ClaimNextRun picks the oldest queued run and marks it running
func (s *MemoryStore) ClaimNextRun() (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *models.Run
	for _, run := range s.runs {
		if run.Status != models.RunStatusQueued {
			continue
		}
		if next == nil || run.CreatedAt.Before(next.CreatedAt) {
			next = run
		}
	}
	if next == nil {
		return nil, nil
	}
	if err := applyTransition(next, models.RunStatusRunning, "claimed by runner"); err != nil {
		return nil, err
	}
	return cloneRun(next), nil
}

// AppendSamples stores a batch of draws for a run
func (s *MemoryStore) AppendSamples(runID string, samples []*models.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[runID]; !ok {
		return ErrRunNotFound
	}
	for _, sample := range samples {
		c := *sample
		c.State = append([]float64(nil), sample.State...)
		s.samples[runID] = append(s.samples[runID], &c)
	}
	return nil
}

// GetSamples returns a page of draws for a run
func (s *MemoryStore) GetSamples(runID string, offset, limit int) ([]*models.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.runs[runID]; !ok {
		return nil, ErrRunNotFound
	}
	all := s.samples[runID]
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []*models.Sample{}, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]*models.Sample, 0, end-offset)
	for _, sample := range all[offset:end] {
		c := *sample
		c.State = append([]float64(nil), sample.State...)
		out = append(out, &c)
	}
	return out, nil
}

// CountSamples returns the number of stored draws for a run
func (s *MemoryStore) CountSamples(runID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.runs[runID]; !ok {
		return 0, ErrRunNotFound
	}
	return len(s.samples[runID]), nil
}

// RunMetrics aggregates run statistics
func (s *MemoryStore) RunMetrics() (*RunMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	metrics := &RunMetrics{RunsByStatus: make(map[models.RunStatus]int)}
	var rateSum float64
	var rateCount int
	for _, run := range s.runs {
		metrics.RunsByStatus[run.Status]++
		switch run.Status {
		case models.RunStatusRunning:
			metrics.ActiveRuns++
		case models.RunStatusQueued:
			metrics.QueueLength++
		}
		if run.AcceptanceRate > 0 {
			rateSum += run.AcceptanceRate
			rateCount++
		}
	}
	for _, samples := range s.samples {
		metrics.TotalDraws += len(samples)
	}
	if rateCount > 0 {
		metrics.AvgAcceptanceRate = rateSum / float64(rateCount)
	}
	return metrics, nil
}

// HealthCheck always succeeds for the memory store
func (s *MemoryStore) HealthCheck() error { return nil }

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error { return nil }

// applyTransition validates and applies a state change, stamping
// started/completed times. Callers hold the write lock.
func applyTransition(run *models.Run, to models.RunStatus, reason string) error {
	if err := models.ValidateTransition(run.Status, to); err != nil {
		return err
	}
	now := time.Now()
	run.StateTransitions = append(run.StateTransitions, models.StateTransition{
		From:      run.Status,
		To:        to,
		Timestamp: now,
		Reason:    reason,
	})
	if to == models.RunStatusRunning && run.StartedAt == nil {
		run.StartedAt = &now
	}
	if models.IsTerminalState(to) && run.CompletedAt == nil {
		run.CompletedAt = &now
	}
	if to == models.RunStatusFailed {
		run.Error = reason
	}
	run.Status = to
	return nil
}

func cloneRun(run *models.Run) *models.Run {
	c := *run
	c.StateTransitions = append([]models.StateTransition(nil), run.StateTransitions...)
	return &c
}
