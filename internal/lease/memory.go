package lease

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memoryStore keeps lease rows in-process. It mirrors the SQL drivers'
// row-level semantics exactly, but only arbitrates between goroutines of one
// process. Meant for tests and single-process development.
type memoryStore struct {
	mu           sync.Mutex
	rows         map[string]*TaskLease
	reclaimAfter time.Duration
}

// NewMemory returns an in-process Store.
func NewMemory(reclaimAfter time.Duration) Store {
	return &memoryStore{
		rows:         map[string]*TaskLease{},
		reclaimAfter: reclaimAfter,
	}
}

func (s *memoryStore) EnsureRow(_ context.Context, taskID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[taskID]; ok {
		return nil
	}
	s.rows[taskID] = &TaskLease{TaskID: taskID, Enabled: enabled}
	return nil
}

func (s *memoryStore) TryClaim(_ context.Context, taskID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[taskID]
	if !ok || !row.Enabled {
		return false, nil
	}
	if row.LockedAt != nil {
		if s.reclaimAfter <= 0 || row.LockedAt.After(now.Add(-s.reclaimAfter)) {
			return false, nil
		}
	}
	t := now
	row.LockedAt = &t
	return true, nil
}

func (s *memoryStore) Release(_ context.Context, taskID string, result string, executedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[taskID]
	if !ok {
		return ErrNotFound
	}
	t := executedAt
	row.LockedAt = nil
	row.LastExecutedAt = &t
	row.LastResult = result
	return nil
}

func (s *memoryStore) SetEnabled(_ context.Context, taskID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[taskID]
	if !ok {
		return ErrNotFound
	}
	row.Enabled = enabled
	return nil
}

func (s *memoryStore) Get(_ context.Context, taskID string) (TaskLease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[taskID]
	if !ok {
		return TaskLease{}, ErrNotFound
	}
	return copyLease(row), nil
}

func (s *memoryStore) List(_ context.Context) ([]TaskLease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskLease, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, copyLease(row))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out, nil
}

func (s *memoryStore) Close() error { return nil }

func copyLease(row *TaskLease) TaskLease {
	cp := *row
	if row.LockedAt != nil {
		t := *row.LockedAt
		cp.LockedAt = &t
	}
	if row.LastExecutedAt != nil {
		t := *row.LastExecutedAt
		cp.LastExecutedAt = &t
	}
	return cp
}
