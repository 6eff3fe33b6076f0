// Package report projects lease rows into operator-facing status reports.
//
// Reads are eventually-consistent snapshots; a claim or release landing
// mid-read is fine and expected.
package report

import (
	"context"
	"time"

	"taskfleet/internal/lease"
)

// TaskReport is the operator view of one task's durable state.
type TaskReport struct {
	ID             string     `json:"id"`
	LastExecutedAt *time.Time `json:"last_executed_at"`
	IsRunning      bool       `json:"is_running"`
	LastResult     string     `json:"last_result"`
	Enabled        bool       `json:"enabled"`
}

type Service struct {
	store lease.Store
}

func NewService(store lease.Store) *Service {
	return &Service{store: store}
}

func (s *Service) List(ctx context.Context) ([]TaskReport, error) {
	rows, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TaskReport, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromLease(row))
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id string) (TaskReport, error) {
	row, err := s.store.Get(ctx, id)
	if err != nil {
		return TaskReport{}, err
	}
	return fromLease(row), nil
}

// SetEnabled flips the operator suppression flag. This is the one write the
// reporting surface carries; it touches nothing but the enabled column.
func (s *Service) SetEnabled(ctx context.Context, id string, enabled bool) error {
	return s.store.SetEnabled(ctx, id, enabled)
}

func fromLease(row lease.TaskLease) TaskReport {
	return TaskReport{
		ID:             row.TaskID,
		LastExecutedAt: row.LastExecutedAt,
		IsRunning:      row.IsRunning(),
		LastResult:     row.LastResult,
		Enabled:        row.Enabled,
	}
}
