package store

import (
	"context"
	"sort"
	"sync"

	"github.com/sourceplane/stepflow/internal/model"
)

// Memory keeps the most recent reports in process when no archive is
// configured
type Memory struct {
	mu      sync.RWMutex
	limit   int
	reports map[string]*model.ExecutionReport
	order   []string
}

// NewMemory keeps at most limit reports, evicting the oldest first
func NewMemory(limit int) *Memory {
	if limit <= 0 {
		limit = 100
	}
	return &Memory{limit: limit, reports: make(map[string]*model.ExecutionReport)}
}

// Save stores a report
func (m *Memory) Save(_ context.Context, report *model.ExecutionReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.reports[report.RunID]; !ok {
		m.order = append(m.order, report.RunID)
	}
	m.reports[report.RunID] = report

	for len(m.order) > m.limit {
		delete(m.reports, m.order[0])
		m.order = m.order[1:]
	}
	return nil
}

// Get returns the report for runID
func (m *Memory) Get(_ context.Context, runID string) (*model.ExecutionReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	report, ok := m.reports[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return report, nil
}

// List returns the most recent reports first
func (m *Memory) List(_ context.Context, limit int) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summaries := make([]Summary, 0, len(m.reports))
	for _, r := range m.reports {
		summaries = append(summaries, summarize(r))
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartedAt.After(summaries[j].StartedAt)
	})
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

func summarize(r *model.ExecutionReport) Summary {
	return Summary{
		RunID:      r.RunID,
		Plan:       r.Plan,
		Success:    r.Success,
		Cancelled:  r.Cancelled,
		Steps:      len(r.Steps),
		Failed:     r.Counts()[model.StatusFailed],
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}
