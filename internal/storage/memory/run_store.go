package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/interpelli-crawler/internal/crawler"
)

// RunStore keeps harvest summaries in memory.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]crawler.RunSummary
}

// NewRunStore creates an empty history.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]crawler.RunSummary)}
}

// RecordRun stores or replaces a summary.
func (s *RunStore) RecordRun(_ context.Context, summary crawler.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[summary.RunID] = summary
	return nil
}

// RecentRuns returns up to limit summaries, newest first.
func (s *RunStore) RecentRuns(_ context.Context, limit int) ([]crawler.RunSummary, error) {
	s.mu.RLock()
	out := make([]crawler.RunSummary, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
