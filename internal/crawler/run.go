package crawler

import (
	"context"
	"time"
)

// RunSummary reports what one harvest did.
type RunSummary struct {
	RunID             string        `json:"run_id"`
	StartedAt         time.Time     `json:"started_at"`
	Regions           int           `json:"regions"`
	PagesScanned      int           `json:"pages_scanned"`
	LinksDiscovered   int           `json:"links_discovered"`
	ArticlesProcessed int           `json:"articles_processed"`
	ArticlesSeen      int           `json:"articles_seen"`
	UnitsSkipped      int           `json:"units_skipped"`
	FailedUnits       int           `json:"failed_units"`
	RecordsExtracted  int           `json:"records_extracted"`
	RecordsPersisted  int           `json:"records_persisted"`
	Duplicates        int           `json:"duplicates"`
	InvalidRecords    int           `json:"invalid_records"`
	PersistErrors     int           `json:"persist_errors"`
	Duration          time.Duration `json:"duration"`
	Interrupted       bool          `json:"interrupted"`
	DryRun            bool          `json:"dry_run"`
}

// Status condenses the summary into a single label.
func (s RunSummary) Status() string {
	switch {
	case s.Interrupted:
		return "interrupted"
	case s.DryRun:
		return "dry_run"
	default:
		return "ok"
	}
}

// RunRecorder keeps a history of harvest runs.
type RunRecorder interface {
	RecordRun(ctx context.Context, summary RunSummary) error
	RecentRuns(ctx context.Context, limit int) ([]RunSummary, error)
}
