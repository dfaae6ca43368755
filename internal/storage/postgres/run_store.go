package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/interpelli-crawler/internal/crawler"
)

// DefaultRunTable holds the harvest history.
const DefaultRunTable = "harvest_runs"

// RunStore implements crawler.RunRecorder.
type RunStore struct {
	pool  pgxIface
	table string
}

// NewRunStore wraps an existing pool.
func NewRunStore(pool pgxIface, table string) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultRunTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RunStore{pool: pool, table: table}, nil
}

// EnsureSchema creates the history table if it does not exist.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id             TEXT PRIMARY KEY,
	started_at         TIMESTAMPTZ NOT NULL,
	duration_ms        BIGINT NOT NULL,
	status             TEXT NOT NULL,
	regions            INTEGER NOT NULL,
	pages_scanned      INTEGER NOT NULL,
	links_discovered   INTEGER NOT NULL,
	articles_processed INTEGER NOT NULL,
	articles_seen      INTEGER NOT NULL,
	units_skipped      INTEGER NOT NULL,
	failed_units       INTEGER NOT NULL,
	records_extracted  INTEGER NOT NULL,
	records_persisted  INTEGER NOT NULL,
	duplicates         INTEGER NOT NULL,
	invalid_records    INTEGER NOT NULL,
	persist_errors     INTEGER NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

// RecordRun inserts or replaces the summary of one run.
func (s *RunStore) RecordRun(ctx context.Context, summary crawler.RunSummary) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id, started_at, duration_ms, status, regions, pages_scanned,
	links_discovered, articles_processed, articles_seen, units_skipped,
	failed_units, records_extracted, records_persisted, duplicates,
	invalid_records, persist_errors
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (run_id) DO UPDATE SET
	duration_ms = EXCLUDED.duration_ms,
	status = EXCLUDED.status,
	records_persisted = EXCLUDED.records_persisted`, s.table)

	_, err := s.pool.Exec(ctx, query,
		summary.RunID,
		summary.StartedAt,
		summary.Duration.Milliseconds(),
		summary.Status(),
		summary.Regions,
		summary.PagesScanned,
		summary.LinksDiscovered,
		summary.ArticlesProcessed,
		summary.ArticlesSeen,
		summary.UnitsSkipped,
		summary.FailedUnits,
		summary.RecordsExtracted,
		summary.RecordsPersisted,
		summary.Duplicates,
		summary.InvalidRecords,
		summary.PersistErrors,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", summary.RunID, err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *RunStore) RecentRuns(ctx context.Context, limit int) ([]crawler.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`
SELECT run_id, started_at, duration_ms, status, regions, pages_scanned,
	links_discovered, articles_processed, articles_seen, units_skipped,
	failed_units, records_extracted, records_persisted, duplicates,
	invalid_records, persist_errors
FROM %s
ORDER BY started_at DESC
LIMIT $1`, s.table)

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []crawler.RunSummary
	for rows.Next() {
		var (
			run        crawler.RunSummary
			durationMS int64
			status     string
		)
		if err := rows.Scan(
			&run.RunID,
			&run.StartedAt,
			&durationMS,
			&status,
			&run.Regions,
			&run.PagesScanned,
			&run.LinksDiscovered,
			&run.ArticlesProcessed,
			&run.ArticlesSeen,
			&run.UnitsSkipped,
			&run.FailedUnits,
			&run.RecordsExtracted,
			&run.RecordsPersisted,
			&run.Duplicates,
			&run.InvalidRecords,
			&run.PersistErrors,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Duration = time.Duration(durationMS) * time.Millisecond
		run.Interrupted = status == "interrupted"
		run.DryRun = status == "dry_run"
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}
