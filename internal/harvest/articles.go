package harvest

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/interpelli-crawler/internal/crawler"
	"github.com/JakeFAU/interpelli-crawler/internal/dispatcher"
	"github.com/JakeFAU/interpelli-crawler/internal/metrics"
	"github.com/JakeFAU/interpelli-crawler/internal/progress"
)

// processArticles runs phase 2 and returns the records of every successful
// unit flattened in task order.
func (r *run) processArticles(ctx context.Context, articles []crawler.ArticleTask) []crawler.Record {
	articles = r.dropSeen(ctx, articles)
	limiter, err := r.limiter(progress.PhaseArticles, r.cfg.ArticleConcurrency)
	if err != nil {
		r.logger.Error("article phase not started", zap.Error(err))
		return nil
	}
	tracker := r.startPhase(progress.PhaseArticles, len(articles), limiter)

	outcomes := dispatcher.Run(ctx, limiter, articles, func(ctx context.Context, _ int, task crawler.ArticleTask) ([]crawler.Record, error) {
		records, err := r.units.ProcessArticle(ctx, task)
		if err == nil {
			r.markSeen(ctx, task.URL)
		}
		tracker.unitDone(task.Region, task.URL, len(records), err)
		return records, err
	})
	tracker.finish()

	var records []crawler.Record
	for i, out := range outcomes {
		task := articles[i]
		switch {
		case out.Skipped:
			r.summary.UnitsSkipped++
		case out.Err != nil:
			r.summary.FailedUnits++
			r.logger.Warn("article failed",
				zap.String("region", task.Region),
				zap.String("url", task.URL),
				zap.Error(out.Err),
			)
		default:
			r.summary.ArticlesProcessed++
			records = append(records, out.Value...)
		}
	}
	r.summary.RecordsExtracted = len(records)
	return records
}

func (r *run) dropSeen(ctx context.Context, articles []crawler.ArticleTask) []crawler.ArticleTask {
	if r.ledger == nil || !r.cfg.SkipSeen {
		return articles
	}
	kept := articles[:0:0]
	for _, article := range articles {
		seen, err := r.ledger.Seen(ctx, article.URL)
		if err != nil {
			r.logger.Warn("ledger lookup failed", zap.String("url", article.URL), zap.Error(err))
		}
		if seen {
			r.summary.ArticlesSeen++
			continue
		}
		kept = append(kept, article)
	}
	if r.summary.ArticlesSeen > 0 {
		r.logger.Info("skipping articles seen in earlier runs", zap.Int("seen", r.summary.ArticlesSeen))
	}
	return kept
}

func (r *run) markSeen(ctx context.Context, url string) {
	if r.ledger == nil || r.req.DryRun {
		return
	}
	if err := r.ledger.MarkSeen(ctx, url); err != nil {
		r.logger.Warn("ledger update failed", zap.String("url", url), zap.Error(err))
	}
}

// persist inserts records one at a time. ctx must not be cancelled by the
// caller's interrupt so that completed work is kept whole.
func (r *run) persist(ctx context.Context, records []crawler.Record) {
	if r.req.DryRun {
		for _, rec := range records {
			if !rec.Valid() {
				r.summary.InvalidRecords++
			}
		}
		r.logger.Info("dry run, nothing persisted", zap.Int("records", len(records)))
		return
	}
	if len(records) == 0 {
		return
	}

	r.emit(progress.Event{Stage: progress.StagePhaseStart, Phase: progress.PhasePersist, Total: len(records)})
	start := r.clock.Now()
	for _, rec := range records {
		if !rec.Valid() {
			r.summary.InvalidRecords++
			metrics.ObserveRecord("invalid")
			r.logger.Warn("record missing required fields",
				zap.String("region", rec.Region),
				zap.String("source_url", rec.SourceURL),
				zap.String("class_code", rec.ClassCode),
			)
			continue
		}
		id, err := r.sink.Insert(ctx, rec)
		switch {
		case errors.Is(err, crawler.ErrDuplicate):
			r.summary.Duplicates++
			metrics.ObserveRecord("duplicate")
			r.logger.Info("duplicate record skipped",
				zap.String("school", rec.SchoolName),
				zap.String("class_code", rec.ClassCode),
				zap.String("end_date", rec.EndDate),
			)
		case err != nil:
			r.summary.PersistErrors++
			metrics.ObserveRecord("error")
			r.logger.Error("record insert failed",
				zap.String("school", rec.SchoolName),
				zap.String("source_url", rec.SourceURL),
				zap.Error(err),
			)
		default:
			r.summary.RecordsPersisted++
			metrics.ObserveRecord("inserted")
			rec.ID = id
			r.publish(ctx, rec)
		}
	}
	r.emit(progress.Event{
		Stage:   progress.StagePhaseDone,
		Phase:   progress.PhasePersist,
		Done:    len(records),
		Total:   len(records),
		Records: r.summary.RecordsPersisted,
		Dur:     r.clock.Now().Sub(start),
	})
	r.logger.Info("records persisted",
		zap.Int("inserted", r.summary.RecordsPersisted),
		zap.Int("duplicates", r.summary.Duplicates),
		zap.Int("invalid", r.summary.InvalidRecords),
		zap.Int("errors", r.summary.PersistErrors),
	)
}

func (r *run) publish(ctx context.Context, rec crawler.Record) {
	if r.publisher == nil || r.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"run_id": r.id,
		"record": rec,
	}
	if _, err := r.publisher.Publish(ctx, r.cfg.Topic, payload); err != nil {
		r.logger.Warn("publish record failed", zap.Int64("id", rec.ID), zap.Error(err))
	}
}
