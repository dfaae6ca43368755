package harvest

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/interpelli-crawler/internal/crawler"
	"github.com/JakeFAU/interpelli-crawler/internal/dispatcher"
	"github.com/JakeFAU/interpelli-crawler/internal/progress"
)

var errRegionHalted = errors.New("region halted at an earlier missing page")

// cutoffs records, per region, the lowest page known not to exist.
type cutoffs struct {
	mu    sync.Mutex
	pages map[string]int
}

func newCutoffs() *cutoffs {
	return &cutoffs{pages: make(map[string]int)}
}

func (c *cutoffs) observe(region string, page int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.pages[region]; !ok || page < current {
		c.pages[region] = page
	}
}

// beyond reports whether page lies past the region's first missing page.
func (c *cutoffs) beyond(region string, page int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff, ok := c.pages[region]
	return ok && page > cutoff
}

func enumeratePages(regions []crawler.Region, maxPages int) []crawler.PageTask {
	tasks := make([]crawler.PageTask, 0, len(regions)*maxPages)
	for _, region := range regions {
		for page := 1; page <= maxPages; page++ {
			tasks = append(tasks, crawler.PageTask{
				Region: region.Name,
				Page:   page,
				URL:    crawler.PageURL(region.URL, page),
			})
		}
	}
	return tasks
}

// discover runs phase 1 and returns the deduplicated article tasks in
// enumeration order.
func (r *run) discover(ctx context.Context) []crawler.ArticleTask {
	tasks := enumeratePages(r.req.Regions, r.req.MaxPages)
	limiter, err := r.limiter(progress.PhaseDiscovery, r.cfg.DiscoveryConcurrency)
	if err != nil {
		r.logger.Error("discovery phase not started", zap.Error(err))
		return nil
	}
	tracker := r.startPhase(progress.PhaseDiscovery, len(tasks), limiter)
	halts := newCutoffs()

	outcomes := dispatcher.Run(ctx, limiter, tasks, func(ctx context.Context, _ int, task crawler.PageTask) (crawler.PageResult, error) {
		if halts.beyond(task.Region, task.Page) {
			return crawler.PageResult{Task: task}, errRegionHalted
		}
		result, err := r.units.DiscoverPage(ctx, task)
		if err == nil && result.NotFound {
			halts.observe(task.Region, task.Page)
		}
		tracker.unitDone(task.Region, task.URL, len(result.Articles), err)
		return result, err
	})
	tracker.finish()

	return r.mergeDiscovery(tasks, outcomes, halts)
}

func (r *run) mergeDiscovery(
	tasks []crawler.PageTask,
	outcomes []dispatcher.Outcome[crawler.PageResult],
	halts *cutoffs,
) []crawler.ArticleTask {
	owners := make(map[string]string)
	var articles []crawler.ArticleTask

	for i, out := range outcomes {
		task := tasks[i]
		switch {
		case out.Skipped:
			r.summary.UnitsSkipped++
			continue
		case errors.Is(out.Err, errRegionHalted):
			r.logger.Debug("listing page skipped after region halt",
				zap.String("region", task.Region), zap.Int("page", task.Page))
			continue
		case out.Err != nil:
			r.summary.FailedUnits++
			r.logger.Warn("listing page failed",
				zap.String("region", task.Region),
				zap.Int("page", task.Page),
				zap.String("url", task.URL),
				zap.Error(out.Err),
			)
			continue
		}
		r.summary.PagesScanned++
		if out.Value.NotFound {
			continue
		}
		if halts.beyond(task.Region, task.Page) {
			r.logger.Debug("discarding links past the last listing page",
				zap.String("region", task.Region),
				zap.Int("page", task.Page),
				zap.Int("links", len(out.Value.Articles)),
			)
			continue
		}
		for _, article := range out.Value.Articles {
			if owner, dup := owners[article.URL]; dup {
				if owner != article.Region {
					r.logger.Warn("article listed by several regions, keeping the first",
						zap.String("url", article.URL),
						zap.String("kept_region", owner),
						zap.String("dropped_region", article.Region),
					)
				}
				continue
			}
			owners[article.URL] = article.Region
			articles = append(articles, article)
		}
	}

	r.summary.LinksDiscovered = len(articles)
	r.logger.Info("discovery merged", zap.Int("articles", len(articles)))
	return articles
}
