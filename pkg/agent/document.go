package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/zorodev/extract-agent/internal/models"
	"github.com/zorodev/extract-agent/pkg/convert"
)

// runDocument renders the document to page images in a scratch
// directory, fans vision extraction out over a worker pool, folds the
// results, and consults the local LLM when one is reachable. The
// scratch directory is removed on every exit path.
func (a *Agent) runDocument(ctx context.Context, docPath string) (*models.Record, error) {
	if err := a.config.Converter.Available(docPath); err != nil {
		return nil, err
	}

	scratch, err := os.MkdirTemp(a.config.ScratchRoot, "extract-agent-")
	if err != nil {
		return nil, fmt.Errorf("agent: scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	a.config.Reporter.Info("Converting %s to page images", filepath.Base(docPath))
	if err := a.config.Converter.Convert(ctx, docPath, scratch); err != nil {
		return nil, fmt.Errorf("agent: convert %s: %w", docPath, err)
	}

	pageDir, err := findPageDir(scratch, stem(docPath))
	if err != nil {
		return nil, err
	}

	pages, err := convert.ListPages(pageDir)
	if err != nil {
		return nil, fmt.Errorf("agent: list pages: %w", err)
	}

	a.config.Reporter.Info("Extracting %d page(s) with %d worker(s)", len(pages), a.config.Workers)
	units := a.extractPages(ctx, pages)

	agg := models.NewAggregate(units)
	summary := a.consolidate(ctx, agg)

	results := make([]models.PageResult, len(pages))
	for i, page := range pages {
		results[i] = models.PageResult{Page: filepath.Base(page), Result: units[i]}
	}

	return &models.Record{
		Source:     docPath,
		Type:       models.TypeDocument,
		Pages:      results,
		Aggregated: agg,
		LLMSummary: summary,
	}, nil
}

// findPageDir expects the converter's scratch/<stem> layout and falls
// back to a one-level-deep search before giving up.
func findPageDir(scratch, stem string) (string, error) {
	direct := filepath.Join(scratch, stem)
	if info, err := os.Stat(direct); err == nil && info.IsDir() {
		return direct, nil
	}

	matches, _ := filepath.Glob(filepath.Join(scratch, "*", stem))
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.IsDir() {
			return m, nil
		}
	}

	return "", fmt.Errorf("%w: no %q under %s", ErrPagesMissing, stem, scratch)
}

// extractPages runs vision extraction over the pages with a bounded
// worker pool. Results land at their page index, so output order never
// depends on completion order. A page whose extraction fails becomes a
// FailedUnit at its index and the run continues.
func (a *Agent) extractPages(ctx context.Context, pages []string) []models.UnitResult {
	units := make([]models.UnitResult, len(pages))
	jobs := make(chan int)

	var done atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < a.config.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				unit, err := a.config.Vision.ExtractImage(ctx, pages[i])
				if err != nil {
					a.config.Reporter.Error("Page %d failed: %v", i+1, err)
					unit = models.FailedUnit(err)
				}
				units[i] = unit
				if a.config.OnUnit != nil {
					a.config.OnUnit(int(done.Add(1)), len(pages))
				}
			}
		}()
	}

	for i := range pages {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return units
}

// consolidate runs the summary step when the backend answers the
// probe. Consolidation never fails a run: unreachable or erroring
// backends just leave the summary out.
func (a *Agent) consolidate(ctx context.Context, agg *models.Aggregate) map[string]any {
	if a.config.Consolidator == nil {
		return nil
	}

	if !a.config.Consolidator.Reachable(ctx) {
		a.config.Reporter.Warning("LLM backend not reachable, skipping consolidation")
		return nil
	}

	a.config.Reporter.Info("Consolidating extraction with local LLM")
	summary, err := a.config.Consolidator.Consolidate(ctx, agg)
	if err != nil {
		a.config.Reporter.Warning("Consolidation failed: %v", err)
		return nil
	}

	return summary
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
