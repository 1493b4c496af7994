package types

import (
	"context"

	"github.com/zorodev/extract-agent/internal/models"
)

// Collaborator interfaces. The orchestrator depends on these only;
// production implementations live under pkg/ and are wired in cmd.

type VisionExtractor interface {
	ExtractImage(ctx context.Context, path string) (models.UnitResult, error)
}

type DocumentConverter interface {
	// Available reports whether the rendering toolchain for the given
	// document can run. The probe result is cached at construction.
	Available(path string) error
	// Convert renders the document into outDir/<stem>/page_NNN.png.
	Convert(ctx context.Context, docPath, outDir string) error
}

type AudioTranscriber interface {
	Transcribe(ctx context.Context, path string) (*models.Transcript, error)
}

type WebCrawler interface {
	Crawl(ctx context.Context, pageURL string) (*models.CrawlResult, error)
}

type TextConsolidator interface {
	Reachable(ctx context.Context) bool
	// Consolidate summarizes an aggregate into a JSON object. A
	// non-JSON model reply is wrapped, not an error; errors mean the
	// backend call itself failed.
	Consolidate(ctx context.Context, agg *models.Aggregate) (map[string]any, error)
}

// Reporter receives run progress. Implementations must be safe for
// concurrent use; the document fan-out reports from worker goroutines.
type Reporter interface {
	Info(format string, args ...any)
	Success(format string, args ...any)
	Warning(format string, args ...any)
	Error(format string, args ...any)
}
