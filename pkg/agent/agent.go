package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zorodev/extract-agent/internal/models"
	"github.com/zorodev/extract-agent/internal/types"
	"github.com/zorodev/extract-agent/pkg/history"
	"github.com/zorodev/extract-agent/pkg/report"
)

var (
	documentExts = map[string]bool{".pdf": true, ".docx": true, ".pptx": true}
	imageExts    = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}
	audioExts    = map[string]bool{".wav": true, ".mp3": true}
)

type Config struct {
	Crawler      types.WebCrawler
	Vision       types.VisionExtractor
	Converter    types.DocumentConverter
	Transcriber  types.AudioTranscriber
	Consolidator types.TextConsolidator
	Reporter     types.Reporter // defaults to report.Nop
	History      *history.Store // optional run log

	Workers     int    // document fan-out width, default 2
	Output      string // record path, empty disables writing
	ScratchRoot string // parent for page-render scratch dirs, empty = system temp

	// OnUnit is called after each extracted unit with the completed
	// and total counts. May be called from worker goroutines.
	OnUnit func(done, total int)
}

// Agent routes one input through the matching extraction pipeline and
// produces a single Record.
type Agent struct {
	config Config
}

// NewWithConfig creates a new Agent with the given configuration.
func NewWithConfig(config Config) *Agent {
	if config.Workers < 1 {
		config.Workers = 2
	}
	if config.Reporter == nil {
		config.Reporter = report.Nop{}
	}

	return &Agent{config: config}
}

// Classify decides which pipeline handles the input. URL detection is
// a pure prefix check; everything else costs one stat. Exported so the
// CLI can announce the detected type before running.
func Classify(input string) (models.InputType, error) {
	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		return models.TypeURL, nil
	}

	info, err := os.Stat(input)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrNotFound, input, err)
	}
	if info.IsDir() {
		return models.TypeImagesDir, nil
	}

	ext := strings.ToLower(filepath.Ext(input))
	switch {
	case documentExts[ext]:
		return models.TypeDocument, nil
	case imageExts[ext]:
		return models.TypeImage, nil
	case audioExts[ext]:
		return models.TypeAudio, nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
}

// Run executes the full pipeline for input: classify, extract, write
// the record, log the run. The record is returned even when writing
// is disabled.
func (a *Agent) Run(ctx context.Context, input string) (*models.Record, error) {
	start := time.Now()

	record, err := a.run(ctx, input)
	if err == nil && a.config.Output != "" {
		if err = WriteRecord(record, a.config.Output); err == nil {
			a.config.Reporter.Success("Results written to %s", a.config.Output)
		}
	}

	a.recordRun(input, record, err, time.Since(start))

	return record, err
}

func (a *Agent) run(ctx context.Context, input string) (*models.Record, error) {
	kind, err := Classify(input)
	if err != nil {
		return nil, err
	}

	switch kind {
	case models.TypeURL:
		return a.runURL(ctx, input)
	case models.TypeImage:
		return a.runImage(ctx, input)
	case models.TypeImagesDir:
		return a.runImagesDir(ctx, input)
	case models.TypeDocument:
		return a.runDocument(ctx, input)
	case models.TypeAudio:
		return a.runAudio(ctx, input)
	}

	return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, kind)
}

func (a *Agent) runURL(ctx context.Context, pageURL string) (*models.Record, error) {
	a.config.Reporter.Info("Crawling %s", pageURL)

	crawl, err := a.config.Crawler.Crawl(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("agent: crawl %s: %w", pageURL, err)
	}

	content := crawl.FitMarkdown
	if content == "" {
		content = crawl.RawMarkdown
	}

	return &models.Record{
		Source:  pageURL,
		Type:    models.TypeURL,
		Content: content,
		Crawl:   crawl,
	}, nil
}

func (a *Agent) runImage(ctx context.Context, path string) (*models.Record, error) {
	a.config.Reporter.Info("Extracting content from %s", filepath.Base(path))

	unit, err := a.config.Vision.ExtractImage(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("agent: extract %s: %w", path, err)
	}

	return &models.Record{
		Source: path,
		Type:   models.TypeImage,
		Images: []models.ImageResult{{Image: filepath.Base(path), Result: unit}},
	}, nil
}

func (a *Agent) runImagesDir(ctx context.Context, dir string) (*models.Record, error) {
	paths, err := listImages(dir)
	if err != nil {
		return nil, fmt.Errorf("agent: scan %s: %w", dir, err)
	}

	a.config.Reporter.Info("Found %d image(s) in %s", len(paths), dir)

	// Records carry the base name only; the full path stays local to
	// the extractor call.
	images := make([]models.ImageResult, 0, len(paths))
	for i, path := range paths {
		unit, err := a.config.Vision.ExtractImage(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("agent: extract %s: %w", path, err)
		}
		images = append(images, models.ImageResult{Image: filepath.Base(path), Result: unit})
		if a.config.OnUnit != nil {
			a.config.OnUnit(i+1, len(paths))
		}
	}

	return &models.Record{
		Source: dir,
		Type:   models.TypeImagesDir,
		Images: images,
	}, nil
}

func (a *Agent) runAudio(ctx context.Context, path string) (*models.Record, error) {
	a.config.Reporter.Info("Transcribing %s", filepath.Base(path))

	transcript, err := a.config.Transcriber.Transcribe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("agent: transcribe %s: %w", path, err)
	}

	return &models.Record{
		Source:     path,
		Type:       models.TypeAudio,
		Transcript: transcript,
	}, nil
}

// listImages walks dir recursively and returns image files in lexical
// path order.
func listImages(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if imageExts[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(paths)
	return paths, nil
}

// WriteRecord serializes the record with 2-space indentation and
// writes it in a single call.
func WriteRecord(record *models.Record, path string) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("agent: marshal record: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("agent: write %s: %w", path, err)
	}
	return nil
}

// recordRun logs the run to the history store when one is configured.
// History failures never fail the run.
func (a *Agent) recordRun(input string, record *models.Record, runErr error, elapsed time.Duration) {
	if a.config.History == nil {
		return
	}

	run := history.Run{
		Source:     input,
		Status:     history.StatusOK,
		OutputPath: a.config.Output,
		Duration:   elapsed,
	}
	if record != nil {
		run.InputType = string(record.Type)
		run.Units = unitCount(record)
	}
	if runErr != nil {
		run.Status = history.StatusFailed
		run.Error = runErr.Error()
		run.OutputPath = ""
	}

	if err := a.config.History.Record(run); err != nil {
		a.config.Reporter.Warning("Run not recorded in history: %v", err)
	}
}

func unitCount(record *models.Record) int {
	switch record.Type {
	case models.TypeImagesDir:
		return len(record.Images)
	case models.TypeDocument:
		return len(record.Pages)
	default:
		return 1
	}
}
