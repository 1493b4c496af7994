package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/zorodev/extract-agent/internal/models"
	"github.com/zorodev/extract-agent/internal/types"
	"github.com/zorodev/extract-agent/pkg/agent"
	cfgPkg "github.com/zorodev/extract-agent/pkg/config"
	"github.com/zorodev/extract-agent/pkg/consolidate"
	"github.com/zorodev/extract-agent/pkg/convert"
	"github.com/zorodev/extract-agent/pkg/crawler"
	"github.com/zorodev/extract-agent/pkg/history"
	"github.com/zorodev/extract-agent/pkg/report"
	"github.com/zorodev/extract-agent/pkg/transcribe"
	"github.com/zorodev/extract-agent/pkg/vision"
)

type options struct {
	input       string
	showHistory bool
	quiet       bool
	cfg         *cfgPkg.Config
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		color.Red("✗ %v", err)
		os.Exit(1)
	}

	if err := run(opts); err != nil {
		color.Red("\n✗ %v", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	var configPath string

	var (
		input       = flag.String("input", "", "URL, image, image directory, document or audio file to extract")
		output      = flag.String("output", "", "Path of the JSON record")
		ollamaURL   = flag.String("ollama-url", "", "Ollama server URL")
		visionModel = flag.String("vision-model", "", "Multimodal model for image extraction")
		textModel   = flag.String("text-model", "", "Text model for consolidation")
		whisperURL  = flag.String("whisper-url", "", "Whisper server URL")
		filter      = flag.String("filter", "", "Crawler content filter: pruning or bm25")
		query       = flag.String("query", "", "BM25 relevance query")
		workers     = flag.Int("workers", 0, "Page extraction workers")
		rateLimit   = flag.Float64("rate-limit", 0, "Vision requests per second")
		historyDB   = flag.String("history-db", "", "Path of the run history database")
	)
	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.BoolVar(&opts.showHistory, "history", false, "Print recent runs and exit")
	flag.BoolVar(&opts.quiet, "quiet", false, "Suppress progress output")
	flag.Parse()

	cfg, err := cfgPkg.LoadConfig(configPath)
	if err != nil {
		return opts, fmt.Errorf("failed to load config: %v", err)
	}

	// Flags that were set on the command line win over the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "output":
			cfg.Output = *output
		case "ollama-url":
			cfg.Ollama.BaseURL = *ollamaURL
		case "vision-model":
			cfg.Ollama.VisionModel = *visionModel
		case "text-model":
			cfg.Ollama.TextModel = *textModel
		case "whisper-url":
			cfg.Whisper.BaseURL = *whisperURL
		case "filter":
			cfg.Crawler.Filter = *filter
		case "query":
			cfg.Crawler.Query = *query
		case "workers":
			cfg.Workers = *workers
		case "rate-limit":
			cfg.Ollama.RateLimit = *rateLimit
		case "history-db":
			cfg.HistoryDB = *historyDB
		}
	})

	if validationErrors := cfg.Validate(); len(validationErrors) > 0 {
		for _, ve := range validationErrors {
			color.Red("✗ %s: %s", ve.Field, ve.Message)
		}
		return opts, errors.New("invalid configuration")
	}

	opts.input = *input
	if opts.input == "" && flag.NArg() > 0 {
		opts.input = flag.Arg(0)
	}
	opts.cfg = cfg

	return opts, nil
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("pages"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// progressSink feeds the page counter from the fan-out workers.
type progressSink struct {
	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

func (p *progressSink) observe(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil {
		p.bar = getProgressBar(total, "📄 Extracting pages...")
	}
	p.bar.Set(done)
}

func (p *progressSink) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		p.bar.Finish()
		fmt.Println()
	}
}

func run(opts options) error {
	cfg := opts.cfg

	if opts.showHistory {
		return printHistory(cfg)
	}

	if opts.input == "" {
		return errors.New("no input given (pass -input or a positional argument)")
	}

	kind, err := agent.Classify(opts.input)
	if err != nil {
		return err
	}

	color.Blue("\nStarting extraction pipeline for %s\n", opts.input)
	color.Cyan("Detected input type: %s\n", kind)

	crawlerClient, err := crawler.NewWithConfig(crawler.Config{
		Filter:        cfg.Crawler.Filter,
		Threshold:     cfg.Crawler.Threshold,
		MinWords:      cfg.Crawler.MinWords,
		Query:         cfg.Crawler.Query,
		BM25Threshold: cfg.Crawler.BM25Threshold,
		Timeout:       time.Duration(cfg.Crawler.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize crawler: %v", err)
	}

	visionClient, err := vision.NewWithConfig(vision.Config{
		Model:     cfg.Ollama.VisionModel,
		BaseURL:   cfg.Ollama.BaseURL,
		RateLimit: cfg.Ollama.RateLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize vision extractor: %v", err)
	}

	consolidator, err := consolidate.NewWithConfig(consolidate.Config{
		Model:       cfg.Ollama.TextModel,
		BaseURL:     cfg.Ollama.BaseURL,
		Temperature: cfg.Ollama.Temperature,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize consolidator: %v", err)
	}

	converter := convert.NewWithConfig(convert.Config{
		DPI:     cfg.Convert.DPI,
		Timeout: time.Duration(cfg.Convert.TimeoutSeconds) * time.Second,
	})

	transcriber := transcribe.NewWithConfig(transcribe.Config{
		BaseURL:  cfg.Whisper.BaseURL,
		Model:    cfg.Whisper.Model,
		Language: cfg.Whisper.Language,
	})

	var store *history.Store
	if cfg.HistoryDB != "" {
		store, err = history.Open(cfg.HistoryDB)
		if err != nil {
			color.Yellow("⚠ run history disabled: %v", err)
			store = nil
		} else {
			defer store.Close()
		}
	}

	var reporter types.Reporter = report.NewConsole(os.Stdout)
	if opts.quiet {
		reporter = report.Nop{}
	}

	progress := &progressSink{}
	var onUnit func(done, total int)
	if !opts.quiet && (kind == models.TypeDocument || kind == models.TypeImagesDir) {
		onUnit = progress.observe
	}

	orchestrator := agent.NewWithConfig(agent.Config{
		Crawler:      crawlerClient,
		Vision:       visionClient,
		Converter:    converter,
		Transcriber:  transcriber,
		Consolidator: consolidator,
		Reporter:     reporter,
		History:      store,
		Workers:      cfg.Workers,
		Output:       cfg.Output,
		OnUnit:       onUnit,
	})

	start := time.Now()
	record, err := orchestrator.Run(context.Background(), opts.input)
	progress.finish()
	if err != nil {
		return err
	}

	printSummary(record, time.Since(start))
	return nil
}

func printSummary(record *models.Record, elapsed time.Duration) {
	switch record.Type {
	case models.TypeURL:
		color.Green("\n✓ Crawled %s: %d chars raw, %d chars fit",
			record.Source, record.Crawl.RawLength, record.Crawl.FitLength)
	case models.TypeImage, models.TypeImagesDir:
		color.Green("\n✓ Extracted %d image(s)", len(record.Images))
	case models.TypeDocument:
		summarized := ""
		if len(record.LLMSummary) > 0 {
			summarized = ", consolidated"
		}
		color.Green("\n✓ Extracted %d page(s)%s", len(record.Pages), summarized)
	case models.TypeAudio:
		color.Green("\n✓ Transcribed %.1fs of audio (%s)",
			record.Transcript.Duration, record.Transcript.Language)
	}
	color.Green("✓ Done in %s\n", elapsed.Round(time.Millisecond))
}

func printHistory(cfg *cfgPkg.Config) error {
	if cfg.HistoryDB == "" {
		return errors.New("no history database configured (set history_db or -history-db)")
	}

	store, err := history.Open(cfg.HistoryDB)
	if err != nil {
		return fmt.Errorf("failed to open history: %v", err)
	}
	defer store.Close()

	runs, err := store.Recent(20)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		color.Cyan("No runs recorded yet")
		return nil
	}

	for _, r := range runs {
		status := color.GreenString("ok    ")
		if r.Status != history.StatusOK {
			status = color.RedString("failed")
		}
		fmt.Printf("%s  %s  %-10s %s (%d units, %s)\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			status,
			r.InputType,
			r.Source,
			r.Units,
			r.Duration.Round(time.Millisecond))
		if r.Error != "" {
			color.Red("           %s", r.Error)
		}
	}

	return nil
}
