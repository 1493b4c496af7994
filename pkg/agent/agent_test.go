package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zorodev/extract-agent/internal/models"
	"github.com/zorodev/extract-agent/pkg/history"
)

type fakeCrawler struct {
	result *models.CrawlResult
	err    error
}

func (f *fakeCrawler) Crawl(ctx context.Context, pageURL string) (*models.CrawlResult, error) {
	return f.result, f.err
}

// fakeVision answers with the page's base name as OCR text, so order
// assertions read directly off the combined text.
type fakeVision struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error // base name → error
}

func (f *fakeVision) ExtractImage(ctx context.Context, path string) (models.UnitResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, path)
	f.mu.Unlock()

	if err, ok := f.fail[filepath.Base(path)]; ok {
		return models.UnitResult{}, err
	}
	return models.UnitResult{
		OCRText:     models.Text(filepath.Base(path)),
		Description: models.Text("a page"),
		TableData:   models.None(),
		Flowchart:   models.None(),
	}, nil
}

type fakeTranscriber struct {
	transcript *models.Transcript
	err        error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, path string) (*models.Transcript, error) {
	return f.transcript, f.err
}

// fakeConverter writes page files the way the real converter lays
// them out. pageNames overrides the default page_NNN.png naming;
// noOutput simulates a converter that claims success but renders
// nothing; nested renders one directory deeper than expected.
type fakeConverter struct {
	availableErr error
	convertErr   error
	pages        int
	pageNames    []string
	noOutput     bool
	nested       bool
}

func (f *fakeConverter) Available(path string) error { return f.availableErr }

func (f *fakeConverter) Convert(ctx context.Context, docPath, outDir string) error {
	if f.convertErr != nil {
		return f.convertErr
	}
	if f.noOutput {
		return nil
	}

	dir := filepath.Join(outDir, stem(docPath))
	if f.nested {
		dir = filepath.Join(outDir, "rendered", stem(docPath))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	names := f.pageNames
	for i := 1; len(names) < f.pages; i++ {
		names = append(names, fmt.Sprintf("page_%03d.png", i))
	}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("png"), 0644); err != nil {
			return err
		}
	}
	return nil
}

type fakeConsolidator struct {
	reachable bool
	summary   map[string]any
	err       error

	probed bool
	gotAgg *models.Aggregate
}

func (f *fakeConsolidator) Reachable(ctx context.Context) bool {
	f.probed = true
	return f.reachable
}

func (f *fakeConsolidator) Consolidate(ctx context.Context, agg *models.Aggregate) (map[string]any, error) {
	f.gotAgg = agg
	return f.summary, f.err
}

type recordingReporter struct {
	mu       sync.Mutex
	warnings []string
	errs     []string
}

func (r *recordingReporter) Info(format string, args ...any)    {}
func (r *recordingReporter) Success(format string, args ...any) {}

func (r *recordingReporter) Warning(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, fmt.Sprintf(format, args...))
}

func (r *recordingReporter) Error(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, fmt.Sprintf(format, args...))
}

func touchFile(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	return path
}

func TestNewWithConfigDefaults(t *testing.T) {
	agent := NewWithConfig(Config{})
	assert.Equal(t, 2, agent.config.Workers)
	assert.NotNil(t, agent.config.Reporter)

	// Worker counts below one clamp, not just zero.
	agent = NewWithConfig(Config{Workers: -3})
	assert.Equal(t, 2, agent.config.Workers)
}

func TestClassify(t *testing.T) {
	tmp := t.TempDir()
	touchFile(t, filepath.Join(tmp, "report.pdf"))
	touchFile(t, filepath.Join(tmp, "SLIDES.PPTX"))
	touchFile(t, filepath.Join(tmp, "photo.JPG"))
	touchFile(t, filepath.Join(tmp, "clip.wav"))
	touchFile(t, filepath.Join(tmp, "song.mp3"))
	touchFile(t, filepath.Join(tmp, "notes.txt"))
	require.NoError(t, os.MkdirAll(filepath.Join(tmp, "shots"), 0755))

	tests := []struct {
		name    string
		input   string
		want    models.InputType
		wantErr error
	}{
		{name: "http url", input: "http://example.com/page", want: models.TypeURL},
		{name: "https url", input: "https://example.com/page", want: models.TypeURL},
		{name: "missing path", input: filepath.Join(tmp, "ghost.pdf"), wantErr: ErrNotFound},
		{name: "directory", input: filepath.Join(tmp, "shots"), want: models.TypeImagesDir},
		{name: "pdf", input: filepath.Join(tmp, "report.pdf"), want: models.TypeDocument},
		{name: "pptx uppercase", input: filepath.Join(tmp, "SLIDES.PPTX"), want: models.TypeDocument},
		{name: "jpg uppercase", input: filepath.Join(tmp, "photo.JPG"), want: models.TypeImage},
		{name: "wav", input: filepath.Join(tmp, "clip.wav"), want: models.TypeAudio},
		{name: "mp3", input: filepath.Join(tmp, "song.mp3"), want: models.TypeAudio},
		{name: "unsupported extension", input: filepath.Join(tmp, "notes.txt"), wantErr: ErrUnsupportedType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunURL(t *testing.T) {
	crawl := &models.CrawlResult{
		RawMarkdown: "# Raw page",
		FitMarkdown: "# Fit page",
		RawLength:   10,
		FitLength:   10,
	}
	agent := NewWithConfig(Config{Crawler: &fakeCrawler{result: crawl}})

	record, err := agent.Run(context.Background(), "https://example.com/docs")
	require.NoError(t, err)

	assert.Equal(t, models.TypeURL, record.Type)
	assert.Equal(t, "https://example.com/docs", record.Source)
	assert.Equal(t, "# Fit page", record.Content)
	assert.Equal(t, crawl, record.Crawl)
}

func TestRunURLFallsBackToRaw(t *testing.T) {
	crawl := &models.CrawlResult{RawMarkdown: "# Raw only", FitMarkdown: ""}
	agent := NewWithConfig(Config{Crawler: &fakeCrawler{result: crawl}})

	record, err := agent.Run(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "# Raw only", record.Content)
}

func TestRunURLCrawlerError(t *testing.T) {
	output := filepath.Join(t.TempDir(), "out.json")
	agent := NewWithConfig(Config{
		Crawler: &fakeCrawler{err: errors.New("connection refused")},
		Output:  output,
	})

	record, err := agent.Run(context.Background(), "https://example.com")
	require.Error(t, err)
	assert.Nil(t, record)
	assert.Contains(t, err.Error(), "connection refused")
	// A failed run writes nothing.
	assert.NoFileExists(t, output)
}

func TestRunImage(t *testing.T) {
	path := touchFile(t, filepath.Join(t.TempDir(), "chart.png"))
	agent := NewWithConfig(Config{Vision: &fakeVision{}})

	record, err := agent.Run(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, models.TypeImage, record.Type)
	require.Len(t, record.Images, 1)
	assert.Equal(t, "chart.png", record.Images[0].Image, "records key images by base name, not path")
	assert.Equal(t, "chart.png", record.Images[0].Result.OCRText.Value())
}

func TestRunImageError(t *testing.T) {
	path := touchFile(t, filepath.Join(t.TempDir(), "chart.png"))
	vision := &fakeVision{fail: map[string]error{"chart.png": errors.New("model offline")}}
	agent := NewWithConfig(Config{Vision: vision})

	_, err := agent.Run(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model offline")
}

func TestRunImagesDir(t *testing.T) {
	dir := t.TempDir()
	touchFile(t, filepath.Join(dir, "b.png"))
	touchFile(t, filepath.Join(dir, "sub", "a.jpg"))
	touchFile(t, filepath.Join(dir, "sub", "c.jpeg"))
	touchFile(t, filepath.Join(dir, "sub", "skip.txt"))
	touchFile(t, filepath.Join(dir, "zz", "deep.PNG"))

	agent := NewWithConfig(Config{Vision: &fakeVision{}})

	record, err := agent.Run(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, models.TypeImagesDir, record.Type)
	require.Len(t, record.Images, 4)

	// Entries carry base names but keep walk order: b.png enumerates
	// before sub/a.jpg even though the bare names sort the other way.
	assert.Equal(t, "b.png", record.Images[0].Image)
	assert.Equal(t, "a.jpg", record.Images[1].Image)
	assert.Equal(t, "c.jpeg", record.Images[2].Image)
	assert.Equal(t, "deep.PNG", record.Images[3].Image)

	for _, img := range record.Images {
		assert.NotContains(t, img.Image, string(filepath.Separator))
	}
}

func TestRunImagesDirEmpty(t *testing.T) {
	agent := NewWithConfig(Config{Vision: &fakeVision{}})

	record, err := agent.Run(context.Background(), t.TempDir())
	require.NoError(t, err)
	require.NotNil(t, record.Images)
	assert.Empty(t, record.Images)

	data, err := json.Marshal(record)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"images":[]`)
}

func TestRunImagesDirPropagatesError(t *testing.T) {
	dir := t.TempDir()
	touchFile(t, filepath.Join(dir, "a.png"))
	touchFile(t, filepath.Join(dir, "b.png"))
	vision := &fakeVision{fail: map[string]error{"b.png": errors.New("model offline")}}

	agent := NewWithConfig(Config{Vision: vision})

	_, err := agent.Run(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b.png")
}

func TestRunAudio(t *testing.T) {
	path := touchFile(t, filepath.Join(t.TempDir(), "talk.wav"))
	transcript := &models.Transcript{Language: "en", Duration: 4.2, Text: "hello"}
	agent := NewWithConfig(Config{Transcriber: &fakeTranscriber{transcript: transcript}})

	record, err := agent.Run(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, models.TypeAudio, record.Type)
	assert.Equal(t, transcript, record.Transcript)
}

func TestRunAudioError(t *testing.T) {
	path := touchFile(t, filepath.Join(t.TempDir(), "talk.mp3"))
	agent := NewWithConfig(Config{Transcriber: &fakeTranscriber{err: errors.New("whisper down")}})

	_, err := agent.Run(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "whisper down")
}

func TestRunDocument(t *testing.T) {
	doc := touchFile(t, filepath.Join(t.TempDir(), "report.pdf"))
	consolidator := &fakeConsolidator{reachable: true, summary: map[string]any{"summary": "three pages"}}

	agent := NewWithConfig(Config{
		Vision:       &fakeVision{},
		Converter:    &fakeConverter{pages: 3},
		Consolidator: consolidator,
		Workers:      2,
	})

	record, err := agent.Run(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, models.TypeDocument, record.Type)
	require.Len(t, record.Pages, 3)
	assert.Equal(t, "page_001.png", record.Pages[0].Page)
	assert.Equal(t, "page_002.png", record.Pages[1].Page)
	assert.Equal(t, "page_003.png", record.Pages[2].Page)

	require.NotNil(t, record.Aggregated)
	require.NotNil(t, record.Aggregated.CombinedText)
	assert.Equal(t, "page_001.png\n\npage_002.png\n\npage_003.png", *record.Aggregated.CombinedText)

	assert.Equal(t, map[string]any{"summary": "three pages"}, record.LLMSummary)
	require.NotNil(t, consolidator.gotAgg)
	assert.Len(t, consolidator.gotAgg.Pages, 3)
}

func TestRunDocumentNumericPageOrder(t *testing.T) {
	doc := touchFile(t, filepath.Join(t.TempDir(), "report.pdf"))
	converter := &fakeConverter{pageNames: []string{"page_10.png", "page_2.png", "page_1.png"}}

	agent := NewWithConfig(Config{
		Vision:    &fakeVision{},
		Converter: converter,
	})

	record, err := agent.Run(context.Background(), doc)
	require.NoError(t, err)

	require.Len(t, record.Pages, 3)
	assert.Equal(t, "page_1.png", record.Pages[0].Page)
	assert.Equal(t, "page_2.png", record.Pages[1].Page)
	assert.Equal(t, "page_10.png", record.Pages[2].Page)
	assert.Equal(t, "page_1.png\n\npage_2.png\n\npage_10.png", *record.Aggregated.CombinedText)
}

func TestRunDocumentPerPageRecovery(t *testing.T) {
	doc := touchFile(t, filepath.Join(t.TempDir(), "report.pdf"))
	vision := &fakeVision{fail: map[string]error{"page_002.png": errors.New("vision exploded")}}
	reporter := &recordingReporter{}

	agent := NewWithConfig(Config{
		Vision:    vision,
		Converter: &fakeConverter{pages: 3},
		Reporter:  reporter,
	})

	record, err := agent.Run(context.Background(), doc)
	require.NoError(t, err)

	require.Len(t, record.Pages, 3)
	assert.False(t, record.Pages[0].Result.Failed())
	assert.True(t, record.Pages[1].Result.Failed())
	assert.False(t, record.Pages[2].Result.Failed())
	assert.Equal(t, "vision exploded", record.Pages[1].Result.OCRText.Err())

	// Failed pages never contribute to the folds.
	assert.Equal(t, "page_001.png\n\npage_003.png", *record.Aggregated.CombinedText)

	require.NotEmpty(t, reporter.errs)
	assert.Contains(t, reporter.errs[0], "vision exploded")
}

func TestRunDocumentScratchCleanup(t *testing.T) {
	scratch := t.TempDir()
	doc := touchFile(t, filepath.Join(t.TempDir(), "report.pdf"))

	agent := NewWithConfig(Config{
		Vision:      &fakeVision{},
		Converter:   &fakeConverter{pages: 2},
		ScratchRoot: scratch,
	})

	_, err := agent.Run(context.Background(), doc)
	require.NoError(t, err)

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunDocumentScratchCleanupOnFailure(t *testing.T) {
	scratch := t.TempDir()
	doc := touchFile(t, filepath.Join(t.TempDir(), "report.pdf"))

	agent := NewWithConfig(Config{
		Vision:      &fakeVision{},
		Converter:   &fakeConverter{convertErr: errors.New("render blew up")},
		ScratchRoot: scratch,
	})

	_, err := agent.Run(context.Background(), doc)
	require.Error(t, err)

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunDocumentRendererMissing(t *testing.T) {
	doc := touchFile(t, filepath.Join(t.TempDir(), "report.docx"))
	missing := errors.New("renderer not installed")

	agent := NewWithConfig(Config{
		Vision:    &fakeVision{},
		Converter: &fakeConverter{availableErr: missing},
	})

	_, err := agent.Run(context.Background(), doc)
	assert.ErrorIs(t, err, missing)
}

func TestRunDocumentPagesMissing(t *testing.T) {
	doc := touchFile(t, filepath.Join(t.TempDir(), "report.pdf"))

	agent := NewWithConfig(Config{
		Vision:    &fakeVision{},
		Converter: &fakeConverter{noOutput: true},
	})

	_, err := agent.Run(context.Background(), doc)
	assert.ErrorIs(t, err, ErrPagesMissing)
}

func TestRunDocumentNestedPageDir(t *testing.T) {
	doc := touchFile(t, filepath.Join(t.TempDir(), "report.pdf"))

	agent := NewWithConfig(Config{
		Vision:    &fakeVision{},
		Converter: &fakeConverter{pages: 2, nested: true},
	})

	record, err := agent.Run(context.Background(), doc)
	require.NoError(t, err)
	assert.Len(t, record.Pages, 2)
}

func TestRunDocumentZeroPages(t *testing.T) {
	doc := touchFile(t, filepath.Join(t.TempDir(), "report.pdf"))
	consolidator := &fakeConsolidator{reachable: false}

	agent := NewWithConfig(Config{
		Vision:       &fakeVision{},
		Converter:    &fakeConverter{pages: 0},
		Consolidator: consolidator,
	})

	record, err := agent.Run(context.Background(), doc)
	require.NoError(t, err)

	assert.Empty(t, record.Pages)
	assert.Nil(t, record.Aggregated.CombinedText)
	// The gate still runs for an empty document.
	assert.True(t, consolidator.probed)
}

func TestRunDocumentConsolidationUnreachable(t *testing.T) {
	doc := touchFile(t, filepath.Join(t.TempDir(), "report.pdf"))
	reporter := &recordingReporter{}

	agent := NewWithConfig(Config{
		Vision:       &fakeVision{},
		Converter:    &fakeConverter{pages: 1},
		Consolidator: &fakeConsolidator{reachable: false, summary: map[string]any{"summary": "unused"}},
		Reporter:     reporter,
	})

	record, err := agent.Run(context.Background(), doc)
	require.NoError(t, err)
	assert.Nil(t, record.LLMSummary)

	data, err := json.Marshal(record)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "llm_summary")

	require.NotEmpty(t, reporter.warnings)
	assert.Contains(t, reporter.warnings[0], "not reachable")
}

func TestRunDocumentConsolidationBackendError(t *testing.T) {
	doc := touchFile(t, filepath.Join(t.TempDir(), "report.pdf"))
	reporter := &recordingReporter{}

	agent := NewWithConfig(Config{
		Vision:       &fakeVision{},
		Converter:    &fakeConverter{pages: 1},
		Consolidator: &fakeConsolidator{reachable: true, err: errors.New("model crashed")},
		Reporter:     reporter,
	})

	record, err := agent.Run(context.Background(), doc)
	require.NoError(t, err)
	assert.Nil(t, record.LLMSummary)
	require.NotEmpty(t, reporter.warnings)
	assert.Contains(t, reporter.warnings[0], "model crashed")
}

func TestRunDocumentEmptySummaryOmitted(t *testing.T) {
	doc := touchFile(t, filepath.Join(t.TempDir(), "report.pdf"))

	agent := NewWithConfig(Config{
		Vision:       &fakeVision{},
		Converter:    &fakeConverter{pages: 1},
		Consolidator: &fakeConsolidator{reachable: true, summary: map[string]any{}},
	})

	record, err := agent.Run(context.Background(), doc)
	require.NoError(t, err)

	data, err := json.Marshal(record)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "llm_summary")
}

func TestRunWritesRecord(t *testing.T) {
	output := filepath.Join(t.TempDir(), "out.json")
	crawl := &models.CrawlResult{RawMarkdown: "# Page", FitMarkdown: "# Page", RawLength: 6, FitLength: 6}

	agent := NewWithConfig(Config{
		Crawler: &fakeCrawler{result: crawl},
		Output:  output,
	})

	_, err := agent.Run(context.Background(), "https://example.com")
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
	// 2-space indentation.
	assert.Contains(t, string(data), "\n  \"source\"")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "https://example.com", decoded["source"])
	assert.Equal(t, "url", decoded["type"])
	assert.Equal(t, "# Page", decoded["content"])
	assert.Contains(t, decoded, "crawl")
}

func TestRunRecordsHistory(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	output := filepath.Join(t.TempDir(), "out.json")
	crawl := &models.CrawlResult{RawMarkdown: "# Page", FitMarkdown: "# Page"}

	agent := NewWithConfig(Config{
		Crawler: &fakeCrawler{result: crawl},
		History: store,
		Output:  output,
	})

	_, err = agent.Run(context.Background(), "https://example.com")
	require.NoError(t, err)

	_, err = agent.Run(context.Background(), filepath.Join(t.TempDir(), "ghost.pdf"))
	require.Error(t, err)

	runs, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, history.StatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "not found")
	assert.Empty(t, runs[0].OutputPath)

	assert.Equal(t, history.StatusOK, runs[1].Status)
	assert.Equal(t, "url", runs[1].InputType)
	assert.Equal(t, output, runs[1].OutputPath)
	assert.Equal(t, 1, runs[1].Units)
}

func TestRunHistoryFailureIsSoft(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reporter := &recordingReporter{}
	crawl := &models.CrawlResult{RawMarkdown: "# Page"}

	agent := NewWithConfig(Config{
		Crawler:  &fakeCrawler{result: crawl},
		History:  store,
		Reporter: reporter,
	})

	record, err := agent.Run(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.NotNil(t, record)
	require.NotEmpty(t, reporter.warnings)
	assert.Contains(t, reporter.warnings[0], "history")
}

func TestRunOnUnitProgress(t *testing.T) {
	doc := touchFile(t, filepath.Join(t.TempDir(), "report.pdf"))

	var mu sync.Mutex
	var dones []int
	totals := map[int]bool{}

	agent := NewWithConfig(Config{
		Vision:    &fakeVision{},
		Converter: &fakeConverter{pages: 5},
		Workers:   2,
		OnUnit: func(done, total int) {
			mu.Lock()
			defer mu.Unlock()
			dones = append(dones, done)
			totals[total] = true
		},
	})

	_, err := agent.Run(context.Background(), doc)
	require.NoError(t, err)

	assert.Len(t, dones, 5)
	highest := 0
	for _, d := range dones {
		if d > highest {
			highest = d
		}
	}
	assert.Equal(t, 5, highest)
	assert.Equal(t, map[int]bool{5: true}, totals)
}
