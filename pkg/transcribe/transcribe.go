package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pemistahl/lingua-go"

	"github.com/zorodev/extract-agent/internal/models"
)

type Config struct {
	BaseURL  string        // default http://localhost:8000
	Model    string        // default whisper-1
	Language string        // forced language code, empty = server autodetect
	Timeout  time.Duration // default 5m
}

// Transcriber sends audio to an OpenAI-compatible transcription
// endpoint and reshapes the verbose response into a Transcript. When
// the server omits the language, it is detected from the transcript
// text instead.
type Transcriber struct {
	config Config
	client *http.Client

	detectorOnce sync.Once
	detector     lingua.LanguageDetector
}

// NewWithConfig creates a new Transcriber with the given configuration.
func NewWithConfig(config Config) *Transcriber {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8000" // Default faster-whisper server
	}
	if config.Model == "" {
		config.Model = "whisper-1"
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Minute
	}

	return &Transcriber{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

type verboseResponse struct {
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Text     string  `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (t *Transcriber) Transcribe(ctx context.Context, audioPath string) (*models.Transcript, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("transcribe: open %s: %w", audioPath, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("transcribe: build request: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("transcribe: read %s: %w", audioPath, err)
	}
	w.WriteField("model", t.config.Model)
	w.WriteField("response_format", "verbose_json")
	if t.config.Language != "" {
		w.WriteField("language", t.config.Language)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("transcribe: build request: %w", err)
	}

	url := strings.TrimRight(t.config.BaseURL, "/") + "/v1/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("transcribe: build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcribe: whisper server unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("transcribe: whisper server returned %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var vr verboseResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("transcribe: decode response: %w", err)
	}

	transcript := &models.Transcript{
		Duration: vr.Duration,
		Segments: make([]models.Segment, 0, len(vr.Segments)),
	}

	var texts []string
	for _, s := range vr.Segments {
		text := strings.TrimSpace(s.Text)
		transcript.Segments = append(transcript.Segments, models.Segment{
			Start: s.Start,
			End:   s.End,
			Text:  text,
		})
		texts = append(texts, text)
	}
	if len(texts) > 0 {
		transcript.Text = strings.Join(texts, " ")
	} else {
		transcript.Text = strings.TrimSpace(vr.Text)
	}

	transcript.Language = strings.ToLower(strings.TrimSpace(vr.Language))
	if transcript.Language == "" {
		transcript.Language = t.languageOf(transcript.Text)
	}

	return transcript, nil
}

// languageOf detects the ISO 639-1 code of text, lowercased. The
// detector is expensive to build, so it is constructed on first use
// only; most servers report the language themselves.
func (t *Transcriber) languageOf(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	t.detectorOnce.Do(func() {
		t.detector = lingua.NewLanguageDetectorBuilder().
			FromAllSpokenLanguages().
			Build()
	})

	lang, ok := t.detector.DetectLanguageOf(text)
	if !ok {
		return ""
	}
	return strings.ToLower(lang.IsoCode639_1().String())
}
