package vision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"golang.org/x/time/rate"

	"github.com/zorodev/extract-agent/internal/models"
)

// Config represents the configuration for a vision extractor.
type Config struct {
	Model     string
	BaseURL   string // Ollama server URL
	RateLimit float64 // requests per second against the model, 0 = unlimited
}

// Extractor runs the four extraction prompts against a multimodal
// Ollama model.
type Extractor struct {
	config  Config
	llm     llms.Model
	limiter *rate.Limiter
}

// One entry per extraction kind, in call order. The model answers
// each prompt for the same image.
var extractionKinds = []struct {
	name   string
	prompt string
	assign func(*models.UnitResult, models.Outcome)
}{
	{
		name:   "ocr_text",
		prompt: "Extract all text from this image exactly as shown. If there is no readable text in the image, respond with 'NO_TEXT'.",
		assign: func(u *models.UnitResult, o models.Outcome) { u.OCRText = o },
	},
	{
		name:   "image_description",
		prompt: "Provide a detailed description of what's in this image.",
		assign: func(u *models.UnitResult, o models.Outcome) { u.Description = o },
	},
	{
		name:   "table_data",
		prompt: "If there's a table in this image, extract it as JSON. If no table, return empty object.",
		assign: func(u *models.UnitResult, o models.Outcome) { u.TableData = o },
	},
	{
		name:   "flowchart",
		prompt: "If this is a flowchart, describe its structure and flow. If not, return empty string.",
		assign: func(u *models.UnitResult, o models.Outcome) { u.Flowchart = o },
	},
}

// NewWithConfig creates a new Extractor with the given configuration.
func NewWithConfig(config Config) (*Extractor, error) {
	if config.Model == "" {
		config.Model = "qwen3-vl:4b" // Default Ollama vision model
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}
	if config.RateLimit < 0 {
		return nil, fmt.Errorf("vision: rate limit cannot be negative")
	}

	llm, err := ollama.New(ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("vision: failed to initialize LLM: %w", err)
	}

	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}

	return &Extractor{
		config:  config,
		llm:     llm,
		limiter: limiter,
	}, nil
}

// ExtractImage runs every extraction kind against the image. A kind
// that fails is marked on the result and the rest still run; the
// returned error is non-nil only when the image cannot be read or
// every kind failed.
func (e *Extractor) ExtractImage(ctx context.Context, path string) (models.UnitResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.UnitResult{}, fmt.Errorf("vision: read image: %w", err)
	}

	var (
		result   models.UnitResult
		failures int
		lastErr  error
	)

	for _, kind := range extractionKinds {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return result, fmt.Errorf("vision: %w", err)
			}
		}

		text, err := e.generate(ctx, data, mimeType(path), kind.prompt)
		if err != nil {
			kind.assign(&result, models.Fail(err.Error()))
			failures++
			lastErr = err
			continue
		}

		if kind.name == "ocr_text" {
			kind.assign(&result, normalizeOCR(text))
		} else {
			kind.assign(&result, models.Text(strings.TrimSpace(text)))
		}
	}

	if failures == len(extractionKinds) {
		return result, fmt.Errorf("vision: all extraction prompts failed for %s: %w", filepath.Base(path), lastErr)
	}

	return result, nil
}

func (e *Extractor) generate(ctx context.Context, image []byte, mime, prompt string) (string, error) {
	content := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.BinaryPart(mime, image),
				llms.TextPart(prompt),
			},
		},
	}

	resp, err := e.llm.GenerateContent(ctx, content, llms.WithTemperature(0))
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from model")
	}

	return resp.Choices[0].Content, nil
}

// normalizeOCR maps model replies that mean "nothing readable" to an
// absent outcome: the sentinel the prompt asks for, error echoes,
// and the short filler tokens vision models return instead of it.
func normalizeOCR(text string) models.Outcome {
	t := strings.TrimSpace(text)
	if t == "" || strings.ToUpper(t) == "NO_TEXT" || strings.HasPrefix(t, "Error:") {
		return models.None()
	}
	if utf8.RuneCountInString(t) < 3 {
		return models.None()
	}
	switch strings.ToLower(t) {
	case "none", "n/a", "null", "no text":
		return models.None()
	}
	return models.Text(t)
}

func mimeType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "image/png"
	}
}
