package consolidate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/zorodev/extract-agent/internal/models"
)

// Config represents the configuration for a consolidation engine.
type Config struct {
	Model        string
	BaseURL      string // Ollama server URL
	Temperature  float64
	Timeout      time.Duration // generation timeout
	ProbeTimeout time.Duration // reachability probe timeout
}

// Consolidator asks a text model to fold an aggregate into a single
// structured summary.
type Consolidator struct {
	config Config
	llm    llms.Model
	probe  *http.Client
}

// NewWithConfig creates a new Consolidator with the given configuration.
func NewWithConfig(config Config) (*Consolidator, error) {
	if config.Model == "" {
		config.Model = "llama3.2" // Default Ollama text model
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}
	if config.Temperature < 0 || config.Temperature > 1 {
		return nil, fmt.Errorf("consolidate: temperature must be between 0 and 1")
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.ProbeTimeout == 0 {
		config.ProbeTimeout = 3 * time.Second
	}

	llm, err := ollama.New(ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
		ollama.WithHTTPClient(&http.Client{Timeout: config.Timeout}))
	if err != nil {
		return nil, fmt.Errorf("consolidate: failed to initialize LLM: %w", err)
	}

	return &Consolidator{
		config: config,
		llm:    llm,
		probe:  &http.Client{Timeout: config.ProbeTimeout},
	}, nil
}

// Reachable probes the model listing endpoint. Only HTTP 200 counts;
// the caller decides whether to skip consolidation.
func (c *Consolidator) Reachable(ctx context.Context) bool {
	url := strings.TrimRight(c.config.BaseURL, "/") + "/api/tags"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := c.probe.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// Consolidate sends the aggregate to the text model and returns the
// summary object. A reply that does not parse as a JSON object is
// wrapped under a "summary" key instead of being discarded.
func (c *Consolidator) Consolidate(ctx context.Context, agg *models.Aggregate) (map[string]any, error) {
	payload, err := json.MarshalIndent(agg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("consolidate: encode aggregate: %w", err)
	}

	prompt := "You are an offline consolidation agent.\n" +
		"Given the following page-wise extraction JSON, produce a consolidated JSON with keys: 'text', 'tables', 'summary', 'description'.\n" +
		"Return only valid JSON.\n\n" +
		"DATA:\n" + string(payload) + "\n"

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	resp, err := c.llm.GenerateContent(ctx, content, llms.WithTemperature(c.config.Temperature))
	if err != nil {
		return nil, fmt.Errorf("consolidate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("consolidate: empty response from model")
	}

	raw := resp.Choices[0].Content

	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		// Non-JSON reply, keep the text rather than drop it
		return map[string]any{"summary": raw}, nil
	}

	return parsed, nil
}
