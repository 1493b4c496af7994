package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate Ollama config
	if c.Ollama.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "ollama.base_url",
			Message: "Ollama base URL is required",
		})
	} else if !validBaseURL(c.Ollama.BaseURL) {
		errors = append(errors, ValidationError{
			Field:   "ollama.base_url",
			Message: "invalid Ollama base URL",
		})
	}

	if c.Ollama.Temperature < 0 || c.Ollama.Temperature > 1 {
		errors = append(errors, ValidationError{
			Field:   "ollama.temperature",
			Message: "temperature must be between 0 and 1",
		})
	}

	if c.Ollama.RateLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "ollama.rate_limit",
			Message: "rate_limit must be non-negative",
		})
	}

	// Validate crawler config
	switch c.Crawler.Filter {
	case "pruning", "bm25":
	default:
		errors = append(errors, ValidationError{
			Field:   "crawler.filter",
			Message: fmt.Sprintf("unknown filter %q, must be pruning or bm25", c.Crawler.Filter),
		})
	}

	if c.Crawler.Filter == "bm25" && c.Crawler.Query == "" {
		errors = append(errors, ValidationError{
			Field:   "crawler.query",
			Message: "query is required when filter is bm25",
		})
	}

	if c.Crawler.Threshold <= 0 || c.Crawler.Threshold > 1 {
		errors = append(errors, ValidationError{
			Field:   "crawler.threshold",
			Message: "threshold must be between 0 (exclusive) and 1",
		})
	}

	if c.Crawler.BM25Threshold < 0 {
		errors = append(errors, ValidationError{
			Field:   "crawler.bm25_threshold",
			Message: "bm25_threshold must be non-negative",
		})
	}

	if c.Crawler.MinWords < 0 {
		errors = append(errors, ValidationError{
			Field:   "crawler.min_words",
			Message: "min_words must be non-negative",
		})
	}

	if c.Crawler.TimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "crawler.timeout_seconds",
			Message: "timeout_seconds must be positive",
		})
	}

	// Validate converter config
	if c.Convert.DPI < 72 || c.Convert.DPI > 600 {
		errors = append(errors, ValidationError{
			Field:   "convert.dpi",
			Message: "dpi must be between 72 and 600",
		})
	}

	if c.Convert.TimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "convert.timeout_seconds",
			Message: "timeout_seconds must be positive",
		})
	}

	// Validate whisper config
	if c.Whisper.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "whisper.base_url",
			Message: "whisper base URL is required",
		})
	} else if !validBaseURL(c.Whisper.BaseURL) {
		errors = append(errors, ValidationError{
			Field:   "whisper.base_url",
			Message: "invalid whisper base URL",
		})
	}

	if c.Workers < 1 {
		errors = append(errors, ValidationError{
			Field:   "workers",
			Message: "workers must be positive",
		})
	}

	if c.Output == "" {
		errors = append(errors, ValidationError{
			Field:   "output",
			Message: "output path is required",
		})
	}

	return errors
}

func validBaseURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
