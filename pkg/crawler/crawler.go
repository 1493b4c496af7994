package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"

	"github.com/zorodev/extract-agent/internal/models"
)

// FilterPruning drops low-density blocks, FilterBM25 keeps blocks
// relevant to a query.
const (
	FilterPruning = "pruning"
	FilterBM25    = "bm25"
)

type Config struct {
	Filter        string  // pruning or bm25
	Threshold     float64 // pruning density threshold
	MinWords      int     // pruning word floor per block, 0 = none
	Query         string  // bm25 relevance query
	BM25Threshold float64
	Timeout       time.Duration
	UserAgent     string
	MaxBodySize   int64
}

// Crawler fetches a page and renders it to markdown twice: the full
// page and a filtered "fit" version with boilerplate removed.
type Crawler struct {
	config Config
	client *http.Client
	md     *converter.Converter
}

func NewWithConfig(config Config) (*Crawler, error) {
	if config.Filter == "" {
		config.Filter = FilterPruning
	}
	if config.Filter != FilterPruning && config.Filter != FilterBM25 {
		return nil, fmt.Errorf("crawler: unknown filter %q", config.Filter)
	}
	if config.Threshold == 0 {
		config.Threshold = 0.48
	}
	if config.BM25Threshold == 0 {
		config.BM25Threshold = 1.0
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "extract-agent/1.0 (+https://github.com/zorodev/extract-agent)"
	}
	if config.MaxBodySize == 0 {
		config.MaxBodySize = 10 << 20
	}

	return &Crawler{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}, nil
}

func (c *Crawler) Crawl(ctx context.Context, pageURL string) (*models.CrawlResult, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("crawler: invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("crawler: unsupported scheme %q", parsed.Scheme)
	}

	page, err := c.fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	raw, err := c.md.ConvertString(page, converter.WithDomain(pageURL))
	if err != nil {
		return nil, fmt.Errorf("crawler: markdown conversion: %w", err)
	}
	raw = strings.TrimSpace(raw)

	// Fit pipeline: isolate the main content, apply the configured
	// filter, then render what survived. An empty fit is legal, the
	// caller falls back to the raw markdown.
	fit := ""
	if filtered := c.filterHTML(page, parsed); strings.TrimSpace(filtered) != "" {
		if converted, err := c.md.ConvertString(filtered, converter.WithDomain(pageURL)); err == nil {
			fit = strings.TrimSpace(converted)
		}
	}

	return &models.CrawlResult{
		RawMarkdown: raw,
		FitMarkdown: fit,
		RawLength:   utf8.RuneCountInString(raw),
		FitLength:   utf8.RuneCountInString(fit),
	}, nil
}

func (c *Crawler) fetch(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("crawler: build request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("crawler: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("crawler: received status code %d for URL: %s", resp.StatusCode, pageURL)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return "", fmt.Errorf("crawler: unsupported content type %q", ct)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBodySize))
	if err != nil {
		return "", fmt.Errorf("crawler: read body: %w", err)
	}

	return string(body), nil
}
