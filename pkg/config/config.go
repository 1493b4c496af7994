package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Ollama  OllamaConfig  `yaml:"ollama"`
	Crawler CrawlerConfig `yaml:"crawler"`
	Convert ConvertConfig `yaml:"convert"`
	Whisper WhisperConfig `yaml:"whisper"`

	Workers   int    `yaml:"workers"`
	Output    string `yaml:"output"`
	HistoryDB string `yaml:"history_db"`
}

type OllamaConfig struct {
	BaseURL     string  `yaml:"base_url"`
	VisionModel string  `yaml:"vision_model"`
	TextModel   string  `yaml:"text_model"`
	Temperature float64 `yaml:"temperature"`
	RateLimit   float64 `yaml:"rate_limit"`
}

type CrawlerConfig struct {
	Filter         string  `yaml:"filter"`
	Threshold      float64 `yaml:"threshold"`
	MinWords       int     `yaml:"min_words"`
	Query          string  `yaml:"query"`
	BM25Threshold  float64 `yaml:"bm25_threshold"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

type ConvertConfig struct {
	DPI            int `yaml:"dpi"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

type WhisperConfig struct {
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/extract-agent/config.yaml"),
			"/etc/extract-agent/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	applyDefaults(config)
	mergeWithEnv(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.Ollama.BaseURL == "" {
		config.Ollama.BaseURL = "http://localhost:11434"
	}
	if config.Ollama.VisionModel == "" {
		config.Ollama.VisionModel = "qwen3-vl:4b"
	}
	if config.Ollama.TextModel == "" {
		config.Ollama.TextModel = "llama3.2"
	}
	if config.Ollama.Temperature == 0 {
		config.Ollama.Temperature = 0.2
	}

	if config.Crawler.Filter == "" {
		config.Crawler.Filter = "pruning"
	}
	if config.Crawler.Threshold == 0 {
		config.Crawler.Threshold = 0.48
	}
	if config.Crawler.BM25Threshold == 0 {
		config.Crawler.BM25Threshold = 1.0
	}
	if config.Crawler.TimeoutSeconds == 0 {
		config.Crawler.TimeoutSeconds = 30
	}

	if config.Convert.DPI == 0 {
		config.Convert.DPI = 150
	}
	if config.Convert.TimeoutSeconds == 0 {
		config.Convert.TimeoutSeconds = 120
	}

	if config.Whisper.BaseURL == "" {
		config.Whisper.BaseURL = "http://localhost:8000"
	}
	if config.Whisper.Model == "" {
		config.Whisper.Model = "whisper-1"
	}

	if config.Workers == 0 {
		config.Workers = 2
	}
	if config.Output == "" {
		config.Output = "output.json"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.Ollama.BaseURL = baseURL
	}
	if baseURL := os.Getenv("WHISPER_BASE_URL"); baseURL != "" {
		config.Whisper.BaseURL = baseURL
	}
	if db := os.Getenv("EXTRACT_HISTORY_DB"); db != "" {
		config.HistoryDB = db
	}
}
