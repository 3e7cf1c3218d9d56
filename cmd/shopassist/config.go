package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/hashicorp/go-multierror"
	"github.com/shaharia-lab/shopassist"
)

// Storage drivers for chat history and the product catalog.
const (
	driverMemory   = "memory"
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
)

// Config is read from the environment (and a .env file when present).
type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"shopassist"`

	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	// TraceStdout exports spans as JSON to stderr.
	TraceStdout bool `env:"TRACE_STDOUT" envDefault:"false"`

	HistoryDriver string `env:"HISTORY_DRIVER" envDefault:"memory"`
	HistoryDSN    string `env:"HISTORY_DSN"`

	CatalogDriver   string `env:"CATALOG_DRIVER" envDefault:"memory"`
	CatalogDSN      string `env:"CATALOG_DSN"`
	CatalogSeedFile string `env:"CATALOG_SEED_FILE"`

	// DefaultBackend answers requests whose model matches no registered backend.
	DefaultBackend string `env:"DEFAULT_BACKEND" envDefault:"openai"`
	// IntentBackend runs intent extraction; empty means DefaultBackend.
	IntentBackend string `env:"INTENT_BACKEND"`

	OpenAIAPIKey string `env:"OPENAI_API_KEY"`
	OpenAIModel  string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`

	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	AnthropicModel  string `env:"ANTHROPIC_MODEL" envDefault:"claude-3-5-sonnet-20240620"`

	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	GeminiModel  string `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash"`

	GrokAPIKey  string `env:"GROK_API_KEY"`
	GrokModel   string `env:"GROK_MODEL" envDefault:"grok-3"`
	GrokBaseURL string `env:"GROK_BASE_URL" envDefault:"https://api.x.ai/v1/"`

	BedrockEnabled bool   `env:"BEDROCK_ENABLED" envDefault:"false"`
	BedrockRegion  string `env:"BEDROCK_REGION" envDefault:"us-east-1"`
	BedrockModel   string `env:"BEDROCK_MODEL"`

	// LLMRateLimit caps calls per second to each backend; zero disables throttling.
	LLMRateLimit float64 `env:"LLM_RATE_LIMIT" envDefault:"0"`
	LLMBurst     int     `env:"LLM_BURST" envDefault:"1"`

	EnhancerMaxScan     int `env:"ENHANCER_MAX_SCAN" envDefault:"5"`
	EnhancerCacheSize   int `env:"ENHANCER_CACHE_SIZE" envDefault:"1024"`
	MaxProductsInPrompt int `env:"MAX_PRODUCTS_IN_PROMPT" envDefault:"5"`
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing env config: %w", err)
	}
	cfg.HistoryDriver = strings.ToLower(strings.TrimSpace(cfg.HistoryDriver))
	cfg.CatalogDriver = strings.ToLower(strings.TrimSpace(cfg.CatalogDriver))
	cfg.DefaultBackend = strings.ToLower(strings.TrimSpace(cfg.DefaultBackend))
	cfg.IntentBackend = strings.ToLower(strings.TrimSpace(cfg.IntentBackend))
	if cfg.IntentBackend == "" {
		cfg.IntentBackend = cfg.DefaultBackend
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// backends lists the backends that have credentials configured.
func (c Config) backends() []string {
	var names []string
	if c.OpenAIAPIKey != "" {
		names = append(names, shopassist.BackendOpenAI)
	}
	if c.AnthropicAPIKey != "" {
		names = append(names, shopassist.BackendAnthropic)
	}
	if c.GeminiAPIKey != "" {
		names = append(names, shopassist.BackendGemini)
	}
	if c.GrokAPIKey != "" {
		names = append(names, shopassist.BackendGrok)
	}
	if c.BedrockEnabled {
		names = append(names, shopassist.BackendBedrock)
	}
	return names
}

func (c Config) validate() error {
	var result error

	for name, pair := range map[string][2]string{
		"HISTORY": {c.HistoryDriver, c.HistoryDSN},
		"CATALOG": {c.CatalogDriver, c.CatalogDSN},
	} {
		switch pair[0] {
		case driverMemory:
		case driverSQLite, driverPostgres:
			if pair[1] == "" {
				result = multierror.Append(result, fmt.Errorf("%s_DSN is required for the %s driver", name, pair[0]))
			}
		default:
			result = multierror.Append(result, fmt.Errorf("unknown %s_DRIVER %q", name, pair[0]))
		}
	}

	configured := c.backends()
	if len(configured) == 0 {
		result = multierror.Append(result, errors.New("no chat backend configured: set at least one provider API key or BEDROCK_ENABLED"))
	} else {
		if !contains(configured, c.DefaultBackend) {
			result = multierror.Append(result, fmt.Errorf("DEFAULT_BACKEND %q is not configured", c.DefaultBackend))
		}
		if !contains(configured, c.IntentBackend) {
			result = multierror.Append(result, fmt.Errorf("INTENT_BACKEND %q is not configured", c.IntentBackend))
		}
	}

	if c.LLMRateLimit < 0 {
		result = multierror.Append(result, errors.New("LLM_RATE_LIMIT must not be negative"))
	}
	if c.EnhancerMaxScan < 1 {
		result = multierror.Append(result, errors.New("ENHANCER_MAX_SCAN must be at least 1"))
	}
	if c.EnhancerCacheSize < 0 {
		result = multierror.Append(result, errors.New("ENHANCER_CACHE_SIZE must not be negative"))
	}
	if c.MaxProductsInPrompt < 1 {
		result = multierror.Append(result, errors.New("MAX_PRODUCTS_IN_PROMPT must be at least 1"))
	}

	return result
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
