package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Anthropic   AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	Tiers       TiersConfig       `yaml:"tiers" mapstructure:"tiers"`
	Budget      BudgetConfig      `yaml:"budget" mapstructure:"budget"`
	Cache       CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Verify      VerifyConfig      `yaml:"verify" mapstructure:"verify"`
	Competitors CompetitorsConfig `yaml:"competitors" mapstructure:"competitors"`
	Scoring     ScoringConfig     `yaml:"scoring" mapstructure:"scoring"`
	Sweep       SweepConfig       `yaml:"sweep" mapstructure:"sweep"`
	Fetch       FetchConfig       `yaml:"fetch" mapstructure:"fetch"`
	Jina        JinaConfig        `yaml:"jina" mapstructure:"jina"`
	Financial   FinancialConfig   `yaml:"financial" mapstructure:"financial"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key                     string  `yaml:"key" mapstructure:"key"`
	TimeoutSecs             int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries              int     `yaml:"max_retries" mapstructure:"max_retries"`
	InitialBackoffMs        int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs            int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	BackoffMultiplier       float64 `yaml:"backoff_multiplier" mapstructure:"backoff_multiplier"`
	CircuitFailureThreshold int     `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetSecs        int     `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
	PromptCacheTTL          string  `yaml:"prompt_cache_ttl" mapstructure:"prompt_cache_ttl"`
}

// TierConfig holds the model and pricing for one extraction tier (USD per
// million tokens).
type TierConfig struct {
	Model           string  `yaml:"model" mapstructure:"model"`
	Input           float64 `yaml:"input" mapstructure:"input"`
	Output          float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul   float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul    float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
	MaxOutputTokens int     `yaml:"max_output_tokens" mapstructure:"max_output_tokens"`
	ImageTokens     int     `yaml:"image_tokens" mapstructure:"image_tokens"`
}

// TiersConfig configures the extraction tiers, which tiers may handle each
// content classification, and the fallback order on malformed responses.
type TiersConfig struct {
	Text        TierConfig          `yaml:"text" mapstructure:"text"`
	Vision      TierConfig          `yaml:"vision" mapstructure:"vision"`
	FullVision  TierConfig          `yaml:"full_vision" mapstructure:"full_vision"`
	Eligibility map[string][]string `yaml:"eligibility" mapstructure:"eligibility"`
	Fallback    map[string]string   `yaml:"fallback" mapstructure:"fallback"`
}

// BudgetConfig configures the monthly AI spend ceiling.
type BudgetConfig struct {
	MonthlyCeilingUSD float64 `yaml:"monthly_ceiling_usd" mapstructure:"monthly_ceiling_usd"`
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	TTLSeconds int `yaml:"ttl_seconds" mapstructure:"ttl_seconds"`
}

// VerifyConfig configures contact verification.
type VerifyConfig struct {
	Enabled          bool     `yaml:"enabled" mapstructure:"enabled"`
	ProbeTimeoutSecs int      `yaml:"probe_timeout_secs" mapstructure:"probe_timeout_secs"`
	SMTPPort         int      `yaml:"smtp_port" mapstructure:"smtp_port"`
	HeloDomain       string   `yaml:"helo_domain" mapstructure:"helo_domain"`
	MailFrom         string   `yaml:"mail_from" mapstructure:"mail_from"`
	Region           string   `yaml:"region" mapstructure:"region"`
	EmailPatterns    []string `yaml:"email_patterns" mapstructure:"email_patterns"`
	Concurrency      int      `yaml:"concurrency" mapstructure:"concurrency"`
}

// CompetitorsConfig configures competitor detection.
type CompetitorsConfig struct {
	Keywords      []string `yaml:"keywords" mapstructure:"keywords"`
	CatalogPath   string   `yaml:"catalog_path" mapstructure:"catalog_path"`
	ContextWindow int      `yaml:"context_window" mapstructure:"context_window"`
}

// ScoringConfig holds the confidence-score weights. All values are points on
// a 0-100 scale.
type ScoringConfig struct {
	TierFullVision  int `yaml:"tier_full_vision" mapstructure:"tier_full_vision"`
	TierVision      int `yaml:"tier_vision" mapstructure:"tier_vision"`
	TierText        int `yaml:"tier_text" mapstructure:"tier_text"`
	TierNone        int `yaml:"tier_none" mapstructure:"tier_none"`
	PerSource       int `yaml:"per_source" mapstructure:"per_source"`
	MaxSources      int `yaml:"max_sources" mapstructure:"max_sources"`
	EmailVerified   int `yaml:"email_verified" mapstructure:"email_verified"`
	PhoneVerified   int `yaml:"phone_verified" mapstructure:"phone_verified"`
	PatternVerified int `yaml:"pattern_verified" mapstructure:"pattern_verified"`
	FailedPenalty   int `yaml:"failed_penalty" mapstructure:"failed_penalty"`
	StalePenalty    int `yaml:"stale_penalty" mapstructure:"stale_penalty"`
}

// SweepConfig configures batch runs.
type SweepConfig struct {
	Concurrency          int    `yaml:"concurrency" mapstructure:"concurrency"`
	TimeoutSecs          int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	DirectoryPath        string `yaml:"directory_path" mapstructure:"directory_path"`
	HighQualityThreshold int    `yaml:"high_quality_threshold" mapstructure:"high_quality_threshold"`
}

// FetchConfig configures web retrieval.
type FetchConfig struct {
	TimeoutSecs     int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxPages        int     `yaml:"max_pages" mapstructure:"max_pages"`
	MaxBodyBytes    int64   `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	UserAgent       string  `yaml:"user_agent" mapstructure:"user_agent"`
	RatePerHost     float64 `yaml:"rate_per_host" mapstructure:"rate_per_host"`
	PdfToTextPath   string  `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	PDFTextMinChars int     `yaml:"pdf_text_min_chars" mapstructure:"pdf_text_min_chars"`
}

// JinaConfig holds Jina Search settings used for website discovery.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
	TimeoutSecs   int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// FinancialConfig configures the benchmarking data lookup.
type FinancialConfig struct {
	CSVPath        string  `yaml:"csv_path" mapstructure:"csv_path"`
	MatchThreshold float64 `yaml:"match_threshold" mapstructure:"match_threshold"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultEmailPatterns are the address templates tried when a school's
// convention is unknown.
var DefaultEmailPatterns = []string{
	"{first}.{last}",
	"{f}.{last}",
	"{f}{last}",
	"{first}{last}",
	"{last}.{first}",
	"{first}",
	"{last}{f}",
}

// DefaultCompetitorKeywords are the agencies tracked out of the box.
var DefaultCompetitorKeywords = []string{
	"Zen Educate",
	"Hays Education",
	"Supply Desk",
	"Teach First",
	"Tradewind",
	"Engage Education",
	"Randstad Education",
	"Prospero Teaching",
	"Academics",
	"Reeson Education",
	"Vision for Education",
	"Remedy Education",
	"TeacherActive",
	"Step Teachers",
	"Capita",
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SCHOOLINTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "school-intel.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{})

	// Secrets and paths have empty defaults so env overrides bind on Unmarshal.
	v.SetDefault("anthropic.key", "")
	v.SetDefault("jina.key", "")
	v.SetDefault("financial.csv_path", "")
	v.SetDefault("sweep.directory_path", "")
	v.SetDefault("competitors.catalog_path", "")

	v.SetDefault("anthropic.timeout_secs", 90)
	v.SetDefault("anthropic.max_retries", 4)
	v.SetDefault("anthropic.initial_backoff_ms", 1000)
	v.SetDefault("anthropic.max_backoff_ms", 30000)
	v.SetDefault("anthropic.backoff_multiplier", 2.0)
	v.SetDefault("anthropic.circuit_failure_threshold", 5)
	v.SetDefault("anthropic.circuit_reset_secs", 30)
	v.SetDefault("anthropic.prompt_cache_ttl", "5m")

	v.SetDefault("tiers.text.model", "claude-haiku-4-5-20251001")
	v.SetDefault("tiers.text.input", 0.80)
	v.SetDefault("tiers.text.output", 4.00)
	v.SetDefault("tiers.text.max_output_tokens", 2048)
	v.SetDefault("tiers.vision.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("tiers.vision.input", 3.00)
	v.SetDefault("tiers.vision.output", 15.00)
	v.SetDefault("tiers.vision.max_output_tokens", 3072)
	v.SetDefault("tiers.vision.image_tokens", 1600)
	v.SetDefault("tiers.full_vision.model", "claude-opus-4-6")
	v.SetDefault("tiers.full_vision.input", 15.00)
	v.SetDefault("tiers.full_vision.output", 75.00)
	v.SetDefault("tiers.full_vision.max_output_tokens", 4096)
	v.SetDefault("tiers.full_vision.image_tokens", 1600)
	for _, t := range []string{"text", "vision", "full_vision"} {
		v.SetDefault("tiers."+t+".cache_write_mul", 1.25)
		v.SetDefault("tiers."+t+".cache_read_mul", 0.1)
	}
	v.SetDefault("tiers.eligibility", map[string][]string{
		"html":      {"full-vision"},
		"pdf-text":  {"text"},
		"pdf-image": {"vision"},
		"image":     {"vision"},
	})
	v.SetDefault("tiers.fallback", map[string]string{
		"text":        "vision",
		"vision":      "full-vision",
		"full-vision": "vision",
	})

	v.SetDefault("budget.monthly_ceiling_usd", 50.0)
	v.SetDefault("cache.ttl_seconds", 86400)

	v.SetDefault("verify.enabled", true)
	v.SetDefault("verify.probe_timeout_secs", 10)
	v.SetDefault("verify.smtp_port", 25)
	v.SetDefault("verify.helo_domain", "school-intel.local")
	v.SetDefault("verify.mail_from", "verify@school-intel.local")
	v.SetDefault("verify.region", "GB")
	v.SetDefault("verify.email_patterns", DefaultEmailPatterns)
	v.SetDefault("verify.concurrency", 4)

	v.SetDefault("competitors.keywords", DefaultCompetitorKeywords)
	v.SetDefault("competitors.context_window", 80)

	v.SetDefault("scoring.tier_full_vision", 50)
	v.SetDefault("scoring.tier_vision", 40)
	v.SetDefault("scoring.tier_text", 30)
	v.SetDefault("scoring.tier_none", 10)
	v.SetDefault("scoring.per_source", 10)
	v.SetDefault("scoring.max_sources", 3)
	v.SetDefault("scoring.email_verified", 20)
	v.SetDefault("scoring.phone_verified", 10)
	v.SetDefault("scoring.pattern_verified", 10)
	v.SetDefault("scoring.failed_penalty", 15)
	v.SetDefault("scoring.stale_penalty", 20)

	v.SetDefault("sweep.concurrency", 5)
	v.SetDefault("sweep.timeout_secs", 0)
	v.SetDefault("sweep.high_quality_threshold", 70)

	v.SetDefault("fetch.timeout_secs", 20)
	v.SetDefault("fetch.max_pages", 6)
	v.SetDefault("fetch.max_body_bytes", 10<<20)
	v.SetDefault("fetch.user_agent", "school-intel/1.0 (+https://protocol-education.example/bot)")
	v.SetDefault("fetch.rate_per_host", 2.0)
	v.SetDefault("fetch.pdftotext_path", "pdftotext")
	v.SetDefault("fetch.pdf_text_min_chars", 200)

	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("jina.timeout_secs", 45)
	v.SetDefault("financial.match_threshold", 0.75)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// ConfigurationError lists every problem found while validating a Config.
// It is the only error class that aborts a run before records are processed.
type ConfigurationError struct {
	Mode     string
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: invalid for %s: %s", e.Mode, strings.Join(e.Problems, "; "))
}

var validTiers = map[string]bool{"text": true, "vision": true, "full-vision": true}

var validClasses = map[string]bool{"html": true, "pdf-text": true, "pdf-image": true, "image": true}

// Validate checks that the configuration is usable for mode. Modes that call
// the extraction service also need a credential and valid tiers.
func (c *Config) Validate(mode string) error {
	var problems []string

	needsAI := false
	switch mode {
	case "lookup", "sweep", "serve":
		needsAI = true
	case "cache", "budget", "runs":
	default:
		return &ConfigurationError{Mode: mode, Problems: []string{fmt.Sprintf("unknown mode %q", mode)}}
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	case "memory":
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q is not one of sqlite, postgres, memory", c.Store.Driver))
	}

	if c.Cache.TTLSeconds <= 0 {
		problems = append(problems, "cache.ttl_seconds must be > 0")
	}

	// Every mode opens the budget ledger.
	if c.Budget.MonthlyCeilingUSD <= 0 {
		problems = append(problems, "budget.monthly_ceiling_usd must be > 0")
	}

	if needsAI {
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		switch c.Anthropic.PromptCacheTTL {
		case "", "5m", "1h":
		default:
			problems = append(problems, "anthropic.prompt_cache_ttl must be 5m or 1h")
		}
		problems = append(problems, c.Tiers.problems()...)
	}

	if mode == "sweep" || mode == "serve" {
		if c.Sweep.Concurrency < 1 || c.Sweep.Concurrency > 50 {
			problems = append(problems, "sweep.concurrency must be between 1 and 50")
		}
		if c.Sweep.TimeoutSecs < 0 {
			problems = append(problems, "sweep.timeout_secs must be >= 0")
		}
	}

	if mode == "sweep" && c.Sweep.DirectoryPath == "" {
		problems = append(problems, "sweep.directory_path is required")
	}

	if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		problems = append(problems, "server.port must be between 1 and 65535")
	}

	if len(problems) > 0 {
		return &ConfigurationError{Mode: mode, Problems: problems}
	}
	return nil
}

func (t TiersConfig) problems() []string {
	var out []string
	for name, tc := range map[string]TierConfig{"text": t.Text, "vision": t.Vision, "full_vision": t.FullVision} {
		if tc.Model == "" {
			out = append(out, fmt.Sprintf("tiers.%s.model is required", name))
		}
		if tc.Input < 0 || tc.Output < 0 {
			out = append(out, fmt.Sprintf("tiers.%s rates must be >= 0", name))
		}
	}
	for class, tiers := range t.Eligibility {
		if !validClasses[class] {
			out = append(out, fmt.Sprintf("tiers.eligibility: unknown class %q", class))
		}
		for _, tier := range tiers {
			if !validTiers[tier] {
				out = append(out, fmt.Sprintf("tiers.eligibility.%s: unknown tier %q", class, tier))
			}
		}
	}
	for from, to := range t.Fallback {
		if !validTiers[from] || !validTiers[to] {
			out = append(out, fmt.Sprintf("tiers.fallback: unknown tier in %s -> %s", from, to))
		}
	}
	return out
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
