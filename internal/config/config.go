package config

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	apiKeyEnv = "SAM_API_KEY"
	envPrefix = "LEADGEN"
)

// APIConfig describes the upstream opportunity API.
type APIConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	Key        string `mapstructure:"key"`
	Query      string `mapstructure:"query"`
	Limit      int    `mapstructure:"limit"`
	WindowDays int    `mapstructure:"window_days"`

	// FetchDocs enables downloading PDF attachments for text scoring.
	// Off by default: it multiplies run time and bandwidth.
	FetchDocs bool `mapstructure:"fetch_docs"`
}

// FilterConfig holds the profile an opportunity is matched against.
type FilterConfig struct {
	NAICSAllow       []string `mapstructure:"naics_allow"`
	SetAsideAllow    []string `mapstructure:"set_aside_allow"`
	PriorityAgencies []string `mapstructure:"priority_agencies"`
	PriorityVehicles []string `mapstructure:"priority_vehicles"`
	FitThreshold     float64  `mapstructure:"fit_threshold"`
	RiskThreshold    float64  `mapstructure:"risk_threshold"`
	MinDaysToDue     int      `mapstructure:"min_days_to_due"`
	MinKeywordLen    int      `mapstructure:"min_keyword_len"`
	ShortAllowlist   []string `mapstructure:"short_allowlist"`
}

// ScoringConfig holds the fit-score weights. The weights must sum to 1.0;
// scores are reported on a 0-100 scale.
type ScoringConfig struct {
	KeywordWeight  float64 `mapstructure:"keyword_weight"`
	NAICSWeight    float64 `mapstructure:"naics_weight"`
	SemanticWeight float64 `mapstructure:"semantic_weight"`
	DueSoonDays    int     `mapstructure:"due_soon_days"`
}

// PathConfig locates the store and export artifacts.
type PathConfig struct {
	DB        string `mapstructure:"db"`
	ExportDir string `mapstructure:"export_dir"`
}

// Config is the validated application configuration. Resolution order is
// explicit flag > environment variable > config file > default, resolved
// once in Load.
type Config struct {
	API        APIConfig           `mapstructure:"api"`
	Filters    FilterConfig        `mapstructure:"filters"`
	Scoring    ScoringConfig       `mapstructure:"scoring"`
	Paths      PathConfig          `mapstructure:"paths"`
	Portfolios map[string][]string `mapstructure:"portfolios"`

	// Offline disables upstream fetching. It is an explicit switch: a missing
	// API key in online mode is a startup error, never a silent fallback to
	// synthetic data.
	Offline bool `mapstructure:"offline"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "https://api.sam.gov/prod/opportunities/v2/search")
	v.SetDefault("api.limit", 250)
	v.SetDefault("api.window_days", 1)
	v.SetDefault("filters.fit_threshold", 70.0)
	v.SetDefault("filters.risk_threshold", 50.0)
	v.SetDefault("filters.min_days_to_due", 14)
	v.SetDefault("filters.min_keyword_len", 3)
	v.SetDefault("filters.short_allowlist", []string{"ai", "it", "ml", "ehr"})
	v.SetDefault("scoring.keyword_weight", 0.6)
	v.SetDefault("scoring.naics_weight", 0.4)
	v.SetDefault("scoring.semantic_weight", 0.0)
	v.SetDefault("scoring.due_soon_days", 14)
	v.SetDefault("paths.db", "data/opportunities.db")
	v.SetDefault("paths.export_dir", "exports")
}

// Load reads the YAML config at path (optional), applies environment
// overrides, and validates the result. A local .env file is honored for
// development convenience.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// The API key is environment-only; it never lives in the config file.
	if cfg.API.Key == "" {
		cfg.API.Key = os.Getenv(apiKeyEnv)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants once at startup.
func (c *Config) Validate() error {
	if !c.Offline && c.API.Key == "" {
		return fmt.Errorf("no API key: set %s or enable offline mode explicitly", apiKeyEnv)
	}
	if c.API.Limit <= 0 {
		return fmt.Errorf("api.limit must be positive, got %d", c.API.Limit)
	}
	sum := c.Scoring.KeywordWeight + c.Scoring.NAICSWeight + c.Scoring.SemanticWeight
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("scoring weights must sum to 1.0, got %.3f", sum)
	}
	if c.Filters.FitThreshold < 0 || c.Filters.FitThreshold > 100 {
		return fmt.Errorf("filters.fit_threshold out of range [0,100]: %.1f", c.Filters.FitThreshold)
	}
	if c.Filters.RiskThreshold < 0 || c.Filters.RiskThreshold > 100 {
		return fmt.Errorf("filters.risk_threshold out of range [0,100]: %.1f", c.Filters.RiskThreshold)
	}
	if c.Filters.MinDaysToDue < 0 {
		return fmt.Errorf("filters.min_days_to_due must not be negative")
	}
	if c.Scoring.DueSoonDays <= 0 {
		return fmt.Errorf("scoring.due_soon_days must be positive, got %d", c.Scoring.DueSoonDays)
	}
	if len(c.Portfolios) == 0 {
		return fmt.Errorf("no keyword portfolios configured")
	}
	for name, kws := range c.Portfolios {
		if len(kws) == 0 {
			return fmt.Errorf("portfolio %q has no keywords", name)
		}
	}
	return nil
}

// Keywords flattens every portfolio into one deduplicated list.
func (c *Config) Keywords() []string {
	seen := make(map[string]bool)
	var out []string
	for _, kws := range c.Portfolios {
		for _, kw := range kws {
			k := strings.ToLower(strings.TrimSpace(kw))
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, strings.TrimSpace(kw))
		}
	}
	return out
}
