// Package config provides configuration loading for themeagent.
//
// Configuration is read from a YAML file and overridden by THEMEAGENT_*
// environment variables (see LoadWithFile). Missing values fall back to the
// defaults in applyDefaults.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Tier names used as keys in strategy and routing configuration.
const (
	TierSimple  = "simple"
	TierHybrid  = "hybrid"
	TierGodMode = "god_mode"
)

// Action classes used as keys in the routing table.
const (
	ClassClassify   = "classify"
	ClassPlan       = "plan"
	ClassSpecialize = "specialize"
	ClassReview     = "review"
)

// Config holds the complete themeagent configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
	Workspace     WorkspaceConfig     `koanf:"workspace"`
	Strategy      StrategyConfig      `koanf:"strategy"`
	Routing       RoutingConfig       `koanf:"routing"`
	Policy        PolicyConfig        `koanf:"policy"`
	Delegation    DelegationConfig    `koanf:"delegation"`
	Limits        LimitsConfig        `koanf:"limits"`
	LLM           LLMConfig           `koanf:"llm"`
	Events        EventsConfig        `koanf:"events"`
	Archive       ArchiveConfig       `koanf:"archive"`
	Scout         ScoutConfig         `koanf:"scout"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig selects the log level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	Endpoint        string  `koanf:"endpoint"`
	Protocol        string  `koanf:"protocol"`
	Insecure        bool    `koanf:"insecure"`
	ServiceName     string  `koanf:"service_name"`
	SamplingRate    float64 `koanf:"sampling_rate"`
}

// WorkspaceConfig points at the theme being edited.
type WorkspaceConfig struct {
	Root string `koanf:"root"`
	// PlanFile is relative to Root.
	PlanFile string `koanf:"plan_file"`
	// Versioning commits kept edits to the git repository at Root.
	Versioning bool `koanf:"versioning"`
}

// TierConfig is the budget for one strategy tier.
type TierConfig struct {
	MaxIterations  int      `koanf:"max_iterations"`
	MaxDelegations int      `koanf:"max_delegations"`
	Gates          []string `koanf:"gates"`
}

// StrategyConfig holds per-tier budgets and the plan caps.
type StrategyConfig struct {
	Simple  TierConfig `koanf:"simple"`
	Hybrid  TierConfig `koanf:"hybrid"`
	GodMode TierConfig `koanf:"god_mode"`
	// PlanCaps maps a caller plan (e.g. "starter") to the highest tier it may use.
	PlanCaps map[string]string `koanf:"plan_caps"`
}

// Tier returns the budget for the named tier.
func (s StrategyConfig) Tier(name string) (TierConfig, bool) {
	switch name {
	case TierSimple:
		return s.Simple, true
	case TierHybrid:
		return s.Hybrid, true
	case TierGodMode:
		return s.GodMode, true
	}
	return TierConfig{}, false
}

// PriceConfig is the cost of one model in cents per million tokens.
type PriceConfig struct {
	InputCents  float64 `koanf:"input_cents"`
	OutputCents float64 `koanf:"output_cents"`
}

// RoutingConfig is the model table consumed by the router.
type RoutingConfig struct {
	Cheapest string `koanf:"cheapest"`
	// Models maps tier -> action class -> model id.
	Models  map[string]map[string]string `koanf:"models"`
	Pricing map[string]PriceConfig       `koanf:"pricing"`
}

// PolicyConfig controls the validation gates.
type PolicyConfig struct {
	// AllowedDirs are the editable top-level directories. "." admits files
	// at the theme root.
	AllowedDirs          []string `koanf:"allowed_dirs"`
	MaxValidationRetries int      `koanf:"max_validation_retries"`
	ChangeSizeWarnLines  int      `koanf:"change_size_warn_lines"`
}

// DelegationConfig bounds specialist and review sub-loops.
type DelegationConfig struct {
	SpecialistMaxIterations int `koanf:"specialist_max_iterations"`
	ReviewMaxIterations     int `koanf:"review_max_iterations"`
	SubAgentTokenBudget     int `koanf:"sub_agent_token_budget"`
	BatchReadConcurrency    int `koanf:"batch_read_concurrency"`
}

// LimitsConfig holds per-run ceilings. Zero disables a ceiling.
type LimitsConfig struct {
	ResultTruncateChars int     `koanf:"result_truncate_chars"`
	CostCeilingCents    float64 `koanf:"cost_ceiling_cents"`
	TokenCeiling        int     `koanf:"token_ceiling"`
}

// LLMConfig configures the completion provider.
type LLMConfig struct {
	Provider          string   `koanf:"provider"`
	APIKey            Secret   `koanf:"api_key"`
	BaseURL           string   `koanf:"base_url"`
	RequestsPerSecond float64  `koanf:"requests_per_second"`
	Burst             int      `koanf:"burst"`
	MaxRetries        int      `koanf:"max_retries"`
	Timeout           Duration `koanf:"timeout"`
	MaxTokens         int      `koanf:"max_tokens"`
	Temperature       float64  `koanf:"temperature"`
}

// EventsConfig configures the NATS event sink. An empty URL disables it.
type EventsConfig struct {
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
	BufferSize    int    `koanf:"buffer_size"`
}

// ArchiveConfig configures the SQLite run archive.
type ArchiveConfig struct {
	Disabled bool   `koanf:"disabled"`
	Path     string `koanf:"path"`
}

// ScoutConfig configures the structural file index.
type ScoutConfig struct {
	Disabled   bool `koanf:"disabled"`
	MaxResults int  `koanf:"max_results"`
	Watch      bool `koanf:"watch"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8088
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "themeagent"
	}
	if cfg.Observability.Endpoint == "" {
		cfg.Observability.Endpoint = "localhost:4317"
	}
	if cfg.Observability.SamplingRate == 0 {
		cfg.Observability.SamplingRate = 1.0
	}

	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = "."
	}
	if cfg.Workspace.PlanFile == "" {
		cfg.Workspace.PlanFile = ".themeagent/plan.toml"
	}

	tierDefault(&cfg.Strategy.Simple, 20, 0, []string{"scope-boundary", "syntax"})
	tierDefault(&cfg.Strategy.Hybrid, 40, 3, []string{"scope-boundary", "syntax", "schema", "change-size"})
	tierDefault(&cfg.Strategy.GodMode, 80, 8, []string{"scope-boundary", "syntax", "schema", "change-size"})
	if cfg.Strategy.PlanCaps == nil {
		cfg.Strategy.PlanCaps = map[string]string{
			"starter":    TierSimple,
			"pro":        TierHybrid,
			"enterprise": TierGodMode,
		}
	}

	if cfg.Routing.Cheapest == "" {
		cfg.Routing.Cheapest = "claude-haiku-4-5"
	}
	if cfg.Routing.Models == nil {
		cfg.Routing.Models = map[string]map[string]string{
			TierSimple: {
				ClassPlan:       "claude-sonnet-4-5",
				ClassSpecialize: "claude-sonnet-4-5",
				ClassReview:     "claude-sonnet-4-5",
			},
			TierHybrid: {
				ClassPlan:       "claude-sonnet-4-5",
				ClassSpecialize: "claude-sonnet-4-5",
				ClassReview:     "claude-sonnet-4-5",
			},
			TierGodMode: {
				ClassPlan:       "claude-opus-4-1",
				ClassSpecialize: "claude-sonnet-4-5",
				ClassReview:     "claude-opus-4-1",
			},
		}
	}
	if cfg.Routing.Pricing == nil {
		cfg.Routing.Pricing = map[string]PriceConfig{
			"claude-haiku-4-5":  {InputCents: 100, OutputCents: 500},
			"claude-sonnet-4-5": {InputCents: 300, OutputCents: 1500},
			"claude-opus-4-1":   {InputCents: 1500, OutputCents: 7500},
		}
	}

	if len(cfg.Policy.AllowedDirs) == 0 {
		cfg.Policy.AllowedDirs = []string{
			".", "assets", "blocks", "config", "layout", "locales", "sections", "snippets", "templates",
		}
	}
	if cfg.Policy.MaxValidationRetries == 0 {
		cfg.Policy.MaxValidationRetries = 2
	}
	if cfg.Policy.ChangeSizeWarnLines == 0 {
		cfg.Policy.ChangeSizeWarnLines = 400
	}

	if cfg.Delegation.SpecialistMaxIterations == 0 {
		cfg.Delegation.SpecialistMaxIterations = 12
	}
	if cfg.Delegation.ReviewMaxIterations == 0 {
		cfg.Delegation.ReviewMaxIterations = 8
	}
	if cfg.Delegation.BatchReadConcurrency == 0 {
		cfg.Delegation.BatchReadConcurrency = 10
	}

	if cfg.Limits.ResultTruncateChars == 0 {
		cfg.Limits.ResultTruncateChars = 2000
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if cfg.LLM.RequestsPerSecond == 0 {
		cfg.LLM.RequestsPerSecond = 2
	}
	if cfg.LLM.Burst == 0 {
		cfg.LLM.Burst = 4
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = Duration(2 * time.Minute)
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}

	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "themeagent"
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 64
	}

	if cfg.Archive.Path == "" {
		cfg.Archive.Path = ".themeagent/runs.db"
	}

	if cfg.Scout.MaxResults == 0 {
		cfg.Scout.MaxResults = 20
	}
}

func tierDefault(t *TierConfig, iterations, delegations int, gates []string) {
	if t.MaxIterations == 0 {
		t.MaxIterations = iterations
	}
	if t.MaxDelegations == 0 {
		t.MaxDelegations = delegations
	}
	if len(t.Gates) == 0 {
		t.Gates = gates
	}
}

// MaxIterationCeiling bounds every tier's iteration budget.
const MaxIterationCeiling = 80

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format))
	}
	if c.Observability.SamplingRate < 0 || c.Observability.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("observability.sampling_rate must be between 0 and 1"))
	}

	for _, name := range []string{TierSimple, TierHybrid, TierGodMode} {
		tier, _ := c.Strategy.Tier(name)
		if tier.MaxIterations < 1 || tier.MaxIterations > MaxIterationCeiling {
			errs = append(errs, fmt.Errorf("strategy.%s.max_iterations must be 1-%d, got %d",
				name, MaxIterationCeiling, tier.MaxIterations))
		}
		if tier.MaxDelegations < 0 {
			errs = append(errs, fmt.Errorf("strategy.%s.max_delegations must be >= 0", name))
		}
		if _, ok := c.Routing.Models[name]; !ok {
			errs = append(errs, fmt.Errorf("routing.models is missing tier %q", name))
		}
	}
	if c.Strategy.Simple.MaxDelegations != 0 {
		errs = append(errs, errors.New("strategy.simple.max_delegations must be 0"))
	}
	for plan, tier := range c.Strategy.PlanCaps {
		if _, ok := c.Strategy.Tier(tier); !ok {
			errs = append(errs, fmt.Errorf("strategy.plan_caps.%s names unknown tier %q", plan, tier))
		}
	}

	if c.Routing.Cheapest == "" {
		errs = append(errs, errors.New("routing.cheapest is required"))
	}
	if c.Policy.MaxValidationRetries < 0 {
		errs = append(errs, errors.New("policy.max_validation_retries must be >= 0"))
	}
	if c.Delegation.BatchReadConcurrency < 1 || c.Delegation.BatchReadConcurrency > 10 {
		errs = append(errs, fmt.Errorf("delegation.batch_read_concurrency must be 1-10, got %d",
			c.Delegation.BatchReadConcurrency))
	}
	if c.Limits.ResultTruncateChars < 100 {
		errs = append(errs, errors.New("limits.result_truncate_chars must be >= 100"))
	}
	if c.Limits.CostCeilingCents < 0 || c.Limits.TokenCeiling < 0 {
		errs = append(errs, errors.New("limits ceilings must be >= 0"))
	}
	switch c.LLM.Provider {
	case "anthropic", "openai", "scripted":
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be anthropic, openai or scripted, got %q", c.LLM.Provider))
	}
	if c.LLM.RequestsPerSecond <= 0 {
		errs = append(errs, errors.New("llm.requests_per_second must be > 0"))
	}

	return errors.Join(errs...)
}
