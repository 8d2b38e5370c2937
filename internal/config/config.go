// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Agent() AgentConfig
	Policy() PolicyConfig
	Autonomy() AutonomyConfig
	Resolver() ResolverConfig
	Planner() PlannerConfig
	Search() SearchConfig
	Tools() ToolsConfig
	Session() SessionConfig
	Synthesis() SynthesisConfig

	// Runtime overrides from CLI flags.
	SetPolicyDefaultMode(mode string)
	SetAutonomyDefaultLevel(level string)
	SetAutonomyAutoApprove(b bool)
	SetDatabaseDriver(driver string)
}

// Config holds the entire application configuration. Fields are exported so
// viper can unmarshal into them; callers go through the Interface getters.
type Config struct {
	LoggerCfg   LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig  `mapstructure:"database" yaml:"database"`
	AgentCfg    AgentConfig     `mapstructure:"agent" yaml:"agent"`
	PolicyCfg   PolicyConfig    `mapstructure:"policy" yaml:"policy"`
	AutonomyCfg AutonomyConfig  `mapstructure:"autonomy" yaml:"autonomy"`
	ResolverCfg ResolverConfig  `mapstructure:"resolver" yaml:"resolver"`
	PlannerCfg  PlannerConfig   `mapstructure:"planner" yaml:"planner"`
	SearchCfg   SearchConfig    `mapstructure:"search" yaml:"search"`
	ToolsCfg    ToolsConfig     `mapstructure:"tools" yaml:"tools"`
	SessionCfg  SessionConfig   `mapstructure:"session" yaml:"session"`
	SynthCfg    SynthesisConfig `mapstructure:"synthesis" yaml:"synthesis"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig   { return c.DatabaseCfg }
func (c *Config) Agent() AgentConfig         { return c.AgentCfg }
func (c *Config) Policy() PolicyConfig       { return c.PolicyCfg }
func (c *Config) Autonomy() AutonomyConfig   { return c.AutonomyCfg }
func (c *Config) Resolver() ResolverConfig   { return c.ResolverCfg }
func (c *Config) Planner() PlannerConfig     { return c.PlannerCfg }
func (c *Config) Search() SearchConfig       { return c.SearchCfg }
func (c *Config) Tools() ToolsConfig         { return c.ToolsCfg }
func (c *Config) Session() SessionConfig     { return c.SessionCfg }
func (c *Config) Synthesis() SynthesisConfig { return c.SynthCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetPolicyDefaultMode(mode string)     { c.PolicyCfg.DefaultMode = mode }
func (c *Config) SetAutonomyDefaultLevel(level string) { c.AutonomyCfg.DefaultLevel = level }
func (c *Config) SetAutonomyAutoApprove(b bool)        { c.AutonomyCfg.AutoApprove = b }
func (c *Config) SetDatabaseDriver(driver string)      { c.DatabaseCfg.Driver = driver }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// Database drivers understood by the memory store factory.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// DatabaseConfig selects and configures the memory store backend.
type DatabaseConfig struct {
	Driver     string `mapstructure:"driver" yaml:"driver"`
	URL        string `mapstructure:"url" yaml:"url"`
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
}

// LLMProvider identifies a reasoning backend implementation.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini" // REST client with retry.
	ProviderGenAI  LLMProvider = "genai"  // Google GenAI SDK client.
)

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float32       `mapstructure:"top_p" yaml:"top_p"`
	TopK        int           `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	// SafetyFilters maps a harm category to a block threshold.
	SafetyFilters map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// AgentConfig configures the reasoning backends. Secondary is the alternate
// backend used for replanning when the primary planner refuses or fails.
type AgentConfig struct {
	LLM       LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
	Secondary LLMModelConfig  `mapstructure:"secondary" yaml:"secondary"`
}

// PolicyConfig configures the authorization policy engine.
type PolicyConfig struct {
	DefaultMode        string   `mapstructure:"default_mode" yaml:"default_mode"`
	HighRiskCategories []string `mapstructure:"high_risk_categories" yaml:"high_risk_categories"`
	InitialScope       []string `mapstructure:"initial_scope" yaml:"initial_scope"`
}

// AutonomyConfig configures the autonomy gate.
type AutonomyConfig struct {
	DefaultLevel  string `mapstructure:"default_level" yaml:"default_level"`
	AutoApprove   bool   `mapstructure:"auto_approve" yaml:"auto_approve"`
	AuditCapacity int    `mapstructure:"audit_capacity" yaml:"audit_capacity"`
}

// ResolverConfig holds the ambiguity coefficients and confidence thresholds
// for target resolution. They are heuristics and may be tuned freely.
type ResolverConfig struct {
	BaseAmbiguity       float64 `mapstructure:"base_ambiguity" yaml:"base_ambiguity"`
	AmbiguityStep       float64 `mapstructure:"ambiguity_step" yaml:"ambiguity_step"`
	AmbiguityCap        float64 `mapstructure:"ambiguity_cap" yaml:"ambiguity_cap"`
	SpreadThreshold     float64 `mapstructure:"spread_threshold" yaml:"spread_threshold"`
	SpreadFactor        float64 `mapstructure:"spread_factor" yaml:"spread_factor"`
	NameLocationFactor  float64 `mapstructure:"name_location_factor" yaml:"name_location_factor"`
	VerifiedThreshold   float64 `mapstructure:"verified_threshold" yaml:"verified_threshold"`
	ValidatedThreshold  float64 `mapstructure:"validated_threshold" yaml:"validated_threshold"`
	SelectionThreshold  float64 `mapstructure:"selection_threshold" yaml:"selection_threshold"`
	FuzzyMatchThreshold float64 `mapstructure:"fuzzy_match_threshold" yaml:"fuzzy_match_threshold"`
	MaxCandidates       int     `mapstructure:"max_candidates" yaml:"max_candidates"`
	PresentedCandidates int     `mapstructure:"presented_candidates" yaml:"presented_candidates"`
	MaxQueries          int     `mapstructure:"max_queries" yaml:"max_queries"`
	ResultsPerQuery     int     `mapstructure:"results_per_query" yaml:"results_per_query"`
	SearchConcurrency   int     `mapstructure:"search_concurrency" yaml:"search_concurrency"`
	HistoryWindow       int     `mapstructure:"history_window" yaml:"history_window"`
}

// PlannerConfig configures task decomposition.
type PlannerConfig struct {
	MaxToolsPerSubtask   int  `mapstructure:"max_tools_per_subtask" yaml:"max_tools_per_subtask"`
	ToolMatchThreshold   int  `mapstructure:"tool_match_threshold" yaml:"tool_match_threshold"`
	SecondaryEnabled     bool `mapstructure:"secondary_enabled" yaml:"secondary_enabled"`
	ProactiveEnabled     bool `mapstructure:"proactive_enabled" yaml:"proactive_enabled"`
	HistoryContextTurns  int  `mapstructure:"history_context_turns" yaml:"history_context_turns"`
	DirectCommandEnabled bool `mapstructure:"direct_command_enabled" yaml:"direct_command_enabled"`
}

// SearchConfig configures the web search client.
type SearchConfig struct {
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
	Endpoint  string        `mapstructure:"endpoint" yaml:"endpoint"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst     int           `mapstructure:"burst" yaml:"burst"`
}

// ToolsConfig configures the tool catalog and subprocess executor.
type ToolsConfig struct {
	CatalogPath    string        `mapstructure:"catalog_path" yaml:"catalog_path"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	MaxOutputBytes int           `mapstructure:"max_output_bytes" yaml:"max_output_bytes"`
	WorkDir        string        `mapstructure:"work_dir" yaml:"work_dir"`
	// ModelCalling lets the reasoning backend pick the command and parameters
	// of a tool before direct execution is tried.
	ModelCalling bool `mapstructure:"model_calling" yaml:"model_calling"`
}

// SessionConfig bounds per-conversation state.
type SessionConfig struct {
	HistoryLimit     int `mapstructure:"history_limit" yaml:"history_limit"`
	ToolResultWindow int `mapstructure:"tool_result_window" yaml:"tool_result_window"`
}

// Answer composers.
const (
	ComposerLLM    = "llm"
	ComposerDigest = "digest"
)

// SynthesisConfig configures answer synthesis. Composer selects how gathered
// evidence becomes an answer: "llm" asks the reasoning backend and falls back
// to "digest", which renders the evidence without a model.
type SynthesisConfig struct {
	Composer         string `mapstructure:"composer" yaml:"composer"`
	MaxEvidenceChars int    `mapstructure:"max_evidence_chars" yaml:"max_evidence_chars"`
	MaxOutputChars   int    `mapstructure:"max_output_chars" yaml:"max_output_chars"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "vigil-cli")
	v.SetDefault("logger.log_file", "vigil.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Database --
	v.SetDefault("database.driver", DriverMemory)
	v.SetDefault("database.sqlite_path", "vigil.db")

	// -- Agent --
	v.SetDefault("agent.llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("agent.llm.default_powerful_model", "gemini-2.5-pro")
	v.SetDefault("agent.secondary.provider", string(ProviderGenAI))
	v.SetDefault("agent.secondary.model", "gemini-2.5-flash")
	v.SetDefault("agent.secondary.api_timeout", "60s")
	v.SetDefault("agent.secondary.temperature", 0.2)

	// -- Policy --
	v.SetDefault("policy.default_mode", "cooperative")
	v.SetDefault("policy.high_risk_categories", []string{"exploitation", "post_exploitation"})

	// -- Autonomy --
	v.SetDefault("autonomy.default_level", "copilot")
	v.SetDefault("autonomy.auto_approve", false)
	v.SetDefault("autonomy.audit_capacity", 1000)

	// -- Resolver --
	v.SetDefault("resolver.base_ambiguity", 0.3)
	v.SetDefault("resolver.ambiguity_step", 0.15)
	v.SetDefault("resolver.ambiguity_cap", 0.8)
	v.SetDefault("resolver.spread_threshold", 0.3)
	v.SetDefault("resolver.spread_factor", 0.6)
	v.SetDefault("resolver.name_location_factor", 0.7)
	v.SetDefault("resolver.verified_threshold", 0.8)
	v.SetDefault("resolver.validated_threshold", 0.3)
	v.SetDefault("resolver.selection_threshold", 0.5)
	v.SetDefault("resolver.fuzzy_match_threshold", 0.5)
	v.SetDefault("resolver.max_candidates", 5)
	v.SetDefault("resolver.presented_candidates", 3)
	v.SetDefault("resolver.max_queries", 5)
	v.SetDefault("resolver.results_per_query", 5)
	v.SetDefault("resolver.search_concurrency", 3)
	v.SetDefault("resolver.history_window", 10)

	// -- Planner --
	v.SetDefault("planner.max_tools_per_subtask", 5)
	v.SetDefault("planner.tool_match_threshold", 70)
	v.SetDefault("planner.secondary_enabled", true)
	v.SetDefault("planner.proactive_enabled", true)
	v.SetDefault("planner.history_context_turns", 3)
	v.SetDefault("planner.direct_command_enabled", true)

	// -- Search --
	v.SetDefault("search.enabled", false)
	v.SetDefault("search.endpoint", "http://localhost:8888/search")
	v.SetDefault("search.timeout", "15s")
	v.SetDefault("search.rate_limit", 1.0)
	v.SetDefault("search.burst", 1)

	// -- Tools --
	v.SetDefault("tools.default_timeout", "5m")
	v.SetDefault("tools.max_output_bytes", 1<<20)
	v.SetDefault("tools.model_calling", true)

	// -- Session --
	v.SetDefault("session.history_limit", 50)
	v.SetDefault("session.tool_result_window", 20)

	// -- Synthesis --
	v.SetDefault("synthesis.composer", ComposerLLM)
	v.SetDefault("synthesis.max_evidence_chars", 12000)
	v.SetDefault("synthesis.max_output_chars", 2000)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("database.url", "VIGIL_DATABASE_URL")
	_ = v.BindEnv("agent.secondary.api_key", "VIGIL_GEMINI_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Default model names that have no explicit entry get a Gemini REST entry.
	if cfg.AgentCfg.LLM.Models == nil {
		cfg.AgentCfg.LLM.Models = make(map[string]LLMModelConfig)
	}
	for _, name := range []string{cfg.AgentCfg.LLM.DefaultFastModel, cfg.AgentCfg.LLM.DefaultPowerfulModel} {
		if _, ok := cfg.AgentCfg.LLM.Models[name]; name != "" && !ok {
			cfg.AgentCfg.LLM.Models[name] = LLMModelConfig{
				Provider:    ProviderGemini,
				Model:       name,
				APITimeout:  2 * time.Minute,
				Temperature: 0.2,
			}
		}
	}

	// Router models without an explicit key share the Gemini key.
	if apiKey := os.Getenv("VIGIL_GEMINI_API_KEY"); apiKey != "" {
		for name, m := range cfg.AgentCfg.LLM.Models {
			if m.APIKey == "" {
				m.APIKey = apiKey
				cfg.AgentCfg.LLM.Models[name] = m
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.DatabaseCfg.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.DatabaseCfg.URL == "" {
			return fmt.Errorf("database.url is required when database.driver is %q", DriverPostgres)
		}
	default:
		return fmt.Errorf("database.driver must be one of postgres, sqlite, memory; got %q", c.DatabaseCfg.Driver)
	}
	switch strings.ToLower(c.PolicyCfg.DefaultMode) {
	case "passive", "cooperative", "simulation":
	default:
		return fmt.Errorf("policy.default_mode must be passive, cooperative or simulation; got %q", c.PolicyCfg.DefaultMode)
	}
	if c.AutonomyCfg.AuditCapacity <= 0 {
		return fmt.Errorf("autonomy.audit_capacity must be a positive integer")
	}
	if err := c.ResolverCfg.Validate(); err != nil {
		return fmt.Errorf("resolver configuration invalid: %w", err)
	}
	if c.PlannerCfg.MaxToolsPerSubtask <= 0 {
		return fmt.Errorf("planner.max_tools_per_subtask must be a positive integer")
	}
	if c.ToolsCfg.DefaultTimeout <= 0 {
		return fmt.Errorf("tools.default_timeout must be a positive duration")
	}
	switch c.SynthCfg.Composer {
	case ComposerLLM, ComposerDigest:
	default:
		return fmt.Errorf("synthesis.composer must be %q or %q; got %q", ComposerLLM, ComposerDigest, c.SynthCfg.Composer)
	}
	return nil
}

// Validate checks the resolver thresholds.
func (r *ResolverConfig) Validate() error {
	for name, val := range map[string]float64{
		"verified_threshold":  r.VerifiedThreshold,
		"validated_threshold": r.ValidatedThreshold,
		"selection_threshold": r.SelectionThreshold,
		"ambiguity_cap":       r.AmbiguityCap,
	} {
		if val < 0.0 || val > 1.0 {
			return fmt.Errorf("%s must be between 0.0 and 1.0", name)
		}
	}
	if r.MaxCandidates <= 0 {
		return fmt.Errorf("max_candidates must be greater than 0")
	}
	if r.PresentedCandidates <= 0 || r.PresentedCandidates > r.MaxCandidates {
		return fmt.Errorf("presented_candidates must be between 1 and max_candidates")
	}
	return nil
}
