package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/logging"
	"github.com/hupe1980/agentrun/prompt"
)

// Model providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"
)

// Storage types.
const (
	StorageNone     = "none"
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageMySQL    = "mysql"
	StorageRedis    = "redis"
)

// Knowledge types.
const (
	KnowledgeNone    = "none"
	KnowledgeMemory  = "memory"
	KnowledgeChromem = "chromem"
)

// Config is the file representation of an agent deployment.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Model     ModelConfig     `yaml:"model"`
	Storage   StorageConfig   `yaml:"storage"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Agent     AgentConfig     `yaml:"agent"`
	Runner    RunnerConfig    `yaml:"runner"`
}

// LoggingConfig configures the RunLogger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"` // json or text
	AddSource bool   `yaml:"add_source"`
}

// ModelConfig selects and configures the model gateway.
type ModelConfig struct {
	Provider     string   `yaml:"provider"`
	Name         string   `yaml:"name"`
	APIKey       string   `yaml:"api_key"`
	BaseURL      string   `yaml:"base_url"`
	Temperature  *float64 `yaml:"temperature"`
	MaxTokens    int64    `yaml:"max_tokens"`
	Instructions []string `yaml:"instructions"`
	Preamble     string   `yaml:"preamble"`
}

// StorageConfig selects the session storage adapter.
type StorageConfig struct {
	Type  string      `yaml:"type"`
	DSN   string      `yaml:"dsn"`
	Table string      `yaml:"table"`
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the redis adapter.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// KnowledgeConfig selects the knowledge retriever and its seed documents.
type KnowledgeConfig struct {
	Type        string          `yaml:"type"`
	Collection  string          `yaml:"collection"`
	PersistPath string          `yaml:"persist_path"`
	Compress    bool            `yaml:"compress"`
	Documents   []core.Document `yaml:"documents"`
}

// MetricsConfig enables the Prometheus recorder.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// RunnerConfig configures the multi-session runner.
type RunnerConfig struct {
	MaxConcurrentRuns int64 `yaml:"max_concurrent_runs"`
}

// AgentConfig mirrors the agent options that make sense in a file. Pointer
// fields distinguish "unset" from an explicit zero.
type AgentConfig struct {
	Name        string         `yaml:"name"`
	UserID      string         `yaml:"user_id"`
	OwnerID     string         `yaml:"owner_id"`
	Metadata    map[string]any `yaml:"metadata"`
	Description string         `yaml:"description"`

	SystemPrompt         string   `yaml:"system_prompt"`
	SystemPromptTemplate string   `yaml:"system_prompt_template"`
	UserPromptTemplate   string   `yaml:"user_prompt_template"`
	Instructions         []string `yaml:"instructions"`
	ExtraInstructions    []string `yaml:"extra_instructions"`
	AddToSystemPrompt    string   `yaml:"add_to_system_prompt"`
	Rules                []string `yaml:"rules"`
	DomainKnowledge      string   `yaml:"domain_knowledge"`
	Followups            []string `yaml:"followups"`

	AddKnowledgeBaseInstructions bool `yaml:"add_knowledge_base_instructions"`
	PreventPromptInjection       bool `yaml:"prevent_prompt_injection"`
	PreventHallucinations        bool `yaml:"prevent_hallucinations"`
	LimitToolAccess              bool `yaml:"limit_tool_access"`
	Markdown                     bool `yaml:"markdown"`
	AddDatetime                  bool `yaml:"add_datetime"`
	AddReferencesToPrompt        bool `yaml:"add_references_to_prompt"`
	AddChatHistoryToPrompt       bool `yaml:"add_chat_history_to_prompt"`

	ReferencesFormat string `yaml:"references_format"`

	ToolCallLimit        *int  `yaml:"tool_call_limit"`
	MaxParallelTools     *int  `yaml:"max_parallel_tools"`
	AddHistoryToMessages *bool `yaml:"add_history_to_messages"`
	HistoryMessages      *int  `yaml:"history_messages"`
	HistoryTokenLimit    int   `yaml:"history_token_limit"`
	NumReferences        *int  `yaml:"num_references"`

	ReadChatHistoryTool     bool `yaml:"read_chat_history_tool"`
	ReadToolCallHistoryTool bool `yaml:"read_tool_call_history_tool"`
	SearchKnowledgeTool     bool `yaml:"search_knowledge_tool"`
	UpdateKnowledgeTool     bool `yaml:"update_knowledge_tool"`

	// OutputFields enables structured output with a plain field list.
	OutputFields []string `yaml:"output_fields"`
}

// Load reads a YAML config file. .env files next to the file and in the
// working directory are loaded first, then ${VAR} and ${VAR:-default}
// references in the file are expanded.
func Load(path string) (*Config, error) {
	if err := LoadDotEnvForConfig(path); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Model.Provider == "" {
		c.Model.Provider = ProviderMock
	}
	if c.Storage.Type == "" {
		c.Storage.Type = StorageMemory
	}
	if c.Knowledge.Type == "" {
		c.Knowledge.Type = KnowledgeNone
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "agentrun"
	}
	if c.Runner.MaxConcurrentRuns == 0 {
		c.Runner.MaxConcurrentRuns = 10
	}
	if c.Agent.ReferencesFormat == "" {
		c.Agent.ReferencesFormat = string(prompt.ReferencesJSON)
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		errs = append(errs, fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format))
	}

	switch c.Model.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderMock:
	default:
		errs = append(errs, fmt.Errorf("unknown model provider %q", c.Model.Provider))
	}

	switch c.Storage.Type {
	case StorageNone, StorageMemory:
	case StorageSQLite, StoragePostgres, StorageMySQL:
		if c.Storage.DSN == "" {
			errs = append(errs, fmt.Errorf("storage.dsn is required for %s", c.Storage.Type))
		}
	case StorageRedis:
		if c.Storage.Redis.Address == "" {
			errs = append(errs, errors.New("storage.redis.address is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage type %q", c.Storage.Type))
	}

	switch c.Knowledge.Type {
	case KnowledgeNone, KnowledgeMemory, KnowledgeChromem:
	default:
		errs = append(errs, fmt.Errorf("unknown knowledge type %q", c.Knowledge.Type))
	}

	a := c.Agent
	if a.ToolCallLimit != nil && *a.ToolCallLimit < core.UnlimitedToolCalls {
		errs = append(errs, fmt.Errorf("agent.tool_call_limit must be >= -1, got %d", *a.ToolCallLimit))
	}
	if a.HistoryMessages != nil && *a.HistoryMessages < 0 {
		errs = append(errs, errors.New("agent.history_messages must not be negative"))
	}
	switch prompt.ReferencesFormat(a.ReferencesFormat) {
	case prompt.ReferencesJSON, prompt.ReferencesYAML:
	default:
		errs = append(errs, fmt.Errorf("unknown agent.references_format %q", a.ReferencesFormat))
	}
	needsKnowledge := a.AddReferencesToPrompt || a.SearchKnowledgeTool || a.UpdateKnowledgeTool
	if needsKnowledge && c.Knowledge.Type == KnowledgeNone {
		errs = append(errs, errors.New("agent knowledge features require a knowledge type"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", core.ErrInvalidConfig, err)
	}
	return nil
}
