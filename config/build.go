package config

import (
	"context"
	"fmt"
	"os"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/agentrun/agent"
	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/knowledge"
	"github.com/hupe1980/agentrun/knowledge/chromem"
	"github.com/hupe1980/agentrun/logging"
	"github.com/hupe1980/agentrun/metrics"
	"github.com/hupe1980/agentrun/model"
	"github.com/hupe1980/agentrun/model/anthropic"
	"github.com/hupe1980/agentrun/model/openai"
	"github.com/hupe1980/agentrun/output"
	"github.com/hupe1980/agentrun/prompt"
	"github.com/hupe1980/agentrun/session"
	"github.com/hupe1980/agentrun/storage/redisstore"
	"github.com/hupe1980/agentrun/storage/sqlstore"
	"github.com/hupe1980/agentrun/tokens"
)

// Components are the collaborators built from a Config.
type Components struct {
	Logger    logging.Logger
	Model     model.Model
	Storage   core.StorageAdapter
	Knowledge core.KnowledgeRetriever
	Metrics   metrics.Recorder
}

// Build constructs every component of the config.
func (c *Config) Build(ctx context.Context) (*Components, error) {
	logger, err := c.NewLogger()
	if err != nil {
		return nil, err
	}
	m, err := c.NewModel()
	if err != nil {
		return nil, err
	}
	store, err := c.NewStorage(ctx)
	if err != nil {
		return nil, err
	}
	kb, err := c.NewKnowledge(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := c.NewMetrics(nil)
	if err != nil {
		return nil, err
	}
	return &Components{Logger: logger, Model: m, Storage: store, Knowledge: kb, Metrics: rec}, nil
}

// NewLogger builds a RunLogger writing to stderr.
func (c *Config) NewLogger() (*logging.RunLogger, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    c.Logging.Format,
		Output:    os.Stderr,
		AddSource: c.Logging.AddSource,
	}), nil
}

// NewModel builds the configured model gateway.
func (c *Config) NewModel() (model.Model, error) {
	mc := c.Model
	switch mc.Provider {
	case ProviderOpenAI:
		return openai.NewModel(func(o *openai.Options) {
			if mc.Name != "" {
				o.Model = mc.Name
			}
			if mc.Temperature != nil {
				o.Temperature = *mc.Temperature
			}
			if mc.MaxTokens > 0 {
				o.MaxCompletionTokens = mc.MaxTokens
			}
			o.APIKey = mc.APIKey
			o.BaseURL = mc.BaseURL
			o.Instructions = mc.Instructions
		}), nil
	case ProviderAnthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			if mc.Name != "" {
				o.Model = anthropicsdk.Model(mc.Name)
			}
			if mc.Temperature != nil {
				o.Temperature = *mc.Temperature
			}
			if mc.MaxTokens > 0 {
				o.MaxTokens = mc.MaxTokens
			}
			o.APIKey = mc.APIKey
			o.BaseURL = mc.BaseURL
			o.Preamble = mc.Preamble
		}), nil
	case ProviderMock:
		name := mc.Name
		if name == "" {
			name = "mock"
		}
		return model.NewMockModel(name, ProviderMock), nil
	}
	return nil, fmt.Errorf("%w: unknown model provider %q", core.ErrInvalidConfig, mc.Provider)
}

// NewStorage opens the configured storage adapter and prepares its backing
// store. StorageNone returns nil.
func (c *Config) NewStorage(ctx context.Context) (core.StorageAdapter, error) {
	sc := c.Storage

	var (
		store core.StorageAdapter
		err   error
	)
	switch sc.Type {
	case StorageNone:
		return nil, nil
	case StorageMemory:
		return session.NewInMemoryStore(), nil
	case StorageSQLite, StoragePostgres, StorageMySQL:
		store, err = sqlstore.Open(ctx, sc.Type, sc.DSN, func(o *sqlstore.Options) {
			if sc.Table != "" {
				o.Table = sc.Table
			}
		})
	case StorageRedis:
		store, err = redisstore.NewFromConfig(ctx, redisstore.Config{
			Address:  sc.Redis.Address,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
			Prefix:   sc.Redis.Prefix,
		})
	default:
		return nil, fmt.Errorf("%w: unknown storage type %q", core.ErrInvalidConfig, sc.Type)
	}
	if err != nil {
		return nil, err
	}

	if err := store.Create(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare %s storage: %w", sc.Type, err)
	}
	return store, nil
}

// NewKnowledge builds the configured retriever seeded with the configured
// documents. KnowledgeNone returns nil.
func (c *Config) NewKnowledge(ctx context.Context) (core.KnowledgeRetriever, error) {
	kc := c.Knowledge
	switch kc.Type {
	case KnowledgeNone:
		return nil, nil
	case KnowledgeMemory:
		return knowledge.NewInMemoryRetriever(kc.Documents...), nil
	case KnowledgeChromem:
		r, err := chromem.New(func(o *chromem.Options) {
			if kc.Collection != "" {
				o.Collection = kc.Collection
			}
			o.PersistPath = kc.PersistPath
			o.Compress = kc.Compress
		})
		if err != nil {
			return nil, err
		}
		if len(kc.Documents) > 0 {
			if err := r.Add(ctx, kc.Documents...); err != nil {
				return nil, fmt.Errorf("failed to seed knowledge: %w", err)
			}
		}
		return r, nil
	}
	return nil, fmt.Errorf("%w: unknown knowledge type %q", core.ErrInvalidConfig, kc.Type)
}

// NewMetrics returns a Prometheus recorder when metrics are enabled. A nil
// registerer selects the default one.
func (c *Config) NewMetrics(reg prometheus.Registerer) (metrics.Recorder, error) {
	if !c.Metrics.Enabled {
		return metrics.NoOpRecorder{}, nil
	}
	return metrics.NewPrometheusRecorder(func(o *metrics.Options) {
		o.Namespace = c.Metrics.Namespace
		if reg != nil {
			o.Registerer = reg
		}
	})
}

// PromptConfig returns the prompt settings of the agent section.
func (c *Config) PromptConfig() prompt.Config {
	a := c.Agent
	return prompt.Config{
		SystemPrompt:                 a.SystemPrompt,
		SystemPromptTemplate:         a.SystemPromptTemplate,
		UserPromptTemplate:           a.UserPromptTemplate,
		Description:                  a.Description,
		Instructions:                 a.Instructions,
		ExtraInstructions:            a.ExtraInstructions,
		AddToSystemPrompt:            a.AddToSystemPrompt,
		Rules:                        a.Rules,
		DomainKnowledge:              a.DomainKnowledge,
		Followups:                    a.Followups,
		AddKnowledgeBaseInstructions: a.AddKnowledgeBaseInstructions,
		PreventPromptInjection:       a.PreventPromptInjection,
		PreventHallucinations:        a.PreventHallucinations,
		LimitToolAccess:              a.LimitToolAccess,
		Markdown:                     a.Markdown,
		AddDatetime:                  a.AddDatetime,
		AddReferencesToPrompt:        a.AddReferencesToPrompt,
		AddChatHistoryToPrompt:       a.AddChatHistoryToPrompt,
		ReferencesFormat:             prompt.ReferencesFormat(a.ReferencesFormat),
	}
}

// AgentOptions returns an option applying the agent section and the built
// components. Apply it before options that register tools or bind a session.
func (c *Config) AgentOptions(comp *Components) func(o *agent.Options) {
	a := c.Agent
	return func(o *agent.Options) {
		o.Name = a.Name
		o.UserID = a.UserID
		o.OwnerID = a.OwnerID
		o.Metadata = a.Metadata
		o.Prompt = c.PromptConfig()

		if a.ToolCallLimit != nil {
			o.ToolCallLimit = *a.ToolCallLimit
		}
		if a.MaxParallelTools != nil {
			o.MaxParallelTools = *a.MaxParallelTools
		}
		if a.AddHistoryToMessages != nil {
			o.AddHistoryToMessages = *a.AddHistoryToMessages
		}
		if a.HistoryMessages != nil {
			o.HistoryMessages = *a.HistoryMessages
		}
		if a.NumReferences != nil {
			o.NumReferences = *a.NumReferences
		}
		o.HistoryTokenLimit = a.HistoryTokenLimit
		if a.HistoryTokenLimit > 0 {
			o.TokenCounter = tokens.NewTiktoken(c.Model.Name)
		}

		o.ReadChatHistoryTool = a.ReadChatHistoryTool
		o.ReadToolCallHistoryTool = a.ReadToolCallHistoryTool
		o.SearchKnowledgeTool = a.SearchKnowledgeTool
		o.UpdateKnowledgeTool = a.UpdateKnowledgeTool

		if len(a.OutputFields) > 0 {
			o.OutputSchema = output.FieldsSchema(a.OutputFields...)
		}

		if comp != nil {
			o.Logger = comp.Logger
			o.Storage = comp.Storage
			o.Knowledge = comp.Knowledge
			o.Metrics = comp.Metrics
		}
	}
}

// NewAgent builds an agent for sessionID from the components.
func (c *Config) NewAgent(comp *Components, sessionID string, optFns ...func(o *agent.Options)) (*agent.Agent, error) {
	opts := append([]func(o *agent.Options){c.AgentOptions(comp), agent.WithSessionID(sessionID)}, optFns...)
	return agent.New(comp.Model, opts...)
}
