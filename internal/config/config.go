// Package config provides configuration for the Sundial agent core.
//
// Settings load from environment variables with the SUNDIAL_ prefix, with an
// optional YAML file overlay for deployments that prefer files. Every tunable
// of the retrieval and resolution algorithms (hybrid-score weights, merge
// threshold, decay horizon) lives here rather than in code: the original
// constants have no documented derivation and are treated as deployment
// parameters.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds all settings for the Sundial process.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	LLM       LLMConfig       `yaml:"llm"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Graph     GraphConfig     `yaml:"graph"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Decay     DecayConfig     `yaml:"decay"`
	Collab    CollabConfig    `yaml:"collaborators"`
}

// ServerConfig contains the HTTP chat-adapter settings.
type ServerConfig struct {
	Host string `env:"SUNDIAL_HOST" envDefault:"0.0.0.0" yaml:"host"`
	Port int    `env:"SUNDIAL_PORT" envDefault:"6173" yaml:"port"`

	// RateLimit is the sustained request rate per second; RateBurst the
	// maximum burst size.
	RateLimit float64 `env:"SUNDIAL_RATE_LIMIT" envDefault:"10" yaml:"rate_limit"`
	RateBurst int     `env:"SUNDIAL_RATE_BURST" envDefault:"20" yaml:"rate_burst"`

	// APIToken, when set, is required as a Bearer token on every request.
	// Empty disables authentication (local deployments).
	APIToken string `env:"SUNDIAL_API_TOKEN" yaml:"api_token"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	// Engine is "sqlite" or "postgres".
	Engine string `env:"SUNDIAL_STORAGE_ENGINE" envDefault:"sqlite" yaml:"engine"`

	// DataPath is the data directory for the sqlite backend and the
	// operator event channel.
	DataPath string `env:"SUNDIAL_DATA_PATH" envDefault:"./data" yaml:"data_path"`

	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string `env:"SUNDIAL_POSTGRES_DSN" yaml:"postgres_dsn"`
}

// LLMConfig configures the structured-output and embedding capabilities.
type LLMConfig struct {
	// Provider is "openai" or "ollama".
	Provider string `env:"SUNDIAL_LLM_PROVIDER" envDefault:"ollama" yaml:"provider"`

	OpenAIAPIKey string `env:"SUNDIAL_OPENAI_API_KEY" yaml:"openai_api_key"`
	OpenAIModel  string `env:"SUNDIAL_OPENAI_MODEL" envDefault:"gpt-4o-mini" yaml:"openai_model"`

	OllamaURL   string `env:"SUNDIAL_OLLAMA_URL" envDefault:"http://localhost:11434" yaml:"ollama_url"`
	OllamaModel string `env:"SUNDIAL_OLLAMA_MODEL" envDefault:"qwen2.5:7b" yaml:"ollama_model"`

	EmbeddingModel string `env:"SUNDIAL_EMBEDDING_MODEL" envDefault:"nomic-embed-text" yaml:"embedding_model"`

	// EmbeddingDim is the fixed embedding dimension for this deployment.
	// Every stored vector must have exactly this length.
	EmbeddingDim int `env:"SUNDIAL_EMBEDDING_DIM" envDefault:"768" yaml:"embedding_dim"`

	// EmbeddingCacheSize caps the in-process embedding cache entry count.
	EmbeddingCacheSize int64 `env:"SUNDIAL_EMBEDDING_CACHE_SIZE" envDefault:"4096" yaml:"embedding_cache_size"`

	Timeout time.Duration `env:"SUNDIAL_LLM_TIMEOUT" envDefault:"60s" yaml:"timeout"`
}

// RetrievalConfig holds the hybrid-score weights and candidate bounds.
// Score = Alpha*similarity + Beta*recency + Gamma*importance. The weights
// need not sum to 1.
type RetrievalConfig struct {
	Alpha float64 `env:"SUNDIAL_RETRIEVAL_ALPHA" envDefault:"0.5" yaml:"alpha"`
	Beta  float64 `env:"SUNDIAL_RETRIEVAL_BETA" envDefault:"0.2" yaml:"beta"`
	Gamma float64 `env:"SUNDIAL_RETRIEVAL_GAMMA" envDefault:"0.3" yaml:"gamma"`

	// HalfLife controls the recency decay: an entry this old scores 0.5
	// on the recency component.
	HalfLife time.Duration `env:"SUNDIAL_RETRIEVAL_HALF_LIFE" envDefault:"168h" yaml:"half_life"`

	// SearchK is the default result count; CandidateLimit bounds how many
	// entries are pulled for re-ranking (oversampling).
	SearchK        int `env:"SUNDIAL_RETRIEVAL_K" envDefault:"5" yaml:"search_k"`
	CandidateLimit int `env:"SUNDIAL_RETRIEVAL_CANDIDATES" envDefault:"256" yaml:"candidate_limit"`
}

// GraphConfig holds entity-resolution settings.
type GraphConfig struct {
	// MergeThreshold is the minimum name-embedding similarity at which two
	// mentions are treated as the same referent.
	MergeThreshold float64 `env:"SUNDIAL_GRAPH_MERGE_THRESHOLD" envDefault:"0.9" yaml:"merge_threshold"`
}

// SchedulerConfig holds reminder-scheduler settings.
type SchedulerConfig struct {
	Enabled      bool          `env:"SUNDIAL_SCHEDULER_ENABLE" envDefault:"true" yaml:"enabled"`
	TickInterval time.Duration `env:"SUNDIAL_SCHEDULER_TICK" envDefault:"30s" yaml:"tick_interval"`
}

// DecayConfig holds decay-cleanup settings.
type DecayConfig struct {
	CleanupInterval time.Duration `env:"SUNDIAL_DECAY_INTERVAL" envDefault:"1h" yaml:"cleanup_interval"`

	// ImportanceFloor: entries whose effective importance
	// (importance * 2^(-age/half-life)) drops below this are removed.
	ImportanceFloor float64 `env:"SUNDIAL_DECAY_FLOOR" envDefault:"0.05" yaml:"importance_floor"`

	// Inactivity is how old an entry must be before the importance floor
	// applies at all.
	Inactivity time.Duration `env:"SUNDIAL_DECAY_INACTIVITY" envDefault:"720h" yaml:"inactivity"`
}

// CollabConfig holds the read-only collaborator endpoints consumed during
// context gathering, and the shared gather timeout.
type CollabConfig struct {
	GatherTimeout time.Duration `env:"SUNDIAL_GATHER_TIMEOUT" envDefault:"2s" yaml:"gather_timeout"`

	CalendarURL string `env:"SUNDIAL_CALENDAR_URL" yaml:"calendar_url"`
	TasksURL    string `env:"SUNDIAL_TASKS_URL" yaml:"tasks_url"`
	HabitsURL   string `env:"SUNDIAL_HABITS_URL" yaml:"habits_url"`
	LocationURL string `env:"SUNDIAL_LOCATION_URL" yaml:"location_url"`
}

// Load builds the configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile builds the configuration from environment variables, then overlays
// values from a YAML file. File values win over environment values.
func LoadFile(path string) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that tag defaults cannot express.
func (c *Config) Validate() error {
	if c.Storage.Engine != "sqlite" && c.Storage.Engine != "postgres" {
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.Engine)
	}
	if c.Storage.Engine == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("config: postgres engine requires SUNDIAL_POSTGRES_DSN")
	}
	if c.LLM.EmbeddingDim <= 0 {
		return fmt.Errorf("config: embedding dimension must be positive, got %d", c.LLM.EmbeddingDim)
	}
	if c.Graph.MergeThreshold < 0 || c.Graph.MergeThreshold > 1 {
		return fmt.Errorf("config: merge threshold must be in [0,1], got %f", c.Graph.MergeThreshold)
	}
	if c.Retrieval.HalfLife <= 0 {
		return fmt.Errorf("config: retrieval half-life must be positive, got %v", c.Retrieval.HalfLife)
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("config: scheduler tick interval must be positive, got %v", c.Scheduler.TickInterval)
	}
	return nil
}
