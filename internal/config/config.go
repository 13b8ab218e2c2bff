package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when neither --config nor ECOMBOT_CONFIG is given.
const DefaultPath = "config.yaml"

const (
	envConfigPath = "ECOMBOT_CONFIG"
	envAddr       = "ECOMBOT_ADDR"
	envHistory    = "ECOMBOT_HISTORY"
	envLogLevel   = "ECOMBOT_LOG_LEVEL"
)

// ErrMissingCredential is returned when the model API key env var is empty.
var ErrMissingCredential = errors.New("missing api credential")

// Config represents runtime configuration for the service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Model      ModelConfig      `yaml:"model"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Prompts    PromptConfig     `yaml:"prompts"`
	History    HistoryConfig    `yaml:"history"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Log        LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	Address        string        `yaml:"address"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ModelConfig selects the chat-completion provider. The API key itself is never
// read from the file, only from the environment variable named by APIKeyEnv.
type ModelConfig struct {
	Provider    string  `yaml:"provider"`
	Name        string  `yaml:"name"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	APIKeyEnv   string  `yaml:"api_key_env"`

	APIKey string `yaml:"-"`
}

type EmbeddingConfig struct {
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`

	APIKey string `yaml:"-"`
}

type RetrievalConfig struct {
	TopK           int     `yaml:"top_k"`
	ScoreThreshold float64 `yaml:"score_threshold"`
}

// PromptConfig overrides the built-in system instructions when non-empty.
type PromptConfig struct {
	Rewrite string `yaml:"system_instruction_rewrite"`
	Answer  string `yaml:"system_instruction_answer"`
}

type HistoryConfig struct {
	Backend string `yaml:"backend"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"db_name"`
	Params   string `yaml:"params"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type DispatcherConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Address: ":8501"},
		Model: ModelConfig{
			Provider:    "groq",
			Name:        "llama-3.1-70b-versatile",
			Temperature: 0.5,
		},
		Embedding: EmbeddingConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "text-embedding-3-small",
		},
		Retrieval:  RetrievalConfig{TopK: 3},
		History:    HistoryConfig{Backend: "memory"},
		Database:   DatabaseConfig{Driver: "sqlite3", DSN: "ecombot.db"},
		Redis:      RedisConfig{Host: "127.0.0.1", Port: 6379},
		Dispatcher: DispatcherConfig{Workers: 4, QueueSize: 64},
		Log:        LogConfig{Level: "info"},
	}
}

// Load reads configuration from the provided path (defaults to ECOMBOT_CONFIG,
// then config.yaml), applies environment overrides and validates the result.
// A missing default file is not an error; a missing explicit file is.
func Load(path string) (*Config, error) {
	explicit := true
	if path == "" {
		path = os.Getenv(envConfigPath)
	}
	if path == "" {
		path = DefaultPath
		explicit = false
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	cfg := Default()
	data, err := os.ReadFile(absPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	cfg.applyEnvOverrides()

	if strings.EqualFold(cfg.Database.Driver, "sqlite3") || strings.EqualFold(cfg.Database.Driver, "sqlite") {
		if cfg.Database.DSN != "" && cfg.Database.DSN != ":memory:" && !filepath.IsAbs(cfg.Database.DSN) {
			cfg.Database.DSN = filepath.Join(filepath.Dir(absPath), cfg.Database.DSN)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv(envAddr)); v != "" {
		c.Server.Address = v
	}
	if v := strings.TrimSpace(os.Getenv(envHistory)); v != "" {
		c.History.Backend = v
	}
	if v := strings.TrimSpace(os.Getenv(envLogLevel)); v != "" {
		c.Log.Level = v
	}

	if c.Model.APIKeyEnv == "" {
		c.Model.APIKeyEnv = DefaultAPIKeyEnv(c.Model.Provider)
	}
	c.Model.APIKey = strings.TrimSpace(os.Getenv(c.Model.APIKeyEnv))

	if c.Embedding.APIKeyEnv == "" {
		c.Embedding.APIKeyEnv = "OPENAI_API_KEY"
	}
	c.Embedding.APIKey = strings.TrimSpace(os.Getenv(c.Embedding.APIKeyEnv))
}

// Validate checks that the configuration can start a server.
func (c *Config) Validate() error {
	if c.Model.Provider == "" {
		return errors.New("model.provider must be configured")
	}
	if c.Model.Name == "" {
		return errors.New("model.name must be configured")
	}
	if c.Model.APIKey == "" {
		return fmt.Errorf("%w: %s is not set", ErrMissingCredential, c.Model.APIKeyEnv)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Prompts.Answer != "" && !strings.Contains(c.Prompts.Answer, "{context}") {
		return errors.New("prompts.system_instruction_answer must reference {context}")
	}
	switch strings.ToLower(c.History.Backend) {
	case "memory", "sql", "redis":
	default:
		return fmt.Errorf("unsupported history backend: %s", c.History.Backend)
	}
	if c.Dispatcher.Workers <= 0 {
		return fmt.Errorf("dispatcher.workers must be positive, got %d", c.Dispatcher.Workers)
	}
	return nil
}

// DefaultAPIKeyEnv maps a provider to the env var its key is read from.
func DefaultAPIKeyEnv(provider string) string {
	switch strings.ToLower(provider) {
	case "openai":
		return "OPENAI_API_KEY"
	case "claude":
		return "ANTHROPIC_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	default:
		return "GROQ_API_KEY"
	}
}
