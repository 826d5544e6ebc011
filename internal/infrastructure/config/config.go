// Package config loads layered configuration: built-in defaults, the
// global ~/.pocketportal/config.yaml, a local ./config.yaml, then
// POCKETPORTAL_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "github.com/pocketportal/pocketportal/pkg/errors"
)

// Config is the full runtime configuration tree.
type Config struct {
	Log          LogConfig          `mapstructure:"log"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	Routing      RoutingConfig      `mapstructure:"routing"`
	Engine       EngineConfig       `mapstructure:"engine"`
	Context      ContextConfig      `mapstructure:"context"`
	Confirmation ConfirmationConfig `mapstructure:"confirmation"`
	Events       EventsConfig       `mapstructure:"events"`
	Prompts      PromptsConfig      `mapstructure:"prompts"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Backends     []BackendConfig    `mapstructure:"backends"`
	Models       []ModelConfig      `mapstructure:"models"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
}

type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type TelegramConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Token        string  `mapstructure:"token"`
	AllowedUsers []int64 `mapstructure:"allowed_users"`
}

type RoutingConfig struct {
	Strategy    string              `mapstructure:"strategy"`
	MaxCost     float64             `mapstructure:"max_cost"`
	Preferences map[string][]string `mapstructure:"preferences"`
}

type EngineConfig struct {
	GenerateTimeout  time.Duration `mapstructure:"generate_timeout"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	OpenDuration     time.Duration `mapstructure:"open_duration"`
	AvailabilityTTL  time.Duration `mapstructure:"availability_ttl"`
	MaxTokens        int           `mapstructure:"max_tokens"`
	Temperature      float64       `mapstructure:"temperature"`
}

type ContextConfig struct {
	MaxMessages int `mapstructure:"max_messages"`
}

type ConfirmationConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type EventsConfig struct {
	JournalEnabled  bool   `mapstructure:"journal_enabled"`
	JournalPath     string `mapstructure:"journal_path"`
	JournalMaxBytes int64  `mapstructure:"journal_max_bytes"`
}

type PromptsConfig struct {
	Dir       string `mapstructure:"dir"`
	HotReload bool   `mapstructure:"hot_reload"`
}

type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Driver  string `mapstructure:"driver"`
	DSN     string `mapstructure:"dsn"`
}

// BackendConfig declares one backend adapter instance.
type BackendConfig struct {
	ID      string `mapstructure:"id"`
	Type    string `mapstructure:"type"` // lmstudio, ollama, openai, anthropic
	BaseURL string `mapstructure:"base_url"`
}

// ModelConfig declares one routable model.
type ModelConfig struct {
	ModelID       string   `mapstructure:"model_id"`
	DisplayName   string   `mapstructure:"display_name"`
	BackendID     string   `mapstructure:"backend_id"`
	APIModelName  string   `mapstructure:"api_model_name"`
	Capabilities  []string `mapstructure:"capabilities"`
	SpeedClass    string   `mapstructure:"speed_class"`
	ParameterSize string   `mapstructure:"parameter_size"`
	ContextWindow int      `mapstructure:"context_window"`
	Cost          float64  `mapstructure:"cost"`
	QualityScore  float64  `mapstructure:"quality_score"`
}

// Load reads the layered configuration.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".pocketportal"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("POCKETPORTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Missing config files are fine; defaults plus env carry a
	// runnable local setup.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "read config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "parse config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the gateway cannot start with.
func (c *Config) Validate() error {
	if c.Telegram.Enabled && c.Telegram.Token == "" {
		return apperrors.NewInvalidInputError("telegram.enabled requires telegram.token")
	}
	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		return apperrors.NewInvalidInputError("http.enabled requires http.addr")
	}
	if c.Database.Enabled && c.Database.DSN == "" {
		return apperrors.NewInvalidInputError("database.enabled requires database.dsn")
	}
	for i, m := range c.Models {
		if m.ModelID == "" || m.BackendID == "" {
			return apperrors.NewInvalidInputError(fmt.Sprintf("models[%d] needs model_id and backend_id", i))
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.addr", ":8080")

	v.SetDefault("telegram.enabled", false)

	v.SetDefault("routing.strategy", "AUTO")
	v.SetDefault("routing.max_cost", 1.0)

	v.SetDefault("engine.generate_timeout", "60s")
	v.SetDefault("engine.failure_threshold", 5)
	v.SetDefault("engine.open_duration", "30s")
	v.SetDefault("engine.availability_ttl", "1s")
	v.SetDefault("engine.max_tokens", 2048)
	v.SetDefault("engine.temperature", 0.7)

	v.SetDefault("context.max_messages", 50)
	v.SetDefault("confirmation.timeout", "300s")

	v.SetDefault("events.journal_enabled", false)
	v.SetDefault("events.journal_path", "events.jsonl")
	v.SetDefault("events.journal_max_bytes", 16<<20)

	v.SetDefault("prompts.dir", "assets/prompts")
	v.SetDefault("prompts.hot_reload", false)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "pocketportal.db")

	v.SetDefault("backends", []map[string]any{
		{"id": "ollama", "type": "ollama"},
		{"id": "lmstudio", "type": "lmstudio"},
	})
	v.SetDefault("models", []map[string]any{
		{
			"model_id": "local-chat", "display_name": "local-chat",
			"backend_id": "ollama", "api_model_name": "llama3.2",
			"capabilities": []string{"GENERAL", "SPEED"}, "speed_class": "FAST",
			"context_window": 8192, "cost": 0.0, "quality_score": 0.6,
		},
		{
			"model_id": "local-code", "display_name": "local-code",
			"backend_id": "lmstudio", "api_model_name": "qwen2.5-coder",
			"capabilities": []string{"CODE", "GENERAL"}, "speed_class": "BALANCED",
			"context_window": 32768, "cost": 0.0, "quality_score": 0.75,
		},
	})
}
