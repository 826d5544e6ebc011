package config

import (
	"testing"

	apperrors "github.com/pocketportal/pocketportal/pkg/errors"
)

func validConfig() *Config {
	return &Config{
		HTTP:     HTTPConfig{Enabled: true, Addr: ":8080"},
		Telegram: TelegramConfig{Enabled: false},
		Models: []ModelConfig{
			{ModelID: "local-chat", BackendID: "ollama"},
		},
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"telegram without token", func(c *Config) { c.Telegram.Enabled = true }},
		{"http without addr", func(c *Config) { c.HTTP.Addr = "" }},
		{"database without dsn", func(c *Config) { c.Database.Enabled = true }},
		{"model without backend", func(c *Config) { c.Models[0].BackendID = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !apperrors.IsInvalidInput(err) {
				t.Fatalf("want INVALID_INPUT, got %v", err)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Routing.Strategy != "AUTO" {
		t.Fatalf("default strategy = %q", cfg.Routing.Strategy)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("default addr = %q", cfg.HTTP.Addr)
	}
	if len(cfg.Backends) == 0 || len(cfg.Models) == 0 {
		t.Fatal("defaults should carry a runnable backend and model set")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("POCKETPORTAL_ROUTING_STRATEGY", "SPEED")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Routing.Strategy != "SPEED" {
		t.Fatalf("env override ignored, strategy = %q", cfg.Routing.Strategy)
	}
}
