package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/runloom/runloom/engine/core"
)

// Config holds the engine configuration. Values load from defaults first and
// are overridden by RUNLOOM_-prefixed environment variables, e.g.
// RUNLOOM_DATABASE_DSN or RUNLOOM_REDIS_ADDR.
type Config struct {
	Log       LogConfig      `koanf:"log"`
	Database  DatabaseConfig `koanf:"database"`
	Redis     RedisConfig    `koanf:"redis"`
	Providers ProviderConfig `koanf:"providers"`
	GitHub    GitHubConfig   `koanf:"github"`
	// Agents maps a coding-agent name to the binary invoked for agent steps.
	Agents   map[string]string `koanf:"agents"`
	Defaults DefaultsConfig    `koanf:"defaults"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	JSON   bool   `koanf:"json"`
	Source bool   `koanf:"source"`
}

type DatabaseConfig struct {
	DSN string `koanf:"dsn"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type ProviderConfig struct {
	OpenAIKey    string `koanf:"openai_key"`
	AnthropicKey string `koanf:"anthropic_key"`
}

type GitHubConfig struct {
	Token string `koanf:"token"`
}

type DefaultsConfig struct {
	StepTimeout   string `koanf:"step_timeout"`
	PauseInterval string `koanf:"pause_interval"`
}

func Default() *Config {
	return &Config{
		Log:      LogConfig{Level: "info"},
		Database: DatabaseConfig{DSN: "postgres://localhost:5432/runloom?sslmode=disable"},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		Agents: map[string]string{
			"claude": "claude",
			"codex":  "codex",
		},
		Defaults: DefaultsConfig{
			StepTimeout:   "5m",
			PauseInterval: "2s",
		},
	}
}

const envPrefix = "RUNLOOM_"

// transformEnvKey maps RUNLOOM_DATABASE_DSN to database.dsn and
// RUNLOOM_PROVIDERS_OPENAI_KEY to providers.openai_key: the first segment
// selects the section, the rest stays a single snake_case field name.
func transformEnvKey(key string) string {
	key = strings.TrimPrefix(strings.ToLower(key), strings.ToLower(envPrefix))
	parts := strings.FieldsFunc(key, func(r rune) bool { return r == '_' })
	if len(parts) == 0 {
		return ""
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return parts[0] + "." + strings.Join(parts[1:], "_")
}

func Load() (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading config defaults: %w", err)
	}
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return transformEnvKey(key), value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("loading config environment: %w", err)
	}
	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// StepTimeout returns the default step timeout as a duration.
func (c *Config) StepTimeout() time.Duration {
	d, err := core.ParseHumanDuration(c.Defaults.StepTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// PauseInterval returns how often a paused run is re-checked at a step
// boundary.
func (c *Config) PauseInterval() time.Duration {
	d, err := core.ParseHumanDuration(c.Defaults.PauseInterval)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}
