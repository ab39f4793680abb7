// Package config loads runtime settings from the environment and the survey
// definition from YAML.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Addr          string `env:"SCREENER_ADDR" envDefault:":8080"`
	DBPath        string `env:"SCREENER_DB_PATH" envDefault:"screener.db"`
	MigrationsDir string `env:"SCREENER_MIGRATIONS_DIR"`
	SurveyPath    string `env:"SCREENER_SURVEY_PATH"`

	// Platform selects the workspace client: "rest" for a live workspace,
	// "memory" for dry runs without credentials.
	Platform          string  `env:"SCREENER_PLATFORM" envDefault:"memory"`
	PlatformURL       string  `env:"SCREENER_PLATFORM_URL"`
	PlatformToken     string  `env:"SCREENER_PLATFORM_TOKEN"`
	WorkspaceID       string  `env:"SCREENER_WORKSPACE_ID"`
	ActorName         string  `env:"SCREENER_ACTOR" envDefault:"screener-bot"`
	RequestsPerSecond float64 `env:"SCREENER_PLATFORM_RPS" envDefault:"5"`

	WelcomeChannel    string        `env:"SCREENER_WELCOME_CHANNEL" envDefault:"general"`
	JoinDelay         time.Duration `env:"SCREENER_JOIN_DELAY" envDefault:"1s"`
	ReconcileInterval time.Duration `env:"SCREENER_RECONCILE_INTERVAL" envDefault:"30m"`

	// AdminPasswordHash is a bcrypt hash checked by the admin login endpoint.
	AdminPasswordHash string `env:"SCREENER_ADMIN_PASSWORD_HASH"`
	// EventSecret authenticates the gateway relay posting platform events.
	EventSecret string `env:"SCREENER_EVENT_SECRET"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Platform == "rest" {
		if cfg.PlatformURL == "" || cfg.PlatformToken == "" || cfg.WorkspaceID == "" {
			return nil, fmt.Errorf("rest platform requires SCREENER_PLATFORM_URL, SCREENER_PLATFORM_TOKEN and SCREENER_WORKSPACE_ID")
		}
	}
	return &cfg, nil
}
