package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port            string `yaml:"port" validate:"omitempty,numeric"`
		ShutdownTimeout string `yaml:"shutdownTimeout" validate:"omitempty,duration"`
	} `yaml:"server"`
	Log struct {
		Level       string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr" validate:"omitempty,hostname_port"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db" validate:"gte=0"`
		TTL      string `yaml:"ttl" validate:"omitempty,duration"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url" validate:"omitempty,url"`
	} `yaml:"postgres"`
	Catalog struct {
		TTL  string `yaml:"ttl" validate:"omitempty,duration"`
		File string `yaml:"file"`
	} `yaml:"catalog"`
	Leaderboard struct {
		SendBuffer      int     `yaml:"sendBuffer" validate:"gte=0"`
		WriteWait       string  `yaml:"writeWait" validate:"omitempty,duration"`
		InboundRate     float64 `yaml:"inboundRate" validate:"gte=0"`
		InboundBurst    int     `yaml:"inboundBurst" validate:"gte=0"`
		RefreshInterval string  `yaml:"refreshInterval" validate:"omitempty,duration"`
		MirrorTTL       string  `yaml:"mirrorTTL" validate:"omitempty,duration"`
		IdleTimeout     string  `yaml:"idleTimeout" validate:"omitempty,duration"`
	} `yaml:"leaderboard"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})
	return v
}

// Load reads YAML config from path and validates it.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
