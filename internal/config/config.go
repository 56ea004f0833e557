// Tonbox - Networked NFC Music Box
// Copyright 2026 Tonbox Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tonbox/tonbox

// Package config loads the appliance configuration in three layers:
// struct defaults, an optional YAML file, then TONBOX_-prefixed
// environment variables (highest priority).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/tonbox/config.yaml",
	"/etc/tonbox/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// envPrefix namespaces all Tonbox environment variables.
const envPrefix = "TONBOX_"

// Config is the full appliance configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Audio     AudioConfig     `koanf:"audio"`
	NFC       NFCConfig       `koanf:"nfc"`
	Player    PlayerConfig    `koanf:"player"`
	Broadcast BroadcastConfig `koanf:"broadcast"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig configures the HTTP/WebSocket listener.
type ServerConfig struct {
	Host           string        `koanf:"host"`
	Port           int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout        time.Duration `koanf:"timeout"`
	CORSOrigins    []string      `koanf:"cors_origins"`
	RateLimitRPM   int           `koanf:"rate_limit_rpm" validate:"min=0"`
	MetricsEnabled bool          `koanf:"metrics_enabled"`
}

// DatabaseConfig configures the embedded SQLite store.
type DatabaseConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// AudioConfig configures the audio backend.
type AudioConfig struct {
	// Backend selects the driver: "mock" keeps the appliance silent but
	// fully functional for development.
	Backend string `koanf:"backend" validate:"oneof=mock alsa"`

	InitialVolume int `koanf:"initial_volume" validate:"min=0,max=100"`

	// PositionInterval is the position sampling cadence.
	PositionInterval time.Duration `koanf:"position_interval"`
}

// NFCConfig configures the tag reader and association sessions.
type NFCConfig struct {
	// Reader selects the driver: "mock" for development.
	Reader string `koanf:"reader" validate:"oneof=mock pn532"`

	SessionTimeout time.Duration `koanf:"session_timeout"`
	SweepInterval  time.Duration `koanf:"sweep_interval"`
}

// PlayerConfig tunes the playback coordinator.
type PlayerConfig struct {
	QueueSize int `koanf:"queue_size" validate:"min=1"`
}

// BroadcastConfig tunes the event hub.
type BroadcastConfig struct {
	IntakeSize          int           `koanf:"intake_size" validate:"min=1"`
	SendBuffer          int           `koanf:"send_buffer" validate:"min=1"`
	HistorySize         int           `koanf:"history_size" validate:"min=1"`
	RetryAttempts       int           `koanf:"retry_attempts" validate:"min=1"`
	RetryBackoff        time.Duration `koanf:"retry_backoff"`
	IdempotencyTTL      time.Duration `koanf:"idempotency_ttl"`
	IdempotencyCapacity int           `koanf:"idempotency_capacity" validate:"min=1"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Output string `koanf:"output"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			Timeout:        30 * time.Second,
			CORSOrigins:    []string{"*"},
			RateLimitRPM:   300,
			MetricsEnabled: true,
		},
		Database: DatabaseConfig{
			Path: "/data/tonbox.db",
		},
		Audio: AudioConfig{
			Backend:          "mock",
			InitialVolume:    50,
			PositionInterval: 200 * time.Millisecond,
		},
		NFC: NFCConfig{
			Reader:         "mock",
			SessionTimeout: 60 * time.Second,
			SweepInterval:  time.Second,
		},
		Player: PlayerConfig{
			QueueSize: 64,
		},
		Broadcast: BroadcastConfig{
			IntakeSize:          256,
			SendBuffer:          256,
			HistorySize:         256,
			RetryAttempts:       5,
			RetryBackoff:        100 * time.Millisecond,
			IdempotencyTTL:      10 * time.Minute,
			IdempotencyCapacity: 4096,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load builds the configuration from defaults, the config file, and the
// environment, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// TONBOX_SERVER_PORT -> server.port, TONBOX_NFC_SESSION_TIMEOUT ->
	// nfc.session_timeout, and so on.
	envProvider := env.Provider(envPrefix, ".", envTransform)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	return validator.New(validator.WithRequiredStructEnabled()).Struct(c)
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransform maps TONBOX_SECTION_FIELD_NAME to section.field_name. The
// first underscore separates the section; the rest of the key is the field.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	parts := strings.SplitN(key, "_", 2)
	if len(parts) != 2 {
		return key
	}
	return parts[0] + "." + parts[1]
}

// sliceConfigPaths lists fields parsed from comma-separated env strings.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}
