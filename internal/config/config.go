package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

type Config struct {
	ServerPort        string        `env:"METER_SERVER_PORT"        envDefault:"8990"`
	DBPath            string        `env:"METER_DB_PATH"            envDefault:"meter.db"`
	LogsDir           string        `env:"METER_LOGS_DIR"           envDefault:"logs"`
	LogLevel          string        `env:"METER_LOG_LEVEL"          envDefault:"info"`
	TablesPath        string        `env:"METER_TABLES_PATH"`
	BroadcastInterval time.Duration `env:"METER_BROADCAST_INTERVAL" envDefault:"100ms"`
	EncounterTimeout  time.Duration `env:"METER_ENCOUNTER_TIMEOUT"  envDefault:"0s"`
	StartPaused       bool          `env:"METER_START_PAUSED"       envDefault:"false"`
	AllowedOrigins    []string      `env:"METER_ALLOWED_ORIGINS"    envDefault:"*" envSeparator:","`
}

// ClientConfig configures the overlay replica process.
type ClientConfig struct {
	ServerURL          string        `env:"METER_SERVER_URL"          envDefault:"localhost:8990"`
	ReconnectThreshold time.Duration `env:"METER_RECONNECT_THRESHOLD" envDefault:"5s"`
	DetailGrace        time.Duration `env:"METER_DETAIL_GRACE"        envDefault:"200ms"`
	Tab                string        `env:"METER_TAB"                 envDefault:"dps"`
	DetailUID          int64         `env:"METER_DETAIL_UID"`
	LogLevel           string        `env:"METER_LOG_LEVEL"           envDefault:"info"`
}

func loadDotEnv(logger zerolog.Logger) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}
}

func Load(logger zerolog.Logger) (*Config, error) {
	loadDotEnv(logger)

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger.Info().
		Str("db_path", cfg.DBPath).
		Str("server_port", cfg.ServerPort).
		Str("logs_dir", cfg.LogsDir).
		Str("log_level", cfg.LogLevel).
		Dur("broadcast_interval", cfg.BroadcastInterval).
		Dur("encounter_timeout", cfg.EncounterTimeout).
		Bool("start_paused", cfg.StartPaused).
		Msg("configuration loaded")

	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.ServerPort) == "" {
		return fmt.Errorf("METER_SERVER_PORT is required")
	}
	if c.BroadcastInterval <= 0 {
		return fmt.Errorf("METER_BROADCAST_INTERVAL must be positive, got %s", c.BroadcastInterval)
	}
	if c.EncounterTimeout < 0 {
		return fmt.Errorf("METER_ENCOUNTER_TIMEOUT must not be negative, got %s", c.EncounterTimeout)
	}
	return nil
}

func LoadClient(logger zerolog.Logger) (*ClientConfig, error) {
	loadDotEnv(logger)

	cfg := &ClientConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.ReconnectThreshold <= 0 {
		return nil, fmt.Errorf("METER_RECONNECT_THRESHOLD must be positive, got %s", cfg.ReconnectThreshold)
	}
	switch cfg.Tab {
	case "dps", "heal", "tank":
	default:
		return nil, fmt.Errorf("METER_TAB must be one of dps, heal, tank, got %q", cfg.Tab)
	}

	logger.Info().
		Str("server_url", cfg.ServerURL).
		Dur("reconnect_threshold", cfg.ReconnectThreshold).
		Str("tab", cfg.Tab).
		Msg("client configuration loaded")

	return cfg, nil
}
