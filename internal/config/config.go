package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port   string  `yaml:"port"`
	DBPath string  `yaml:"db_path"`
	Log    Logging `yaml:"log"`
	Jobs   Jobs    `yaml:"jobs"`
	Breeze Breeze  `yaml:"breeze"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Jobs struct {
	Source                 string `yaml:"source"`
	MaxParallelChunks      int    `yaml:"max_parallel_chunks"`
	BatchPauseMS           int    `yaml:"batch_pause_ms"`
	MaxAgeHours            int    `yaml:"max_age_hours"`
	CleanupIntervalMinutes int    `yaml:"cleanup_interval_minutes"`
}

type Breeze struct {
	APIKey          string  `yaml:"api_key"`
	SessionToken    string  `yaml:"session_token"`
	BaseURL         string  `yaml:"base_url"`
	RequestsPerSec  int     `yaml:"requests_per_sec"`
	MaxRetrySeconds int     `yaml:"max_retry_seconds"`
}

func defaults() Config {
	return Config{
		Port:   "8080",
		DBPath: "tradedesk.db",
		Log:    Logging{Level: "info", Format: "text"},
		Jobs: Jobs{
			Source:                 "breeze",
			MaxParallelChunks:      10,
			BatchPauseMS:           100,
			MaxAgeHours:            24,
			CleanupIntervalMinutes: 30,
		},
		Breeze: Breeze{
			RequestsPerSec:  5,
			MaxRetrySeconds: 30,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file named
// by CONFIG_FILE, and environment variables, in increasing priority. A .env
// file in the working directory is loaded into the environment first.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("config: could not read .env", "error", err)
	}

	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	cfg.Jobs.Source = getEnv("HISTORY_SOURCE", cfg.Jobs.Source)
	cfg.Jobs.MaxParallelChunks = getEnvInt("MAX_PARALLEL_CHUNKS", cfg.Jobs.MaxParallelChunks)
	cfg.Jobs.BatchPauseMS = getEnvInt("BATCH_PAUSE_MS", cfg.Jobs.BatchPauseMS)
	cfg.Jobs.MaxAgeHours = getEnvInt("JOB_MAX_AGE_HOURS", cfg.Jobs.MaxAgeHours)
	cfg.Jobs.CleanupIntervalMinutes = getEnvInt("CLEANUP_INTERVAL_MINUTES", cfg.Jobs.CleanupIntervalMinutes)

	cfg.Breeze.APIKey = getEnv("BREEZE_API_KEY", cfg.Breeze.APIKey)
	cfg.Breeze.SessionToken = getEnv("BREEZE_SESSION_TOKEN", cfg.Breeze.SessionToken)
	cfg.Breeze.BaseURL = getEnv("BREEZE_BASE_URL", cfg.Breeze.BaseURL)
	cfg.Breeze.RequestsPerSec = getEnvInt("BREEZE_REQUESTS_PER_SEC", cfg.Breeze.RequestsPerSec)
	cfg.Breeze.MaxRetrySeconds = getEnvInt("BREEZE_MAX_RETRY_SECONDS", cfg.Breeze.MaxRetrySeconds)
}

func (c Config) validate() error {
	if c.Jobs.MaxParallelChunks <= 0 {
		return errors.New("config: max parallel chunks must be positive")
	}
	if c.Jobs.Source == "" {
		return errors.New("config: history source is required")
	}
	return nil
}

func (j Jobs) BatchPause() time.Duration {
	return time.Duration(j.BatchPauseMS) * time.Millisecond
}

func (j Jobs) MaxAge() time.Duration {
	return time.Duration(j.MaxAgeHours) * time.Hour
}

func (j Jobs) CleanupInterval() time.Duration {
	return time.Duration(j.CleanupIntervalMinutes) * time.Minute
}

func (b Breeze) MaxRetry() time.Duration {
	return time.Duration(b.MaxRetrySeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return fallback
		}
		n = n*10 + int(c-'0')
	}
	return n
}
