// Package config handles application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	DatabasePath     string
	LogLevel         string
	HTTPAddr         string
	SourcesFile      string
	AllowedUsers     []int64

	RefreshInterval time.Duration
	SchedulerTick   time.Duration
	StartupDelay    time.Duration
	FetchTimeout    time.Duration
	PolitenessDelay time.Duration
	FetchRetries    int

	CacheTTL           time.Duration
	CacheMaxEntries    int
	CacheSweepInterval time.Duration
	PrewarmDelay       time.Duration
	PrewarmSpacing     time.Duration
}

// Load reads configuration from environment variables, after loading a
// .env file from the working directory when one exists.
func Load() (*Config, error) {
	return LoadWithEnvFile(".env")
}

// LoadWithEnvFile is Load with an explicit dotenv path. Variables already
// set in the environment win over the file.
func LoadWithEnvFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	cfg := &Config{
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		DatabasePath:     envString("DATABASE_PATH", "./data/kb.db"),
		LogLevel:         envString("LOG_LEVEL", "info"),
		HTTPAddr:         envString("HTTP_ADDR", ":8080"),
		SourcesFile:      envString("SOURCES_FILE", "./sources.yaml"),
	}

	var errs []error
	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"REFRESH_INTERVAL", 48 * time.Hour, &cfg.RefreshInterval},
		{"SCHEDULER_TICK", 6 * time.Hour, &cfg.SchedulerTick},
		{"STARTUP_DELAY", 5 * time.Second, &cfg.StartupDelay},
		{"FETCH_TIMEOUT", 8 * time.Second, &cfg.FetchTimeout},
		{"POLITENESS_DELAY", 2 * time.Second, &cfg.PolitenessDelay},
		{"CACHE_TTL", 30 * time.Minute, &cfg.CacheTTL},
		{"CACHE_SWEEP_INTERVAL", 10 * time.Minute, &cfg.CacheSweepInterval},
		{"PREWARM_DELAY", 10 * time.Second, &cfg.PrewarmDelay},
		{"PREWARM_SPACING", 500 * time.Millisecond, &cfg.PrewarmSpacing},
	}
	for _, d := range durations {
		v, err := envDuration(d.key, d.def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*d.dest = v
	}

	ints := []struct {
		key  string
		def  int
		dest *int
	}{
		{"FETCH_RETRIES", 2, &cfg.FetchRetries},
		{"CACHE_MAX_ENTRIES", 1000, &cfg.CacheMaxEntries},
	}
	for _, n := range ints {
		v, err := envInt(n.key, n.def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*n.dest = v
	}

	users, err := parseUsers(os.Getenv("ALLOWED_USERS"))
	if err != nil {
		errs = append(errs, err)
	}
	cfg.AllowedUsers = users

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: negative duration", key, raw)
	}
	return d, nil
}

func envInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s %q: negative value", key, raw)
	}
	return n, nil
}

func parseUsers(raw string) ([]int64, error) {
	var allowedUsers []int64
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		uid, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
		}
		allowedUsers = append(allowedUsers, uid)
	}
	return allowedUsers, nil
}

// BotEnabled reports whether a Telegram token was configured.
func (c *Config) BotEnabled() bool {
	return c.TelegramBotToken != ""
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}
