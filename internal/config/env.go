// Package config handles environment-based configuration loading.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// EnvConfig holds all environment-variable-driven settings.
type EnvConfig struct {
	// Directories
	StateDir string

	// Network
	ListenAddress string
	Port          int

	// Auth
	AdminToken string

	// Fleet
	Workers     int
	MaxInFlight int

	// Scheduling
	TickInterval time.Duration
	SyncInterval time.Duration

	// Probing
	DefaultTimeout    time.Duration
	RecordRetries     int
	RequireAliveMatch bool

	// Retention
	ResultPruneSchedule string
	ResultKeepPerPair   int

	// Ingestion
	ChecksFile string
}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error if any value is invalid; all problems are reported at once.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	cfg.StateDir = envStr("PROXYVET_STATE_DIR", "/var/lib/proxyvet")
	cfg.ListenAddress = strings.TrimSpace(envStr("PROXYVET_LISTEN_ADDRESS", "0.0.0.0"))
	cfg.Port = envInt("PROXYVET_PORT", 3300, &errs)

	cfg.AdminToken = envStr("PROXYVET_ADMIN_TOKEN", "")

	cfg.Workers = envInt("PROXYVET_WORKERS", 5, &errs)
	cfg.MaxInFlight = envInt("PROXYVET_MAX_IN_FLIGHT", 50, &errs)

	cfg.TickInterval = envDuration("PROXYVET_TICK_INTERVAL", 500*time.Millisecond, &errs)
	cfg.SyncInterval = envDuration("PROXYVET_SYNC_INTERVAL", 30*time.Second, &errs)

	cfg.DefaultTimeout = envDuration("PROXYVET_DEFAULT_TIMEOUT", 2*time.Second, &errs)
	cfg.RecordRetries = envInt("PROXYVET_RECORD_RETRIES", 3, &errs)
	cfg.RequireAliveMatch = envBool("PROXYVET_REQUIRE_ALIVE_MATCH", false, &errs)

	cfg.ResultPruneSchedule = envStr("PROXYVET_RESULT_PRUNE_SCHEDULE", "0 */6 * * *")
	cfg.ResultKeepPerPair = envInt("PROXYVET_RESULT_KEEP_PER_PAIR", 20, &errs)

	cfg.ChecksFile = envStr("PROXYVET_CHECKS_FILE", "")

	// --- Validation ---
	if cfg.ListenAddress == "" {
		errs = append(errs, "PROXYVET_LISTEN_ADDRESS must not be empty")
	}
	validatePort("PROXYVET_PORT", cfg.Port, &errs)
	validatePositive("PROXYVET_WORKERS", cfg.Workers, &errs)
	validatePositive("PROXYVET_MAX_IN_FLIGHT", cfg.MaxInFlight, &errs)
	validatePositive("PROXYVET_RECORD_RETRIES", cfg.RecordRetries, &errs)
	validatePositive("PROXYVET_RESULT_KEEP_PER_PAIR", cfg.ResultKeepPerPair, &errs)
	if cfg.TickInterval <= 0 {
		errs = append(errs, "PROXYVET_TICK_INTERVAL must be positive")
	}
	if cfg.SyncInterval <= 0 {
		errs = append(errs, "PROXYVET_SYNC_INTERVAL must be positive")
	}
	if cfg.DefaultTimeout <= 0 {
		errs = append(errs, "PROXYVET_DEFAULT_TIMEOUT must be positive")
	}
	if _, err := cron.ParseStandard(cfg.ResultPruneSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("PROXYVET_RESULT_PRUNE_SCHEDULE: invalid cron expression %q: %v", cfg.ResultPruneSchedule, err))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func envBool(key string, defaultVal bool, errs *[]string) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid boolean %q", key, v))
		return defaultVal
	}
	return b
}

func validatePort(name string, value int, errs *[]string) {
	if value < 1 || value > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: port must be 1-65535, got %d", name, value))
	}
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}
