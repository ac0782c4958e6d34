package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadEnvConfigDefaults(t *testing.T) {
	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("LoadEnvConfig: %v", err)
	}
	if cfg.Port != 3300 {
		t.Errorf("Port = %d, want 3300", cfg.Port)
	}
	if cfg.Workers != 5 || cfg.MaxInFlight != 50 {
		t.Errorf("fleet = %d/%d, want 5/50", cfg.Workers, cfg.MaxInFlight)
	}
	if cfg.TickInterval != 500*time.Millisecond {
		t.Errorf("TickInterval = %v", cfg.TickInterval)
	}
	if cfg.SyncInterval != 30*time.Second {
		t.Errorf("SyncInterval = %v", cfg.SyncInterval)
	}
	if cfg.AdminToken != "" {
		t.Errorf("AdminToken = %q, want empty", cfg.AdminToken)
	}
	if cfg.RequireAliveMatch {
		t.Error("RequireAliveMatch should default to false")
	}
	if cfg.ResultKeepPerPair != 20 {
		t.Errorf("ResultKeepPerPair = %d, want 20", cfg.ResultKeepPerPair)
	}
}

func TestLoadEnvConfigOverrides(t *testing.T) {
	t.Setenv("PROXYVET_PORT", "8080")
	t.Setenv("PROXYVET_WORKERS", "2")
	t.Setenv("PROXYVET_TICK_INTERVAL", "100ms")
	t.Setenv("PROXYVET_REQUIRE_ALIVE_MATCH", "true")
	t.Setenv("PROXYVET_ADMIN_TOKEN", "s3cr3t")

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("LoadEnvConfig: %v", err)
	}
	if cfg.Port != 8080 || cfg.Workers != 2 {
		t.Errorf("got port %d workers %d", cfg.Port, cfg.Workers)
	}
	if cfg.TickInterval != 100*time.Millisecond {
		t.Errorf("TickInterval = %v", cfg.TickInterval)
	}
	if !cfg.RequireAliveMatch {
		t.Error("RequireAliveMatch should be true")
	}
	if cfg.AdminToken != "s3cr3t" {
		t.Errorf("AdminToken = %q", cfg.AdminToken)
	}
}

func TestLoadEnvConfigAggregatesErrors(t *testing.T) {
	t.Setenv("PROXYVET_PORT", "0")
	t.Setenv("PROXYVET_WORKERS", "nope")
	t.Setenv("PROXYVET_RESULT_PRUNE_SCHEDULE", "every day at noon")

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("LoadEnvConfig should fail")
	}
	msg := err.Error()
	for _, want := range []string{"PROXYVET_PORT", "PROXYVET_WORKERS", "PROXYVET_RESULT_PRUNE_SCHEDULE"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q should mention %s", msg, want)
		}
	}
}

func TestIsWeakToken(t *testing.T) {
	if IsWeakToken("") {
		t.Error("empty token is not judged")
	}
	if !IsWeakToken("admin") {
		t.Error("dictionary word should be weak")
	}
	if IsWeakToken("x9$Lq2#vTfe81!pZr") {
		t.Error("long random token should not be weak")
	}
}
