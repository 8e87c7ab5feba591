package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flowscope.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"POLY_API_KEY", "POLY_SOCKET_URL", "SQLITE_PATH", "ARCHIVE_DIR",
		"FRONTEND_ORIGIN", "LOG_LEVEL", "APCA_API_KEY_ID", "APCA_API_SECRET_KEY",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
upstream:
  api_key: "test-key"
farm:
  static_tier_tickers: [SPY, QQQ, NVDA]
logging:
  level: "debug"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Upstream.APIKey != "test-key" {
		t.Errorf("Upstream.APIKey = %q", cfg.Upstream.APIKey)
	}
	if cfg.Upstream.SocketURL != "wss://socket.polygon.io/options" {
		t.Errorf("Upstream.SocketURL = %q, want default", cfg.Upstream.SocketURL)
	}

	// -- Farm defaults --
	if cfg.Farm.SessionsTotal != 10 || cfg.Farm.SessionsStatic != 3 {
		t.Errorf("sessions = %d/%d, want 10/3", cfg.Farm.SessionsTotal, cfg.Farm.SessionsStatic)
	}
	if cfg.Farm.QuotesPerSession != 1000 {
		t.Errorf("Farm.QuotesPerSession = %d, want 1000", cfg.Farm.QuotesPerSession)
	}
	if len(cfg.Farm.StaticTierTickers) != 3 {
		t.Errorf("static tickers = %v", cfg.Farm.StaticTierTickers)
	}
	if got := cfg.RebalanceInterval().Minutes(); got != 5 {
		t.Errorf("rebalance interval = %v min, want 5", got)
	}
	if got := cfg.ReconnectInterval().Seconds(); got != 5 {
		t.Errorf("reconnect interval = %v s, want 5", got)
	}
	if cfg.Farm.MaxReconnects != 10 {
		t.Errorf("Farm.MaxReconnects = %d, want 10", cfg.Farm.MaxReconnects)
	}

	// -- Detection defaults --
	if cfg.Sweep.WindowMS != 750 || cfg.Sweep.PriceDelta != 0.10 {
		t.Errorf("sweep window/delta = %d/%f", cfg.Sweep.WindowMS, cfg.Sweep.PriceDelta)
	}
	if cfg.Sweep.MinTotal != 100 || cfg.Sweep.MinExchanges != 2 {
		t.Errorf("sweep min total/exchanges = %d/%d", cfg.Sweep.MinTotal, cfg.Sweep.MinExchanges)
	}
	if cfg.Block.MinSize != 500 || cfg.Block.IsolationMS != 100 {
		t.Errorf("block size/isolation = %d/%d", cfg.Block.MinSize, cfg.Block.IsolationMS)
	}
	if len(cfg.Block.Conditions) != 6 || len(cfg.Block.DarkVenues) != 3 {
		t.Errorf("block conditions/venues = %v/%v", cfg.Block.Conditions, cfg.Block.DarkVenues)
	}

	// -- Storage defaults --
	if cfg.Storage.StoreThreshold != 20_000 {
		t.Errorf("Storage.StoreThreshold = %f, want 20000", cfg.Storage.StoreThreshold)
	}
	if cfg.Storage.RolloverTimezone != "America/New_York" || cfg.Storage.RolloverHourLocal != 3 {
		t.Errorf("rollover = %q/%d", cfg.Storage.RolloverTimezone, cfg.Storage.RolloverHourLocal)
	}

	// -- Explicit value survives defaulting --
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
upstream:
  api_key: "yaml-key"
storage:
  sqlite_path: "/original/flowscope.db"
`)

	t.Setenv("POLY_API_KEY", "env-key")
	t.Setenv("SQLITE_PATH", "/env/flowscope.db")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Upstream.APIKey != "env-key" {
		t.Errorf("Upstream.APIKey = %q, want env override", cfg.Upstream.APIKey)
	}
	if cfg.Storage.SQLitePath != "/env/flowscope.db" {
		t.Errorf("Storage.SQLitePath = %q, want env override", cfg.Storage.SQLitePath)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)

	// Missing API key is fatal.
	if _, err := Load(writeConfig(t, `server: {port: 8080}`)); err == nil {
		t.Error("missing api_key accepted")
	}

	// More static sessions than total is rejected.
	if _, err := Load(writeConfig(t, `
upstream: {api_key: "k"}
farm: {sessions_total: 2, sessions_static: 5}
`)); err == nil {
		t.Error("sessions_static > sessions_total accepted")
	}

	// Bad timezone is rejected.
	if _, err := Load(writeConfig(t, `
upstream: {api_key: "k"}
storage: {rollover_timezone: "Mars/Olympus"}
`)); err == nil {
		t.Error("invalid rollover_timezone accepted")
	}
}
