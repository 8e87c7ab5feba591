package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the flowscope service.
type Config struct {
	Upstream Upstream `yaml:"upstream"`
	Storage  Storage  `yaml:"storage"`
	Server   Server   `yaml:"server"`
	Farm     Farm     `yaml:"farm"`
	Sweep    Sweep    `yaml:"sweep"`
	Block    Block    `yaml:"block"`
	Spot     Spot     `yaml:"spot"`
	Logging  Logging  `yaml:"logging"`
}

// Upstream holds credentials and endpoints for the market-data vendor socket.
type Upstream struct {
	APIKey    string `yaml:"api_key"`
	SocketURL string `yaml:"socket_url"`
}

// Storage holds persistence configuration for the trade store.
type Storage struct {
	SQLitePath        string  `yaml:"sqlite_path"`
	ArchiveDir        string  `yaml:"archive_dir"`
	StoreThreshold    float64 `yaml:"store_threshold"`     // min premium in dollars to persist
	RolloverTimezone  string  `yaml:"rollover_timezone"`   // IANA zone for daily purge
	RolloverHourLocal int     `yaml:"rollover_hour_local"` // local hour of the purge run
}

// Server holds network listener configuration for the HTTP façade and hub.
type Server struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	FrontendOrigin string `yaml:"frontend_origin"`
}

// Farm configures the WebSocket ingestion farm and its rebalance loop.
type Farm struct {
	SessionsTotal       int      `yaml:"sessions_total"`
	SessionsStatic      int      `yaml:"sessions_static"`
	QuotesPerSession    int      `yaml:"quotes_per_session"`
	StaticTierTickers   []string `yaml:"static_tier_tickers"`
	RebalanceIntervalMS int      `yaml:"rebalance_interval_ms"`
	ReconnectIntervalMS int      `yaml:"reconnect_interval_ms"`
	MaxReconnects       int      `yaml:"max_reconnects"`
	AuthGraceMS         int      `yaml:"auth_grace_ms"`
}

// Sweep configures the aggregator's sweep detection.
type Sweep struct {
	WindowMS     int     `yaml:"sweep_window_ms"`
	PriceDelta   float64 `yaml:"sweep_price_delta"`
	MinTotal     int64   `yaml:"sweep_min_total"`
	MinExchanges int     `yaml:"sweep_min_exchanges"`
}

// Block configures the aggregator's block detection.
type Block struct {
	MinSize     int64 `yaml:"block_min_size"`
	IsolationMS int   `yaml:"block_isolation_ms"`
	Conditions  []int `yaml:"block_conditions"`
	DarkVenues  []int `yaml:"dark_venues"`
}

// Spot holds credentials for the underlying daily-bar snapshot client.
// Optional: when the key pair is empty the spot cache stays cold and
// classified trades simply carry no moneyness annotation.
type Spot struct {
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	DataURL    string `yaml:"data_url"`
	RefreshMin int    `yaml:"refresh_min"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into
// a Config struct, applies environment variable overrides and defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration fields the process cannot run without.
func (c *Config) Validate() error {
	if c.Upstream.APIKey == "" {
		return fmt.Errorf("upstream.api_key is required")
	}
	if c.Farm.SessionsStatic > c.Farm.SessionsTotal {
		return fmt.Errorf("farm.sessions_static (%d) exceeds sessions_total (%d)",
			c.Farm.SessionsStatic, c.Farm.SessionsTotal)
	}
	if _, err := time.LoadLocation(c.Storage.RolloverTimezone); err != nil {
		return fmt.Errorf("invalid rollover_timezone %q: %w", c.Storage.RolloverTimezone, err)
	}
	return nil
}

// RebalanceInterval returns the rebalance period as a Duration.
func (c *Config) RebalanceInterval() time.Duration {
	return time.Duration(c.Farm.RebalanceIntervalMS) * time.Millisecond
}

// ReconnectInterval returns the reconnect backoff base as a Duration.
func (c *Config) ReconnectInterval() time.Duration {
	return time.Duration(c.Farm.ReconnectIntervalMS) * time.Millisecond
}

// AuthGrace returns the session auth grace window as a Duration.
func (c *Config) AuthGrace() time.Duration {
	return time.Duration(c.Farm.AuthGraceMS) * time.Millisecond
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("POLY_API_KEY"); v != "" {
		cfg.Upstream.APIKey = v
	}
	if v := os.Getenv("POLY_SOCKET_URL"); v != "" {
		cfg.Upstream.SocketURL = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("ARCHIVE_DIR"); v != "" {
		cfg.Storage.ArchiveDir = v
	}
	if v := os.Getenv("FRONTEND_ORIGIN"); v != "" {
		cfg.Server.FrontendOrigin = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Spot.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Spot.APISecret = v
	}
}

// applyDefaults fills zero-valued tunables with the documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Upstream.SocketURL == "" {
		cfg.Upstream.SocketURL = "wss://socket.polygon.io/options"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "flowscope.db"
	}
	if cfg.Storage.StoreThreshold == 0 {
		cfg.Storage.StoreThreshold = 20_000
	}
	if cfg.Storage.RolloverTimezone == "" {
		cfg.Storage.RolloverTimezone = "America/New_York"
	}
	if cfg.Storage.RolloverHourLocal == 0 {
		cfg.Storage.RolloverHourLocal = 3
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Farm.SessionsTotal == 0 {
		cfg.Farm.SessionsTotal = 10
	}
	if cfg.Farm.SessionsStatic == 0 {
		cfg.Farm.SessionsStatic = 3
	}
	if cfg.Farm.QuotesPerSession == 0 {
		cfg.Farm.QuotesPerSession = 1000
	}
	if cfg.Farm.RebalanceIntervalMS == 0 {
		cfg.Farm.RebalanceIntervalMS = 5 * 60 * 1000
	}
	if cfg.Farm.ReconnectIntervalMS == 0 {
		cfg.Farm.ReconnectIntervalMS = 5000
	}
	if cfg.Farm.MaxReconnects == 0 {
		cfg.Farm.MaxReconnects = 10
	}
	if cfg.Farm.AuthGraceMS == 0 {
		cfg.Farm.AuthGraceMS = 1000
	}
	if cfg.Sweep.WindowMS == 0 {
		cfg.Sweep.WindowMS = 750
	}
	if cfg.Sweep.PriceDelta == 0 {
		cfg.Sweep.PriceDelta = 0.10
	}
	if cfg.Sweep.MinTotal == 0 {
		cfg.Sweep.MinTotal = 100
	}
	if cfg.Sweep.MinExchanges == 0 {
		cfg.Sweep.MinExchanges = 2
	}
	if cfg.Block.MinSize == 0 {
		cfg.Block.MinSize = 500
	}
	if cfg.Block.IsolationMS == 0 {
		cfg.Block.IsolationMS = 100
	}
	if len(cfg.Block.Conditions) == 0 {
		cfg.Block.Conditions = []int{229, 230, 233, 234, 235, 236}
	}
	if len(cfg.Block.DarkVenues) == 0 {
		cfg.Block.DarkVenues = []int{4, 21, 66}
	}
	if cfg.Spot.RefreshMin == 0 {
		cfg.Spot.RefreshMin = 15
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}
