package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server        ServerConfig      `toml:"server"`        // HTTP server settings
	Logging       LoggingConfig     `toml:"logging"`       // Application logging settings
	Tracking      TrackingConfig    `toml:"tracking"`      // Cache, estimator and provider-wide settings
	OpenSky       OpenSkyConfig     `toml:"opensky"`       // Primary surveillance network
	FlightLabs    ScheduleAPIConfig `toml:"flightlabs"`    // Secondary schedule provider
	AviationStack ScheduleAPIConfig `toml:"aviationstack"` // Tertiary schedule provider
	Airports      AirportsConfig    `toml:"airports"`      // Airport directory settings
	Live          LiveConfig        `toml:"live"`          // WebSocket push settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port               int      `toml:"port"`                  // HTTP port for the server
	Host               string   `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`  // List of origins allowed for CORS requests (use ["*"] for all origins)
	ReadTimeoutSecs    int      `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs   int      `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout)
	IdleTimeoutSecs    int      `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
	StaticFilesDir     string   `toml:"static_files_dir"`      // Optional directory of static files served at / (empty = disabled)
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// TrackingConfig contains settings shared by every tracking request
type TrackingConfig struct {
	CacheTTLSecs        int     `toml:"cache_ttl_seconds"`        // How long a successful record is served from cache
	RouteToleranceNM    float64 `toml:"route_tolerance_nm"`       // Route length change that replaces an aircraft's estimator
	EstimatorIdleSecs   int     `toml:"estimator_idle_seconds"`   // Estimators untouched for this long are evicted
	SweepIntervalSecs   int     `toml:"sweep_interval_seconds"`   // How often idle estimators and stale cache entries are dropped
	ProviderTimeoutSecs int     `toml:"provider_timeout_seconds"` // HTTP timeout for every provider request
	UserAgent           string  `toml:"user_agent"`               // User-Agent header sent to providers
}

// OpenSkyConfig contains OpenSky Network settings. Without credentials the
// client queries anonymously.
type OpenSkyConfig struct {
	BaseURL           string `toml:"base_url"`            // states/all endpoint
	TokenURL          string `toml:"token_url"`           // OAuth2 token endpoint
	ClientID          string `toml:"client_id"`           // OAuth2 client id (env OPENSKY_CLIENT_ID)
	ClientSecret      string `toml:"client_secret"`       // OAuth2 client secret (env OPENSKY_CLIENT_SECRET)
	CredentialsPath   string `toml:"credentials_path"`    // Optional JSON credentials file used when client_id is empty
	RequestsPerMinute int    `toml:"requests_per_minute"` // Client side rate limit (0 = unlimited)
}

// ScheduleAPIConfig contains settings for a schedule provider keyed by access_key
type ScheduleAPIConfig struct {
	BaseURL           string `toml:"base_url"`            // Flights endpoint
	APIKey            string `toml:"api_key"`             // access_key; the provider is disabled when empty
	RequestsPerMinute int    `toml:"requests_per_minute"` // Client side rate limit (0 = unlimited)
}

// AirportsConfig contains airport directory settings
type AirportsConfig struct {
	DBPath   string `toml:"db_path"`   // SQLite database path (":memory:" keeps it in memory)
	SeedPath string `toml:"seed_path"` // OurAirports CSV or JSON map loaded at startup (empty = no seeding)
}

// LiveConfig contains WebSocket push settings
type LiveConfig struct {
	PushIntervalSecs int `toml:"push_interval_seconds"` // How often subscribed queries are re-tracked and pushed
	MaxSubscriptions int `toml:"max_subscriptions"`     // Subscriptions allowed per connection
}

// Load reads and decodes the config file at path, then applies environment
// overrides
func Load(path string) (*Config, error) {
	var config Config

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyEnv()
	return &config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	searchPaths := []string{
		preferredPath,
		"configs/config.toml",
		"config.toml",
	}

	// Remove duplicates while preserving order
	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// applyEnv lets secrets live outside the config file
func (c *Config) applyEnv() {
	overrides := []struct {
		env    string
		target *string
	}{
		{"FLIGHTLABS_API_KEY", &c.FlightLabs.APIKey},
		{"AVIATIONSTACK_API_KEY", &c.AviationStack.APIKey},
		{"OPENSKY_CLIENT_ID", &c.OpenSky.ClientID},
		{"OPENSKY_CLIENT_SECRET", &c.OpenSky.ClientSecret},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}
}

// Validate checks the configuration and fills in defaults
func (c *Config) Validate() error {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.StaticFilesDir != "" {
		if _, err := os.Stat(c.Server.StaticFilesDir); os.IsNotExist(err) {
			return fmt.Errorf("static files directory does not exist: %s", c.Server.StaticFilesDir)
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid log level
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
		// Valid log format
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	t := &c.Tracking
	if t.CacheTTLSecs <= 0 {
		t.CacheTTLSecs = 300
	}
	if t.RouteToleranceNM <= 0 {
		t.RouteToleranceNM = 50
	}
	if t.EstimatorIdleSecs <= 0 {
		t.EstimatorIdleSecs = 1800
	}
	if t.SweepIntervalSecs <= 0 {
		t.SweepIntervalSecs = 60
	}
	if t.ProviderTimeoutSecs <= 0 {
		t.ProviderTimeoutSecs = 15
	}
	if t.UserAgent == "" {
		t.UserAgent = "MFA-MyFlightAssistant/0.1"
	}

	if c.OpenSky.BaseURL == "" {
		c.OpenSky.BaseURL = "https://opensky-network.org/api/states/all"
	}
	if c.OpenSky.TokenURL == "" {
		c.OpenSky.TokenURL = "https://auth.opensky-network.org/auth/realms/opensky-network/protocol/openid-connect/token"
	}
	if (c.OpenSky.ClientID == "") != (c.OpenSky.ClientSecret == "") {
		return fmt.Errorf("opensky client_id and client_secret must be set together")
	}
	if c.FlightLabs.BaseURL == "" {
		c.FlightLabs.BaseURL = "https://app.goflightlabs.com/advanced-real-time-flights"
	}
	if c.AviationStack.BaseURL == "" {
		c.AviationStack.BaseURL = "https://api.aviationstack.com/v1/flights"
	}
	for name, rpm := range map[string]int{
		"opensky":       c.OpenSky.RequestsPerMinute,
		"flightlabs":    c.FlightLabs.RequestsPerMinute,
		"aviationstack": c.AviationStack.RequestsPerMinute,
	} {
		if rpm < 0 {
			return fmt.Errorf("invalid %s requests_per_minute: %d", name, rpm)
		}
	}

	if c.Airports.DBPath == "" {
		c.Airports.DBPath = ":memory:"
	}
	if c.Airports.SeedPath != "" {
		if _, err := os.Stat(c.Airports.SeedPath); os.IsNotExist(err) {
			return fmt.Errorf("airport seed file does not exist: %s", c.Airports.SeedPath)
		}
	}

	if c.Live.PushIntervalSecs <= 0 {
		c.Live.PushIntervalSecs = 30
	}
	if c.Live.MaxSubscriptions <= 0 {
		c.Live.MaxSubscriptions = 5
	}

	return nil
}

// CacheTTL returns the cache lifetime as a duration
func (t TrackingConfig) CacheTTL() time.Duration {
	return time.Duration(t.CacheTTLSecs) * time.Second
}

// EstimatorIdle returns the estimator idle timeout as a duration
func (t TrackingConfig) EstimatorIdle() time.Duration {
	return time.Duration(t.EstimatorIdleSecs) * time.Second
}

// SweepInterval returns the sweep period as a duration
func (t TrackingConfig) SweepInterval() time.Duration {
	return time.Duration(t.SweepIntervalSecs) * time.Second
}

// ProviderTimeout returns the provider HTTP timeout as a duration
func (t TrackingConfig) ProviderTimeout() time.Duration {
	return time.Duration(t.ProviderTimeoutSecs) * time.Second
}

// PushInterval returns the live push period as a duration
func (l LiveConfig) PushInterval() time.Duration {
	return time.Duration(l.PushIntervalSecs) * time.Second
}
