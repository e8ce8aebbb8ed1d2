package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[server]
port = 9090
cors_allowed_origins = ["*"]

[logging]
level = "debug"
format = "json"

[tracking]
cache_ttl_seconds = 120

[flightlabs]
api_key = "from-file"

[aviationstack]
requests_per_minute = 10

[airports]
seed_path = "testdata/airports.csv"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAndValidate(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 2*time.Minute, cfg.Tracking.CacheTTL())
	assert.Equal(t, "from-file", cfg.FlightLabs.APIKey)
	assert.Equal(t, 10, cfg.AviationStack.RequestsPerMinute)
	assert.Equal(t, "testdata/airports.csv", cfg.Airports.SeedPath)

	// Defaults
	assert.Equal(t, 50.0, cfg.Tracking.RouteToleranceNM)
	assert.Equal(t, 30*time.Minute, cfg.Tracking.EstimatorIdle())
	assert.Equal(t, time.Minute, cfg.Tracking.SweepInterval())
	assert.Equal(t, 15*time.Second, cfg.Tracking.ProviderTimeout())
	assert.Equal(t, "MFA-MyFlightAssistant/0.1", cfg.Tracking.UserAgent)
	assert.Equal(t, "https://opensky-network.org/api/states/all", cfg.OpenSky.BaseURL)
	assert.Equal(t, ":memory:", cfg.Airports.DBPath)
	assert.Equal(t, 30*time.Second, cfg.Live.PushInterval())
}

func TestValidateEmptyConfig(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, 300*time.Second, cfg.Tracking.CacheTTL())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FLIGHTLABS_API_KEY", "from-env")
	t.Setenv("AVIATIONSTACK_API_KEY", "as-key")
	t.Setenv("OPENSKY_CLIENT_ID", "id")
	t.Setenv("OPENSKY_CLIENT_SECRET", "secret")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "from-env", cfg.FlightLabs.APIKey)
	assert.Equal(t, "as-key", cfg.AviationStack.APIKey)
	assert.Equal(t, "id", cfg.OpenSky.ClientID)
	assert.Equal(t, "secret", cfg.OpenSky.ClientSecret)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]Config{
		"port":         {Server: ServerConfig{Port: 70000}},
		"log level":    {Logging: LoggingConfig{Level: "verbose"}},
		"log format":   {Logging: LoggingConfig{Format: "xml"}},
		"half creds":   {OpenSky: OpenSkyConfig{ClientID: "id"}},
		"rate":         {FlightLabs: ScheduleAPIConfig{RequestsPerMinute: -1}},
		"missing www":  {Server: ServerConfig{StaticFilesDir: "/definitely/not/here"}},
		"missing seed": {Airports: AirportsConfig{SeedPath: "/definitely/not/here.csv"}},
	}
	for name, cfg := range cases {
		cfg := cfg
		assert.Error(t, cfg.Validate(), name)
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "[server\nport = 1"))
	assert.Error(t, err)

	_, err = LoadWithFallback(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoadWithFallbackPrefersPath(t *testing.T) {
	cfg, err := LoadWithFallback(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestShippedConfigValidates(t *testing.T) {
	t.Chdir("../..")

	cfg, err := LoadWithFallback("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":memory:", cfg.Airports.DBPath)
	assert.FileExists(t, cfg.Airports.SeedPath)
}
