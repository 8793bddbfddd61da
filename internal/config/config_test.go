package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchdeck/internal/apperr"
)

func validConfig() Config {
	var c Config
	c.Backend.WSURL = "wss://sync.example.com/v1/stream"
	c.Backend.APIKey = "k"
	c.Backend.Namespace = "watchdeck"
	c.Auth.BaseURL = "https://auth.example.com"
	return c
}

func TestValidateOK(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRejectsMissingFields(t *testing.T) {
	cases := []struct {
		name    string
		corrupt func(*Config)
	}{
		{"namespace", func(c *Config) { c.Backend.Namespace = "" }},
		{"api key", func(c *Config) { c.Backend.APIKey = "" }},
		{"ws url", func(c *Config) { c.Backend.WSURL = "" }},
		{"auth url", func(c *Config) { c.Auth.BaseURL = "" }},
		{"ws scheme", func(c *Config) { c.Backend.WSURL = "https://not-a-socket" }},
		{"auth scheme", func(c *Config) { c.Auth.BaseURL = "ftp://nope" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.corrupt(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, apperr.IsKind(err, apperr.Configuration))
		})
	}
}

func TestLoadMissingFileIsConfigurationError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Configuration))
}

func TestLoadParsesYAML(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
server_port: 9001
backend:
  ws_url: "wss://sync.example.com/v1/stream"
  namespace: "watchdeck"
auth:
  base_url: "https://auth.example.com"
`), 0o644))
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.ServerPort)
	assert.Equal(t, "watchdeck", cfg.Backend.Namespace)
}

func TestApplyEnvOverlaysSecrets(t *testing.T) {
	t.Setenv("WATCHDECK_API_KEY", "from-env")
	t.Setenv("WATCHDECK_GUEST_TOKEN", "tok")
	cfg := validConfig()
	cfg.Backend.APIKey = ""
	cfg.ApplyEnv()
	assert.Equal(t, "from-env", cfg.Backend.APIKey)
	assert.Equal(t, "tok", cfg.Auth.GuestToken)
}
