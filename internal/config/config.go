// File: internal/config/config.go
package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"watchdeck/internal/apperr"
)

// Config is the injected connection bundle. It is loaded once in main and
// handed to the session manager as an immutable value; nothing reads it from
// process-wide state afterwards.
type Config struct {
	ServerPort int `yaml:"server_port"`
	Backend    struct {
		WSURL     string `yaml:"ws_url"`
		APIKey    string `yaml:"api_key"`
		Namespace string `yaml:"namespace"`
	} `yaml:"backend"`
	Auth struct {
		BaseURL    string `yaml:"base_url"`
		GuestToken string `yaml:"guest_token,omitempty"`
	} `yaml:"auth"`
	Analysis struct {
		BaseURL string `yaml:"base_url,omitempty"`
	} `yaml:"analysis"`
	Alerts struct {
		CSVDir string `yaml:"csv_dir,omitempty"`
	} `yaml:"alerts"`
}

func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, apperr.Wrap(apperr.Configuration, "read config file", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, apperr.Wrap(apperr.Configuration, "parse config file", err)
	}
	return cfg, nil
}

// ApplyEnv overlays secrets and overrides from the environment (loaded from
// .env by main). Env wins over the YAML file.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("WATCHDECK_API_KEY")); v != "" {
		c.Backend.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("WATCHDECK_GUEST_TOKEN")); v != "" {
		c.Auth.GuestToken = v
	}
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" && c.ServerPort == 0 {
		if p, _ := strconv.Atoi(v); p > 0 {
			c.ServerPort = p
		}
	}
}

// Validate checks the fields bootstrap depends on. A failure here is fatal:
// there is no silent defaulting of connection parameters.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Backend.Namespace) == "":
		return apperr.New(apperr.Configuration, "backend.namespace is missing")
	case strings.TrimSpace(c.Backend.APIKey) == "":
		return apperr.New(apperr.Configuration, "backend.api_key is missing (set WATCHDECK_API_KEY in .env)")
	}
	if err := requireURL("backend.ws_url", c.Backend.WSURL, "ws", "wss"); err != nil {
		return err
	}
	if err := requireURL("auth.base_url", c.Auth.BaseURL, "http", "https"); err != nil {
		return err
	}
	return nil
}

func requireURL(field, raw string, schemes ...string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return apperr.Newf(apperr.Configuration, "%s is missing", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return apperr.Wrap(apperr.Configuration, field+" is not a valid URL", err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return apperr.Newf(apperr.Configuration, "%s must use %s scheme", field, strings.Join(schemes, "/"))
}
