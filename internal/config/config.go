// Package config loads the service configuration from defaults, an optional
// YAML file and environment variables, in increasing priority.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfigPaths lists where the config file is searched, in order.
var defaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/lumitrack/config.yaml",
}

// Config is the full service configuration.
type Config struct {
	Addr           string        `koanf:"addr"`
	DatabaseURL    string        `koanf:"database_url"` // empty selects the in-memory store
	IdleTimeout    time.Duration `koanf:"idle_timeout"`
	SweepInterval  time.Duration `koanf:"sweep_interval"`
	MaxUploadBytes int64         `koanf:"max_upload_bytes"`
	BcryptCost     int           `koanf:"bcrypt_cost"`

	Bootstrap BootstrapConfig `koanf:"bootstrap"`
	Log       LogConfig       `koanf:"log"`
	OIDC      OIDCConfig      `koanf:"oidc"`
}

// BootstrapConfig seeds the first user account on an empty database.
type BootstrapConfig struct {
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // "json" or "console"
}

// OIDCConfig configures the optional SSO login flow.
type OIDCConfig struct {
	Enabled      bool   `koanf:"enabled"`
	Issuer       string `koanf:"issuer"`
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	RedirectURL  string `koanf:"redirect_url"`
}

func defaultConfig() *Config {
	return &Config{
		Addr:           ":8080",
		DatabaseURL:    "",
		IdleTimeout:    24 * time.Hour,
		SweepInterval:  time.Hour,
		MaxUploadBytes: 128 << 20,
		BcryptCost:     0, // 0 lets the credential service pick the default
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the config file (if present)
// and environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr must not be empty")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive")
	}
	if c.OIDC.Enabled {
		if c.OIDC.Issuer == "" || c.OIDC.ClientID == "" || c.OIDC.RedirectURL == "" {
			return fmt.Errorf("oidc requires issuer, client_id and redirect_url")
		}
	}
	if (c.Bootstrap.Username == "") != (c.Bootstrap.Password == "") {
		return fmt.Errorf("bootstrap requires both username and password")
	}
	return nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range defaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransform maps environment variable names to config paths. Unknown
// variables map to "" and are ignored, so unrelated environment noise never
// lands in the config.
func envTransform(key string) string {
	mappings := map[string]string{
		"ADDR":               "addr",
		"DATABASE_URL":       "database_url",
		"IDLE_TIMEOUT":       "idle_timeout",
		"SWEEP_INTERVAL":     "sweep_interval",
		"MAX_UPLOAD_BYTES":   "max_upload_bytes",
		"BCRYPT_COST":        "bcrypt_cost",
		"BOOTSTRAP_USERNAME": "bootstrap.username",
		"BOOTSTRAP_PASSWORD": "bootstrap.password",
		"LOG_LEVEL":          "log.level",
		"LOG_FORMAT":         "log.format",
		"OIDC_ENABLED":       "oidc.enabled",
		"OIDC_ISSUER":        "oidc.issuer",
		"OIDC_CLIENT_ID":     "oidc.client_id",
		"OIDC_CLIENT_SECRET": "oidc.client_secret",
		"OIDC_REDIRECT_URL":  "oidc.redirect_url",
	}
	if mapped, ok := mappings[strings.ToUpper(key)]; ok {
		return mapped
	}
	return ""
}
