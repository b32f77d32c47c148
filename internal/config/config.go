package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

type SMTP struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	From     string `json:"from"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type Config struct {
	Bind     string `json:"bind"`
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`

	// DataDir holds the SQLite database; RootDir holds user file trees,
	// one top-level directory per username.
	DataDir string `json:"data_dir"`
	RootDir string `json:"root_dir"`

	BaseURL   string `json:"base_url"`
	JWTSecret string `json:"jwt_secret"`

	// TrustProxy makes the server take client addresses from
	// X-Forwarded-For. Leave it off unless a reverse proxy that strips
	// the inbound header sits in front; the header is client-settable.
	TrustProxy bool `json:"trust_proxy"`

	TokenTTL         string `json:"token_ttl"`
	QuickShareExpiry string `json:"quick_share_expiry"`

	RateLimitMax    int    `json:"rate_limit_max"`
	RateLimitWindow string `json:"rate_limit_window"`

	SMTP SMTP `json:"smtp"`
}

func DefaultPaths() (configPath, dataDir string, err error) {
	cfgRoot, err := os.UserConfigDir()
	if err != nil {
		return "", "", fmt.Errorf("resolve user config dir: %w", err)
	}
	var dataRoot string
	switch runtime.GOOS {
	case "windows":
		dataRoot = cfgRoot
	default:
		if p, derr := os.UserHomeDir(); derr == nil {
			dataRoot = filepath.Join(p, ".local", "share")
		} else {
			dataRoot = cfgRoot
		}
	}
	configPath = filepath.Join(cfgRoot, "filedepot", "config.json")
	dataDir = filepath.Join(dataRoot, "filedepot")
	return configPath, dataDir, nil
}

func Default(dataDir string) Config {
	return Config{
		Bind:             "0.0.0.0",
		Port:             8420,
		LogLevel:         "info",
		DataDir:          dataDir,
		RootDir:          filepath.Join(dataDir, "files"),
		BaseURL:          "http://localhost:8420",
		JWTSecret:        "",
		TokenTTL:         "1h",
		QuickShareExpiry: "24h",
		RateLimitMax:     120,
		RateLimitWindow:  "1m",
		SMTP:             SMTP{Port: 587},
	}
}

func LoadOrDefault(configPath, dataDirOverride string) (Config, error) {
	_, defaultData, err := DefaultPaths()
	if err != nil {
		return Config{}, err
	}
	cfg := Default(defaultData)
	if dataDirOverride != "" {
		cfg.DataDir = dataDirOverride
		cfg.RootDir = filepath.Join(dataDirOverride, "files")
	}

	b, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if dataDirOverride != "" {
		cfg.DataDir = dataDirOverride
		cfg.RootDir = filepath.Join(dataDirOverride, "files")
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Save(configPath string, cfg Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	buf, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(configPath, buf, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func Validate(cfg Config) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port %d", cfg.Port)
	}
	for _, d := range []struct {
		name  string
		value string
	}{
		{"token_ttl", cfg.TokenTTL},
		{"quick_share_expiry", cfg.QuickShareExpiry},
		{"rate_limit_window", cfg.RateLimitWindow},
	} {
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("invalid %s %q", d.name, d.value)
		}
	}
	if cfg.RateLimitMax <= 0 {
		return fmt.Errorf("rate limit max must be positive")
	}
	return nil
}

// Duration parses one of the config's duration strings, falling back when
// the string is empty. Validate has already rejected malformed values.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func ConfigPathFromEnv() (string, error) {
	if p := strings.TrimSpace(os.Getenv("FILEDEPOT_CONFIG")); p != "" {
		return p, nil
	}
	cfgPath, _, err := DefaultPaths()
	return cfgPath, err
}
