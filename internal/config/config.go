// Package config handles loading application configuration from a YAML file
// with environment variable overrides.
//
// Config file format (mathom.yaml):
//
//	listen_addr: ":3000"
//	data_dir: "./data"
//	covers_dir: "./data/covers"
//	extract_dir: "./data/extracted"
//	backend: "sqlite"
//	auth_password: "mysecretpassword"
//	allowed_origins: ["https://media.example.org"]
//	log_level: "info"
//	log_format: "console"
//
// Configuration sources, in increasing priority order:
//  1. Built-in defaults
//  2. YAML config file (located by FindConfigFile or explicit path)
//  3. Environment variables (LISTEN_ADDR, DATA_DIR, COVERS_DIR, EXTRACT_DIR,
//     BACKEND, AUTH_PASSWORD, ALLOWED_ORIGINS, LOG_LEVEL, LOG_FORMAT)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Backend names accepted by the backend key.
const (
	BackendSQLite = "sqlite"
	BackendFS     = "fs"
)

// Config holds all application configuration.
type Config struct {
	// ListenAddr is the TCP address for the HTTP server (e.g. ":3000").
	ListenAddr string `yaml:"listen_addr"`

	// DataDir holds the catalog database and, by default, the managed
	// covers and extraction directories.
	DataDir string `yaml:"data_dir"`

	// CoversDir is where extracted cover images are written.
	// Defaults to {data_dir}/covers.
	CoversDir string `yaml:"covers_dir"`

	// ExtractDir is where archive members are extracted.
	// Defaults to {data_dir}/extracted.
	ExtractDir string `yaml:"extract_dir"`

	// Backend selects the catalog store implementation.
	// "sqlite" – items table in {data_dir}/mathom.db (default)
	// "fs"     – JSON document at {data_dir}/catalog.json
	Backend string `yaml:"backend"`

	// Password is the shared password for HTTP Basic authentication.
	// Leave empty to disable authentication (development/trusted-network use only).
	Password string `yaml:"auth_password"`

	// AllowedOrigins lists CORS origins. ["*"] allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// LogFormat is "console" (human-readable text) or "json".
	LogFormat string `yaml:"log_format"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		ListenAddr:     ":3000",
		DataDir:        "./data",
		Backend:        BackendSQLite,
		AllowedOrigins: []string{"*"},
		LogLevel:       "info",
		LogFormat:      "console",
	}
}

// Load reads configuration from the YAML file at path (if non-empty), then
// applies environment variable overrides on top. Returns the merged Config.
// If path is empty, only defaults and environment variables are applied.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	// Environment variables always override file values so that Docker /
	// systemd overrides still work even when a config file is present.
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("COVERS_DIR"); v != "" {
		cfg.CoversDir = v
	}
	if v := os.Getenv("EXTRACT_DIR"); v != "" {
		cfg.ExtractDir = v
	}
	if v := os.Getenv("BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("AUTH_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	if cfg.DataDir == "" {
		return cfg, fmt.Errorf("data_dir must not be empty")
	}
	if cfg.CoversDir == "" {
		cfg.CoversDir = filepath.Join(cfg.DataDir, "covers")
	}
	if cfg.ExtractDir == "" {
		cfg.ExtractDir = filepath.Join(cfg.DataDir, "extracted")
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	switch cfg.Backend {
	case BackendSQLite, BackendFS:
	default:
		return cfg, fmt.Errorf("unknown backend %q (want %q or %q)", cfg.Backend, BackendSQLite, BackendFS)
	}

	// Managed directories are stored absolute so ownership checks compare
	// like with like.
	for _, p := range []*string{&cfg.DataDir, &cfg.CoversDir, &cfg.ExtractDir} {
		abs, err := filepath.Abs(*p)
		if err != nil {
			return cfg, fmt.Errorf("resolve %q: %w", *p, err)
		}
		*p = abs
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// FindConfigFile returns the path to the first config file found in the
// standard search order, or "" if none is found.
//
// Search order:
//  1. MATHOM_CONFIG environment variable (explicit override)
//  2. ./mathom.yaml (current working directory)
//  3. ~/.config/mathom/config.yaml (XDG user config)
func FindConfigFile() string {
	if p := os.Getenv("MATHOM_CONFIG"); p != "" {
		return p
	}

	if _, err := os.Stat("mathom.yaml"); err == nil {
		return "mathom.yaml"
	}

	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".config", "mathom", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
