// Package config handles loading and managing chatvault configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/wesm/chatvault/internal/fileutil"
)

// StorageConfig holds on-disk store configuration (spec §4.2.1/§4.2.3).
type StorageConfig struct {
	StorageRoot string `toml:"storage_root"` // directory holding data.sqlite and dataset media
}

// ServerConfig holds HTTP API server configuration (spec §6.2).
type ServerConfig struct {
	APIPort       int    `toml:"api_port"`       // HTTP server port (default: 8080)
	BindAddr      string `toml:"bind_addr"`      // bind address (default: 127.0.0.1)
	APIKey        string `toml:"api_key"`        // API authentication key
	MCPEnabled    bool   `toml:"mcp_enabled"`    // enable the MCP tool endpoint
	AllowInsecure bool   `toml:"allow_insecure"` // allow unauthenticated non-loopback access
}

// IsLoopback reports whether the bind address is loopback. Handles the
// full 127.0.0.0/8 range, IPv6 ::1, and "localhost".
func (s ServerConfig) IsLoopback() bool {
	addr := s.BindAddr
	if addr == "" || addr == "localhost" {
		return true
	}
	ip := net.ParseIP(addr)
	return ip != nil && ip.IsLoopback()
}

// ValidateSecure returns an error if the server is configured insecurely
// without an explicit opt-in via allow_insecure.
func (s ServerConfig) ValidateSecure() error {
	if !s.IsLoopback() && s.APIKey == "" && !s.AllowInsecure {
		return fmt.Errorf("refusing to start: bind address %q is not loopback and no api_key is set\n\n"+
			"set [server] api_key in config.toml, or set allow_insecure = true to override", s.BindAddr)
	}
	return nil
}

// MergeConfig holds defaults for the merge engine (spec §4.3/§4.4).
type MergeConfig struct {
	AnalyzeBatchSize int  `toml:"analyze_batch_size"` // loaded and defaulted to 1000; the diff analyzer reads in its own fixed batches of 1000 and does not consult it
	ForceConflict    bool `toml:"force_conflict"`     // default for the analyze command's --force-conflict flag
}

// Config represents the chatvault configuration.
type Config struct {
	Storage StorageConfig `toml:"storage"`
	Server  ServerConfig  `toml:"server"`
	Merge   MergeConfig   `toml:"merge"`

	// Computed paths (not from config file).
	HomeDir    string `toml:"-"`
	configPath string
}

// DefaultHome returns the default chatvault home directory. Respects the
// CHATVAULT_HOME environment variable and expands ~ in its value.
func DefaultHome() string {
	if h := os.Getenv("CHATVAULT_HOME"); h != "" {
		return expandPath(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatvault"
	}
	return filepath.Join(home, ".chatvault")
}

// NewDefaultConfig returns a configuration with default values.
func NewDefaultConfig() *Config {
	homeDir := DefaultHome()
	return &Config{
		HomeDir: homeDir,
		Storage: StorageConfig{
			StorageRoot: homeDir,
		},
		Server: ServerConfig{
			APIPort:  8080,
			BindAddr: "127.0.0.1",
		},
		Merge: MergeConfig{
			AnalyzeBatchSize: 1000,
		},
	}
}

// Load reads the configuration from the specified file. If path is empty,
// uses the default location (~/.chatvault/config.toml), which is optional
// (a missing file returns defaults). If path is explicitly provided, the
// file must exist.
//
// homeDir overrides the home directory (equivalent to CHATVAULT_HOME).
func Load(path, homeDir string) (*Config, error) {
	explicit := path != ""
	cfg := NewDefaultConfig()

	if homeDir != "" {
		homeDir = expandPath(homeDir)
		cfg.HomeDir = homeDir
		cfg.Storage.StorageRoot = homeDir
	}

	if !explicit {
		path = filepath.Join(cfg.HomeDir, "config.toml")
	} else {
		path = expandPath(path)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if explicit {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return cfg, nil
	}

	cfg.configPath = path
	if explicit && homeDir == "" {
		cfg.HomeDir = filepath.Dir(path)
		cfg.Storage.StorageRoot = cfg.HomeDir
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Storage.StorageRoot = expandPath(cfg.Storage.StorageRoot)
	if explicit {
		cfg.Storage.StorageRoot = resolveRelative(cfg.Storage.StorageRoot, cfg.HomeDir)
	}
	if cfg.Merge.AnalyzeBatchSize <= 0 {
		cfg.Merge.AnalyzeBatchSize = 1000
	}
	return cfg, nil
}

// EnsureHomeDir creates the chatvault home directory if it doesn't exist.
func (c *Config) EnsureHomeDir() error {
	return fileutil.SecureMkdirAll(c.HomeDir, 0700)
}

// ConfigFilePath returns the path to the config file actually loaded, or
// the default location if none was loaded.
func (c *Config) ConfigFilePath() string {
	if c.configPath != "" {
		return c.configPath
	}
	return filepath.Join(c.HomeDir, "config.toml")
}

// resolveRelative makes a relative path absolute by joining it with base.
// Absolute paths and empty strings are returned unchanged.
func resolveRelative(path, base string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// expandPath expands ~ to the user's home directory. Only expands paths
// that are exactly "~" or start with "~/".
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if runtime.GOOS == "windows" && len(path) >= 2 &&
		((path[0] == '\'' && path[len(path)-1] == '\'') ||
			(path[0] == '"' && path[len(path)-1] == '"')) {
		path = path[1 : len(path)-1]
	}
	if path == "~" || strings.HasPrefix(path, "~"+string(os.PathSeparator)) || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		suffix := path[2:]
		for len(suffix) > 0 && (suffix[0] == '/' || suffix[0] == os.PathSeparator) {
			suffix = suffix[1:]
		}
		return filepath.Join(home, suffix)
	}
	return path
}
