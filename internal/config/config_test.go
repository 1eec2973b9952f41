package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("failed to get user home dir: %v", err)
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string", "", ""},
		{"just tilde", "~", home},
		{"tilde with slash and path", "~/foo", filepath.Join(home, "foo")},
		{"tilde user notation not expanded", "~user", "~user"},
		{"relative path unchanged", "relative/path", "relative/path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expandPath(tt.input); got != tt.expected {
				t.Errorf("expandPath(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLoadMissingDefaultConfigReturnsDefaults(t *testing.T) {
	home := t.TempDir()
	cfg, err := Load("", home)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.StorageRoot != home {
		t.Errorf("want StorageRoot=%q, got %q", home, cfg.Storage.StorageRoot)
	}
	if cfg.Server.APIPort != 8080 {
		t.Errorf("want default api_port 8080, got %d", cfg.Server.APIPort)
	}
}

func TestLoadExplicitMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"), "")
	if err == nil {
		t.Fatal("want error for missing explicit config file")
	}
}

func TestLoadDecodesTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
[storage]
storage_root = "data"

[server]
api_port = 9090
bind_addr = "0.0.0.0"
api_key = "secret"

[merge]
analyze_batch_size = 500
force_conflict = true
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.APIPort != 9090 || cfg.Server.BindAddr != "0.0.0.0" {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Merge.AnalyzeBatchSize != 500 || !cfg.Merge.ForceConflict {
		t.Errorf("unexpected merge config: %+v", cfg.Merge)
	}
	if cfg.Storage.StorageRoot != filepath.Join(dir, "data") {
		t.Errorf("want storage_root resolved relative to config dir, got %q", cfg.Storage.StorageRoot)
	}
}

func TestServerConfigValidateSecure(t *testing.T) {
	insecure := ServerConfig{BindAddr: "0.0.0.0"}
	if err := insecure.ValidateSecure(); err == nil {
		t.Fatal("want error for non-loopback bind with no api key")
	}

	withKey := ServerConfig{BindAddr: "0.0.0.0", APIKey: "secret"}
	if err := withKey.ValidateSecure(); err != nil {
		t.Fatalf("want no error once an api key is set, got %v", err)
	}

	loopback := ServerConfig{BindAddr: "127.0.0.1"}
	if err := loopback.ValidateSecure(); err != nil {
		t.Fatalf("want no error for loopback bind, got %v", err)
	}
}
