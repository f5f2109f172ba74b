package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(LoaderOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8475" {
		t.Errorf("expected default listen addr, got %q", cfg.ListenAddr)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.DataDir != "data" {
		t.Errorf("unexpected default store config: %+v", cfg.Store)
	}
	if cfg.Cache.Driver != "memory" {
		t.Errorf("unexpected default cache driver: %q", cfg.Cache.Driver)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("unexpected default logging level: %q", cfg.Logging.Level)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
listen_addr = ":9000"
public_origin = "https://pod-a.example.com"

[logging]
level = "debug"

[store]
driver = "sqlite"
data_dir = "/var/lib/podshare"

[cache]
driver = ""

[conduit]
peer_secret_hashes = ["$2a$10$abcdefghijklmnopqrstuv"]

[[conduit.peers]]
domain = "pod-b.example.com"
url = "https://pod-b.example.com"
secret = "sesame"
`)

	cfg, err := Load(LoaderOptions{ConfigPath: path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9000" {
		t.Errorf("expected file listen addr, got %q", cfg.ListenAddr)
	}
	if cfg.PublicOrigin != "https://pod-a.example.com" {
		t.Errorf("expected file public origin, got %q", cfg.PublicOrigin)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected file logging level, got %q", cfg.Logging.Level)
	}
	if cfg.Store.DataDir != "/var/lib/podshare" {
		t.Errorf("expected file data dir, got %q", cfg.Store.DataDir)
	}
	// An explicit empty cache driver turns caching off.
	if cfg.Cache.Driver != "" {
		t.Errorf("expected cache disabled, got %q", cfg.Cache.Driver)
	}
	if len(cfg.Conduit.Peers) != 1 || cfg.Conduit.Peers[0].Domain != "pod-b.example.com" {
		t.Errorf("unexpected peers: %+v", cfg.Conduit.Peers)
	}
	if len(cfg.Conduit.PeerSecretHashes) != 1 {
		t.Errorf("unexpected secret hashes: %+v", cfg.Conduit.PeerSecretHashes)
	}
}

func TestLoadFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, `
listen_addr = ":9000"

[logging]
level = "debug"
`)

	listen := ":7000"
	level := "warn"
	cfg, err := Load(LoaderOptions{
		ConfigPath: path,
		FlagOverrides: FlagOverrides{
			ListenAddr:   &listen,
			LoggingLevel: &level,
		},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":7000" {
		t.Errorf("expected flag to win, got %q", cfg.ListenAddr)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected flag to win, got %q", cfg.Logging.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(LoaderOptions{ConfigPath: filepath.Join(t.TempDir(), "absent.toml")})
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	path := writeConfig(t, `listen_addr = [broken`)
	_, err := Load(LoaderOptions{ConfigPath: path})
	if err == nil {
		t.Fatal("expected error for invalid TOML")
	}
}

func TestLoadToleratesUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
listen_addr = ":9000"
not_a_real_key = true
`)
	cfg, err := Load(LoaderOptions{ConfigPath: path})
	if err != nil {
		t.Fatalf("expected unknown keys tolerated, got %v", err)
	}
	if cfg.ListenAddr != ":9000" {
		t.Errorf("expected known keys applied, got %q", cfg.ListenAddr)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		message string
	}{
		{
			name:    "relative public origin",
			mutate:  func(c *Config) { c.PublicOrigin = "pod-a.example.com" },
			message: "absolute URL",
		},
		{
			name:    "empty store driver",
			mutate:  func(c *Config) { c.Store.Driver = "" },
			message: "store driver",
		},
		{
			name: "peer without domain",
			mutate: func(c *Config) {
				c.Conduit.Peers = []PeerConfig{{URL: "https://pod-b.example.com"}}
			},
			message: "missing a domain",
		},
		{
			name: "peer with relative URL",
			mutate: func(c *Config) {
				c.Conduit.Peers = []PeerConfig{{Domain: "pod-b.example.com", URL: "pod-b"}}
			},
			message: "absolute URL",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.message) {
				t.Errorf("expected error mentioning %q, got %v", tc.message, err)
			}
		})
	}
}
