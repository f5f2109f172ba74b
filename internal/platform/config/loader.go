package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// LoaderOptions controls how configuration is loaded.
type LoaderOptions struct {
	// ConfigPath is the path to a TOML config file (optional).
	// If provided but the file is missing or invalid, loading fails.
	ConfigPath string

	// FlagOverrides are CLI flag values that override config file values.
	FlagOverrides FlagOverrides

	// Logger is used for warning messages (e.g., undecoded keys).
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// FlagOverrides holds CLI flag values that override config file values.
// Nil fields are unset.
type FlagOverrides struct {
	ListenAddr   *string
	PublicOrigin *string
	LoggingLevel *string
	StoreDriver  *string
	DataDir      *string
	CacheDriver  *string
}

// fileConfig mirrors Config with pointer sections to detect presence.
type fileConfig struct {
	ListenAddr   string `toml:"listen_addr"`
	PublicOrigin string `toml:"public_origin"`

	Logging *loggingConfig `toml:"logging"`
	Store   *storeConfig   `toml:"store"`
	Cache   *cacheConfig   `toml:"cache"`
	Conduit *conduitConfig `toml:"conduit"`
}

type loggingConfig struct {
	Level string `toml:"level"`
}

type storeConfig struct {
	Driver  string `toml:"driver"`
	DataDir string `toml:"data_dir"`
}

type cacheConfig struct {
	Driver  string         `toml:"driver"`
	Drivers map[string]any `toml:"drivers"`
}

type conduitConfig struct {
	Peers            []peerConfig `toml:"peers"`
	PeerSecretHashes []string     `toml:"peer_secret_hashes"`
}

type peerConfig struct {
	Domain string `toml:"domain"`
	URL    string `toml:"url"`
	Secret string `toml:"secret"`
}

// Load resolves configuration with the following precedence:
//  1. Start from defaults
//  2. Overlay TOML config file values
//  3. Overlay CLI flags
//  4. Validate
//
// If ConfigPath is provided but the file is missing, unreadable, or invalid
// TOML, Load returns an error (fail fast). Unknown TOML keys produce a
// warning but do not fail the load.
func Load(opts LoaderOptions) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg := DefaultConfig()

	if opts.ConfigPath != "" {
		data, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigPath, err)
		}
		var fc fileConfig
		md, err := toml.Decode(string(data), &fc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", opts.ConfigPath, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			logger.Warn("config file contains undecoded keys", "path", opts.ConfigPath, "keys", keys)
		}
		overlayFileConfig(cfg, &fc)
	}

	overlayFlags(cfg, opts.FlagOverrides)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func overlayFileConfig(cfg *Config, fc *fileConfig) {
	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}
	if fc.PublicOrigin != "" {
		cfg.PublicOrigin = fc.PublicOrigin
	}
	if fc.Logging != nil && fc.Logging.Level != "" {
		cfg.Logging.Level = fc.Logging.Level
	}
	if fc.Store != nil {
		if fc.Store.Driver != "" {
			cfg.Store.Driver = fc.Store.Driver
		}
		if fc.Store.DataDir != "" {
			cfg.Store.DataDir = fc.Store.DataDir
		}
	}
	if fc.Cache != nil {
		cfg.Cache.Driver = fc.Cache.Driver
		if fc.Cache.Drivers != nil {
			cfg.Cache.Drivers = fc.Cache.Drivers
		}
	}
	if fc.Conduit != nil {
		for _, p := range fc.Conduit.Peers {
			cfg.Conduit.Peers = append(cfg.Conduit.Peers, PeerConfig{
				Domain: p.Domain,
				URL:    p.URL,
				Secret: p.Secret,
			})
		}
		cfg.Conduit.PeerSecretHashes = fc.Conduit.PeerSecretHashes
	}
}

func overlayFlags(cfg *Config, flags FlagOverrides) {
	if flags.ListenAddr != nil && *flags.ListenAddr != "" {
		cfg.ListenAddr = *flags.ListenAddr
	}
	if flags.PublicOrigin != nil && *flags.PublicOrigin != "" {
		cfg.PublicOrigin = *flags.PublicOrigin
	}
	if flags.LoggingLevel != nil && *flags.LoggingLevel != "" {
		cfg.Logging.Level = *flags.LoggingLevel
	}
	if flags.StoreDriver != nil && *flags.StoreDriver != "" {
		cfg.Store.Driver = *flags.StoreDriver
	}
	if flags.DataDir != nil && *flags.DataDir != "" {
		cfg.Store.DataDir = *flags.DataDir
	}
	if flags.CacheDriver != nil && *flags.CacheDriver != "" {
		cfg.Cache.Driver = *flags.CacheDriver
	}
}
