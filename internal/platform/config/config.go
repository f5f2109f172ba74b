// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"net/url"
)

// Config is the resolved configuration of one pod.
type Config struct {
	// ListenAddr is the pod's HTTP listen address.
	ListenAddr string

	// PublicOrigin is the pod's canonical origin, e.g.
	// "https://pod-a.example.com". Its host is the UID domain this pod
	// considers local.
	PublicOrigin string

	Logging LoggingConfig
	Store   StoreConfig
	Cache   CacheConfig
	Conduit ConduitConfig
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string
}

// StoreConfig selects and configures the persistence driver.
type StoreConfig struct {
	// Driver names a registered store driver (sqlite).
	Driver string

	// DataDir is where file-backed drivers keep their data.
	DataDir string
}

// CacheConfig selects and configures the query cache.
type CacheConfig struct {
	// Driver names a registered cache driver (memory). Empty disables
	// caching.
	Driver string

	// Drivers holds per-driver option maps keyed by driver name.
	Drivers map[string]any
}

// ConduitConfig configures federation with peer pods.
type ConduitConfig struct {
	// Peers are the pods this one can deliver conduit messages to.
	Peers []PeerConfig

	// PeerSecretHashes are bcrypt digests of the secrets inbound peers
	// present. Empty disables the inbound conduit.
	PeerSecretHashes []string
}

// PeerConfig is one outbound federation peer.
type PeerConfig struct {
	// Domain is the UID domain the peer hosts.
	Domain string

	// URL is the peer's conduit base URL.
	URL string

	// Secret is the shared secret presented to this peer.
	Secret string
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:   ":8475",
		PublicOrigin: "http://localhost:8475",
		Logging:      LoggingConfig{Level: "info"},
		Store:        StoreConfig{Driver: "sqlite", DataDir: "data"},
		Cache:        CacheConfig{Driver: "memory"},
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	u, err := url.Parse(c.PublicOrigin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("public_origin %q must be an absolute URL", c.PublicOrigin)
	}
	if c.Store.Driver == "" {
		return fmt.Errorf("store driver must be set")
	}
	for _, peer := range c.Conduit.Peers {
		if peer.Domain == "" {
			return fmt.Errorf("conduit peer with URL %q is missing a domain", peer.URL)
		}
		pu, err := url.Parse(peer.URL)
		if err != nil || pu.Scheme == "" || pu.Host == "" {
			return fmt.Errorf("conduit peer %q URL %q must be an absolute URL", peer.Domain, peer.URL)
		}
	}
	return nil
}
