// Package config loads a node's TOML configuration file.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Config is a MemCloud node's on-disk configuration.
type Config struct {
	Name string `toml:"name"`

	// ListenHost and ListenPort are the address the peer transport binds
	// to. If binding ListenPort fails, up to 9 adjacent ports are tried.
	ListenHost string `toml:"listen_host"`
	ListenPort int     `toml:"listen_port"`

	// ControlSocket is the Unix socket path the control plane binds, in
	// addition to its fixed loopback TCP companion.
	ControlSocket string `toml:"control_socket"`

	// MaxMemoryBytes bounds how much RAM this node offers to the
	// cluster.
	MaxMemoryBytes uint64 `toml:"max_memory_bytes"`

	// DefaultPeerQuotaBytes is how much of MaxMemoryBytes a newly
	// authenticated peer is granted by default.
	DefaultPeerQuotaBytes uint64 `toml:"default_peer_quota_bytes"`

	// TrustStorePath is where approved peer public keys are persisted.
	TrustStorePath string `toml:"trust_store_path"`

	// LogDir is where the node's log file is written; empty means
	// stderr.
	LogDir   string `toml:"log_dir"`
	LogLevel string `toml:"log_level"`
}

// Default returns the fallback values Load starts from before applying
// what a configuration file sets.
func Default() Config {
	return Config{
		Name:                  "memcloud-node",
		ListenHost:            "0.0.0.0",
		ListenPort:            8080,
		ControlSocket:         "/tmp/memcloud.sock",
		MaxMemoryBytes:        256 * 1024 * 1024,
		DefaultPeerQuotaBytes: 32 * 1024 * 1024,
		TrustStorePath:        "trusted.json",
		LogLevel:              "INFO",
	}
}

// Load reads and parses a TOML configuration file at path, starting from
// Default() so a partial file only overrides what it sets.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
