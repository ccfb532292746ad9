// Package config defines the on-disk shape of a node's identity and
// root designation list, loaded and saved as YAML in the house style
// (github.com/goccy/go-yaml) the CLI and node bootstrap use.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"

	"github.com/quillnet/vl1/identity"
	"github.com/quillnet/vl1/wire"
)

// NodeConfig is the node's own private identity plus runtime tuning
// knobs, persisted at a path the operator controls (identity.yaml by
// default).
type NodeConfig struct {
	// Secret is the base64 private-identity blob from
	// identity.MarshalSecret.
	Secret string `yaml:"secret"`
	// ListenPort is a hint for the host's UDP listener; VL1 itself never
	// opens a socket.
	ListenPort uint16 `yaml:"listenPort"`
	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `yaml:"logLevel"`
	// LogPath, if set, additionally appends plain-text logs there.
	LogPath string `yaml:"logPath,omitempty"`
}

// RootEntry is one administrator-designated root: its public identity
// blob (base64, the same MarshalText form as identity.Identity) and a
// signed locator naming the endpoints it can be reached at.
type RootEntry struct {
	PublicKey string       `yaml:"publicKey"`
	Locator   wire.Locator `yaml:"locator"`
}

// RootsConfig is the administrator's root designation list, loaded at
// startup and fed to Topology.AddRoot for each entry.
type RootsConfig struct {
	Roots []RootEntry `yaml:"roots"`
}

// LoadNodeConfig reads and parses a NodeConfig from path.
func LoadNodeConfig(path string) (*NodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read node config: %w", err)
	}
	var cfg NodeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse node config: %w", err)
	}
	return &cfg, nil
}

// SaveNodeConfig marshals cfg and writes it to path, creating parent
// directories as needed.
func SaveNodeConfig(path string, cfg *NodeConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal node config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// LoadRootsConfig reads and parses a RootsConfig from path. A missing
// file is not an error — a fresh node may have no roots configured
// yet — and yields an empty RootsConfig.
func LoadRootsConfig(path string) (*RootsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &RootsConfig{}, nil
		}
		return nil, fmt.Errorf("config: read roots config: %w", err)
	}
	var cfg RootsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse roots config: %w", err)
	}
	return &cfg, nil
}

// SaveRootsConfig marshals cfg and writes it to path.
func SaveRootsConfig(path string, cfg *RootsConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal roots config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// ResolveIdentity loads the private identity described by cfg.
func ResolveIdentity(cfg *NodeConfig) (*identity.Identity, error) {
	id, err := identity.UnmarshalSecret(cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("config: resolve identity: %w", err)
	}
	return id, nil
}

// ParsedLogLevel parses cfg.LogLevel into a slog.Level, defaulting to
// Info on an empty or unrecognized value.
func (c *NodeConfig) ParsedLogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		if c.LogLevel != "" && c.LogLevel != "info" {
			slog.Warn("unrecognized log level, defaulting to info", "level", c.LogLevel)
		}
		return slog.LevelInfo
	}
}
