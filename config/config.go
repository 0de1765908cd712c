// Package config handles node configuration: listen port, data directory,
// bootstrap peers, outgoing connection target, logging, and the mining
// toggle. Configuration is layered defaults -> file -> flags, each layer
// overriding the previous.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultPort is the default TCP port for the peer wire protocol.
const DefaultPort = 18018

// Config holds a node's runtime configuration.
type Config struct {
	DataDir string `conf:"datadir"`

	P2P    P2PConfig
	Mining MiningConfig
	Log    LogConfig
}

// P2PConfig holds peer-to-peer networking settings.
type P2PConfig struct {
	ListenPort     int      `conf:"p2p.port"`
	Seeds          []string `conf:"p2p.seeds"`
	OutgoingTarget int      `conf:"p2p.outgoing"`
}

// MiningConfig holds block-production settings.
type MiningConfig struct {
	Enabled bool   `conf:"mining.enabled"`
	Pubkey  string `conf:"mining.pubkey"`
	Threads int    `conf:"mining.threads"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// DefaultDataDir returns the platform-specific default data directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".marabu"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Marabu")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Marabu")
		}
		return filepath.Join(home, "AppData", "Roaming", "Marabu")
	default:
		return filepath.Join(home, ".marabu")
	}
}

// ObjectsDir returns the object-store directory.
func (c *Config) ObjectsDir() string {
	return filepath.Join(c.DataDir, "objects")
}

// KeystoreDir returns the keystore directory.
func (c *Config) KeystoreDir() string {
	return filepath.Join(c.DataDir, "keystore")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "marabu.conf")
}
