package config

import (
	"encoding/hex"
	"fmt"
)

// Validate checks runtime node config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.P2P.ListenPort < 0 || cfg.P2P.ListenPort > 65535 {
		return fmt.Errorf("p2p.port must be in range [0, 65535]")
	}
	if cfg.P2P.OutgoingTarget < 0 {
		return fmt.Errorf("p2p.outgoing must not be negative")
	}
	if cfg.Mining.Enabled {
		if cfg.Mining.Pubkey == "" {
			return fmt.Errorf("mining.pubkey is required when mining is enabled")
		}
		b, err := hex.DecodeString(cfg.Mining.Pubkey)
		if err != nil || len(b) != 32 {
			return fmt.Errorf("mining.pubkey must be a 64-hex ed25519 public key")
		}
		if cfg.Mining.Threads <= 0 {
			cfg.Mining.Threads = 1
		}
	}
	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	return nil
}
