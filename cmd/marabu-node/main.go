// Marabu full node daemon.
//
// Usage:
//
//	marabu-node [--mine --pubkey=...]  Run the node
//	marabu-node --help                 Show help
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marabu-chain/marabu-node/config"
	nlog "github.com/marabu-chain/marabu-node/internal/log"
	"github.com/marabu-chain/marabu-node/internal/node"
)

func main() {
	// ── 1. Load config (defaults → file → flags) ────────────────────────
	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// ── 2. Init logger ───────────────────────────────────────────────────
	if err := nlog.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	logger := nlog.WithComponent("main")

	logger.Info().
		Str("datadir", cfg.DataDir).
		Int("p2p_port", cfg.P2P.ListenPort).
		Bool("mining", cfg.Mining.Enabled).
		Msg("Starting Marabu node")

	// ── 3. Wire the node: object store, UTXO index, validator, fetcher,
	// mempool, and peer registry/dialer ─────────────────────────────────
	n, err := node.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to construct node")
	}

	// ── 4. Run until a shutdown signal arrives ──────────────────────────
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	runErr := n.Run(ctx)

	// ── 5. Shut down cleanly ─────────────────────────────────────────────
	if err := n.Close(); err != nil {
		logger.Warn().Err(err).Msg("Error while closing node storage")
	}
	if runErr != nil {
		logger.Fatal().Err(runErr).Msg("Node exited with an error")
	}
	logger.Info().Msg("Goodbye!")
}
