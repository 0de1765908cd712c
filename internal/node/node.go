// Package node wires the object store, UTXO index, validator, fetcher,
// mempool, and peer-to-peer layer into a runnable daemon, and implements the
// node-side collaborator interfaces the p2p session layer dispatches to.
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/marabu-chain/marabu-node/config"
	"github.com/marabu-chain/marabu-node/internal/fetcher"
	nlog "github.com/marabu-chain/marabu-node/internal/log"
	"github.com/marabu-chain/marabu-node/internal/mempool"
	"github.com/marabu-chain/marabu-node/internal/miner"
	"github.com/marabu-chain/marabu-node/internal/p2p"
	"github.com/marabu-chain/marabu-node/internal/protocol"
	"github.com/marabu-chain/marabu-node/internal/storage"
	"github.com/marabu-chain/marabu-node/internal/validator"
	"github.com/marabu-chain/marabu-node/pkg/codec"
	"github.com/marabu-chain/marabu-node/pkg/objects"
)

// Node is a fully-initialized Marabu node: object store, UTXO index,
// validator, fetcher, mempool, and peer registry/dialer.
type Node struct {
	cfg *config.Config
	log zerolog.Logger

	db      storage.DB
	objects *storage.ObjectStore
	heights *storage.HeightIndex
	tips    *storage.ChainTipStore

	validator *validator.Validator
	fetch     *fetcher.Fetcher
	pool      *mempool.Pool

	registry *p2p.Registry
	peers    *p2p.PeerStore
	dialer   *p2p.Dialer
	miner    *miner.Miner

	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New opens the node's storage and wires every collaborator. It does not
// yet listen on the network or dial peers; call Run for that.
func New(cfg *config.Config) (*Node, error) {
	log := nlog.Logger

	db, err := storage.NewBadger(cfg.ObjectsDir())
	if err != nil {
		return nil, fmt.Errorf("open object store at %s: %w", cfg.ObjectsDir(), err)
	}

	objStore := storage.NewObjectStore(db)
	heights := storage.NewHeightIndex(db)
	tips := storage.NewChainTipStore(db)

	fetch := fetcher.New(objStore, log)
	val := validator.New(objStore, db, heights, tips, fetch, log)
	pool := mempool.New(objStore, db, heights, log)

	registry := p2p.NewRegistry()
	fetch.SetBroadcaster(registry)
	peerStore := p2p.NewPeerStore(db)

	ctx, cancel := context.WithCancel(context.Background())

	n := &Node{
		cfg:       cfg,
		log:       log.With().Str("component", "node").Logger(),
		db:        db,
		objects:   objStore,
		heights:   heights,
		tips:      tips,
		validator: val,
		fetch:     fetch,
		pool:      pool,
		registry:  registry,
		peers:     peerStore,
		ctx:       ctx,
		cancel:    cancel,
	}

	n.dialer = p2p.NewDialer(registry, peerStore, cfg.P2P.OutgoingTarget, n.sessionDeps, log)

	if cfg.Mining.Enabled {
		n.miner = miner.New(objStore, db, tips, pool, n, cfg.Mining.Pubkey, cfg.Mining.Threads, log)
	}

	return n, nil
}

// sessionDeps builds the SessionDeps for a connection dialed to addr (empty
// for inbound connections).
func (n *Node) sessionDeps(addr string) p2p.SessionDeps {
	return p2p.SessionDeps{
		Registry:       n.registry,
		Peers:          n.peers,
		Intake:         n,
		Source:         n,
		Fetch:          n.fetch,
		OutgoingTarget: n.cfg.P2P.OutgoingTarget,
		Dial:           n.dialer.Dial,
		Log:            n.log,
	}
}

// Run seeds the peer store with configured bootstrap addresses, starts the
// inbound listener, and bootstraps outgoing dials. It returns an error
// only if the listener cannot be opened; otherwise it blocks until ctx is
// canceled.
func (n *Node) Run(ctx context.Context) error {
	now := time.Now()
	for _, addr := range n.cfg.P2P.Seeds {
		norm, ok := p2p.NormalizeAddr(addr)
		if !ok {
			n.log.Warn().Str("addr", addr).Msg("ignoring malformed seed address")
			continue
		}
		if err := n.peers.Touch(norm, now); err != nil {
			n.log.Warn().Err(err).Str("addr", norm).Msg("failed to persist seed address")
		}
	}

	listenAddr := fmt.Sprintf(":%d", n.cfg.P2P.ListenPort)
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddr, err)
	}
	n.listener = ln
	n.log.Info().Str("addr", listenAddr).Msg("listening for peers")

	n.dialer.Bootstrap()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.acceptLoop()
	}()

	if n.miner != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.miner.Run(ctx)
		}()
	}

	<-ctx.Done()
	ln.Close()
	n.wg.Wait()
	return nil
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.ctx.Done():
				return
			default:
				n.log.Info().Err(err).Msg("accept failed")
				return
			}
		}
		go p2p.NewSession(conn, "", n.sessionDeps("")).Run()
	}
}

// Close stops the node and releases its storage.
func (n *Node) Close() error {
	n.cancel()
	return n.db.Close()
}

// Intake implements p2p.ObjectIntake: it runs raw through the validator,
// applies accepted non-coinbase transactions to the mempool, and reorganizes
// the mempool when a block extends the chain tip.
func (n *Node) Intake(ctx context.Context, raw json.RawMessage) (string, bool, error) {
	id, err := objects.ObjectID(raw)
	if err == nil {
		if exists, existsErr := n.objects.Exists(id); existsErr == nil && exists {
			return string(id), false, nil
		}
	}

	objID, acc, err := n.validator.ValidateObject(ctx, raw)
	if err != nil {
		return string(objID), false, err
	}

	if acc == nil {
		// A transaction was accepted. Coinbase transactions are only ever
		// mempool-eligible as part of a block; reject them here silently by
		// skipping the mempool insert.
		tx, perr := objects.ParseTransaction(raw)
		if perr != nil {
			return string(objID), true, nil
		}
		if !tx.IsCoinbase() {
			if err := n.pool.AcceptTransaction(objID, tx); err != nil {
				n.log.Debug().Str("txid", string(objID)).Err(err).Msg("transaction rejected by mempool view")
				return string(objID), true, err
			}
		}
		return string(objID), true, nil
	}

	if acc.NewTip {
		oldTip, hasOldTip, err := n.tips.Get()
		if err != nil {
			return string(objID), true, protocol.Errorf(protocol.InternalError, "read chaintip: %v", err)
		}

		newTip := &storage.ChainTip{Hash: acc.ID, Block: raw, Height: acc.Height}
		if err := n.tips.Put(newTip); err != nil {
			return string(objID), true, protocol.Errorf(protocol.InternalError, "persist chaintip: %v", err)
		}

		var oldTipID codec.ObjectID
		if hasOldTip {
			oldTipID = oldTip.Hash
		}
		if err := n.pool.Reorganize(oldTipID, acc.ID, hasOldTip); err != nil {
			n.log.Error().Err(err).Msg("mempool reorganization failed")
		}

		n.log.Info().Str("id", string(acc.ID)).Int64("height", acc.Height).Msg("new chain tip")
	}

	return string(objID), true, nil
}

// GetObject implements p2p.ObjectSource.
func (n *Node) GetObject(id string) (json.RawMessage, bool, error) {
	if !codec.Valid(id) {
		return nil, false, nil
	}
	oid := codec.ObjectID(id)
	exists, err := n.objects.Exists(oid)
	if err != nil {
		return nil, false, err
	}
	if !exists {
		return nil, false, nil
	}
	raw, err := n.objects.Get(oid)
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// ChainTip implements p2p.ObjectSource.
func (n *Node) ChainTip() (string, bool) {
	tip, ok, err := n.tips.Get()
	if err != nil || !ok {
		return "", false
	}
	return string(tip.Hash), true
}

// MempoolTxIDs implements p2p.ObjectSource.
func (n *Node) MempoolTxIDs() []string {
	return n.pool.TxIDs()
}
