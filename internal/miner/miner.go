// Package miner implements the optional CPU block producer: it assembles a
// candidate block from the current chain tip and mempool, grinds its nonce
// until the proof-of-work target is met, and feeds the result back through
// the node's own object intake path — the same path a block received from a
// peer would take.
package miner

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/marabu-chain/marabu-node/internal/mempool"
	"github.com/marabu-chain/marabu-node/internal/storage"
	"github.com/marabu-chain/marabu-node/pkg/codec"
	"github.com/marabu-chain/marabu-node/pkg/objects"
)

// MaxBlockTxs bounds how many transactions a candidate block includes,
// counting the coinbase: at most MaxBlockTxs-1 come from the mempool.
const MaxBlockTxs = 128

// Intake is implemented by internal/node.Node: it runs a freshly produced
// object through the same acceptance path used for objects received from
// peers.
type Intake interface {
	Intake(ctx context.Context, raw json.RawMessage) (id string, isNew bool, err error)
}

// Miner grinds candidate blocks atop the current chain tip and mempool.
type Miner struct {
	objects *storage.ObjectStore
	utxoDB  storage.DB
	tips    *storage.ChainTipStore
	pool    *mempool.Pool
	intake  Intake

	pubkey  string
	threads int

	log zerolog.Logger
}

// New constructs a Miner that pays block rewards to pubkey (64-hex Ed25519
// public key) and grinds nonces across threads goroutines.
func New(objects *storage.ObjectStore, utxoDB storage.DB, tips *storage.ChainTipStore, pool *mempool.Pool, intake Intake, pubkey string, threads int, log zerolog.Logger) *Miner {
	if threads <= 0 {
		threads = 1
	}
	return &Miner{
		objects: objects,
		utxoDB:  utxoDB,
		tips:    tips,
		pool:    pool,
		intake:  intake,
		pubkey:  pubkey,
		threads: threads,
		log:     log.With().Str("component", "miner").Logger(),
	}
}

// Run builds and mines candidate blocks until ctx is canceled.
func (m *Miner) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		cand, err := m.buildCandidate()
		if err != nil {
			m.log.Warn().Err(err).Msg("failed to build candidate block")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		blockRaw, ok := m.mine(ctx, cand)
		if !ok {
			return
		}

		if _, _, err := m.intake.Intake(ctx, cand.coinbaseRaw); err != nil {
			m.log.Warn().Err(err).Msg("own coinbase transaction rejected")
			continue
		}
		id, isNew, err := m.intake.Intake(ctx, blockRaw)
		if err != nil {
			m.log.Warn().Err(err).Msg("own candidate block rejected")
			continue
		}
		if isNew {
			m.log.Info().Str("id", id).Int("txs", len(cand.txids)).Msg("mined block")
		}
	}
}

// candidate is a block body awaiting only its nonce.
type candidate struct {
	previd      *string
	created     int64
	txids       []string
	coinbaseRaw json.RawMessage
}

// buildCandidate selects mempool transactions atop the chain tip's UTXO set,
// in mempool order, up to MaxBlockTxs-1, skipping any that no longer apply.
func (m *Miner) buildCandidate() (*candidate, error) {
	tip, hasTip, err := m.tips.Get()
	if err != nil {
		return nil, fmt.Errorf("read chaintip: %w", err)
	}

	var previd *string
	parentHeight := int64(-1)
	if hasTip {
		id := string(tip.Hash)
		previd = &id
		parentHeight = tip.Height
	}

	view := make(map[objects.Outpoint]storage.UTXOEntry)
	if hasTip {
		if err := storage.NewUTXOSet(m.utxoDB, tip.Hash).ForEach(func(o objects.Outpoint, e storage.UTXOEntry) error {
			view[o] = e
			return nil
		}); err != nil {
			return nil, fmt.Errorf("load chaintip utxo set: %w", err)
		}
	}

	var selected []string
	var fees uint64
	for _, idStr := range m.pool.TxIDs() {
		if len(selected) >= MaxBlockTxs-1 {
			break
		}
		raw, err := m.objects.Get(codec.ObjectID(idStr))
		if err != nil {
			continue
		}
		tx, err := objects.ParseTransaction(raw)
		if err != nil || tx.IsCoinbase() {
			continue
		}

		var inSum, outSum uint64
		applicable := true
		for _, in := range tx.Inputs {
			entry, ok := view[in.Outpoint]
			if !ok {
				applicable = false
				break
			}
			inSum += entry.Value
		}
		if !applicable {
			continue
		}
		for _, out := range tx.Outputs {
			outSum += out.Value
		}
		if inSum < outSum {
			continue
		}

		for _, in := range tx.Inputs {
			delete(view, in.Outpoint)
		}
		for idx, out := range tx.Outputs {
			view[objects.Outpoint{TxID: idStr, Index: uint32(idx)}] = storage.UTXOEntry{
				Pubkey: out.Pubkey, Value: out.Value,
			}
		}
		fees += inSum - outSum
		selected = append(selected, idStr)
	}

	coinbase := map[string]interface{}{
		"type": "transaction",
		"outputs": []interface{}{
			map[string]interface{}{"pubkey": m.pubkey, "value": objects.BlockReward + fees},
		},
		"height": parentHeight + 1,
	}
	coinbaseRaw, err := json.Marshal(coinbase)
	if err != nil {
		return nil, fmt.Errorf("marshal coinbase: %w", err)
	}
	coinbaseID, err := objects.ObjectID(coinbaseRaw)
	if err != nil {
		return nil, fmt.Errorf("hash coinbase: %w", err)
	}

	return &candidate{
		previd:      previd,
		created:     time.Now().Unix(),
		txids:       append([]string{string(coinbaseID)}, selected...),
		coinbaseRaw: coinbaseRaw,
	}, nil
}

// mine grinds cand's nonce across m.threads goroutines until one finds a
// hash below the target or ctx is canceled.
func (m *Miner) mine(ctx context.Context, cand *candidate) (json.RawMessage, bool) {
	mineCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	found := make(chan json.RawMessage, 1)
	var wg sync.WaitGroup
	for i := 0; i < m.threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			grind(mineCtx, cand, found)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case raw := <-found:
		cancel()
		<-done
		return raw, true
	case <-done:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// grind repeatedly draws a random 64-hex nonce and reports the first block
// encoding whose hash meets the target.
func grind(ctx context.Context, cand *candidate, out chan<- json.RawMessage) {
	block := map[string]interface{}{
		"type":    "block",
		"txids":   cand.txids,
		"previd":  cand.previd,
		"created": cand.created,
		"T":       objects.Target,
	}
	nonce := make([]byte, 32)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, err := rand.Read(nonce); err != nil {
			return
		}
		block["nonce"] = hex.EncodeToString(nonce)

		raw, err := json.Marshal(block)
		if err != nil {
			return
		}
		id, err := objects.ObjectID(raw)
		if err != nil {
			return
		}
		if string(id) < objects.Target {
			select {
			case out <- raw:
			default:
			}
			return
		}
	}
}
