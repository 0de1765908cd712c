// Package mempool maintains the ordered list of non-coinbase transactions
// applicable atop the current chain tip, and the UTXO view derived from
// applying them in order. It is rebuilt on every chain tip change and is
// not itself durable — only the underlying chain state is.
package mempool

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/marabu-chain/marabu-node/internal/protocol"
	"github.com/marabu-chain/marabu-node/internal/storage"
	"github.com/marabu-chain/marabu-node/pkg/codec"
	"github.com/marabu-chain/marabu-node/pkg/objects"
)

// Pool is the mempool engine. Its working UTXO view lives entirely in
// memory: the design notes document that this state does not survive a
// restart, only the chain it is derived from does.
type Pool struct {
	mu sync.Mutex

	objects *storage.ObjectStore
	utxoDB  storage.DB
	heights *storage.HeightIndex

	txids []codec.ObjectID
	utxos map[objects.Outpoint]storage.UTXOEntry

	log zerolog.Logger
}

// New constructs an empty Pool. Call Reorganize once a genesis or initial
// chain tip is known to seed the working UTXO view.
func New(objStore *storage.ObjectStore, utxoDB storage.DB, heights *storage.HeightIndex, log zerolog.Logger) *Pool {
	return &Pool{
		objects: objStore,
		utxoDB:  utxoDB,
		heights: heights,
		utxos:   make(map[objects.Outpoint]storage.UTXOEntry),
		log:     log.With().Str("component", "mempool").Logger(),
	}
}

// TxIDs returns a snapshot of the ordered mempool transaction ids.
func (p *Pool) TxIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.txids))
	for i, id := range p.txids {
		out[i] = string(id)
	}
	return out
}

// AcceptTransaction applies a newly validated non-coinbase transaction to
// the mempool. If the transaction's inputs are inconsistent with the
// current mempool view (but were valid against the blockchain itself), it
// returns an INVALID_TX_OUTPOINT protocol error that the caller reports on
// the originating session without treating it as a fatal error.
func (p *Pool) AcceptTransaction(id codec.ObjectID, tx *objects.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := applyToView(p.utxos, id, tx); err != nil {
		return err
	}
	p.txids = append(p.txids, id)
	return nil
}

// Reorganize rebuilds the mempool atop a new chain tip, per the
// reorganization algorithm: transactions forgotten by abandoning oldTip's
// chain are replayed ahead of the previous mempool's own transactions,
// atop newTip's persisted UTXO set. A transaction that no longer applies
// (INVALID_TX_OUTPOINT) is dropped silently; any other failure aborts the
// reorganization, leaving the previous mempool state untouched.
func (p *Pool) Reorganize(oldTip, newTip codec.ObjectID, hasOldTip bool) error {
	forgotten, err := p.forgottenTxs(oldTip, newTip, hasOldTip)
	if err != nil {
		return fmt.Errorf("compute forgotten transactions: %w", err)
	}

	p.mu.Lock()
	oldMempoolTxs := p.txids
	p.mu.Unlock()

	toApply := append(append([]codec.ObjectID{}, forgotten...), oldMempoolTxs...)

	newUTXOs := make(map[objects.Outpoint]storage.UTXOEntry)
	if err := storage.NewUTXOSet(p.utxoDB, newTip).ForEach(func(o objects.Outpoint, e storage.UTXOEntry) error {
		newUTXOs[o] = e
		return nil
	}); err != nil {
		return fmt.Errorf("load new tip utxo set: %w", err)
	}

	newTxIDs := make([]codec.ObjectID, 0, len(toApply))
	for _, id := range toApply {
		tx, err := p.loadTx(id)
		if err != nil {
			return fmt.Errorf("load mempool candidate %s: %w", id, err)
		}
		if err := applyToView(newUTXOs, id, tx); err != nil {
			if protocol.CodeOf(err) == protocol.InvalidTxOutpoint {
				p.log.Debug().Str("txid", string(id)).Msg("dropping mempool transaction inconsistent with new tip")
				continue
			}
			return fmt.Errorf("apply %s: %w", id, err)
		}
		newTxIDs = append(newTxIDs, id)
	}

	p.mu.Lock()
	p.utxos = newUTXOs
	p.txids = newTxIDs
	p.mu.Unlock()
	return nil
}

// applyToView applies tx's effect to a UTXO view in place: every input's
// outpoint must already be present (else INVALID_TX_OUTPOINT), then inputs
// are removed and outputs added.
func applyToView(view map[objects.Outpoint]storage.UTXOEntry, id codec.ObjectID, tx *objects.Transaction) error {
	for _, in := range tx.Inputs {
		if _, ok := view[in.Outpoint]; !ok {
			return protocol.New(protocol.InvalidTxOutpoint, "input spends an output not in the mempool view")
		}
	}
	for _, in := range tx.Inputs {
		delete(view, in.Outpoint)
	}
	for idx, out := range tx.Outputs {
		view[objects.Outpoint{TxID: string(id), Index: uint32(idx)}] = storage.UTXOEntry{
			Pubkey: out.Pubkey, Value: out.Value,
		}
	}
	return nil
}

func (p *Pool) loadTx(id codec.ObjectID) (*objects.Transaction, error) {
	raw, err := p.objects.Get(id)
	if err != nil {
		return nil, err
	}
	return objects.ParseTransaction(raw)
}

func (p *Pool) loadBlock(id codec.ObjectID) (*objects.Block, error) {
	raw, err := p.objects.Get(id)
	if err != nil {
		return nil, err
	}
	return objects.ParseBlock(raw)
}

// forgottenTxs computes the ordered list of non-coinbase transaction ids in
// blocks that were on oldTip's chain but are not on newTip's chain, oldest
// abandoned block first. It finds the common ancestor by lifting whichever
// pointer sits at the greater height until both are level, then walking
// both back in lockstep comparing block ids, collecting every block the
// old pointer passes through along the way.
func (p *Pool) forgottenTxs(oldTip, newTip codec.ObjectID, hasOldTip bool) ([]codec.ObjectID, error) {
	if !hasOldTip {
		return nil, nil
	}

	oldHeight, ok, err := p.heights.Get(oldTip)
	if err != nil || !ok {
		return nil, fmt.Errorf("height of old tip %s: %w", oldTip, err)
	}
	newHeight, ok, err := p.heights.Get(newTip)
	if err != nil || !ok {
		return nil, fmt.Errorf("height of new tip %s: %w", newTip, err)
	}

	oldPtr, newPtr := oldTip, newTip
	var abandoned []codec.ObjectID

	for oldHeight > newHeight {
		abandoned = append(abandoned, oldPtr)
		blk, err := p.loadBlock(oldPtr)
		if err != nil {
			return nil, fmt.Errorf("load block %s: %w", oldPtr, err)
		}
		oldPtr = codec.ObjectID(*blk.PrevID)
		oldHeight--
	}
	for newHeight > oldHeight {
		blk, err := p.loadBlock(newPtr)
		if err != nil {
			return nil, fmt.Errorf("load block %s: %w", newPtr, err)
		}
		newPtr = codec.ObjectID(*blk.PrevID)
		newHeight--
	}

	for oldPtr != newPtr {
		abandoned = append(abandoned, oldPtr)
		oldBlk, err := p.loadBlock(oldPtr)
		if err != nil {
			return nil, fmt.Errorf("load block %s: %w", oldPtr, err)
		}
		newBlk, err := p.loadBlock(newPtr)
		if err != nil {
			return nil, fmt.Errorf("load block %s: %w", newPtr, err)
		}
		oldPtr = codec.ObjectID(*oldBlk.PrevID)
		newPtr = codec.ObjectID(*newBlk.PrevID)
	}

	var forgotten []codec.ObjectID
	for i := len(abandoned) - 1; i >= 0; i-- {
		blk, err := p.loadBlock(abandoned[i])
		if err != nil {
			return nil, fmt.Errorf("load abandoned block %s: %w", abandoned[i], err)
		}
		for j, txidStr := range blk.TxIDs {
			txid := codec.ObjectID(txidStr)
			if j == 0 {
				if tx, err := p.loadTx(txid); err == nil && tx.IsCoinbase() {
					continue
				}
			}
			forgotten = append(forgotten, txid)
		}
	}
	return forgotten, nil
}
