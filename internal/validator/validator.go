// Package validator implements the object-acceptance rules: the sum-type
// validation of transactions and blocks against the current object store,
// UTXO index, and chain tip, fetching missing ancestors and referenced
// transactions on demand.
package validator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/marabu-chain/marabu-node/internal/protocol"
	"github.com/marabu-chain/marabu-node/internal/storage"
	"github.com/marabu-chain/marabu-node/pkg/codec"
	"github.com/marabu-chain/marabu-node/pkg/objects"
)

// Fetcher resolves an object id to its raw bytes, fetching it from peers if
// it is not already stored. Implemented by internal/fetcher.
type Fetcher interface {
	Ensure(ctx context.Context, id codec.ObjectID) (json.RawMessage, error)
}

// Validator validates candidate transactions and blocks.
type Validator struct {
	objects *storage.ObjectStore
	utxoDB  storage.DB
	heights *storage.HeightIndex
	tips    *storage.ChainTipStore
	fetch   Fetcher
	now     func() time.Time
	log     zerolog.Logger
}

// New constructs a Validator. utxoDB is the raw backing store that per-block
// UTXOSet instances are carved out of via storage.NewUTXOSet.
func New(objStore *storage.ObjectStore, utxoDB storage.DB, heights *storage.HeightIndex, tips *storage.ChainTipStore, fetch Fetcher, log zerolog.Logger) *Validator {
	return &Validator{
		objects: objStore,
		utxoDB:  utxoDB,
		heights: heights,
		tips:    tips,
		fetch:   fetch,
		now:     time.Now,
		log:     log.With().Str("component", "validator").Logger(),
	}
}

// BlockAcceptance is returned by ValidateBlock on success and consumed by
// the mempool engine to drive reorganization.
type BlockAcceptance struct {
	ID     codec.ObjectID
	Block  *objects.Block
	Height int64
	NewTip bool
}

// ValidateObject dispatches a raw object to ValidateTransaction or
// ValidateBlock based on its declared type, and stores it on success.
func (v *Validator) ValidateObject(ctx context.Context, raw json.RawMessage) (codec.ObjectID, *BlockAcceptance, error) {
	kind, err := objects.Sniff(raw)
	if err != nil {
		return "", nil, protocol.Errorf(protocol.InvalidFormat, "%v", err)
	}

	id, err := objects.ObjectID(raw)
	if err != nil {
		return "", nil, protocol.Errorf(protocol.InternalError, "hash object: %v", err)
	}

	switch kind {
	case objects.KindTransaction:
		if err := v.ValidateTransaction(ctx, raw); err != nil {
			return id, nil, err
		}
		if err := v.objects.Put(id, raw); err != nil {
			return id, nil, protocol.Errorf(protocol.InternalError, "store transaction: %v", err)
		}
		return id, nil, nil
	case objects.KindBlock:
		acc, err := v.ValidateBlock(ctx, id, raw)
		if err != nil {
			return id, nil, err
		}
		if err := v.objects.Put(id, raw); err != nil {
			return id, nil, protocol.Errorf(protocol.InternalError, "store block: %v", err)
		}
		if err := v.heights.Put(id, acc.Height); err != nil {
			return id, nil, protocol.Errorf(protocol.InternalError, "persist height: %v", err)
		}
		return id, acc, nil
	default:
		return id, nil, protocol.Errorf(protocol.InvalidFormat, "unrecognized object kind")
	}
}

// ValidateTransaction checks a transaction's well-formedness and, for
// regular transactions, its inputs' resolvability, signatures, and value
// conservation. Coinbase transactions are accepted for storage but are
// never mempool-eligible; that restriction is enforced by the node's intake
// path (internal/node), not here.
func (v *Validator) ValidateTransaction(ctx context.Context, raw json.RawMessage) error {
	tx, err := objects.ParseTransaction(raw)
	if err != nil {
		return protocol.Errorf(protocol.InvalidFormat, "%v", err)
	}
	if tx.HasInputs == tx.HasHeight {
		// Both present, or neither: only exactly one may hold.
		return protocol.New(protocol.InvalidFormat, "transaction must have exactly one of inputs or height")
	}
	if tx.IsCoinbase() {
		if len(tx.Outputs) != 1 {
			return protocol.New(protocol.InvalidFormat, "coinbase transaction must have exactly one output")
		}
		return nil
	}
	return v.validateRegularInputs(tx, raw)
}

func (v *Validator) validateRegularInputs(tx *objects.Transaction, raw json.RawMessage) error {
	signable, err := objects.SignableBytes(raw)
	if err != nil {
		return protocol.Errorf(protocol.InvalidFormat, "%v", err)
	}

	seen := make(map[objects.Outpoint]bool, len(tx.Inputs))
	var totalIn, totalOut uint64
	for _, out := range tx.Outputs {
		totalOut += out.Value
	}

	for _, in := range tx.Inputs {
		if seen[in.Outpoint] {
			return protocol.New(protocol.InvalidTxConservation, "duplicate outpoint in inputs")
		}
		seen[in.Outpoint] = true

		parentID := codec.ObjectID(in.Outpoint.TxID)
		if !codec.Valid(string(parentID)) {
			return protocol.Errorf(protocol.InvalidTxOutpoint, "malformed outpoint txid %q", in.Outpoint.TxID)
		}
		exists, err := v.objects.Exists(parentID)
		if err != nil {
			return protocol.Errorf(protocol.InternalError, "check outpoint existence: %v", err)
		}
		if !exists {
			return protocol.Errorf(protocol.UnknownObject, "outpoint references unknown transaction %s", parentID)
		}
		parentRaw, err := v.objects.Get(parentID)
		if err != nil {
			return protocol.Errorf(protocol.InternalError, "load outpoint transaction: %v", err)
		}
		kind, err := objects.Sniff(parentRaw)
		if err != nil || kind != objects.KindTransaction {
			return protocol.New(protocol.InvalidTxOutpoint, "outpoint does not reference a transaction")
		}
		parentTx, err := objects.ParseTransaction(parentRaw)
		if err != nil {
			return protocol.New(protocol.InvalidTxOutpoint, "outpoint transaction malformed")
		}
		if int(in.Outpoint.Index) >= len(parentTx.Outputs) {
			return protocol.New(protocol.InvalidTxOutpoint, "outpoint index out of range")
		}
		spent := parentTx.Outputs[in.Outpoint.Index]

		ok, err := objects.VerifySignature(signable, spent.Pubkey, in.Sig)
		if err != nil || !ok {
			return protocol.New(protocol.InvalidTxSignature, "signature does not verify")
		}

		totalIn += spent.Value
	}

	if totalIn < totalOut {
		return protocol.New(protocol.InvalidTxConservation, "outputs exceed inputs")
	}
	return nil
}

// ValidateBlock checks proof-of-work, timestamp ordering, genesis/parent
// linkage, and replays the block's transactions against its parent's UTXO
// set. On success the post-state UTXO set is persisted under id before this
// function returns, ahead of any chaintip update the caller performs.
func (v *Validator) ValidateBlock(ctx context.Context, id codec.ObjectID, raw json.RawMessage) (*BlockAcceptance, error) {
	blk, err := objects.ParseBlock(raw)
	if err != nil {
		return nil, protocol.Errorf(protocol.InvalidFormat, "%v", err)
	}

	if blk.T != objects.Target {
		return nil, protocol.New(protocol.InvalidBlockPoW, "unexpected PoW target")
	}
	if !hashLess(string(id), blk.T) {
		return nil, protocol.New(protocol.InvalidBlockPoW, "block hash does not meet target")
	}
	if blk.Created > v.now().Unix() {
		return nil, protocol.New(protocol.InvalidBlockTimestamp, "created in the future")
	}

	var parentHeight int64 = -1
	var parentID codec.ObjectID
	var haveParent bool

	if blk.IsGenesis() {
		if string(id) != objects.GenesisID {
			return nil, protocol.New(protocol.InvalidGenesis, "previd null but id is not the genesis id")
		}
	} else {
		if string(id) == objects.GenesisID {
			return nil, protocol.New(protocol.InvalidGenesis, "genesis id used with non-null previd")
		}
		parentID = codec.ObjectID(*blk.PrevID)
		haveParent = true
		parentRaw, err := v.fetch.Ensure(ctx, parentID)
		if err != nil {
			return nil, asUnfindable(err)
		}
		kind, err := objects.Sniff(parentRaw)
		if err != nil || kind != objects.KindBlock {
			return nil, protocol.New(protocol.InvalidFormat, "previd does not reference a block")
		}
		parentBlk, err := objects.ParseBlock(parentRaw)
		if err != nil {
			return nil, protocol.Errorf(protocol.InvalidFormat, "parent block malformed: %v", err)
		}
		if blk.Created <= parentBlk.Created {
			return nil, protocol.New(protocol.InvalidBlockTimestamp, "created not after parent")
		}
		ph, ok, err := v.heights.Get(parentID)
		if err != nil {
			return nil, protocol.Errorf(protocol.InternalError, "read parent height: %v", err)
		}
		if !ok {
			return nil, protocol.New(protocol.InternalError, "parent block has no recorded height")
		}
		parentHeight = ph
	}

	txs := make([]*objects.Transaction, len(blk.TxIDs))
	for i, txidStr := range blk.TxIDs {
		txid := codec.ObjectID(txidStr)
		txRaw, err := v.fetch.Ensure(ctx, txid)
		if err != nil {
			return nil, asUnfindable(err)
		}
		kind, err := objects.Sniff(txRaw)
		if err != nil || kind != objects.KindTransaction {
			return nil, protocol.New(protocol.InvalidFormat, "txid does not reference a transaction")
		}
		tx, err := objects.ParseTransaction(txRaw)
		if err != nil {
			return nil, protocol.Errorf(protocol.InvalidFormat, "block transaction malformed: %v", err)
		}
		if tx.HasInputs == tx.HasHeight {
			return nil, protocol.New(protocol.InvalidFormat, "block transaction is neither regular nor coinbase")
		}
		if tx.IsCoinbase() && i != 0 {
			return nil, protocol.New(protocol.InvalidBlockCoinbase, "coinbase transaction not at position 0")
		}
		txs[i] = tx
	}

	// The running UTXO view starts as a copy of the parent's post-state set
	// (empty for genesis) and accumulates this block's own effects, so an
	// input spending an output created earlier in the same block resolves
	// correctly.
	result := storage.NewUTXOSet(v.utxoDB, id)
	if haveParent {
		if err := copyUTXOSet(storage.NewUTXOSet(v.utxoDB, parentID), result); err != nil {
			return nil, protocol.Errorf(protocol.InternalError, "copy parent utxo set: %v", err)
		}
	}

	var fees uint64
	var coinbase *objects.Transaction
	var coinbaseOutpoint objects.Outpoint

	for i, tx := range txs {
		txidStr := blk.TxIDs[i]
		if tx.IsCoinbase() {
			coinbase = tx
			coinbaseOutpoint = objects.Outpoint{TxID: txidStr, Index: 0}
			if err := result.Put(coinbaseOutpoint, storage.UTXOEntry{
				Pubkey: tx.Outputs[0].Pubkey,
				Value:  tx.Outputs[0].Value,
			}); err != nil {
				return nil, protocol.Errorf(protocol.InternalError, "persist coinbase utxo: %v", err)
			}
			continue
		}

		var inSum uint64
		for _, in := range tx.Inputs {
			entry, ok, err := result.Get(in.Outpoint)
			if err != nil {
				return nil, protocol.Errorf(protocol.InternalError, "read utxo: %v", err)
			}
			if !ok {
				return nil, protocol.New(protocol.InvalidTxOutpoint, "input spends unknown or already-spent output")
			}
			inSum += entry.Value
			if err := result.Spend(in.Outpoint); err != nil {
				return nil, protocol.Errorf(protocol.InternalError, "spend utxo: %v", err)
			}
		}
		var outSum uint64
		for idx, out := range tx.Outputs {
			outSum += out.Value
			if err := result.Put(objects.Outpoint{TxID: txidStr, Index: uint32(idx)}, storage.UTXOEntry{
				Pubkey: out.Pubkey, Value: out.Value,
			}); err != nil {
				return nil, protocol.Errorf(protocol.InternalError, "persist utxo: %v", err)
			}
		}
		if inSum < outSum {
			return nil, protocol.New(protocol.InvalidTxConservation, "block transaction outputs exceed inputs")
		}
		fees += inSum - outSum
	}

	if coinbase != nil {
		if _, stillUnspent, err := result.Get(coinbaseOutpoint); err != nil {
			return nil, protocol.Errorf(protocol.InternalError, "check coinbase utxo: %v", err)
		} else if !stillUnspent {
			return nil, protocol.New(protocol.InvalidTxOutpoint, "coinbase output spent within its own block")
		}
		if coinbase.Outputs[0].Value > objects.BlockReward+fees {
			return nil, protocol.New(protocol.InvalidBlockCoinbase, "coinbase value exceeds reward plus fees")
		}
		if coinbase.Height != uint64(parentHeight+1) {
			return nil, protocol.New(protocol.InvalidBlockCoinbase, "coinbase height does not match chain position")
		}
	}

	height := parentHeight + 1

	cur, hasCur, err := v.tips.Get()
	if err != nil {
		return nil, protocol.Errorf(protocol.InternalError, "read chaintip: %v", err)
	}
	newTip := !hasCur || height > cur.Height

	return &BlockAcceptance{ID: id, Block: blk, Height: height, NewTip: newTip}, nil
}

// copyUTXOSet copies every entry of src into dst. Used to seed a new
// block's working UTXO view from its parent's post-state set.
func copyUTXOSet(src, dst *storage.UTXOSet) error {
	return src.ForEach(func(o objects.Outpoint, e storage.UTXOEntry) error {
		return dst.Put(o, e)
	})
}

func asUnfindable(err error) error {
	if protocol.CodeOf(err) != protocol.InternalError {
		return err
	}
	return protocol.Errorf(protocol.UnfindableObject, "%v", err)
}

// hashLess reports whether hex string a, interpreted as a big-endian
// integer, is strictly less than hex string b. Both are 64-hex object ids
// or the fixed target literal, so plain lexicographic comparison suffices.
func hashLess(a, b string) bool {
	return a < b
}
