package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/marabu-chain/marabu-node/pkg/codec"
	"github.com/marabu-chain/marabu-node/pkg/objects"
)

var utxoKeyPrefix = []byte("utxo/")

// UTXOEntry records an unspent output's value and owning pubkey, keyed by
// the outpoint that created it.
type UTXOEntry struct {
	Pubkey string `json:"pubkey"`
	Value  uint64 `json:"value"`
}

// UTXOSet is the unspent-output set associated with one block, stored under
// that block's id. The validator writes one per accepted block; the mempool
// and miner read the chain tip's set to seed their in-memory views.
type UTXOSet struct {
	db DB
}

// NewUTXOSet wraps db, scoped to the set named by blockID.
func NewUTXOSet(db DB, blockID codec.ObjectID) *UTXOSet {
	prefix := append(append([]byte{}, utxoKeyPrefix...), blockID...)
	prefix = append(prefix, '/')
	return &UTXOSet{db: NewPrefixDB(db, prefix)}
}

func outpointKey(o objects.Outpoint) []byte {
	return []byte(fmt.Sprintf("%s:%d", o.TxID, o.Index))
}

func parseOutpointKey(key []byte) (objects.Outpoint, error) {
	s := string(key)
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return objects.Outpoint{}, fmt.Errorf("malformed utxo key %q", s)
	}
	n, err := strconv.ParseUint(s[idx+1:], 10, 32)
	if err != nil {
		return objects.Outpoint{}, fmt.Errorf("malformed utxo key %q: %w", s, err)
	}
	return objects.Outpoint{TxID: s[:idx], Index: uint32(n)}, nil
}

// Get returns the entry for an outpoint and whether it is currently unspent.
func (s *UTXOSet) Get(o objects.Outpoint) (*UTXOEntry, bool, error) {
	key := outpointKey(o)
	ok, err := s.db.Has(key)
	if err != nil {
		return nil, false, fmt.Errorf("utxo set has %s: %w", o.TxID, err)
	}
	if !ok {
		return nil, false, nil
	}
	raw, err := s.db.Get(key)
	if err != nil {
		return nil, false, fmt.Errorf("utxo set get %s: %w", o.TxID, err)
	}
	var e UTXOEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("utxo set decode %s: %w", o.TxID, err)
	}
	return &e, true, nil
}

// Put records an outpoint as unspent with the given entry.
func (s *UTXOSet) Put(o objects.Outpoint, e UTXOEntry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("utxo set encode %s: %w", o.TxID, err)
	}
	return s.db.Put(outpointKey(o), raw)
}

// Spend marks an outpoint as spent, removing it from the set.
func (s *UTXOSet) Spend(o objects.Outpoint) error {
	return s.db.Delete(outpointKey(o))
}

// Delete discards the entire set (used once a block's UTXO snapshot is no
// longer referenced by any live chain tip or mempool view).
func (s *UTXOSet) Delete() error {
	if pdb, ok := s.db.(*PrefixDB); ok {
		return pdb.DeleteAll()
	}
	return nil
}

// ForEach visits every unspent entry in the set.
func (s *UTXOSet) ForEach(fn func(objects.Outpoint, UTXOEntry) error) error {
	return s.db.ForEach(nil, func(key, value []byte) error {
		o, err := parseOutpointKey(key)
		if err != nil {
			return err
		}
		var e UTXOEntry
		if err := json.Unmarshal(value, &e); err != nil {
			return fmt.Errorf("utxo set decode %s: %w", o.TxID, err)
		}
		return fn(o, e)
	})
}
