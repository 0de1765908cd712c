package storage

import (
	"encoding/json"
	"fmt"

	"github.com/marabu-chain/marabu-node/pkg/codec"
)

var chaintipKeyPrefix = []byte("chaintip/")

// chaintipKey is the single well-known key under the chaintip namespace.
var chaintipKey = []byte("tip")

// ChainTip is the persisted singleton {hash, block, height} record.
type ChainTip struct {
	Hash   codec.ObjectID  `json:"hash"`
	Block  json.RawMessage `json:"block"`
	Height int64           `json:"height"`
}

// ChainTipStore holds the node's current chain tip.
type ChainTipStore struct {
	db DB
}

// NewChainTipStore wraps db, scoped to the chaintip keyspace.
func NewChainTipStore(db DB) *ChainTipStore {
	return &ChainTipStore{db: NewPrefixDB(db, chaintipKeyPrefix)}
}

// Get returns the current tip, or ok=false if none has been set yet.
func (s *ChainTipStore) Get() (*ChainTip, bool, error) {
	raw, err := s.db.Get(chaintipKey)
	if err != nil {
		return nil, false, nil
	}
	var tip ChainTip
	if err := json.Unmarshal(raw, &tip); err != nil {
		return nil, false, fmt.Errorf("chaintip store decode: %w", err)
	}
	return &tip, true, nil
}

// Put durably records tip as the current chain tip. Callers must persist
// the tip's UTXO set before calling this, so a crash between the two never
// leaves the chaintip pointing at a block without a matching UTXO snapshot.
func (s *ChainTipStore) Put(tip *ChainTip) error {
	raw, err := json.Marshal(tip)
	if err != nil {
		return fmt.Errorf("chaintip store encode: %w", err)
	}
	return s.db.Put(chaintipKey, raw)
}
