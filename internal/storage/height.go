package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/marabu-chain/marabu-node/pkg/codec"
)

var heightKeyPrefix = []byte("height/")

// HeightIndex records each validated block's chain height (genesis = 0),
// keyed by block id. It lets the validator resolve a parent's height in
// constant time instead of walking the chain back to genesis on every
// block.
type HeightIndex struct {
	db DB
}

// NewHeightIndex wraps db, scoped to the height keyspace.
func NewHeightIndex(db DB) *HeightIndex {
	return &HeightIndex{db: NewPrefixDB(db, heightKeyPrefix)}
}

// Get returns the recorded height of a block, or ok=false if unknown.
func (h *HeightIndex) Get(id codec.ObjectID) (int64, bool, error) {
	raw, err := h.db.Get([]byte(id))
	if err != nil {
		return 0, false, nil
	}
	if len(raw) != 8 {
		return 0, false, fmt.Errorf("height index: corrupt entry for %s", id)
	}
	return int64(binary.BigEndian.Uint64(raw)), true, nil
}

// Put records a block's height.
func (h *HeightIndex) Put(id codec.ObjectID, height int64) error {
	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], uint64(height))
	return h.db.Put([]byte(id), raw[:])
}
