package objects

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Target is the fixed proof-of-work target literal every block must name.
const Target = "00000000abc00000000000000000000000000000000000000000000000000000"

// GenesisID is the hard-coded id of the genesis block.
const GenesisID = "0000000052a0e645eca917ae1c196e0d0a4fb756747f29ef52594d68484bb5e2"

// BlockReward is the coinbase subsidy in picocoin: 50 * 10^12.
const BlockReward uint64 = 50_000_000_000_000

// Block is the parsed form of a block object.
type Block struct {
	TxIDs   []string
	Nonce   string
	PrevID  *string // nil means genesis
	Created int64
	T       string

	Miner      *string
	Note       *string
	StudentIDs []string
}

var blockAllowedKeys = map[string]bool{
	"type": true, "txids": true, "nonce": true, "previd": true, "created": true,
	"T": true, "miner": true, "note": true, "studentids": true,
}

// ParseBlock strictly decodes a block object.
func ParseBlock(raw []byte) (*Block, error) {
	var fields map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	for k := range fields {
		if !blockAllowedKeys[k] {
			return nil, fmt.Errorf("unknown field %q", k)
		}
	}

	var typ string
	if raw, ok := fields["type"]; ok {
		if err := json.Unmarshal(raw, &typ); err != nil {
			return nil, fmt.Errorf("decode type: %w", err)
		}
	}
	if typ != "block" {
		return nil, fmt.Errorf("type must be \"block\", got %q", typ)
	}

	b := &Block{}

	required := []string{"txids", "nonce", "previd", "created", "T"}
	for _, k := range required {
		if _, ok := fields[k]; !ok {
			return nil, fmt.Errorf("missing field %q", k)
		}
	}

	if err := strictUnmarshal(fields["txids"], &b.TxIDs); err != nil {
		return nil, fmt.Errorf("decode txids: %w", err)
	}
	if err := json.Unmarshal(fields["nonce"], &b.Nonce); err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}

	var previd *string
	if err := json.Unmarshal(fields["previd"], &previd); err != nil {
		return nil, fmt.Errorf("decode previd: %w", err)
	}
	b.PrevID = previd

	var created json.Number
	if err := json.Unmarshal(fields["created"], &created); err != nil {
		return nil, fmt.Errorf("decode created: %w", err)
	}
	createdVal, err := created.Int64()
	if err != nil {
		return nil, fmt.Errorf("created must be an integer")
	}
	b.Created = createdVal

	if err := json.Unmarshal(fields["T"], &b.T); err != nil {
		return nil, fmt.Errorf("decode T: %w", err)
	}

	if raw, ok := fields["miner"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode miner: %w", err)
		}
		b.Miner = &s
	}
	if raw, ok := fields["note"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode note: %w", err)
		}
		b.Note = &s
	}
	if raw, ok := fields["studentids"]; ok {
		if err := strictUnmarshal(raw, &b.StudentIDs); err != nil {
			return nil, fmt.Errorf("decode studentids: %w", err)
		}
	}

	return b, nil
}

// IsGenesis reports whether this block declares itself the chain genesis.
func (b *Block) IsGenesis() bool {
	return b.PrevID == nil
}
