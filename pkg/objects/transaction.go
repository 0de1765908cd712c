// Package objects defines the wire-format transaction and block shapes and
// their strict JSON (un)marshaling. Hashing and canonical signing views are
// handled by pkg/codec directly on the decoded generic JSON value, so that
// the exact bytes a peer sent are always what gets hashed — these types
// exist purely to give the validator and mempool typed, checked access to
// fields.
package objects

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Outpoint identifies a prior transaction output.
type Outpoint struct {
	TxID  string `json:"txid"`
	Index uint32 `json:"index"`
}

// Input spends a prior output, authorized by an Ed25519 signature.
type Input struct {
	Outpoint Outpoint `json:"outpoint"`
	Sig      string   `json:"sig"`
}

// Output creates a new spendable value locked to a public key.
type Output struct {
	Pubkey string `json:"pubkey"`
	Value  uint64 `json:"value"`
}

// Transaction is the parsed form of a transaction object. Exactly one of
// (Inputs present) or (Height present) holds for a well-formed transaction;
// both or neither present is a format error, detected by the validator.
type Transaction struct {
	Outputs []Output

	HasInputs bool
	Inputs    []Input

	HasHeight bool
	Height    uint64
}

// IsCoinbase reports whether this transaction is shaped as a coinbase
// (height present, no inputs key). Callers must have already rejected the
// both-present / neither-present cases.
func (t *Transaction) IsCoinbase() bool {
	return t.HasHeight && !t.HasInputs
}

var txAllowedKeys = map[string]bool{
	"type": true, "outputs": true, "inputs": true, "height": true,
}

// ParseTransaction strictly decodes a transaction object. It rejects unknown
// top-level fields and malformed nested shapes, but does NOT enforce the
// inputs/height mutual-exclusivity invariant — that is a validation concern
// (INVALID_FORMAT), not a parse concern.
func ParseTransaction(raw []byte) (*Transaction, error) {
	var fields map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	for k := range fields {
		if !txAllowedKeys[k] {
			return nil, fmt.Errorf("unknown field %q", k)
		}
	}

	var typ string
	if raw, ok := fields["type"]; ok {
		if err := json.Unmarshal(raw, &typ); err != nil {
			return nil, fmt.Errorf("decode type: %w", err)
		}
	}
	if typ != "transaction" {
		return nil, fmt.Errorf("type must be \"transaction\", got %q", typ)
	}

	outRaw, ok := fields["outputs"]
	if !ok {
		return nil, fmt.Errorf("missing outputs")
	}
	var outputs []Output
	if err := strictUnmarshal(outRaw, &outputs); err != nil {
		return nil, fmt.Errorf("decode outputs: %w", err)
	}

	t := &Transaction{Outputs: outputs}

	if inRaw, ok := fields["inputs"]; ok {
		t.HasInputs = true
		if err := strictUnmarshal(inRaw, &t.Inputs); err != nil {
			return nil, fmt.Errorf("decode inputs: %w", err)
		}
	}
	if hRaw, ok := fields["height"]; ok {
		t.HasHeight = true
		var h json.Number
		if err := json.Unmarshal(hRaw, &h); err != nil {
			return nil, fmt.Errorf("decode height: %w", err)
		}
		v, err := h.Int64()
		if err != nil || v < 0 {
			return nil, fmt.Errorf("height must be a non-negative integer")
		}
		t.Height = uint64(v)
	}

	return t, nil
}

// strictUnmarshal decodes data into v, rejecting unknown fields on any
// struct encountered (recursively, via the standard library's own
// DisallowUnknownFields pass-through for nested structs).
func strictUnmarshal(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
