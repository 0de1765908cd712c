package objects

import (
	"encoding/json"
	"fmt"

	"github.com/marabu-chain/marabu-node/pkg/codec"
)

// Kind distinguishes the two object variants carried over the wire.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransaction
	KindBlock
)

// Sniff reports the declared type of a raw object without fully validating
// its shape, so callers can dispatch to ParseTransaction/ParseBlock.
func Sniff(raw []byte) (Kind, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return KindUnknown, fmt.Errorf("decode type field: %w", err)
	}
	switch head.Type {
	case "transaction":
		return KindTransaction, nil
	case "block":
		return KindBlock, nil
	default:
		return KindUnknown, fmt.Errorf("unknown object type %q", head.Type)
	}
}

// ObjectID returns the canonical object id of a raw JSON object: the
// Blake2s-256 digest of its RFC 8785 canonicalization.
func ObjectID(raw []byte) (codec.ObjectID, error) {
	return codec.HashJSON(raw)
}

// SignableBytes returns the canonical JSON bytes of a transaction with every
// input's "sig" field replaced by null — the exact form that must be
// Ed25519-signed and Ed25519-verified.
func SignableBytes(raw []byte) ([]byte, error) {
	v, err := codec.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("not a JSON object")
	}
	inputsRaw, ok := m["inputs"]
	if !ok {
		return nil, fmt.Errorf("transaction has no inputs")
	}
	inputs, ok := inputsRaw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("inputs is not an array")
	}
	nulled := make([]interface{}, len(inputs))
	for i, in := range inputs {
		obj, ok := in.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("input %d is not an object", i)
		}
		cp := make(map[string]interface{}, len(obj))
		for k, val := range obj {
			cp[k] = val
		}
		cp["sig"] = nil
		nulled[i] = cp
	}
	cp := make(map[string]interface{}, len(m))
	for k, val := range m {
		cp[k] = val
	}
	cp["inputs"] = nulled
	return codec.Canonicalize(cp)
}
