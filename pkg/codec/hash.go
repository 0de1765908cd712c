package codec

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2s"
)

// ObjectIDSize is the length, in bytes, of an object id.
const ObjectIDSize = 32

// ObjectID is the hex-rendered Blake2s-256 digest of an object's canonical
// JSON serialization.
type ObjectID string

// HashCanonical computes the object id of already-canonicalized bytes.
func HashCanonical(canonical []byte) ObjectID {
	sum := blake2s.Sum256(canonical)
	return ObjectID(hex.EncodeToString(sum[:]))
}

// HashObject canonicalizes v and returns its object id.
func HashObject(v interface{}) (ObjectID, error) {
	canonical, err := Canonicalize(v)
	if err != nil {
		return "", fmt.Errorf("canonicalize: %w", err)
	}
	return HashCanonical(canonical), nil
}

// HashJSON canonicalizes raw JSON bytes (decoding first) and returns the
// resulting object id. Two differently-formatted but semantically equal JSON
// documents always yield the same id.
func HashJSON(raw []byte) (ObjectID, error) {
	v, err := Decode(raw)
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	return HashObject(v)
}

// Valid reports whether s is a syntactically valid object id: 64 lowercase
// hex characters.
func Valid(s string) bool {
	if len(s) != ObjectIDSize*2 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
