package storage

import (
	"encoding/json"
	"fmt"

	"github.com/marabu-chain/marabu-node/pkg/codec"
)

// objectKeyPrefix namespaces the object space within the shared backing DB.
var objectKeyPrefix = []byte("obj/")

// ObjectStore is a persistent, write-once {object-id -> raw object} mapping.
type ObjectStore struct {
	db DB
}

// NewObjectStore wraps db as an ObjectStore, scoping it to the object
// keyspace prefix.
func NewObjectStore(db DB) *ObjectStore {
	return &ObjectStore{db: NewPrefixDB(db, objectKeyPrefix)}
}

// Exists reports whether an object with the given id has been stored.
func (s *ObjectStore) Exists(id codec.ObjectID) (bool, error) {
	ok, err := s.db.Has([]byte(id))
	if err != nil {
		return false, fmt.Errorf("object store exists(%s): %w", id, err)
	}
	return ok, nil
}

// Get returns the raw JSON bytes of a stored object.
func (s *ObjectStore) Get(id codec.ObjectID) (json.RawMessage, error) {
	v, err := s.db.Get([]byte(id))
	if err != nil {
		return nil, fmt.Errorf("object store get(%s): %w", id, err)
	}
	return json.RawMessage(v), nil
}

// Put stores an object under its id. Re-putting the same id is an idempotent
// no-op: the first write wins, matching write-once semantics.
func (s *ObjectStore) Put(id codec.ObjectID, raw json.RawMessage) error {
	exists, err := s.Exists(id)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := s.db.Put([]byte(id), raw); err != nil {
		return fmt.Errorf("object store put(%s): %w", id, err)
	}
	return nil
}
