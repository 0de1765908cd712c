// Package fetcher implements the object fetcher: an async rendezvous
// service that resolves an object id either from the local store or by
// broadcasting a request to live peer sessions and racing a bounded
// timeout.
package fetcher

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/marabu-chain/marabu-node/internal/protocol"
	"github.com/marabu-chain/marabu-node/internal/storage"
	"github.com/marabu-chain/marabu-node/pkg/codec"
)

// DefaultTimeout is the bounded wait for a requested object to arrive from
// any peer before giving up with UNFINDABLE_OBJECT.
const DefaultTimeout = 8 * time.Second

// Broadcaster sends a getobject request to every live peer session. It is
// implemented by the p2p session registry.
type Broadcaster interface {
	BroadcastGetObject(id codec.ObjectID)
}

// Fetcher resolves object ids to their raw bytes, fetching from peers on a
// store miss and deduplicating concurrent requests for the same id.
type Fetcher struct {
	objects *storage.ObjectStore
	peers   Broadcaster
	timeout time.Duration

	mu      sync.Mutex
	waiters map[codec.ObjectID][]chan json.RawMessage

	log zerolog.Logger
}

// New constructs a Fetcher. SetBroadcaster must be called once the peer
// registry is available, breaking the fetcher/p2p construction cycle.
func New(objects *storage.ObjectStore, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		objects: objects,
		timeout: DefaultTimeout,
		waiters: make(map[codec.ObjectID][]chan json.RawMessage),
		log:     log.With().Str("component", "fetcher").Logger(),
	}
}

// SetBroadcaster wires the peer broadcaster. Must be called before Ensure.
func (f *Fetcher) SetBroadcaster(b Broadcaster) {
	f.peers = b
}

// SetTimeout overrides the default rendezvous timeout (for tests).
func (f *Fetcher) SetTimeout(d time.Duration) {
	f.timeout = d
}

// Ensure resolves id: immediately if stored, otherwise by broadcasting
// getobject and waiting up to the configured timeout for Deliver to be
// called with a matching id. Concurrent Ensure calls for the same id share
// one broadcast and all wake on the same delivery.
func (f *Fetcher) Ensure(ctx context.Context, id codec.ObjectID) (json.RawMessage, error) {
	if raw, err := f.objects.Get(id); err == nil {
		return raw, nil
	}

	ch := make(chan json.RawMessage, 1)
	f.mu.Lock()
	_, inFlight := f.waiters[id]
	f.waiters[id] = append(f.waiters[id], ch)
	f.mu.Unlock()

	if !inFlight && f.peers != nil {
		f.peers.BroadcastGetObject(id)
	}

	timer := time.NewTimer(f.timeout)
	defer timer.Stop()

	select {
	case raw := <-ch:
		return raw, nil
	case <-timer.C:
		f.removeWaiter(id, ch)
		return nil, protocol.Errorf(protocol.UnfindableObject, "object %s not delivered within timeout", id)
	case <-ctx.Done():
		f.removeWaiter(id, ch)
		return nil, ctx.Err()
	}
}

// Deliver is called by the session layer on successful intake of an object.
// It wakes every waiter registered for id, first-one-wins semantics aside —
// every waiter receives a copy, since a buffered channel of size 1 can't
// race with more than one delivery in practice (objects are write-once).
func (f *Fetcher) Deliver(id codec.ObjectID, raw json.RawMessage) {
	f.mu.Lock()
	chans := f.waiters[id]
	delete(f.waiters, id)
	f.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- raw:
		default:
		}
	}
}

func (f *Fetcher) removeWaiter(id codec.ObjectID, ch chan json.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	chans := f.waiters[id]
	for i, c := range chans {
		if c == ch {
			f.waiters[id] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(f.waiters[id]) == 0 {
		delete(f.waiters, id)
	}
}
