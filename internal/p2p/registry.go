package p2p

import (
	"sync"

	"github.com/marabu-chain/marabu-node/pkg/codec"
)

// Registry tracks live peer sessions and the addresses with an outgoing dial
// in flight or established,
// and exposes the broadcast operations that session handlers and the
// fetcher need. A single Registry is shared by every accepted and dialed
// connection.
type Registry struct {
	mu       sync.Mutex
	sessions map[*Session]bool
	dialed   map[string]bool
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[*Session]bool),
		dialed:   make(map[string]bool),
	}
}

// add registers a session as live.
func (r *Registry) add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s] = true
}

// remove unregisters a session, typically called once it has closed.
func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, s)
	if s.addr != "" {
		delete(r.dialed, s.addr)
	}
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// markDialed records addr as having an outgoing connection attempt in
// flight or established, so the dialer does not target it twice.
func (r *Registry) markDialed(addr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dialed[addr] {
		return false
	}
	r.dialed[addr] = true
	return true
}

func (r *Registry) unmarkDialed(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.dialed, addr)
}

// BroadcastGetObject sends a getobject request to every live session.
// Implements fetcher.Broadcaster.
func (r *Registry) BroadcastGetObject(id codec.ObjectID) {
	r.broadcast(func(s *Session) {
		s.sendGetObject(string(id))
	})
}

// BroadcastIHaveObject announces possession of id to every live session.
func (r *Registry) BroadcastIHaveObject(id string) {
	r.broadcast(func(s *Session) {
		s.sendIHaveObject(id)
	})
}

func (r *Registry) broadcast(fn func(*Session)) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		fn(s)
	}
}
