package p2p

import (
	"net"
	"time"

	"github.com/rs/zerolog"
)

// Dialer opens outgoing connections to known peer addresses until the
// registry's live-session count reaches the configured target. Failed
// dials are logged and not retried eagerly, per the registry/dialer design:
// the next `peers` gossip or restart is what drives another attempt.
type Dialer struct {
	registry *Registry
	peers    *PeerStore
	target   int
	newDeps  func(addr string) SessionDeps
	log      zerolog.Logger

	dialTimeout time.Duration
}

// NewDialer constructs a Dialer. newDeps is called once per successful dial
// to build the SessionDeps for the resulting Session — it exists so the
// dialer does not need to know about the node's stores directly.
func NewDialer(registry *Registry, peers *PeerStore, target int, newDeps func(addr string) SessionDeps, log zerolog.Logger) *Dialer {
	return &Dialer{
		registry:    registry,
		peers:       peers,
		target:      target,
		newDeps:     newDeps,
		log:         log.With().Str("component", "dialer").Logger(),
		dialTimeout: 5 * time.Second,
	}
}

// Dial connects to addr and, on success, runs a Session over the
// connection until it closes. Safe to call from a goroutine; it returns
// once the session ends.
func (d *Dialer) Dial(addr string) {
	conn, err := net.DialTimeout("tcp", addr, d.dialTimeout)
	if err != nil {
		d.log.Info().Str("addr", addr).Err(err).Msg("dial failed")
		d.registry.unmarkDialed(addr)
		return
	}
	NewSession(conn, addr, d.newDeps(addr)).Run()
}

// Bootstrap dials every currently known peer address, up to the outgoing
// connection target, without waiting for a `peers` message to arrive
// first. Intended to run once at startup.
func (d *Dialer) Bootstrap() {
	records, err := d.peers.LoadAll()
	if err != nil {
		d.log.Error().Err(err).Msg("load persisted peers for bootstrap")
		return
	}
	active := d.registry.Count()
	for _, r := range records {
		if active >= d.target {
			return
		}
		if d.registry.markDialed(r.Address) {
			active++
			go d.Dial(r.Address)
		}
	}
}
