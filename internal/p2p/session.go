// Package p2p implements the peer wire protocol: line-delimited JSON over
// raw TCP, the per-connection session state machine, peer persistence, and
// the outgoing dialer.
package p2p

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/marabu-chain/marabu-node/internal/protocol"
	"github.com/marabu-chain/marabu-node/pkg/codec"
)

const (
	helloTimeout = 30 * time.Second
	idleTimeout  = 10 * time.Second
)

var helloVersionRE = regexp.MustCompile(`^0\.9\.[0-9]+$`)

// state is the session's position in the handshake state machine.
type state int

const (
	stateAwaitingHello state = iota
	stateActive
	stateClosed
)

// Fetcher resolves an object id from store or peers, and is notified when
// an object arrives so any outstanding waiter wakes.
type Fetcher interface {
	Ensure(ctx context.Context, id codec.ObjectID) (json.RawMessage, error)
	Deliver(id codec.ObjectID, raw json.RawMessage)
}

// ObjectIntake is invoked for every inbound `object` message. It is
// implemented by the node wiring layer, which runs the object through the
// validator, persists it on success, applies non-coinbase transactions to
// the mempool, and reorganizes the mempool itself when a block becomes the
// new chain tip.
type ObjectIntake interface {
	// Intake validates and (on success) stores raw. It returns the object's
	// id, whether it is newly known (false if already stored), and an error
	// using the protocol's typed codes on rejection.
	Intake(ctx context.Context, raw json.RawMessage) (id string, isNew bool, err error)
}

// ObjectSource answers getobject requests and getchaintip/getmempool
// queries from the node's persisted state.
type ObjectSource interface {
	GetObject(id string) (json.RawMessage, bool, error)
	ChainTip() (id string, ok bool)
	MempoolTxIDs() []string
}

// Session runs one peer connection's state machine: entry actions, the
// hello timeout, per-line framing and idle timeout, and dispatch of every
// message type to the node's stores.
type Session struct {
	conn net.Conn
	w    *bufio.Writer
	addr string // outgoing target address, empty for accepted connections

	registry *Registry
	peers    *PeerStore
	intake   ObjectIntake
	source   ObjectSource
	fetch    Fetcher

	outgoingTarget int
	dial           func(addr string)

	log zerolog.Logger

	mu    sync.Mutex
	state state

	helloTimer *time.Timer
	idleTimer  *time.Timer
}

// SessionDeps bundles the collaborators a Session dispatches to. Grouped
// into one struct so Node construction doesn't need a ten-argument
// constructor.
type SessionDeps struct {
	Registry       *Registry
	Peers          *PeerStore
	Intake         ObjectIntake
	Source         ObjectSource
	Fetch          Fetcher
	OutgoingTarget int
	Dial           func(addr string)
	Log            zerolog.Logger
}

// NewSession wraps an established connection (accepted or dialed) and
// prepares it to run. addr is the outgoing target address used when this
// connection was dialed by us; empty for inbound connections.
func NewSession(conn net.Conn, addr string, deps SessionDeps) *Session {
	return &Session{
		conn:           conn,
		w:              bufio.NewWriter(conn),
		addr:           addr,
		registry:       deps.Registry,
		peers:          deps.Peers,
		intake:         deps.Intake,
		source:         deps.Source,
		fetch:          deps.Fetch,
		outgoingTarget: deps.OutgoingTarget,
		dial:           deps.Dial,
		log:            deps.Log.With().Str("peer", conn.RemoteAddr().String()).Logger(),
		state:          stateAwaitingHello,
	}
}

// Run executes the session to completion: it sends the entry actions, then
// reads and dispatches lines until the connection closes or a fatal
// protocol error occurs. It blocks until the session ends.
func (s *Session) Run() {
	s.registry.add(s)
	defer s.registry.remove(s)
	defer s.conn.Close()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("session handler panicked")
		}
	}()

	s.sendHello()
	s.send(protocol.EncodeGetPeers())
	s.send(protocol.EncodeGetChainTip())
	s.send(protocol.EncodeGetMempool())

	s.mu.Lock()
	s.helloTimer = time.AfterFunc(helloTimeout, s.onHelloTimeout)
	s.mu.Unlock()

	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 4096), protocol.MaxLineSize+1)

	s.resetIdleTimer()
	for scanner.Scan() {
		s.resetIdleTimer()
		line := scanner.Bytes()
		if len(line) > protocol.MaxLineSize {
			s.fail(protocol.InvalidFormat, "line exceeds maximum size")
			return
		}
		if s.handleLine(line) {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		s.fail(protocol.InvalidFormat, "line read failed: %v", err)
		return
	}
	s.stopTimers()
}

func (s *Session) sendHello() {
	s.send(protocol.EncodeHello())
}

func (s *Session) send(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed {
		return
	}
	s.w.Write(b)
	s.w.WriteByte('\n')
	if err := s.w.Flush(); err != nil {
		s.log.Debug().Err(err).Msg("write failed")
	}
}

func (s *Session) sendGetObject(id string)   { s.send(protocol.EncodeGetObject(id)) }
func (s *Session) sendIHaveObject(id string) { s.send(protocol.EncodeIHaveObject(id)) }

// fail emits a protocol error and, if the code is fatal, closes the
// connection.
func (s *Session) fail(code protocol.ErrorCode, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	s.send(protocol.EncodeError(code, msg))
	s.log.Info().Str("code", string(code)).Str("reason", msg).Msg("protocol error")
	if protocol.Closes(code) {
		s.close()
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed {
		return
	}
	s.state = stateClosed
	s.conn.Close()
}

func (s *Session) onHelloTimeout() {
	s.mu.Lock()
	awaiting := s.state == stateAwaitingHello
	s.mu.Unlock()
	if !awaiting {
		return
	}
	s.fail(protocol.InvalidFormat, "timed out waiting for hello")
}

func (s *Session) resetIdleTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed {
		return
	}
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(idleTimeout, func() {
		s.fail(protocol.InvalidFormat, "timed out")
	})
}

func (s *Session) stopTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.helloTimer != nil {
		s.helloTimer.Stop()
	}
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
}

// handleLine dispatches one line to its handler and reports whether the
// session ended as a result.
func (s *Session) handleLine(line []byte) (done bool) {
	typ, err := protocol.TypeOf(line)
	if err != nil {
		s.fail(protocol.InvalidFormat, "malformed JSON: %v", err)
		return true
	}

	s.mu.Lock()
	cur := s.state
	s.mu.Unlock()

	if cur == stateAwaitingHello {
		return s.handleAwaitingHello(typ, line)
	}
	return s.handleActive(typ, line)
}

func (s *Session) handleAwaitingHello(typ string, line []byte) bool {
	if typ != "hello" {
		s.fail(protocol.InvalidHandshake, "expected hello, got %q", typ)
		return true
	}
	var hello protocol.Hello
	if err := json.Unmarshal(line, &hello); err != nil {
		s.fail(protocol.InvalidFormat, "malformed hello: %v", err)
		return true
	}
	if !helloVersionRE.MatchString(hello.Version) {
		s.fail(protocol.InvalidHandshake, "unsupported version %q", hello.Version)
		return true
	}

	s.mu.Lock()
	s.state = stateActive
	if s.helloTimer != nil {
		s.helloTimer.Stop()
	}
	s.mu.Unlock()
	return false
}

func (s *Session) handleActive(typ string, line []byte) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch typ {
	case "hello":
		s.fail(protocol.InvalidHandshake, "unexpected second hello")
		return true

	case "getpeers":
		s.handleGetPeers()

	case "peers":
		s.handlePeers(line)

	case "getobject":
		s.handleGetObject(line)

	case "ihaveobject":
		s.handleIHaveObject(line)

	case "object":
		s.handleObject(ctx, line)

	case "getchaintip":
		s.handleGetChainTip()

	case "chaintip":
		s.handleChainTip(line)

	case "getmempool":
		s.handleGetMempool()

	case "mempool":
		s.handleMempool(line)

	default:
		s.fail(protocol.InvalidFormat, "unrecognized message type %q", typ)
		return true
	}
	return false
}

func (s *Session) handleGetPeers() {
	records, err := s.peers.LoadAll()
	if err != nil {
		s.fail(protocol.InternalError, "load peers: %v", err)
		return
	}
	addrs := make([]string, len(records))
	for i, r := range records {
		addrs[i] = r.Address
	}
	s.send(protocol.EncodePeers(addrs))
}

func (s *Session) handlePeers(line []byte) {
	var msg protocol.Peers
	if err := json.Unmarshal(line, &msg); err != nil {
		s.fail(protocol.InvalidFormat, "malformed peers: %v", err)
		return
	}
	now := time.Now()
	for _, addr := range msg.Peers {
		norm, ok := NormalizeAddr(addr)
		if !ok {
			continue
		}
		if err := s.peers.Touch(norm, now); err != nil {
			s.log.Debug().Err(err).Str("addr", norm).Msg("persist gossiped peer failed")
		}
	}
	if s.dial != nil {
		s.dialUpToTarget()
	}
}

func (s *Session) dialUpToTarget() {
	if s.registry.Count() >= s.outgoingTarget {
		return
	}
	records, err := s.peers.LoadAll()
	if err != nil {
		return
	}
	active := s.registry.Count()
	for _, r := range records {
		if active >= s.outgoingTarget {
			return
		}
		if s.registry.markDialed(r.Address) {
			active++
			go s.dial(r.Address)
		}
	}
}

func (s *Session) handleGetObject(line []byte) {
	var msg protocol.GetObject
	if err := json.Unmarshal(line, &msg); err != nil {
		s.fail(protocol.InvalidFormat, "malformed getobject: %v", err)
		return
	}
	if !codec.Valid(msg.ObjectID) {
		s.fail(protocol.InvalidFormat, "malformed object id")
		return
	}
	raw, ok, err := s.source.GetObject(msg.ObjectID)
	if err != nil {
		s.fail(protocol.InternalError, "load object: %v", err)
		return
	}
	if !ok {
		s.fail(protocol.UnknownObject, "no such object %s", msg.ObjectID)
		return
	}
	s.send(protocol.EncodeObject(raw))
}

func (s *Session) handleIHaveObject(line []byte) {
	var msg protocol.IHaveObject
	if err := json.Unmarshal(line, &msg); err != nil {
		s.fail(protocol.InvalidFormat, "malformed ihaveobject: %v", err)
		return
	}
	if !codec.Valid(msg.ObjectID) {
		s.fail(protocol.InvalidFormat, "malformed object id")
		return
	}
	if _, ok, err := s.source.GetObject(msg.ObjectID); err == nil && ok {
		return
	}
	s.send(protocol.EncodeGetObject(msg.ObjectID))
}

func (s *Session) handleObject(ctx context.Context, line []byte) {
	var msg protocol.Object
	if err := json.Unmarshal(line, &msg); err != nil {
		s.fail(protocol.InvalidFormat, "malformed object message: %v", err)
		return
	}

	id, isNew, err := s.intake.Intake(ctx, msg.Object)
	if err != nil {
		code := protocol.CodeOf(err)
		s.fail(code, "%v", err)
		return
	}
	if !isNew {
		return
	}
	s.fetch.Deliver(codec.ObjectID(id), msg.Object)
	s.registry.BroadcastIHaveObject(id)
}

func (s *Session) handleGetChainTip() {
	id, ok := s.source.ChainTip()
	if !ok {
		return
	}
	s.send(protocol.EncodeChainTip(id))
}

func (s *Session) handleChainTip(line []byte) {
	var msg protocol.ChainTip
	if err := json.Unmarshal(line, &msg); err != nil {
		s.fail(protocol.InvalidFormat, "malformed chaintip: %v", err)
		return
	}
	if !codec.Valid(msg.BlockID) {
		s.fail(protocol.InvalidFormat, "malformed block id")
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.fetch.Ensure(ctx, codec.ObjectID(msg.BlockID))
	}()
}

func (s *Session) handleGetMempool() {
	s.send(protocol.EncodeMempool(s.source.MempoolTxIDs()))
}

func (s *Session) handleMempool(line []byte) {
	var msg protocol.Mempool
	if err := json.Unmarshal(line, &msg); err != nil {
		s.fail(protocol.InvalidFormat, "malformed mempool: %v", err)
		return
	}
	for _, id := range msg.TxIDs {
		if !codec.Valid(id) {
			continue
		}
		go func(id string) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			s.fetch.Ensure(ctx, codec.ObjectID(id))
		}(id)
	}
}
