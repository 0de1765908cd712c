package p2p

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/marabu-chain/marabu-node/internal/protocol"
	"github.com/marabu-chain/marabu-node/pkg/codec"
)

// stubIntake records every object handed to Intake and returns a
// preconfigured result.
type stubIntake struct {
	id     string
	isNew  bool
	err    error
	raw    json.RawMessage
	called chan struct{}
}

func (s *stubIntake) Intake(ctx context.Context, raw json.RawMessage) (string, bool, error) {
	s.raw = raw
	if s.called != nil {
		close(s.called)
	}
	return s.id, s.isNew, s.err
}

type stubSource struct {
	objs    map[string]json.RawMessage
	tip     string
	hasTip  bool
	mempool []string
}

func (s *stubSource) GetObject(id string) (json.RawMessage, bool, error) {
	raw, ok := s.objs[id]
	return raw, ok, nil
}

func (s *stubSource) ChainTip() (string, bool) { return s.tip, s.hasTip }
func (s *stubSource) MempoolTxIDs() []string   { return s.mempool }

// stubFetcher satisfies the Fetcher interface without talking to peers.
type stubFetcher struct{}

func (stubFetcher) Ensure(context.Context, codec.ObjectID) (json.RawMessage, error) { return nil, nil }
func (stubFetcher) Deliver(codec.ObjectID, json.RawMessage)                         {}

func runSessionPipe(deps SessionDeps) (client net.Conn, done chan struct{}) {
	clientConn, serverConn := net.Pipe()
	s := NewSession(serverConn, "", deps)
	done = make(chan struct{})
	go func() {
		s.Run()
		close(done)
	}()
	return clientConn, done
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read line: %v", err)
	}
	return line
}

func baseDeps(t *testing.T) SessionDeps {
	t.Helper()
	return SessionDeps{
		Registry: NewRegistry(),
		Peers:    newTestPeerStore(),
		Intake:   &stubIntake{},
		Source:   &stubSource{objs: map[string]json.RawMessage{}},
		Fetch:    stubFetcher{},
		Log:      zerolog.Nop(),
	}
}

func TestSession_SendsEntryActions(t *testing.T) {
	deps := baseDeps(t)
	client, _ := runSessionPipe(deps)
	defer client.Close()
	r := bufio.NewReader(client)

	wantTypes := []string{"hello", "getpeers", "getchaintip", "getmempool"}
	for _, want := range wantTypes {
		line := readLine(t, r)
		typ, err := protocol.TypeOf([]byte(line))
		if err != nil {
			t.Fatalf("TypeOf(%q): %v", line, err)
		}
		if typ != want {
			t.Fatalf("entry action: got %q, want %q", typ, want)
		}
	}
}

func TestSession_RejectsNonHelloFirst(t *testing.T) {
	deps := baseDeps(t)
	client, done := runSessionPipe(deps)
	defer client.Close()
	r := bufio.NewReader(client)

	// Drain entry actions.
	for i := 0; i < 4; i++ {
		readLine(t, r)
	}

	if _, err := client.Write(append(protocol.EncodeGetPeers(), '\n')); err != nil {
		t.Fatalf("write: %v", err)
	}

	line := readLine(t, r)
	typ, err := protocol.TypeOf([]byte(line))
	if err != nil || typ != "error" {
		t.Fatalf("expected error for message before hello, got %q (err=%v)", line, err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close after INVALID_HANDSHAKE")
	}
}

func TestSession_HandshakeThenGetObject(t *testing.T) {
	objID := "aaaabbbbccccddddeeeeffff0000111122223333444455556666777788889999"
	raw := json.RawMessage(`{"type":"transaction","height":0,"outputs":[]}`)

	deps := baseDeps(t)
	deps.Source = &stubSource{objs: map[string]json.RawMessage{objID: raw}}

	client, _ := runSessionPipe(deps)
	defer client.Close()
	r := bufio.NewReader(client)

	for i := 0; i < 4; i++ {
		readLine(t, r)
	}

	if _, err := client.Write(append(protocol.EncodeHello(), '\n')); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	if _, err := client.Write(append(protocol.EncodeGetObject(objID), '\n')); err != nil {
		t.Fatalf("write getobject: %v", err)
	}

	line := readLine(t, r)
	typ, err := protocol.TypeOf([]byte(line))
	if err != nil {
		t.Fatalf("TypeOf: %v", err)
	}
	if typ != "object" {
		t.Fatalf("expected object reply, got %q: %s", typ, line)
	}
}

func TestSession_GetObjectUnknownRepliesError(t *testing.T) {
	deps := baseDeps(t)
	client, _ := runSessionPipe(deps)
	defer client.Close()
	r := bufio.NewReader(client)

	for i := 0; i < 4; i++ {
		readLine(t, r)
	}
	client.Write(append(protocol.EncodeHello(), '\n'))
	client.Write(append(protocol.EncodeGetObject("00112233445566778899aabbccddeeff00112233445566778899001122334455"), '\n'))

	line := readLine(t, r)
	typ, err := protocol.TypeOf([]byte(line))
	if err != nil || typ != "error" {
		t.Fatalf("expected error for unknown object, got %q (err=%v)", line, err)
	}
}

func TestSession_ObjectDeliversToIntake(t *testing.T) {
	intake := &stubIntake{id: "someid", isNew: true, called: make(chan struct{})}
	deps := baseDeps(t)
	deps.Intake = intake

	client, _ := runSessionPipe(deps)
	defer client.Close()
	r := bufio.NewReader(client)

	for i := 0; i < 4; i++ {
		readLine(t, r)
	}
	client.Write(append(protocol.EncodeHello(), '\n'))

	raw := json.RawMessage(`{"type":"transaction","height":0,"outputs":[]}`)
	client.Write(append(protocol.EncodeObject(raw), '\n'))

	select {
	case <-intake.called:
	case <-time.After(2 * time.Second):
		t.Fatal("Intake was not invoked for an object message")
	}

	// isNew broadcasts ihaveobject to every live session in the registry,
	// this one included, so expect to read that echo.
	line := readLine(t, r)
	typ, err := protocol.TypeOf([]byte(line))
	if err != nil || typ != "ihaveobject" {
		t.Fatalf("expected ihaveobject broadcast, got %q (err=%v)", line, err)
	}
}

func TestSession_MalformedJSONFails(t *testing.T) {
	deps := baseDeps(t)
	client, done := runSessionPipe(deps)
	defer client.Close()
	r := bufio.NewReader(client)

	for i := 0; i < 4; i++ {
		readLine(t, r)
	}
	client.Write(append(protocol.EncodeHello(), '\n'))
	client.Write([]byte("not-json\n"))

	line := readLine(t, r)
	typ, err := protocol.TypeOf([]byte(line))
	if err != nil || typ != "error" {
		t.Fatalf("expected error for malformed JSON, got %q (err=%v)", line, err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close after INVALID_FORMAT")
	}
}
