package protocol

import "encoding/json"

// MaxLineSize is the maximum accepted length of one line-delimited message.
const MaxLineSize = 100 * 1024

// Version is the handshake version this node advertises.
const Version = "0.9.0"

// Agent is the handshake agent string this node advertises.
const Agent = "marabu-node/0.9"

// envelope is used only to sniff the "type" discriminator before decoding
// the full message shape.
type envelope struct {
	Type string `json:"type"`
}

// TypeOf returns the "type" discriminator of a raw message line.
func TypeOf(raw []byte) (string, error) {
	var e envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return "", err
	}
	return e.Type, nil
}

// Hello is the handshake message.
type Hello struct {
	Type    string `json:"type"`
	Version string `json:"version"`
	Agent   string `json:"agent,omitempty"`
}

// Error is the wire error message.
type Error struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// GetPeers requests the recipient's known peer list.
type GetPeers struct {
	Type string `json:"type"`
}

// Peers carries a list of "host:port" peer addresses.
type Peers struct {
	Type  string   `json:"type"`
	Peers []string `json:"peers"`
}

// GetObject requests an object by id.
type GetObject struct {
	Type     string `json:"type"`
	ObjectID string `json:"objectid"`
}

// IHaveObject announces possession of an object.
type IHaveObject struct {
	Type     string `json:"type"`
	ObjectID string `json:"objectid"`
}

// Object carries a raw transaction-or-block object payload.
type Object struct {
	Type   string          `json:"type"`
	Object json.RawMessage `json:"object"`
}

// GetMempool requests the recipient's mempool transaction ids.
type GetMempool struct {
	Type string `json:"type"`
}

// Mempool carries a list of mempool transaction ids.
type Mempool struct {
	Type  string   `json:"type"`
	TxIDs []string `json:"txids"`
}

// GetChainTip requests the recipient's current chain tip.
type GetChainTip struct {
	Type string `json:"type"`
}

// ChainTip carries a block id.
type ChainTip struct {
	Type    string `json:"type"`
	BlockID string `json:"blockid"`
}

func marshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Every message above is a plain struct of strings/slices; marshaling
		// cannot fail in practice.
		panic(err)
	}
	return b
}

// EncodeHello, etc. return the JSON bytes for each outbound message type,
// without the trailing newline; callers append the line terminator.

func EncodeHello() []byte {
	return marshal(Hello{Type: "hello", Version: Version, Agent: Agent})
}

func EncodeError(code ErrorCode, description string) []byte {
	return marshal(Error{Type: "error", Name: string(code), Description: description})
}

func EncodeGetPeers() []byte { return marshal(GetPeers{Type: "getpeers"}) }

func EncodePeers(peers []string) []byte {
	if peers == nil {
		peers = []string{}
	}
	return marshal(Peers{Type: "peers", Peers: peers})
}

func EncodeGetObject(id string) []byte {
	return marshal(GetObject{Type: "getobject", ObjectID: id})
}

func EncodeIHaveObject(id string) []byte {
	return marshal(IHaveObject{Type: "ihaveobject", ObjectID: id})
}

func EncodeObject(raw json.RawMessage) []byte {
	return marshal(Object{Type: "object", Object: raw})
}

func EncodeGetMempool() []byte { return marshal(GetMempool{Type: "getmempool"}) }

func EncodeMempool(txids []string) []byte {
	if txids == nil {
		txids = []string{}
	}
	return marshal(Mempool{Type: "mempool", TxIDs: txids})
}

func EncodeGetChainTip() []byte { return marshal(GetChainTip{Type: "getchaintip"}) }

func EncodeChainTip(blockID string) []byte {
	return marshal(ChainTip{Type: "chaintip", BlockID: blockID})
}
