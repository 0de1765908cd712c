package node

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/marabu-chain/marabu-node/internal/fetcher"
	"github.com/marabu-chain/marabu-node/internal/mempool"
	"github.com/marabu-chain/marabu-node/internal/p2p"
	"github.com/marabu-chain/marabu-node/internal/storage"
	"github.com/marabu-chain/marabu-node/internal/validator"
	"github.com/marabu-chain/marabu-node/pkg/objects"
)

// newTestNode wires a Node against an in-memory store, bypassing New's
// on-disk Badger and network setup so Intake can be exercised directly.
func newTestNode(t *testing.T) *Node {
	t.Helper()
	log := zerolog.Nop()

	db := storage.NewMemory()
	objStore := storage.NewObjectStore(db)
	heights := storage.NewHeightIndex(db)
	tips := storage.NewChainTipStore(db)

	fetch := fetcher.New(objStore, log)
	val := validator.New(objStore, db, heights, tips, fetch, log)
	pool := mempool.New(objStore, db, heights, log)

	registry := p2p.NewRegistry()
	fetch.SetBroadcaster(registry)

	return &Node{
		log:       log,
		db:        db,
		objects:   objStore,
		heights:   heights,
		tips:      tips,
		validator: val,
		fetch:     fetch,
		pool:      pool,
		registry:  registry,
	}
}

func mustMarshal(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestIntake_CoinbaseExcludedFromMempool(t *testing.T) {
	n := newTestNode(t)

	raw := mustMarshal(t, map[string]interface{}{
		"type":   "transaction",
		"height": 0,
		"outputs": []map[string]interface{}{
			{"pubkey": hex.EncodeToString(make([]byte, 32)), "value": objects.BlockReward},
		},
	})

	id, accepted, err := n.Intake(context.Background(), raw)
	if err != nil {
		t.Fatalf("Intake(coinbase) error = %v", err)
	}
	if !accepted {
		t.Fatal("coinbase should be accepted for storage")
	}
	if id == "" {
		t.Fatal("expected non-empty object id")
	}

	for _, txid := range n.pool.TxIDs() {
		if txid == id {
			t.Fatal("coinbase transaction must not enter the mempool")
		}
	}
}

func TestIntake_RegularTransactionEntersMempool(t *testing.T) {
	n := newTestNode(t)

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	coinbase := map[string]interface{}{
		"type":   "transaction",
		"height": 0,
		"outputs": []map[string]interface{}{
			{"pubkey": hex.EncodeToString(pub), "value": 1000},
		},
	}
	coinbaseRaw := mustMarshal(t, coinbase)
	coinbaseID, err := objects.ObjectID(coinbaseRaw)
	if err != nil {
		t.Fatalf("hash coinbase: %v", err)
	}

	if _, accepted, err := n.Intake(context.Background(), coinbaseRaw); err != nil || !accepted {
		t.Fatalf("Intake(coinbase) accepted=%v err=%v", accepted, err)
	}

	// The mempool view is rooted at a chain tip's UTXO set, so place the
	// coinbase output in a tip set and seed the view from it.
	if err := storage.NewUTXOSet(n.db, "tip").Put(objects.Outpoint{TxID: string(coinbaseID), Index: 0}, storage.UTXOEntry{Pubkey: hex.EncodeToString(pub), Value: 1000}); err != nil {
		t.Fatalf("seed utxo: %v", err)
	}
	if err := n.pool.Reorganize("", "tip", false); err != nil {
		t.Fatalf("seed mempool view: %v", err)
	}

	unsigned := map[string]interface{}{
		"type": "transaction",
		"inputs": []map[string]interface{}{
			{"outpoint": map[string]interface{}{"txid": string(coinbaseID), "index": 0}, "sig": nil},
		},
		"outputs": []map[string]interface{}{
			{"pubkey": hex.EncodeToString(pub), "value": 1000},
		},
	}
	unsignedRaw := mustMarshal(t, unsigned)
	signable, err := objects.SignableBytes(unsignedRaw)
	if err != nil {
		t.Fatalf("signable bytes: %v", err)
	}
	sig := objects.Sign(signable, priv)
	unsigned["inputs"].([]map[string]interface{})[0]["sig"] = sig
	spendRaw := mustMarshal(t, unsigned)

	spendID, accepted, err := n.Intake(context.Background(), spendRaw)
	if err != nil {
		t.Fatalf("Intake(spend) error = %v", err)
	}
	if !accepted {
		t.Fatal("spend should be accepted")
	}

	found := false
	for _, txid := range n.pool.TxIDs() {
		if txid == spendID {
			found = true
		}
	}
	if !found {
		t.Fatal("spend transaction should have entered the mempool")
	}
}

func TestIntake_DuplicateObjectSkipsValidation(t *testing.T) {
	n := newTestNode(t)

	raw := mustMarshal(t, map[string]interface{}{
		"type":   "transaction",
		"height": 0,
		"outputs": []map[string]interface{}{
			{"pubkey": hex.EncodeToString(make([]byte, 32)), "value": objects.BlockReward},
		},
	})

	id1, accepted1, err := n.Intake(context.Background(), raw)
	if err != nil || !accepted1 {
		t.Fatalf("first Intake: accepted=%v err=%v", accepted1, err)
	}

	id2, accepted2, err := n.Intake(context.Background(), raw)
	if err != nil {
		t.Fatalf("second Intake error = %v", err)
	}
	if accepted2 {
		t.Error("re-delivering a known object should not be reported as newly accepted")
	}
	if id1 != id2 {
		t.Errorf("object id changed between deliveries: %s vs %s", id1, id2)
	}
}

func TestGetObject_Unknown(t *testing.T) {
	n := newTestNode(t)

	raw, ok, err := n.GetObject("not-a-valid-id")
	if err != nil {
		t.Fatalf("GetObject error = %v", err)
	}
	if ok || raw != nil {
		t.Fatal("expected unknown for an invalid id")
	}
}

func TestChainTip_Empty(t *testing.T) {
	n := newTestNode(t)

	if _, ok := n.ChainTip(); ok {
		t.Fatal("expected no chaintip before any block is accepted")
	}
}

func TestMempoolTxIDs_EmptyInitially(t *testing.T) {
	n := newTestNode(t)

	if ids := n.MempoolTxIDs(); len(ids) != 0 {
		t.Errorf("expected empty mempool, got %v", ids)
	}
}
