// marabu-cli manages encrypted Ed25519 keypairs and builds signed spend
// transactions for manual submission to a running marabu-node.
package main

import (
	"bufio"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/marabu-chain/marabu-node/config"
	"github.com/marabu-chain/marabu-node/internal/keystore"
	"github.com/marabu-chain/marabu-node/internal/protocol"
	"github.com/marabu-chain/marabu-node/pkg/codec"
	"github.com/marabu-chain/marabu-node/pkg/objects"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	dataDir := config.DefaultDataDir()
	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--datadir" && len(args) > 1:
			dataDir = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--datadir="):
			dataDir = args[0][len("--datadir="):]
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	ksDir := filepath.Join(dataDir, "keystore")
	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "keygen":
		cmdKeygen(cmdArgs, ksDir)
	case "pubkey":
		cmdPubkey(cmdArgs, ksDir)
	case "list":
		cmdList(ksDir)
	case "tx":
		cmdTx(cmdArgs, ksDir)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: marabu-cli [--datadir <path>] <command> [flags]

Commands:
  keygen --name <name>              Generate and store a new encrypted Ed25519 keypair
  pubkey --name <name>              Show the stored public key (hex)
  list                              List stored key names

  tx --key <name> --outpoint <txid:index> --value <amt> --to <pubkey_hex>
     [--change <pubkey_hex> --change-value <amt>] [--submit <host:port>]
                                     Build and sign a transaction spending one
                                     outpoint, printing it as JSON. With
                                     --submit, also sends it to a running node.
`)
}

// ── keygen ──────────────────────────────────────────────────────────────

func cmdKeygen(args []string, ksDir string) {
	name := flagValue(args, "--name")
	if name == "" {
		fatal("Usage: marabu-cli keygen --name <name>")
	}

	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	if string(password) != string(confirm) {
		fatal("passwords do not match")
	}

	ks, err := keystore.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}

	pub, err := ks.Create(name, password, keystore.DefaultParams())
	if err != nil {
		fatal("create key: %v", err)
	}

	fmt.Printf("Key created: %s\n", name)
	fmt.Printf("Pubkey: %s\n", hex.EncodeToString(pub))
}

// ── pubkey / list ───────────────────────────────────────────────────────

func cmdPubkey(args []string, ksDir string) {
	name := flagValue(args, "--name")
	if name == "" {
		fatal("Usage: marabu-cli pubkey --name <name>")
	}

	ks, err := keystore.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}
	pub, err := ks.Pubkey(name)
	if err != nil {
		fatal("read key: %v", err)
	}
	fmt.Println(pub)
}

func cmdList(ksDir string) {
	ks, err := keystore.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}
	names, err := ks.List()
	if err != nil {
		fatal("list keys: %v", err)
	}
	if len(names) == 0 {
		fmt.Println("No keys found.")
		return
	}
	for _, name := range names {
		fmt.Println(name)
	}
}

// ── tx ──────────────────────────────────────────────────────────────────

func cmdTx(args []string, ksDir string) {
	keyName := flagValue(args, "--key")
	outpointStr := flagValue(args, "--outpoint")
	valueStr := flagValue(args, "--value")
	to := flagValue(args, "--to")
	change := flagValue(args, "--change")
	changeValueStr := flagValue(args, "--change-value")
	submitAddr := flagValue(args, "--submit")

	if keyName == "" || outpointStr == "" || valueStr == "" || to == "" {
		fatal("Usage: marabu-cli tx --key <name> --outpoint <txid:index> --value <amt> --to <pubkey_hex> " +
			"[--change <pubkey_hex> --change-value <amt>] [--submit <host:port>]")
	}

	outpoint, err := parseOutpoint(outpointStr)
	if err != nil {
		fatal("invalid outpoint: %v", err)
	}
	inputValue, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		fatal("invalid value: %v", err)
	}
	if len(to) != objects.PubkeyHexLen {
		fatal("--to must be a %d-char hex pubkey", objects.PubkeyHexLen)
	}

	outputs := []map[string]interface{}{
		{"pubkey": to, "value": inputValue},
	}
	if change != "" {
		if changeValueStr == "" {
			fatal("--change requires --change-value")
		}
		changeValue, err := strconv.ParseUint(changeValueStr, 10, 64)
		if err != nil {
			fatal("invalid change-value: %v", err)
		}
		if len(change) != objects.PubkeyHexLen {
			fatal("--change must be a %d-char hex pubkey", objects.PubkeyHexLen)
		}
		if changeValue > inputValue {
			fatal("change-value cannot exceed value")
		}
		outputs[0]["value"] = inputValue - changeValue
		outputs = append(outputs, map[string]interface{}{"pubkey": change, "value": changeValue})
	}

	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}

	ks, err := keystore.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}
	priv, err := ks.Load(keyName, password)
	if err != nil {
		fatal("load key: %v", err)
	}

	raw, err := signedSpend(priv, outpoint, outputs)
	if err != nil {
		fatal("build transaction: %v", err)
	}

	var pretty map[string]interface{}
	if err := json.Unmarshal(raw, &pretty); err != nil {
		fatal("re-decode transaction: %v", err)
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		fatal("format transaction: %v", err)
	}
	fmt.Println(string(out))

	if submitAddr != "" {
		if err := submitObject(submitAddr, raw); err != nil {
			fatal("submit: %v", err)
		}
		fmt.Fprintln(os.Stderr, "Submitted.")
	}
}

// signedSpend builds a one-input transaction spending outpoint and signs it
// with priv. The transaction is round-tripped through SignableBytes so the
// signature covers exactly the bytes a verifier will reconstruct.
func signedSpend(priv ed25519.PrivateKey, outpoint objects.Outpoint, outputs []map[string]interface{}) (json.RawMessage, error) {
	unsigned := map[string]interface{}{
		"type": "transaction",
		"inputs": []map[string]interface{}{
			{
				"outpoint": map[string]interface{}{"txid": outpoint.TxID, "index": outpoint.Index},
				"sig":      nil,
			},
		},
		"outputs": outputs,
	}
	unsignedRaw, err := json.Marshal(unsigned)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	signable, err := objects.SignableBytes(unsignedRaw)
	if err != nil {
		return nil, fmt.Errorf("signable bytes: %w", err)
	}
	sig := objects.Sign(signable, priv)

	unsigned["inputs"].([]map[string]interface{})[0]["sig"] = sig
	signedRaw, err := json.Marshal(unsigned)
	if err != nil {
		return nil, fmt.Errorf("marshal signed: %w", err)
	}
	return signedRaw, nil
}

// submitObject dials addr as a peer, completes the handshake, sends raw as
// an object message, and reports any error response within a short window.
func submitObject(addr string, raw json.RawMessage) error {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write(append(protocol.EncodeHello(), '\n')); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	reader := bufio.NewReader(conn)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := reader.ReadString('\n'); err != nil {
		return fmt.Errorf("await peer hello: %w", err)
	}

	if _, err := conn.Write(append(protocol.EncodeObject(raw), '\n')); err != nil {
		return fmt.Errorf("send object: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// No error message arrived within the window.
			return nil
		}
		typ, err := protocol.TypeOf([]byte(line))
		if err == nil && typ == "error" {
			return fmt.Errorf("node rejected transaction: %s", strings.TrimSpace(line))
		}
	}
}

// ── helpers ───────────────────────────────────────────────────────────────

func parseOutpoint(s string) (objects.Outpoint, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return objects.Outpoint{}, fmt.Errorf("expected txid:index")
	}
	if !codec.Valid(parts[0]) {
		return objects.Outpoint{}, fmt.Errorf("txid must be 64-char hex")
	}
	idx, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return objects.Outpoint{}, fmt.Errorf("invalid index: %w", err)
	}
	return objects.Outpoint{TxID: parts[0], Index: uint32(idx)}, nil
}

func flagValue(args []string, name string) string {
	for i, a := range args {
		if a == name && i+1 < len(args) {
			return args[i+1]
		}
		if strings.HasPrefix(a, name+"=") {
			return a[len(name)+1:]
		}
	}
	return ""
}

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	return password, nil
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
