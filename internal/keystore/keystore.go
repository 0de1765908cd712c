package keystore

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// keystoreFile is the on-disk JSON format for an encrypted keypair.
type keystoreFile struct {
	Version       int       `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	Pubkey        string    `json:"pubkey"` // hex, informational; derivable from the decrypted seed
	EncryptedSeed []byte    `json:"encrypted_seed"`
}

// Keystore manages encrypted Ed25519 keypairs on disk, one file per name.
type Keystore struct {
	path string
}

// NewKeystore creates a keystore that reads/writes to the given directory.
// The directory is created if it doesn't exist.
func NewKeystore(path string) (*Keystore, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	return &Keystore{path: path}, nil
}

func (ks *Keystore) keyPath(name string) string {
	return filepath.Join(ks.path, name+".key")
}

// Create generates a new Ed25519 keypair, encrypts its seed with password,
// and writes it under name. It fails if a key with that name already exists.
func (ks *Keystore) Create(name string, password []byte, params EncryptionParams) (ed25519.PublicKey, error) {
	path := ks.keyPath(name)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("key %q already exists", name)
	}

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	seed := priv.Seed()

	encrypted, err := Encrypt(seed, password, params)
	if err != nil {
		return nil, fmt.Errorf("encrypt seed: %w", err)
	}
	for i := range seed {
		seed[i] = 0
	}

	kf := keystoreFile{
		Version:       1,
		CreatedAt:     time.Now().UTC(),
		Pubkey:        hex.EncodeToString(pub),
		EncryptedSeed: encrypted,
	}
	if err := ks.writeFile(path, &kf); err != nil {
		return nil, err
	}
	return pub, nil
}

// Import encrypts an externally-supplied 32-byte Ed25519 seed under name.
func (ks *Keystore) Import(name string, seed, password []byte, params EncryptionParams) (ed25519.PublicKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	path := ks.keyPath(name)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("key %q already exists", name)
	}

	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	encrypted, err := Encrypt(seed, password, params)
	if err != nil {
		return nil, fmt.Errorf("encrypt seed: %w", err)
	}

	kf := keystoreFile{
		Version:       1,
		CreatedAt:     time.Now().UTC(),
		Pubkey:        hex.EncodeToString(pub),
		EncryptedSeed: encrypted,
	}
	if err := ks.writeFile(path, &kf); err != nil {
		return nil, err
	}
	return pub, nil
}

// Load decrypts the keypair stored under name.
func (ks *Keystore) Load(name string, password []byte) (ed25519.PrivateKey, error) {
	kf, err := ks.readFile(ks.keyPath(name))
	if err != nil {
		return nil, err
	}

	seed, err := Decrypt(kf.EncryptedSeed, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt key: %w", err)
	}
	defer func() {
		for i := range seed {
			seed[i] = 0
		}
	}()
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("corrupt keystore entry: unexpected seed length %d", len(seed))
	}

	return ed25519.NewKeyFromSeed(seed), nil
}

// Pubkey returns the hex-encoded public key recorded for name without
// requiring the password.
func (ks *Keystore) Pubkey(name string) (string, error) {
	kf, err := ks.readFile(ks.keyPath(name))
	if err != nil {
		return "", err
	}
	return kf.Pubkey, nil
}

// List returns the names of all keys in the keystore.
func (ks *Keystore) List() ([]string, error) {
	entries, err := os.ReadDir(ks.path)
	if err != nil {
		return nil, fmt.Errorf("read keystore dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if ext := filepath.Ext(name); ext == ".key" {
			names = append(names, name[:len(name)-len(ext)])
		}
	}
	return names, nil
}

// Delete removes a key file.
func (ks *Keystore) Delete(name string) error {
	path := ks.keyPath(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("key %q not found", name)
	}
	return os.Remove(path)
}

func (ks *Keystore) writeFile(path string, kf *keystoreFile) error {
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal key: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write key: %w", err)
	}
	return nil
}

func (ks *Keystore) readFile(path string) (*keystoreFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	var kf keystoreFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse key: %w", err)
	}
	if kf.Version != 1 {
		return nil, fmt.Errorf("unsupported key version: %d", kf.Version)
	}
	return &kf, nil
}
