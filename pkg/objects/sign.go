package objects

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
)

// PubkeyHexLen and SigHexLen are the hex-encoded lengths mandated by the wire
// schema (32-byte public key, 64-byte signature).
const (
	PubkeyHexLen = 64
	SigHexLen    = 128
)

// VerifySignature checks an Ed25519 signature over the given signable bytes.
// pubkeyHex and sigHex are the hex-encoded wire forms from the transaction.
func VerifySignature(signable []byte, pubkeyHex, sigHex string) (bool, error) {
	pub, err := hex.DecodeString(pubkeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid pubkey")
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false, fmt.Errorf("invalid signature")
	}
	return ed25519.Verify(ed25519.PublicKey(pub), signable, sig), nil
}

// Sign produces a hex-encoded Ed25519 signature over signable using priv.
func Sign(signable []byte, priv ed25519.PrivateKey) string {
	sig := ed25519.Sign(priv, signable)
	return hex.EncodeToString(sig)
}
