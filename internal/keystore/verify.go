package keystore

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
)

// DecodePublicKey parses a base64 association key into an Ed25519 public key.
func DecodePublicKey(assocKey string) (ed25519.PublicKey, error) {
	b, err := base64.StdEncoding.DecodeString(assocKey)
	if err != nil {
		return nil, fmt.Errorf("association key: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("association key: want %d bytes, got %d", ed25519.PublicKeySize, len(b))
	}
	return ed25519.PublicKey(b), nil
}

// VerifySignature checks a base64 signature produced by FileStore.Sign.
func VerifySignature(pub ed25519.PublicKey, message, signature string) bool {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, []byte(message), sig)
}
