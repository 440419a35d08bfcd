package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
)

var (
	ErrInvalidPublicKey  = errors.New("invalid Ed25519 public key")
	ErrInvalidPrivateKey = errors.New("invalid Ed25519 private key")
)

// ParsePublicKey checks if a base64-encoded string is a valid Ed25519 public key.
func ParsePublicKey(pubkeyB64 string) (ed25519.PublicKey, error) {
	decoded, err := base64.StdEncoding.DecodeString(pubkeyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 encoding", ErrInvalidPublicKey)
	}

	if len(decoded) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidPublicKey, ed25519.PublicKeySize, len(decoded))
	}

	return ed25519.PublicKey(decoded), nil
}

// ParsePrivateKey decodes a base64-encoded Ed25519 private key (64 bytes) or seed (32 bytes).
func ParsePrivateKey(privkeyB64 string) (ed25519.PrivateKey, error) {
	decoded, err := base64.StdEncoding.DecodeString(privkeyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 encoding", ErrInvalidPrivateKey)
	}

	switch len(decoded) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(decoded), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(decoded), nil
	}
	return nil, fmt.Errorf("%w: must be %d or %d bytes, got %d", ErrInvalidPrivateKey, ed25519.PrivateKeySize, ed25519.SeedSize, len(decoded))
}
