// Package nostr holds the secp256k1 key handling, event signing and pairing
// URI formats used to talk to a remote signer.
package nostr

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/openclaw/remote-signer-go/internal/model"
)

// GenerateKeyMaterial creates a fresh ephemeral client key pair.
func GenerateKeyMaterial() (model.KeyMaterial, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return model.KeyMaterial{}, fmt.Errorf("generate private key: %w", err)
	}
	return model.KeyMaterial{
		SecretKey: hex.EncodeToString(priv.Serialize()),
		PublicKey: hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey())),
	}, nil
}

// PublicKeyFromSecret derives the x-only public key for a hex secret key.
func PublicKeyFromSecret(secretHex string) (string, error) {
	priv, err := ParseSecretKey(secretHex)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey())), nil
}

func ParseSecretKey(secretHex string) (*btcec.PrivateKey, error) {
	b, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("decode secret key: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("secret key must be 32 bytes, got %d", len(b))
	}
	priv, _ := btcec.PrivKeyFromBytes(b)
	if priv.Key.IsZero() {
		return nil, fmt.Errorf("secret key is zero")
	}
	return priv, nil
}

// ParsePublicKey decodes a 32-byte x-only public key.
func ParsePublicKey(pubHex string) (*btcec.PublicKey, error) {
	b, err := hex.DecodeString(pubHex)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	pub, err := schnorr.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return pub, nil
}
