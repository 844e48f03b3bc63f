package nostr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// KindNostrConnect is the event kind carrying remote signer traffic.
const KindNostrConnect = 24133

type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// UnsignedEvent is what the application hands to a signer. PubKey is filled
// in by the remote signer when omitted.
type UnsignedEvent struct {
	PubKey    string     `json:"pubkey,omitempty"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
}

// Serialize returns the canonical form hashed into the event id.
func (e *Event) Serialize() []byte {
	tags := e.Tags
	if tags == nil {
		tags = [][]string{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoding a slice of primitives and strings cannot fail.
	_ = enc.Encode([]any{0, e.PubKey, e.CreatedAt, e.Kind, tags, e.Content})
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}

func (e *Event) Hash() [32]byte {
	return sha256.Sum256(e.Serialize())
}

func (e *Event) ComputeID() string {
	h := e.Hash()
	return hex.EncodeToString(h[:])
}

// Sign sets PubKey, ID and Sig using the given hex secret key.
func (e *Event) Sign(secretHex string) error {
	priv, err := ParseSecretKey(secretHex)
	if err != nil {
		return err
	}
	e.PubKey = hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey()))
	if e.Tags == nil {
		e.Tags = [][]string{}
	}

	h := e.Hash()
	sig, err := schnorr.Sign(priv, h[:])
	if err != nil {
		return fmt.Errorf("sign event: %w", err)
	}
	e.ID = hex.EncodeToString(h[:])
	e.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// Verify checks that ID matches the content and Sig is a valid BIP-340
// signature by PubKey.
func (e *Event) Verify() error {
	h := e.Hash()
	if e.ID != hex.EncodeToString(h[:]) {
		return fmt.Errorf("event id mismatch")
	}

	pub, err := ParsePublicKey(e.PubKey)
	if err != nil {
		return err
	}
	sigBytes, err := hex.DecodeString(e.Sig)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("parse signature: %w", err)
	}
	if !sig.Verify(h[:], pub) {
		return fmt.Errorf("invalid signature")
	}
	return nil
}

// Tag returns the first value of the first tag with the given name.
func (e *Event) Tag(name string) (string, bool) {
	for _, t := range e.Tags {
		if len(t) >= 2 && t[0] == name {
			return t[1], true
		}
	}
	return "", false
}

// NewEnvelope builds an unsigned kind 24133 event addressed to recipient.
func NewEnvelope(recipient, content string, now time.Time) *Event {
	return &Event{
		CreatedAt: now.Unix(),
		Kind:      KindNostrConnect,
		Tags:      [][]string{{"p", recipient}},
		Content:   content,
	}
}

// ParseEvent decodes and verifies a signed event.
func ParseEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if err := e.Verify(); err != nil {
		return nil, err
	}
	return &e, nil
}
