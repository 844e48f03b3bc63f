// Package signer defines the signing capability the rest of the application
// consumes, and its implementations.
package signer

import (
	"context"
	"time"

	apperrors "github.com/openclaw/remote-signer-go/internal/errors"
	"github.com/openclaw/remote-signer-go/internal/model"
	"github.com/openclaw/remote-signer-go/internal/nostr"
)

type Signer interface {
	PublicKey(ctx context.Context) (string, error)
	Sign(ctx context.Context, ev nostr.UnsignedEvent) (*nostr.Event, error)
}

// Backend is the service a Delegated signer forwards to.
type Backend interface {
	Session(id string) (model.SessionRecord, bool)
	FetchUserPublicKey(ctx context.Context, sessionID string) (string, error)
	RequestSignature(ctx context.Context, sessionID string, ev nostr.UnsignedEvent) (*nostr.Event, error)
}

// Delegated binds one session to the Signer interface.
type Delegated struct {
	sessionID string
	backend   Backend
}

func NewDelegated(sessionID string, backend Backend) *Delegated {
	return &Delegated{sessionID: sessionID, backend: backend}
}

func (d *Delegated) SessionID() string { return d.sessionID }

func (d *Delegated) active() (model.SessionRecord, error) {
	rec, ok := d.backend.Session(d.sessionID)
	if !ok || rec.Status != model.SessionStatusActive {
		return model.SessionRecord{}, apperrors.NotConnected(d.sessionID)
	}
	return rec, nil
}

// PublicKey returns the cached user key, fetching it from the remote signer
// when it is not known yet.
func (d *Delegated) PublicKey(ctx context.Context) (string, error) {
	rec, err := d.active()
	if err != nil {
		return "", err
	}
	if rec.UserPublicKey != nil {
		return *rec.UserPublicKey, nil
	}
	return d.backend.FetchUserPublicKey(ctx, d.sessionID)
}

func (d *Delegated) Sign(ctx context.Context, ev nostr.UnsignedEvent) (*nostr.Event, error) {
	if _, err := d.active(); err != nil {
		return nil, err
	}
	return d.backend.RequestSignature(ctx, d.sessionID, ev)
}

// Local signs with a key held in process.
type Local struct {
	secretKey string
	publicKey string
	now       func() time.Time
}

func NewLocal(secretKey string) (*Local, error) {
	pub, err := nostr.PublicKeyFromSecret(secretKey)
	if err != nil {
		return nil, err
	}
	return &Local{secretKey: secretKey, publicKey: pub, now: time.Now}, nil
}

func (l *Local) PublicKey(ctx context.Context) (string, error) {
	return l.publicKey, nil
}

func (l *Local) Sign(ctx context.Context, ev nostr.UnsignedEvent) (*nostr.Event, error) {
	out := &nostr.Event{
		CreatedAt: ev.CreatedAt,
		Kind:      ev.Kind,
		Tags:      ev.Tags,
		Content:   ev.Content,
	}
	if out.CreatedAt == 0 {
		out.CreatedAt = l.now().Unix()
	}
	if err := out.Sign(l.secretKey); err != nil {
		return nil, err
	}
	return out, nil
}
