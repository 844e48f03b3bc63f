package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/remote-signer-go/internal/audit"
	apperrors "github.com/openclaw/remote-signer-go/internal/errors"
	"github.com/openclaw/remote-signer-go/internal/model"
	"github.com/openclaw/remote-signer-go/internal/nostr"
	"github.com/openclaw/remote-signer-go/internal/session"
	"github.com/openclaw/remote-signer-go/internal/util"
)

// Pair registers the remote signer named by a bunker:// URI and subscribes
// to its replies. A live session for the same remote signer is reused with
// the new relays and secret. The handshake itself is ConnectSession.
func (s *Service) Pair(ctx context.Context, bunkerURI string) (model.SessionRecord, error) {
	if s.destroyed.Load() {
		return model.SessionRecord{}, apperrors.Cancelled("signing service destroyed")
	}
	uri, err := nostr.ParseBunkerURI(bunkerURI)
	if err != nil {
		return model.SessionRecord{}, err
	}

	rec, created, err := s.upsertBunker(uri)
	if err != nil {
		return model.SessionRecord{}, err
	}
	if created {
		audit.Log(ctx, audit.Event{
			Type:         audit.EventSessionPaired,
			SessionID:    rec.ID,
			RemoteSigner: uri.RemoteSignerPublicKey,
			Details:      map[string]interface{}{"relays": len(uri.Relays)},
		})
	} else {
		log.Info().Str("sessionId", rec.ID).Msg("reusing session for known remote signer")
	}

	if err := s.ensureSubscribed(ctx, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// upsertBunker returns the live session for the URI's remote signer, updated
// with the URI's relays and secret, or creates one. Concurrent calls for the
// same signer end up on a single session.
func (s *Service) upsertBunker(uri *nostr.BunkerURI) (model.SessionRecord, bool, error) {
	s.pairMu.Lock()
	defer s.pairMu.Unlock()

	if existing, ok := s.findByRemote(uri.RemoteSignerPublicKey, ""); ok {
		secret := uri.Secret
		rec, err := s.sessions.Mutate(existing.ID, session.Patch{Relays: uri.Relays, Secret: &secret})
		return rec, false, err
	}

	keys, err := nostr.GenerateKeyMaterial()
	if err != nil {
		return model.SessionRecord{}, false, apperrors.Internal("failed to generate session keys").WithCause(err)
	}
	remote := uri.RemoteSignerPublicKey
	rec, err := s.sessions.Create(model.CreateSessionParams{
		RemoteSignerPublicKey: &remote,
		LocalKeyMaterial:      keys,
		Relays:                uri.Relays,
		Secret:                uri.Secret,
	})
	return rec, err == nil, err
}

// PairNostrConnect creates a session that waits for a remote signer to reach
// out, and returns the nostrconnect:// URI to hand to that signer.
func (s *Service) PairNostrConnect(ctx context.Context, relays []string, name string) (model.SessionRecord, string, error) {
	if s.destroyed.Load() {
		return model.SessionRecord{}, "", apperrors.Cancelled("signing service destroyed")
	}
	if len(relays) == 0 {
		return model.SessionRecord{}, "", apperrors.MissingRequired("relays")
	}
	for _, r := range relays {
		if !util.IsValidRelayURL(r) {
			return model.SessionRecord{}, "", apperrors.InvalidInput("relay", r)
		}
	}
	if name == "" {
		name = s.opts.ClientName
	}

	keys, err := nostr.GenerateKeyMaterial()
	if err != nil {
		return model.SessionRecord{}, "", apperrors.Internal("failed to generate session keys").WithCause(err)
	}
	secret, err := util.GenerateToken()
	if err != nil {
		return model.SessionRecord{}, "", apperrors.Internal("failed to generate secret").WithCause(err)
	}

	rec, err := s.sessions.Create(model.CreateSessionParams{
		LocalKeyMaterial: keys,
		Relays:           relays,
		Secret:           secret,
		Name:             name,
	})
	if err != nil {
		return model.SessionRecord{}, "", err
	}

	uri := nostr.NostrConnectURI{
		ClientPublicKey: keys.PublicKey,
		Relays:          relays,
		Secret:          secret,
		Name:            name,
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventSessionPaired,
		SessionID: rec.ID,
		Details:   map[string]interface{}{"flow": "nostrconnect"},
	})

	if err := s.ensureSubscribed(ctx, rec); err != nil {
		return rec, uri.String(), err
	}
	return rec, uri.String(), nil
}

// bindNostrConnect handles the first message for a session that has no remote
// signer yet. Only a reply echoing the session secret binds its author.
func (s *Service) bindNostrConnect(rec model.SessionRecord, resp *model.Response) {
	if rec.Status != model.SessionStatusPending || rec.Secret == "" || !util.ConstantTimeEqual(resp.Result, rec.Secret) {
		s.metrics.observeDrop("unbound")
		log.Debug().Str("sessionId", rec.ID).Msg("dropping message for unbound session")
		return
	}

	remote := resp.Sender
	active := model.SessionStatusActive
	seen := s.now()
	bound, err := s.sessions.Mutate(rec.ID, session.Patch{
		Status:                &active,
		RemoteSignerPublicKey: &remote,
		ClearError:            true,
		LastSeenAt:            &seen,
	})
	if err != nil {
		log.Warn().Err(err).Str("sessionId", rec.ID).Msg("failed to bind remote signer")
		return
	}

	audit.Log(context.Background(), audit.Event{
		Type:         audit.EventSessionBound,
		SessionID:    rec.ID,
		RemoteSigner: remote,
	})
	s.cooldowns.succeed(bound.ID)
	s.supersede(remote, bound.ID)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.RequestTimeout)
		defer cancel()
		if _, err := s.FetchUserPublicKey(ctx, bound.ID); err != nil {
			log.Warn().Err(err).Str("sessionId", bound.ID).Msg("failed to fetch user public key after binding")
		}
	}()
}

// supersede revokes older live sessions for remote so only keepID remains.
func (s *Service) supersede(remote, keepID string) {
	s.pairMu.Lock()
	defer s.pairMu.Unlock()
	for {
		old, ok := s.findByRemote(remote, keepID)
		if !ok {
			return
		}
		if _, err := s.Revoke(context.Background(), old.ID); err != nil {
			log.Warn().Err(err).Str("sessionId", old.ID).Msg("failed to revoke superseded session")
			return
		}
		log.Info().Str("sessionId", old.ID).Str("replacedBy", keepID).Msg("superseded session revoked")
	}
}

func (s *Service) findByRemote(remote, exceptID string) (model.SessionRecord, bool) {
	for _, rec := range s.sessions.Snapshot().Sessions {
		if rec.ID == exceptID || rec.Status == model.SessionStatusRevoked || rec.RemoteSignerPublicKey == nil {
			continue
		}
		if *rec.RemoteSignerPublicKey == remote {
			return rec, true
		}
	}
	return model.SessionRecord{}, false
}
