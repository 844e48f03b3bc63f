package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/remote-signer-go/internal/audit"
	"github.com/openclaw/remote-signer-go/internal/codec"
	apperrors "github.com/openclaw/remote-signer-go/internal/errors"
	"github.com/openclaw/remote-signer-go/internal/model"
	"github.com/openclaw/remote-signer-go/internal/nostr"
	"github.com/openclaw/remote-signer-go/internal/session"
	"github.com/openclaw/remote-signer-go/internal/util"
)

// ConnectSession performs the connect handshake. Concurrent calls for one
// session share a single request on the wire.
func (s *Service) ConnectSession(ctx context.Context, sessionID string) error {
	if s.destroyed.Load() {
		return apperrors.Cancelled("signing service destroyed")
	}

	ch := s.connects.DoChan(sessionID, func() (any, error) {
		s.markInflight(sessionID, true)
		defer s.markInflight(sessionID, false)
		return nil, s.connect(context.WithoutCancel(ctx), sessionID)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return contextError(ctx, model.MethodConnect)
	}
}

func (s *Service) connect(ctx context.Context, sessionID string) error {
	rec, ok := s.sessions.Get(sessionID)
	if !ok {
		return apperrors.NotFound("Session")
	}
	if rec.Status == model.SessionStatusRevoked {
		return apperrors.Conflict("Session is revoked")
	}
	if rec.RemoteSignerPublicKey == nil {
		return apperrors.NotConnected(sessionID)
	}

	params := []string{*rec.RemoteSignerPublicKey}
	if rec.Secret != "" {
		params = append(params, rec.Secret)
	}

	resp, err := s.call(ctx, rec, model.MethodConnect, params)
	if err == nil && resp.Result != model.ResultAck && (rec.Secret == "" || resp.Result != rec.Secret) {
		err = apperrors.RemoteSigner(fmt.Sprintf("unexpected connect result %q", resp.Result))
	}

	if err != nil {
		if errors.Is(err, apperrors.ErrCancelled) {
			return err
		}
		msg := err.Error()
		if _, mErr := s.sessions.Mutate(sessionID, session.Patch{LastError: &msg}); mErr != nil {
			log.Debug().Err(mErr).Str("sessionId", sessionID).Msg("session gone before connect failure was recorded")
		}
		s.cooldowns.fail(sessionID, s.now(), s.opts.ReconnectCooldown)
		log.Warn().Err(err).Str("sessionId", sessionID).Msg("connect failed")
		return err
	}

	active := model.SessionStatusActive
	if _, err := s.sessions.Mutate(sessionID, session.Patch{Status: &active, ClearError: true}); err != nil {
		return err
	}
	s.cooldowns.succeed(sessionID)
	log.Info().Str("sessionId", sessionID).Msg("session connected")
	return nil
}

// FetchUserPublicKey asks the remote signer for the user's key and stores it
// on the session. A failure leaves the record untouched.
func (s *Service) FetchUserPublicKey(ctx context.Context, sessionID string) (string, error) {
	rec, err := s.activeSession(sessionID)
	if err != nil {
		return "", err
	}

	resp, err := s.call(ctx, rec, model.MethodGetPublicKey, nil)
	if err != nil {
		return "", err
	}
	if !util.IsValidHexKey(resp.Result) {
		return "", apperrors.RemoteSigner("remote signer returned an invalid public key")
	}

	key := resp.Result
	if _, err := s.sessions.Mutate(sessionID, session.Patch{UserPublicKey: &key, ClearError: true}); err != nil {
		return "", err
	}
	return key, nil
}

// RequestSignature asks the remote signer to sign ev and verifies what comes
// back before returning it.
func (s *Service) RequestSignature(ctx context.Context, sessionID string, ev nostr.UnsignedEvent) (*nostr.Event, error) {
	rec, err := s.activeSession(sessionID)
	if err != nil {
		return nil, err
	}

	if allowed, _ := s.limiter.CheckLimit(ctx, "sign:"+sessionID, s.opts.SignRateLimit, signRateWindow); !allowed {
		audit.Log(ctx, audit.Event{Type: audit.EventRateLimitExceed, SessionID: sessionID})
		return nil, apperrors.RateLimitExceeded()
	}

	if ev.CreatedAt == 0 {
		ev.CreatedAt = s.now().Unix()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, apperrors.InvalidInput("event", err.Error())
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventSignRequested,
		SessionID: sessionID,
		Details:   map[string]interface{}{"kind": ev.Kind},
	})

	resp, err := s.call(ctx, rec, model.MethodSignEvent, []string{string(payload)})
	if err != nil {
		return nil, err
	}

	signed, err := nostr.ParseEvent([]byte(resp.Result))
	if err != nil {
		return nil, apperrors.RemoteSigner("remote signer returned an invalid event")
	}
	if signed.Kind != ev.Kind || signed.Content != ev.Content {
		return nil, apperrors.RemoteSigner("remote signer returned a different event")
	}
	if rec.UserPublicKey != nil && signed.PubKey != *rec.UserPublicKey {
		return nil, apperrors.RemoteSigner("event signed by unexpected key")
	}
	return signed, nil
}

// Ping checks that the remote signer answers on this session.
func (s *Service) Ping(ctx context.Context, sessionID string) error {
	rec, err := s.activeSession(sessionID)
	if err != nil {
		return err
	}
	resp, err := s.call(ctx, rec, model.MethodPing, nil)
	if err != nil {
		return err
	}
	if resp.Result != model.ResultPong {
		return apperrors.RemoteSigner(fmt.Sprintf("unexpected ping result %q", resp.Result))
	}
	return nil
}

// Revoke marks the session revoked, stops listening for it and rejects its
// outstanding requests. The record is kept.
func (s *Service) Revoke(ctx context.Context, sessionID string) (model.SessionRecord, error) {
	revoked := model.SessionStatusRevoked
	rec, err := s.sessions.Mutate(sessionID, session.Patch{Status: &revoked})
	if err != nil {
		return model.SessionRecord{}, err
	}
	s.unsubscribe(sessionID)
	s.cancelSession(sessionID, "session revoked")
	s.cooldowns.forget(sessionID)

	audit.Log(ctx, audit.Event{Type: audit.EventSessionRevoked, SessionID: sessionID})
	return rec, nil
}

// Remove deletes the session record.
func (s *Service) Remove(ctx context.Context, sessionID string) error {
	if err := s.sessions.Remove(sessionID); err != nil {
		return err
	}
	s.unsubscribe(sessionID)
	s.cancelSession(sessionID, "session removed")
	s.cooldowns.forget(sessionID)

	audit.Log(ctx, audit.Event{Type: audit.EventSessionRemoved, SessionID: sessionID})
	return nil
}

func (s *Service) activeSession(sessionID string) (model.SessionRecord, error) {
	if s.destroyed.Load() {
		return model.SessionRecord{}, apperrors.Cancelled("signing service destroyed")
	}
	rec, ok := s.sessions.Get(sessionID)
	if !ok {
		return model.SessionRecord{}, apperrors.NotFound("Session")
	}
	if rec.Status != model.SessionStatusActive || rec.RemoteSignerPublicKey == nil {
		return model.SessionRecord{}, apperrors.NotConnected(sessionID)
	}
	return rec, nil
}

// call sends one request and waits for its outcome. The pending entry is
// registered before the envelope is published so a fast reply always finds it.
func (s *Service) call(ctx context.Context, rec model.SessionRecord, method string, params []string) (*model.Response, error) {
	if s.destroyed.Load() {
		return nil, apperrors.Cancelled("signing service destroyed")
	}
	if err := s.ensureSubscribed(ctx, rec); err != nil {
		return nil, err
	}
	t, err := s.getTransport(ctx)
	if err != nil {
		return nil, err
	}

	remote := *rec.RemoteSignerPublicKey
	envelope, correlationID, err := codec.EncryptRequest(rec.LocalKeyMaterial, remote, method, params)
	if err != nil {
		return nil, apperrors.Internal("failed to encrypt request").WithCause(err)
	}

	p := &pendingRequest{
		correlationID: correlationID,
		sessionID:     rec.ID,
		method:        method,
		params:        params,
		createdAt:     s.now(),
	}
	err = s.pending.add(p, s.opts.RequestTimeout, func() {
		if expired := s.pending.take(correlationID); expired != nil {
			s.metrics.pendingDelta(-1)
			s.metrics.observeRequest(method, "timeout")
			settle(expired, model.RequestStateTimedOut, outcome{err: apperrors.Timeout(method)})
		}
	})
	if err != nil {
		return nil, err
	}
	s.metrics.pendingDelta(1)

	if err := t.Publish(ctx, remote, envelope); err != nil {
		if s.pending.take(correlationID) != nil {
			s.metrics.pendingDelta(-1)
			s.metrics.observeRequest(method, "transport_error")
			return nil, err
		}
		out := <-p.done
		return out.resp, out.err
	}
	s.pending.markSent(correlationID)

	log.Debug().
		Str("sessionId", rec.ID).
		Str("correlationId", correlationID).
		Str("method", method).
		Msg("request sent")

	select {
	case out := <-p.done:
		return out.resp, out.err
	case <-ctx.Done():
		if s.pending.take(correlationID) != nil {
			s.metrics.pendingDelta(-1)
			s.metrics.observeRequest(method, "cancelled")
			return nil, contextError(ctx, method)
		}
		out := <-p.done
		return out.resp, out.err
	}
}

// handleEnvelope is the transport callback for one session's key.
func (s *Service) handleEnvelope(sessionID string, envelope []byte) {
	if s.destroyed.Load() {
		return
	}
	rec, ok := s.sessions.Get(sessionID)
	if !ok {
		return
	}

	remote := ""
	if rec.RemoteSignerPublicKey != nil {
		remote = *rec.RemoteSignerPublicKey
	}
	resp, err := codec.DecryptEnvelope(rec.LocalKeyMaterial, remote, envelope)
	if err != nil {
		s.metrics.observeDrop("decode")
		log.Debug().Err(err).Str("sessionId", sessionID).Msg("dropping undecodable envelope")
		return
	}

	if remote == "" {
		s.bindNostrConnect(rec, resp)
		return
	}

	if resp.IsAuthChallenge() {
		s.handleAuthChallenge(rec, resp)
		return
	}

	p := s.pending.takeFor(resp.ID, sessionID)
	if p == nil {
		s.metrics.observeDrop("unmatched")
		log.Debug().Str("sessionId", sessionID).Str("correlationId", resp.ID).Msg("dropping response with no pending request")
		return
	}
	s.metrics.pendingDelta(-1)

	seen := s.now()
	patch := session.Patch{LastSeenAt: &seen}
	if !resp.Failed() {
		// A successful answer clears a stale connect error.
		patch.ClearError = true
	}
	if _, err := s.sessions.Mutate(sessionID, patch); err != nil {
		log.Debug().Err(err).Str("sessionId", sessionID).Msg("failed to record last seen")
	}

	if resp.Failed() {
		s.metrics.observeRequest(p.method, "rejected")
		settle(p, model.RequestStateRejected, outcome{err: apperrors.RemoteSigner(resp.Error)})
		return
	}
	s.cooldowns.succeed(sessionID)
	s.metrics.observeRequest(p.method, "resolved")
	settle(p, model.RequestStateResolved, outcome{resp: resp})
}

func (s *Service) handleAuthChallenge(rec model.SessionRecord, resp *model.Response) {
	if p, ok := s.pending.get(resp.ID); !ok || p.sessionID != rec.ID {
		s.metrics.observeDrop("unmatched")
		return
	}
	audit.Log(context.Background(), audit.Event{
		Type:      audit.EventAuthChallenge,
		SessionID: rec.ID,
		Details:   map[string]interface{}{"url": resp.Error},
	})
	if s.opts.OnAuthURL != nil {
		s.opts.OnAuthURL(rec.ID, resp.Error)
	}
}

func contextError(ctx context.Context, method string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.Timeout(method)
	}
	return apperrors.Cancelled("request cancelled by caller")
}
