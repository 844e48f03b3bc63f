// Package service runs the request/response protocol against remote signers
// on behalf of the sessions held by the session manager.
package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/openclaw/remote-signer-go/internal/errors"
	"github.com/openclaw/remote-signer-go/internal/model"
	"github.com/openclaw/remote-signer-go/internal/session"
	"github.com/openclaw/remote-signer-go/internal/signer"
	"github.com/openclaw/remote-signer-go/internal/transport"
)

const (
	defaultRequestTimeout    = 30 * time.Second
	defaultReconnectCooldown = time.Minute
	defaultSignRateLimit     = 10
	defaultClientName        = "remote-signer-go"
	signRateWindow           = time.Minute
)

// TransportFactory builds the transport the first time it is needed.
type TransportFactory func(ctx context.Context) (transport.Transport, error)

type Options struct {
	RequestTimeout    time.Duration
	ReconnectCooldown time.Duration
	SignRateLimit     int
	ClientName        string
	Now               func() time.Time
	Metrics           *Metrics
	Limiter           Limiter
	// OnAuthURL is called when a remote signer asks the user to visit a URL
	// before it answers. The request stays pending.
	OnAuthURL func(sessionID, url string)
}

type Service struct {
	sessions *session.Manager
	factory  TransportFactory
	opts     Options
	metrics  *Metrics
	limiter  Limiter

	initGroup   singleflight.Group
	transportMu sync.Mutex
	transport   transport.Transport

	pending *pendingTable

	// pairMu makes the remote-key lookup and the create or update that
	// follows it one step.
	pairMu sync.Mutex

	connects   singleflight.Group
	inflightMu sync.Mutex
	inflight   map[string]bool

	subsMu sync.Mutex
	subs   map[string]func()

	cooldowns *cooldownTracker

	adoptMu    sync.Mutex
	adoptedID  string
	adopted    atomic.Pointer[signer.Delegated]
	hooks      map[int]func(*signer.Delegated)
	nextHookID int

	destroyed     atomic.Bool
	stopListening func()
}

func New(sessions *session.Manager, factory TransportFactory, opts Options) *Service {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.ReconnectCooldown <= 0 {
		opts.ReconnectCooldown = defaultReconnectCooldown
	}
	if opts.SignRateLimit <= 0 {
		opts.SignRateLimit = defaultSignRateLimit
	}
	if opts.ClientName == "" {
		opts.ClientName = defaultClientName
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = NewMemoryLimiter(opts.Now)
	}

	s := &Service{
		sessions:  sessions,
		factory:   factory,
		opts:      opts,
		metrics:   opts.Metrics,
		limiter:   limiter,
		pending:   newPendingTable(),
		inflight:  make(map[string]bool),
		subs:      make(map[string]func()),
		cooldowns: newCooldownTracker(),
		hooks:     make(map[int]func(*signer.Delegated)),
	}
	s.stopListening = sessions.OnChange(s.onSnapshot)
	s.onSnapshot(sessions.Snapshot())
	return s
}

// Start hydrates the session table and subscribes every live session to its
// inbound envelopes. A transport that cannot be built yet is retried lazily
// by the first operation that needs it.
func (s *Service) Start(ctx context.Context) error {
	if s.destroyed.Load() {
		return apperrors.Cancelled("signing service destroyed")
	}
	snap := s.sessions.Hydrate(ctx)

	if _, err := s.getTransport(ctx); err != nil {
		log.Warn().Err(err).Msg("transport unavailable at start")
		return nil
	}
	for _, rec := range snap.Sessions {
		if rec.Status == model.SessionStatusRevoked {
			continue
		}
		if err := s.ensureSubscribed(ctx, rec); err != nil {
			log.Warn().Err(err).Str("sessionId", rec.ID).Msg("failed to subscribe session")
		}
	}
	log.Info().Int("sessions", len(snap.Sessions)).Msg("signing service started")
	return nil
}

// Destroy unsubscribes from the transport, then rejects every pending request
// with a cancellation. Later envelopes and timers have no effect. Safe to call
// more than once.
func (s *Service) Destroy() {
	if !s.destroyed.CompareAndSwap(false, true) {
		return
	}
	s.stopListening()

	s.subsMu.Lock()
	subs := s.subs
	s.subs = make(map[string]func())
	s.subsMu.Unlock()
	for _, unsubscribe := range subs {
		unsubscribe()
	}

	cancelled := s.pending.close()
	for _, p := range cancelled {
		s.metrics.pendingDelta(-1)
		s.metrics.observeRequest(p.method, "cancelled")
		settle(p, model.RequestStateRejected, outcome{err: apperrors.Cancelled("signing service destroyed")})
	}

	s.swapAdopted("")
	log.Info().Int("cancelled", len(cancelled)).Msg("signing service destroyed")
}

func (s *Service) Session(id string) (model.SessionRecord, bool) {
	return s.sessions.Get(id)
}

func (s *Service) Snapshot() model.SessionSnapshot {
	return s.sessions.Snapshot()
}

func (s *Service) PendingCount() int {
	return s.pending.len()
}

func (s *Service) getTransport(ctx context.Context) (transport.Transport, error) {
	s.transportMu.Lock()
	t := s.transport
	s.transportMu.Unlock()
	if t != nil {
		return t, nil
	}

	v, err, _ := s.initGroup.Do("transport", func() (any, error) {
		s.transportMu.Lock()
		existing := s.transport
		s.transportMu.Unlock()
		if existing != nil {
			return existing, nil
		}

		built, err := s.factory(ctx)
		if err != nil {
			return nil, err
		}
		s.transportMu.Lock()
		s.transport = built
		s.transportMu.Unlock()
		log.Info().Msg("transport initialized")
		return built, nil
	})
	if err != nil {
		if apperrors.IsAppError(err) {
			return nil, err
		}
		return nil, apperrors.Transport("transport unavailable", err)
	}
	return v.(transport.Transport), nil
}

func (s *Service) ensureSubscribed(ctx context.Context, rec model.SessionRecord) error {
	if s.destroyed.Load() {
		return apperrors.Cancelled("signing service destroyed")
	}
	s.subsMu.Lock()
	_, ok := s.subs[rec.ID]
	s.subsMu.Unlock()
	if ok {
		return nil
	}

	t, err := s.getTransport(ctx)
	if err != nil {
		return err
	}

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if _, ok := s.subs[rec.ID]; ok {
		return nil
	}
	if s.destroyed.Load() {
		return apperrors.Cancelled("signing service destroyed")
	}
	id := rec.ID
	s.subs[id] = t.Subscribe(rec.LocalKeyMaterial.PublicKey, func(envelope []byte) {
		s.handleEnvelope(id, envelope)
	})
	return nil
}

func (s *Service) unsubscribe(id string) {
	s.subsMu.Lock()
	unsubscribe, ok := s.subs[id]
	delete(s.subs, id)
	s.subsMu.Unlock()
	if ok {
		unsubscribe()
	}
}

// cancelSession rejects every request still waiting on sessionID.
func (s *Service) cancelSession(sessionID, reason string) {
	for _, p := range s.pending.takeSession(sessionID) {
		s.metrics.pendingDelta(-1)
		s.metrics.observeRequest(p.method, "cancelled")
		settle(p, model.RequestStateRejected, outcome{err: apperrors.Cancelled(reason)})
	}
}

func (s *Service) markInflight(id string, v bool) {
	s.inflightMu.Lock()
	if v {
		s.inflight[id] = true
	} else {
		delete(s.inflight, id)
	}
	s.inflightMu.Unlock()
}

func (s *Service) isInflight(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	return s.inflight[id]
}

func (s *Service) now() time.Time {
	return s.opts.Now()
}
