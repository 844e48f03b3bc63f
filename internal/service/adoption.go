package service

import (
	"github.com/rs/zerolog/log"

	"github.com/openclaw/remote-signer-go/internal/model"
	"github.com/openclaw/remote-signer-go/internal/signer"
)

// Adopted returns the signer currently backing the application, or nil.
func (s *Service) Adopted() *signer.Delegated {
	return s.adopted.Load()
}

// OnSignerChange registers fn to run after every adoption swap. fn receives
// nil when no session is adoptable.
func (s *Service) OnSignerChange(fn func(*signer.Delegated)) func() {
	s.adoptMu.Lock()
	id := s.nextHookID
	s.nextHookID++
	s.hooks[id] = fn
	s.adoptMu.Unlock()

	return func() {
		s.adoptMu.Lock()
		delete(s.hooks, id)
		s.adoptMu.Unlock()
	}
}

func (s *Service) onSnapshot(snap model.SessionSnapshot) {
	if s.destroyed.Load() {
		return
	}
	next := ""
	if snap.ActiveSessionID != nil {
		next = *snap.ActiveSessionID
	}
	s.swapAdopted(next)
}

// swapAdopted replaces the adopted signer in one atomic store when the
// candidate changed. Once destroyed it only ever clears.
func (s *Service) swapAdopted(next string) {
	s.adoptMu.Lock()
	if next != "" && s.destroyed.Load() {
		next = ""
	}
	if next == s.adoptedID {
		s.adoptMu.Unlock()
		return
	}
	prev := s.adoptedID
	s.adoptedID = next

	var d *signer.Delegated
	if next != "" {
		d = signer.NewDelegated(next, s)
	}
	s.adopted.Store(d)

	hooks := make([]func(*signer.Delegated), 0, len(s.hooks))
	for _, h := range s.hooks {
		hooks = append(hooks, h)
	}
	s.adoptMu.Unlock()

	s.metrics.observeAdoption()
	log.Info().Str("previous", prev).Str("sessionId", next).Msg("adopted signer changed")

	for _, h := range hooks {
		runHook(h, d)
	}
}

func runHook(h func(*signer.Delegated), d *signer.Delegated) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("signer change hook panicked")
		}
	}()
	h(d)
}
