package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/remote-signer-go/internal/model"
)

// FallbackStore pairs a durable store with an in-memory copy. Saves always
// land in memory. A capacity fault from the durable store suspends durable
// writes for the cooldown; other durable faults are logged and absorbed.
type FallbackStore struct {
	durable  Store
	memory   *MemoryStore
	cooldown time.Duration
	now      func() time.Time

	mu            sync.Mutex
	cooldownUntil time.Time
}

func NewFallbackStore(durable Store, cooldown time.Duration) *FallbackStore {
	return &FallbackStore{
		durable:  durable,
		memory:   NewMemoryStore(),
		cooldown: cooldown,
		now:      time.Now,
	}
}

// WithClock replaces the time source used for the cooldown window.
func (s *FallbackStore) WithClock(now func() time.Time) *FallbackStore {
	s.now = now
	return s
}

func (s *FallbackStore) Load(ctx context.Context) (*model.SessionSnapshot, error) {
	snap, err := s.durable.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("durable store unavailable, loading from memory")
		return s.memory.Load(ctx)
	}
	if snap != nil {
		_ = s.memory.Save(ctx, *snap)
	}
	return snap, nil
}

func (s *FallbackStore) Save(ctx context.Context, snap model.SessionSnapshot) error {
	_ = s.memory.Save(ctx, snap)

	now := s.now()
	s.mu.Lock()
	cooling := now.Before(s.cooldownUntil)
	s.mu.Unlock()
	if cooling {
		log.Debug().Msg("durable store cooling down, save skipped")
		return nil
	}

	err := s.durable.Save(ctx, snap)
	switch {
	case err == nil:
	case errors.Is(err, ErrCapacity):
		until := now.Add(s.cooldown)
		s.mu.Lock()
		s.cooldownUntil = until
		s.mu.Unlock()
		log.Warn().Err(err).Time("retryAfter", until).Msg("durable store full, falling back to memory")
	default:
		log.Error().Err(err).Msg("durable save failed")
	}
	return nil
}

// CoolingDown reports whether durable writes are currently suspended.
func (s *FallbackStore) CoolingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Before(s.cooldownUntil)
}
