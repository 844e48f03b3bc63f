package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// cooldownTracker gates connect attempts per session. A session whose last
// connect failed is owned by the tracker until a connect succeeds, which
// keeps it a reconnection candidate despite its lastError. Sessions connected
// by this process are live and need no attempt.
type cooldownTracker struct {
	mu   sync.Mutex
	next map[string]time.Time
	live map[string]bool
}

func newCooldownTracker() *cooldownTracker {
	return &cooldownTracker{
		next: make(map[string]time.Time),
		live: make(map[string]bool),
	}
}

func (c *cooldownTracker) ready(id string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live[id] {
		return false
	}
	t, ok := c.next[id]
	return !ok || !now.Before(t)
}

func (c *cooldownTracker) fail(id string, now time.Time, cooldown time.Duration) {
	c.mu.Lock()
	c.next[id] = now.Add(cooldown)
	delete(c.live, id)
	c.mu.Unlock()
}

func (c *cooldownTracker) succeed(id string) {
	c.mu.Lock()
	delete(c.next, id)
	c.live[id] = true
	c.mu.Unlock()
}

func (c *cooldownTracker) forget(id string) {
	c.mu.Lock()
	delete(c.next, id)
	delete(c.live, id)
	c.mu.Unlock()
}

func (c *cooldownTracker) owns(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.next[id]
	return ok
}

// Reconcile runs one pass of the reconnection loop. Every candidate that is
// not live, not mid-handshake and not cooling down gets a connect attempt.
// It waits for the attempts and returns how many were made.
func (s *Service) Reconcile(ctx context.Context) int {
	if s.destroyed.Load() {
		return 0
	}

	now := s.now()
	candidates := s.sessions.ReconnectCandidates(now, s.cooldowns.owns)

	var wg sync.WaitGroup
	attempts := 0
	for _, rec := range candidates {
		if s.isInflight(rec.ID) || !s.cooldowns.ready(rec.ID, now) {
			continue
		}
		attempts++
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := s.ConnectSession(ctx, id); err != nil {
				s.metrics.observeReconnect("failure")
				log.Debug().Err(err).Str("sessionId", id).Msg("reconnect attempt failed")
				return
			}
			s.metrics.observeReconnect("success")
		}(rec.ID)
	}
	wg.Wait()

	if attempts > 0 {
		log.Info().Int("attempts", attempts).Int("candidates", len(candidates)).Msg("reconnect pass finished")
	}
	return attempts
}
