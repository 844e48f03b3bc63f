package storage

import (
	"context"
	"sync"

	"github.com/openclaw/remote-signer-go/internal/model"
)

type MemoryStore struct {
	mu   sync.RWMutex
	snap *model.SessionSnapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(ctx context.Context) (*model.SessionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snap == nil {
		return nil, nil
	}
	out := s.snap.Clone()
	return &out, nil
}

func (s *MemoryStore) Save(ctx context.Context, snap model.SessionSnapshot) error {
	c := snap.Clone()

	s.mu.Lock()
	s.snap = &c
	s.mu.Unlock()
	return nil
}
