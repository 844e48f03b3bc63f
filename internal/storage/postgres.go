package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/lib/pq"

	apperrors "github.com/openclaw/remote-signer-go/internal/errors"
	"github.com/openclaw/remote-signer-go/internal/model"
	"github.com/openclaw/remote-signer-go/internal/repository"
)

// insufficientResources is the Postgres error class for disk full, out of
// memory and too many connections.
const insufficientResources = "53"

// PostgresStore keeps the snapshot as one row keyed by the client name, so
// several clients can share a database.
type PostgresStore struct {
	repo repository.SnapshotRepository
	key  string
}

func NewPostgresStore(repo repository.SnapshotRepository, key string) *PostgresStore {
	return &PostgresStore{repo: repo, key: key}
}

func (s *PostgresStore) Load(ctx context.Context) (*model.SessionSnapshot, error) {
	row, err := s.repo.Find(ctx, s.key)
	if err != nil {
		return nil, apperrors.StorageFault("postgres read", err)
	}
	if row == nil {
		return nil, nil
	}
	snap, err := decodeSnapshot(row.Payload)
	if err != nil {
		return nil, apperrors.StorageFault("decode snapshot", err)
	}
	return snap, nil
}

func (s *PostgresStore) Save(ctx context.Context, snap model.SessionSnapshot) error {
	data, err := encodeSnapshot(snap)
	if err != nil {
		return apperrors.StorageFault("encode snapshot", err)
	}
	if err := s.repo.Upsert(ctx, s.key, data); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Class() == insufficientResources {
			return apperrors.StorageFault("postgres write", fmt.Errorf("%w: %v", ErrCapacity, err))
		}
		return apperrors.StorageFault("postgres write", err)
	}
	return nil
}
