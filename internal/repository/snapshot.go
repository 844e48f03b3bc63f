package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/openclaw/remote-signer-go/internal/model"
)

type SnapshotRepository interface {
	Find(ctx context.Context, id string) (*model.SnapshotRow, error)
	Upsert(ctx context.Context, id string, payload []byte) error
}

type snapshotRepo struct {
	db *sqlx.DB
}

func NewSnapshotRepository(db *sqlx.DB) SnapshotRepository {
	return &snapshotRepo{db: db}
}

func (r *snapshotRepo) Find(ctx context.Context, id string) (*model.SnapshotRow, error) {
	var row model.SnapshotRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, payload, updated_at FROM session_snapshots WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *snapshotRepo) Upsert(ctx context.Context, id string, payload []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO session_snapshots (id, payload, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()
	`, id, payload)
	return err
}
