package model

import (
	"time"
)

// SnapshotRow is the persisted form of a SessionSnapshot in SQL stores.
type SnapshotRow struct {
	ID        string    `db:"id"`
	Payload   []byte    `db:"payload"`
	UpdatedAt time.Time `db:"updated_at"`
}
