package repository

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/remote-signer-go/internal/database"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := database.Connect(url)
	require.NoError(t, err)
	require.NoError(t, db.EnsureSchema(context.Background()))
	return db
}

func deleteRow(t *testing.T, db *database.DB, id string) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), `DELETE FROM session_snapshots WHERE id = $1`, id)
	assert.NoError(t, err)
}

func TestSnapshotRepository(t *testing.T) {
	db := setupTestDB(t)
	t.Cleanup(func() { db.Close() })

	repo := NewSnapshotRepository(db.DB)
	ctx := context.Background()
	id := "test-" + uuid.NewString()
	t.Cleanup(func() { deleteRow(t, db, id) })

	t.Run("returns nil for missing row", func(t *testing.T) {
		row, err := repo.Find(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, row)
	})

	t.Run("inserts then updates", func(t *testing.T) {
		require.NoError(t, repo.Upsert(ctx, id, []byte(`{"sessions":[]}`)))
		row, err := repo.Find(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, `{"sessions":[]}`, string(row.Payload))

		require.NoError(t, repo.Upsert(ctx, id, []byte(`{"sessions":[],"activeSessionId":null}`)))
		row, err = repo.Find(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, `{"sessions":[],"activeSessionId":null}`, string(row.Payload))
	})
}
