package storage

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/remote-signer-go/internal/database"
	apperrors "github.com/openclaw/remote-signer-go/internal/errors"
	"github.com/openclaw/remote-signer-go/internal/repository"
)

type mockSnapshotRepo struct {
	mock.Mock
	repository.SnapshotRepository
}

func (m *mockSnapshotRepo) Upsert(ctx context.Context, id string, payload []byte) error {
	args := m.Called(ctx, id, payload)
	return args.Error(0)
}

func TestPostgresStoreCapacity(t *testing.T) {
	repo := &mockSnapshotRepo{}
	repo.On("Upsert", mock.Anything, "client", mock.Anything).
		Return(&pq.Error{Code: "53100", Message: "could not extend file"}).Once()
	repo.On("Upsert", mock.Anything, "client", mock.Anything).
		Return(&pq.Error{Code: "23505", Message: "duplicate"}).Once()

	s := NewPostgresStore(repo, "client")

	err := s.Save(context.Background(), sampleSnapshot())
	assert.ErrorIs(t, err, ErrCapacity)

	err = s.Save(context.Background(), sampleSnapshot())
	assert.ErrorIs(t, err, apperrors.ErrStorageFault)
	assert.NotErrorIs(t, err, ErrCapacity)

	repo.AssertExpectations(t)
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	db, err := database.Connect(url)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.EnsureSchema(ctx))

	repo := repository.NewSnapshotRepository(db.DB)
	key := "test-" + uuid.NewString()
	t.Cleanup(func() {
		_, err := db.ExecContext(context.Background(), `DELETE FROM session_snapshots WHERE id = $1`, key)
		assert.NoError(t, err)
	})

	s := NewPostgresStore(repo, key)

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap)

	require.NoError(t, s.Save(ctx, sampleSnapshot()))
	out, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleSnapshot(), *out)
}
