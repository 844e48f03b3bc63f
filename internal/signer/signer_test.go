package signer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/openclaw/remote-signer-go/internal/errors"
	"github.com/openclaw/remote-signer-go/internal/model"
	"github.com/openclaw/remote-signer-go/internal/nostr"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) Session(id string) (model.SessionRecord, bool) {
	args := m.Called(id)
	return args.Get(0).(model.SessionRecord), args.Bool(1)
}

func (m *mockBackend) FetchUserPublicKey(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *mockBackend) RequestSignature(ctx context.Context, id string, ev nostr.UnsignedEvent) (*nostr.Event, error) {
	args := m.Called(ctx, id, ev)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*nostr.Event), args.Error(1)
}

func ptr(s string) *string { return &s }

func TestDelegated(t *testing.T) {
	ctx := context.Background()

	t.Run("not connected when session missing", func(t *testing.T) {
		b := &mockBackend{}
		b.On("Session", "s1").Return(model.SessionRecord{}, false)
		d := NewDelegated("s1", b)

		_, err := d.PublicKey(ctx)
		assert.ErrorIs(t, err, apperrors.ErrNotConnected)
		_, err = d.Sign(ctx, nostr.UnsignedEvent{Kind: 1})
		assert.ErrorIs(t, err, apperrors.ErrNotConnected)
		b.AssertNotCalled(t, "RequestSignature", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("not connected when session not active", func(t *testing.T) {
		for _, status := range []model.SessionStatus{model.SessionStatusPending, model.SessionStatusRevoked} {
			b := &mockBackend{}
			b.On("Session", "s1").Return(model.SessionRecord{ID: "s1", Status: status}, true)
			_, err := NewDelegated("s1", b).Sign(ctx, nostr.UnsignedEvent{})
			assert.ErrorIs(t, err, apperrors.ErrNotConnected)
		}
	})

	t.Run("returns cached user key", func(t *testing.T) {
		b := &mockBackend{}
		b.On("Session", "s1").Return(model.SessionRecord{ID: "s1", Status: model.SessionStatusActive, UserPublicKey: ptr("K")}, true)

		key, err := NewDelegated("s1", b).PublicKey(ctx)
		require.NoError(t, err)
		assert.Equal(t, "K", key)
		b.AssertNotCalled(t, "FetchUserPublicKey", mock.Anything, mock.Anything)
	})

	t.Run("fetches unknown user key", func(t *testing.T) {
		b := &mockBackend{}
		b.On("Session", "s1").Return(model.SessionRecord{ID: "s1", Status: model.SessionStatusActive}, true)
		b.On("FetchUserPublicKey", ctx, "s1").Return("K", nil)

		key, err := NewDelegated("s1", b).PublicKey(ctx)
		require.NoError(t, err)
		assert.Equal(t, "K", key)
		b.AssertExpectations(t)
	})

	t.Run("sign delegates", func(t *testing.T) {
		ev := nostr.UnsignedEvent{Kind: 1, Content: "hi"}
		signed := &nostr.Event{ID: "x"}
		b := &mockBackend{}
		b.On("Session", "s1").Return(model.SessionRecord{ID: "s1", Status: model.SessionStatusActive}, true)
		b.On("RequestSignature", ctx, "s1", ev).Return(signed, nil)

		d := NewDelegated("s1", b)
		assert.Equal(t, "s1", d.SessionID())
		got, err := d.Sign(ctx, ev)
		require.NoError(t, err)
		assert.Same(t, signed, got)
	})
}

func TestLocal(t *testing.T) {
	km, err := nostr.GenerateKeyMaterial()
	require.NoError(t, err)

	l, err := NewLocal(km.SecretKey)
	require.NoError(t, err)

	pub, err := l.PublicKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, km.PublicKey, pub)

	ev, err := l.Sign(context.Background(), nostr.UnsignedEvent{Kind: 1, Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, km.PublicKey, ev.PubKey)
	assert.NotZero(t, ev.CreatedAt)
	assert.NoError(t, ev.Verify())

	_, err = NewLocal("nope")
	assert.Error(t, err)
}
