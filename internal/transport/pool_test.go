package transport

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/openclaw/remote-signer-go/internal/errors"
)

type stubRelay struct {
	*MemoryRelay
	url     string
	failErr error
}

func (s *stubRelay) URL() string { return s.url }

func (s *stubRelay) Publish(ctx context.Context, recipient string, envelope []byte) error {
	if s.failErr != nil {
		return s.failErr
	}
	return s.MemoryRelay.Publish(ctx, recipient, envelope)
}

func TestPoolPublish(t *testing.T) {
	ctx := context.Background()

	t.Run("fails fast with no relays", func(t *testing.T) {
		p := NewPool()
		err := p.Publish(ctx, "bob", []byte("x"))
		assert.ErrorIs(t, err, apperrors.ErrTransport)
	})

	t.Run("fails fast when every relay is down", func(t *testing.T) {
		r := NewMemoryRelay()
		r.SetConnected(false)
		p := NewPool(r)

		start := time.Now()
		err := p.Publish(ctx, "bob", []byte("x"))
		assert.ErrorIs(t, err, apperrors.ErrTransport)
		assert.Less(t, time.Since(start), time.Second)
		assert.Empty(t, r.Published())
	})

	t.Run("succeeds when any relay accepts", func(t *testing.T) {
		bad := &stubRelay{MemoryRelay: NewMemoryRelay(), url: "bad", failErr: apperrors.Transport("boom", nil)}
		good := &stubRelay{MemoryRelay: NewMemoryRelay(), url: "good"}
		p := NewPool(bad, good)

		require.NoError(t, p.Publish(ctx, "bob", []byte("x")))
		assert.Equal(t, 1, good.PublishedTo("bob"))
	})

	t.Run("fails when all relays reject", func(t *testing.T) {
		a := &stubRelay{MemoryRelay: NewMemoryRelay(), url: "a", failErr: apperrors.Transport("a", nil)}
		b := &stubRelay{MemoryRelay: NewMemoryRelay(), url: "b", failErr: apperrors.Transport("b", nil)}
		p := NewPool(a, b)

		err := p.Publish(ctx, "bob", []byte("x"))
		assert.ErrorIs(t, err, apperrors.ErrTransport)
	})

	t.Run("skips disconnected relays", func(t *testing.T) {
		up := NewMemoryRelay()
		down := NewMemoryRelay()
		down.SetConnected(false)
		p := NewPool(up, down)

		require.NoError(t, p.Publish(ctx, "bob", []byte("x")))
		assert.Equal(t, 1, up.PublishedTo("bob"))
		assert.Equal(t, 0, down.PublishedTo("bob"))
	})
}

func TestPoolSubscribe(t *testing.T) {
	t.Run("subscribe without relays is a no-op", func(t *testing.T) {
		p := NewPool()
		unsub := p.Subscribe("alice", func([]byte) {})
		assert.NotPanics(t, unsub)
		assert.NotPanics(t, unsub)
	})

	t.Run("replays subscriptions onto relays added later", func(t *testing.T) {
		p := NewPool()
		var got atomic.Int32
		unsub := p.Subscribe("alice", func([]byte) { got.Add(1) })

		r := NewMemoryRelay()
		p.Add(r)
		assert.Equal(t, 1, r.Subscribers("alice"))

		r.Deliver("alice", []byte("hello"))
		assert.Equal(t, int32(1), got.Load())

		unsub()
		assert.Equal(t, 0, r.Subscribers("alice"))
	})

	t.Run("receives from every relay", func(t *testing.T) {
		a, b := NewMemoryRelay(), NewMemoryRelay()
		p := NewPool(a, b)

		received := make(chan string, 4)
		defer p.Subscribe("alice", func(env []byte) { received <- string(env) })()

		require.NoError(t, p.Publish(context.Background(), "alice", []byte("dup")))

		for i := 0; i < 2; i++ {
			select {
			case env := <-received:
				assert.Equal(t, "dup", env)
			case <-time.After(time.Second):
				t.Fatal("envelope not delivered")
			}
		}
	})
}

func TestMemoryRelay(t *testing.T) {
	r := NewMemoryRelay()
	r.SetDrop(true)

	var got atomic.Int32
	defer r.Subscribe("alice", func([]byte) { got.Add(1) })()

	require.NoError(t, r.Publish(context.Background(), "alice", []byte("x")))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), got.Load())
	assert.Equal(t, 1, r.PublishedTo("alice"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.Publish(ctx, "alice", []byte("x")), apperrors.ErrTransport)
}
