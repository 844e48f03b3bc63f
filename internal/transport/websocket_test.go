package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/openclaw/remote-signer-go/internal/errors"
)

// fakeRelay is a minimal Nostr relay: it stores REQ filters by #p and
// forwards EVENTs whose p tag matches.
type fakeRelay struct {
	upgrader websocket.Upgrader

	mu   sync.Mutex
	reqs map[string]string // subID -> pubkey
	conn *websocket.Conn
	seen chan []json.RawMessage
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{reqs: make(map[string]string), seen: make(chan []json.RawMessage, 16)}
}

func (f *fakeRelay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	defer conn.Close()

	for {
		var msg []json.RawMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		f.seen <- msg

		var typ string
		_ = json.Unmarshal(msg[0], &typ)
		switch typ {
		case "REQ":
			var subID string
			var filter struct {
				P []string `json:"#p"`
			}
			_ = json.Unmarshal(msg[1], &subID)
			_ = json.Unmarshal(msg[2], &filter)
			f.mu.Lock()
			f.reqs[subID] = filter.P[0]
			f.mu.Unlock()
		case "EVENT":
			var ev struct {
				Tags [][]string `json:"tags"`
			}
			_ = json.Unmarshal(msg[1], &ev)
			f.mu.Lock()
			for subID, pk := range f.reqs {
				if len(ev.Tags) > 0 && ev.Tags[0][1] == pk {
					_ = conn.WriteJSON([]any{"EVENT", subID, msg[1]})
				}
			}
			f.mu.Unlock()
			_ = conn.WriteJSON([]any{"OK", "id", true, ""})
		case "CLOSE":
			var subID string
			_ = json.Unmarshal(msg[1], &subID)
			f.mu.Lock()
			delete(f.reqs, subID)
			f.mu.Unlock()
		}
	}
}

func (f *fakeRelay) expect(t *testing.T, typ string) []json.RawMessage {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-f.seen:
			var got string
			_ = json.Unmarshal(msg[0], &got)
			if got == typ {
				return msg
			}
		case <-deadline:
			t.Fatalf("relay never received %s", typ)
			return nil
		}
	}
}

func waitConnected(t *testing.T, r *WebsocketRelay) {
	t.Helper()
	require.Eventually(t, r.Connected, 2*time.Second, 10*time.Millisecond)
}

func TestWebsocketRelay(t *testing.T) {
	fake := newFakeRelay()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	r := NewWebsocketRelay(url)
	assert.Equal(t, url, r.URL())

	t.Run("publish before connect fails", func(t *testing.T) {
		err := r.Publish(context.Background(), "bob", []byte(`{}`))
		assert.ErrorIs(t, err, apperrors.ErrTransport)
	})

	received := make(chan []byte, 1)
	unsub := r.Subscribe("alice", func(env []byte) { received <- env })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)
	waitConnected(t, r)

	t.Run("replays subscriptions on connect", func(t *testing.T) {
		req := fake.expect(t, "REQ")
		var filter map[string]any
		require.NoError(t, json.Unmarshal(req[2], &filter))
		assert.Equal(t, []any{"alice"}, filter["#p"])
		assert.Equal(t, []any{float64(24133)}, filter["kinds"])
	})

	t.Run("publish and receive", func(t *testing.T) {
		env := []byte(`{"kind":24133,"tags":[["p","alice"]],"content":"hi"}`)
		require.NoError(t, r.Publish(context.Background(), "alice", env))
		fake.expect(t, "EVENT")

		select {
		case got := <-received:
			assert.JSONEq(t, string(env), string(got))
		case <-time.After(2 * time.Second):
			t.Fatal("event not received")
		}
	})

	t.Run("unsubscribe sends CLOSE", func(t *testing.T) {
		unsub()
		fake.expect(t, "CLOSE")
	})

	t.Run("stops when context is cancelled", func(t *testing.T) {
		cancel()
		require.Eventually(t, func() bool { return !r.Connected() }, 2*time.Second, 10*time.Millisecond)
	})
}
