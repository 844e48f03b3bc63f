package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/remote-signer-go/internal/signertest"
	"github.com/openclaw/remote-signer-go/internal/sse"
)

func TestEventsHandler_sendRawEvent(t *testing.T) {
	handler := &EventsHandler{}
	rec := httptest.NewRecorder()

	err := handler.sendRawEvent(rec, rec, sse.Event{
		Type: EventSigner,
		Data: json.RawMessage(`{"adopted":false}`),
	})

	assert.NoError(t, err)
	assert.Equal(t, "event: signer\ndata: {\"adopted\":false}\n\n", rec.Body.String())
}

func TestEventsHandler_sendEvent(t *testing.T) {
	handler := &EventsHandler{}
	rec := httptest.NewRecorder()

	err := handler.sendEvent(rec, rec, EventAuthURL, map[string]string{"url": "https://signer.example"})

	assert.NoError(t, err)
	body := rec.Body.String()
	assert.Contains(t, body, "event: auth_url\n")
	assert.Contains(t, body, "signer.example")
}

// readEvents collects event names from an SSE stream until want is seen.
func readEvents(t *testing.T, body *bufio.Reader, want string) []string {
	t.Helper()
	var seen []string
	for {
		line, err := body.ReadString('\n')
		require.NoError(t, err)
		name, ok := strings.CutPrefix(strings.TrimSpace(line), "event: ")
		if !ok {
			continue
		}
		seen = append(seen, name)
		if name == want {
			return seen
		}
	}
}

func TestEventsHandler_Stream(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	body := bufio.NewReader(resp.Body)

	assert.Equal(t, []string{EventSessions}, readEvents(t, body, EventSessions), "initial snapshot comes first")
	require.Eventually(t, func() bool { return s.broker.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	s.pair(t)
	seen := readEvents(t, body, EventSigner)
	assert.Contains(t, seen, EventSessions)

	s.remote.SetMode(signertest.ModeAuthURL)
	id := s.svc.Snapshot().Sessions[0].ID
	go func() { _ = s.svc.Ping(context.Background(), id) }()
	readEvents(t, body, EventAuthURL)
}

func TestEventsHandler_Heartbeat(t *testing.T) {
	broker := sse.NewBroker()
	defer broker.Close()
	s := newTestServer(t)
	handler := NewEventsHandler(broker, s.svc)
	handler.heartbeat = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Contains(t, rec.Body.String(), ": ping\n\n")
}
