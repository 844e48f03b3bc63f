// Package audit records security-relevant events on the global logger.
package audit

import (
	"context"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/remote-signer-go/internal/util"
)

type EventType string

const (
	EventSessionPaired   EventType = "session_paired"
	EventSessionBound    EventType = "session_bound"
	EventSessionRevoked  EventType = "session_revoked"
	EventSessionRemoved  EventType = "session_removed"
	EventAuthChallenge   EventType = "auth_challenge"
	EventSignRequested   EventType = "sign_requested"
	EventRateLimitExceed EventType = "rate_limit_exceeded"
	EventAuthFailure     EventType = "auth_failure"
)

// Level is the severity an event type is logged at.
func (t EventType) Level() zerolog.Level {
	switch t {
	case EventAuthFailure, EventRateLimitExceed:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}

type Event struct {
	Type         EventType
	SessionID    string
	RemoteSigner string
	IP           string
	UserAgent    string
	Details      map[string]interface{}
}

// Log writes event at its type's level. A chi request id on ctx is attached.
func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "security").
		Str("eventType", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	e := logger.WithLevel(event.Type.Level())
	if reqID := chimiddleware.GetReqID(ctx); reqID != "" {
		e = e.Str("requestId", reqID)
	}
	if event.SessionID != "" {
		e = e.Str("sessionId", event.SessionID)
	}
	if event.RemoteSigner != "" {
		e = e.Str("remoteSigner", util.ShortKey(event.RemoteSigner))
	}
	if event.IP != "" {
		e = e.Str("ip", event.IP)
	}
	if event.UserAgent != "" {
		e = e.Str("userAgent", event.UserAgent)
	}
	for k, v := range event.Details {
		e = addField(e, k, v)
	}
	e.Msg("security audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = getClientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

// getClientIP relies on chi's RealIP middleware having rewritten RemoteAddr.
func getClientIP(r *http.Request) string {
	return r.RemoteAddr
}
