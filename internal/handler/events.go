package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/remote-signer-go/internal/model"
	"github.com/openclaw/remote-signer-go/internal/service"
	"github.com/openclaw/remote-signer-go/internal/session"
	"github.com/openclaw/remote-signer-go/internal/signer"
	"github.com/openclaw/remote-signer-go/internal/sse"
)

const (
	EventSessions = "sessions"
	EventSigner   = "signer"
	EventAuthURL  = "auth_url"
)

type EventsHandler struct {
	broker    *sse.Broker
	svc       *service.Service
	heartbeat time.Duration
}

func NewEventsHandler(broker *sse.Broker, svc *service.Service) *EventsHandler {
	return &EventsHandler{
		broker:    broker,
		svc:       svc,
		heartbeat: sse.HeartbeatInterval,
	}
}

// WatchChanges forwards session table changes and signer swaps to the
// broker. The returned func stops forwarding.
func WatchChanges(manager *session.Manager, svc *service.Service, broker *sse.Broker) func() {
	stopSessions := manager.OnChange(func(snap model.SessionSnapshot) {
		if err := broker.PublishJSON(EventSessions, formatSnapshot(snap)); err != nil {
			log.Error().Err(err).Msg("failed to publish session snapshot")
		}
	})
	stopSigner := svc.OnSignerChange(func(d *signer.Delegated) {
		data := map[string]any{"adopted": d != nil}
		if d != nil {
			data["sessionId"] = d.SessionID()
		}
		if err := broker.PublishJSON(EventSigner, data); err != nil {
			log.Error().Err(err).Msg("failed to publish signer change")
		}
	})
	return func() {
		stopSessions()
		stopSigner()
	}
}

// PublishAuthURL is shaped to serve as service.Options.OnAuthURL.
func PublishAuthURL(broker *sse.Broker) func(sessionID, url string) {
	return func(sessionID, url string) {
		if err := broker.PublishJSON(EventAuthURL, map[string]string{"sessionId": sessionID, "url": url}); err != nil {
			log.Error().Err(err).Msg("failed to publish auth url")
		}
	}
}

// GET /v1/events
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.broker.Subscribe()
	defer h.broker.Unsubscribe(client)

	log.Info().Msg("sse connection established")

	if err := h.sendEvent(w, flusher, EventSessions, formatSnapshot(h.svc.Snapshot())); err != nil {
		log.Debug().Err(err).Msg("failed to send initial snapshot")
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
