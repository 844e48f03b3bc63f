package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/remote-signer-go/internal/errors"
	"github.com/openclaw/remote-signer-go/internal/httputil"
	"github.com/openclaw/remote-signer-go/internal/nostr"
	"github.com/openclaw/remote-signer-go/internal/service"
)

type SessionHandler struct {
	svc *service.Service
}

func NewSessionHandler(svc *service.Service) *SessionHandler {
	return &SessionHandler{svc: svc}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{sessionID}", h.Get)
	r.Delete("/{sessionID}", h.Remove)
	r.Post("/{sessionID}/connect", h.Connect)
	r.Post("/{sessionID}/public-key", h.PublicKey)
	r.Post("/{sessionID}/sign", h.Sign)
	r.Post("/{sessionID}/ping", h.Ping)
	r.Post("/{sessionID}/revoke", h.Revoke)

	return r
}

type createSessionRequest struct {
	BunkerURL string   `json:"bunkerUrl"`
	Relays    []string `json:"relays"`
	Name      string   `json:"name"`
}

// GET /v1/sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, formatSnapshot(h.svc.Snapshot()))
}

// POST /v1/sessions
//
// A bunkerUrl pairs with a known remote signer and runs the handshake.
// Without one, a nostrconnect:// invitation is issued for the given relays.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	ctx := r.Context()

	if req.BunkerURL == "" {
		rec, uri, err := h.svc.PairNostrConnect(ctx, req.Relays, req.Name)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"session":         formatSession(rec, h.svc.Snapshot().ActiveSessionID),
			"nostrconnectUrl": uri,
		})
		return
	}

	rec, err := h.svc.Pair(ctx, req.BunkerURL)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.svc.ConnectSession(ctx, rec.ID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if _, err := h.svc.FetchUserPublicKey(ctx, rec.ID); err != nil {
		log.Warn().Err(err).Str("sessionId", rec.ID).Msg("failed to fetch user public key after pairing")
	}

	h.writeSession(w, http.StatusCreated, rec.ID)
}

// GET /v1/sessions/{sessionID}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.writeSession(w, http.StatusOK, chi.URLParam(r, "sessionID"))
}

// DELETE /v1/sessions/{sessionID}
func (h *SessionHandler) Remove(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Remove(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /v1/sessions/{sessionID}/connect
func (h *SessionHandler) Connect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := h.svc.ConnectSession(r.Context(), id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.writeSession(w, http.StatusOK, id)
}

// POST /v1/sessions/{sessionID}/public-key
func (h *SessionHandler) PublicKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.svc.FetchUserPublicKey(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": key})
}

// POST /v1/sessions/{sessionID}/sign
func (h *SessionHandler) Sign(w http.ResponseWriter, r *http.Request) {
	var ev nostr.UnsignedEvent
	if err := decodeJSON(r, &ev); err != nil {
		httputil.WriteError(w, err)
		return
	}

	signed, err := h.svc.RequestSignature(r.Context(), chi.URLParam(r, "sessionID"), ev)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, signed)
}

// POST /v1/sessions/{sessionID}/ping
func (h *SessionHandler) Ping(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Ping(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "pong"})
}

// POST /v1/sessions/{sessionID}/revoke
func (h *SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Revoke(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, formatSession(rec, h.svc.Snapshot().ActiveSessionID))
}

func (h *SessionHandler) writeSession(w http.ResponseWriter, status int, id string) {
	snap := h.svc.Snapshot()
	rec, ok := snap.Find(id)
	if !ok {
		httputil.WriteError(w, apperrors.NotFound("Session"))
		return
	}
	writeJSON(w, status, formatSession(rec, snap.ActiveSessionID))
}
