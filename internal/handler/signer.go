package handler

import (
	"net/http"

	"github.com/openclaw/remote-signer-go/internal/httputil"
	"github.com/openclaw/remote-signer-go/internal/service"
)

type SignerHandler struct {
	svc *service.Service
}

func NewSignerHandler(svc *service.Service) *SignerHandler {
	return &SignerHandler{svc: svc}
}

// GET /v1/signer reports which session backs the application's signer.
func (h *SignerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d := h.svc.Adopted()
	if d == nil {
		writeJSON(w, http.StatusOK, map[string]any{"adopted": false})
		return
	}

	key, err := d.PublicKey(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"adopted":   true,
		"sessionId": d.SessionID(),
		"publicKey": key,
	})
}
