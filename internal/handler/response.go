package handler

import (
	"encoding/json"
	"net/http"
	"time"

	apperrors "github.com/openclaw/remote-signer-go/internal/errors"
	"github.com/openclaw/remote-signer-go/internal/httputil"
	"github.com/openclaw/remote-signer-go/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperrors.ValidationError("Invalid JSON body")
	}
	return nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

// formatSession renders a record for API clients. Key material and the
// pairing secret never leave the process.
func formatSession(rec model.SessionRecord, activeID *string) map[string]any {
	return map[string]any{
		"id":                    rec.ID,
		"status":                rec.Status,
		"name":                  rec.Name,
		"relays":                rec.Relays,
		"clientPublicKey":       rec.LocalKeyMaterial.PublicKey,
		"remoteSignerPublicKey": rec.RemoteSignerPublicKey,
		"userPublicKey":         rec.UserPublicKey,
		"lastError":             rec.LastError,
		"lastSeenAt":            formatTime(rec.LastSeenAt),
		"createdAt":             rec.CreatedAt.Format(time.RFC3339),
		"updatedAt":             rec.UpdatedAt.Format(time.RFC3339),
		"adopted":               activeID != nil && *activeID == rec.ID,
	}
}

func formatSnapshot(snap model.SessionSnapshot) map[string]any {
	sessions := make([]map[string]any, 0, len(snap.Sessions))
	for _, rec := range snap.Sessions {
		sessions = append(sessions, formatSession(rec, snap.ActiveSessionID))
	}
	return map[string]any{
		"sessions":        sessions,
		"activeSessionId": snap.ActiveSessionID,
	}
}
