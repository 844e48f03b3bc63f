package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/remote-signer-go/internal/audit"
	apperrors "github.com/openclaw/remote-signer-go/internal/errors"
	"github.com/openclaw/remote-signer-go/internal/httputil"
	"github.com/openclaw/remote-signer-go/internal/util"
)

type contextKey string

const ClientContextKey contextKey = "client"

// GetClient returns the identity the request was authenticated as: a short
// digest of its bearer token, or "" when authentication is disabled.
func GetClient(ctx context.Context) string {
	if client, ok := ctx.Value(ClientContextKey).(string); ok {
		return client
	}
	return ""
}

// AuthMiddleware checks the bearer token against a bcrypt hash. Tokens that
// already passed are remembered by digest so bcrypt runs once per token.
type AuthMiddleware struct {
	tokenHash string
	verified  sync.Map
}

// NewAuthMiddleware with an empty hash lets every request through.
func NewAuthMiddleware(tokenHash string) *AuthMiddleware {
	if tokenHash == "" {
		log.Warn().Msg("API_TOKEN_HASH not set, API authentication disabled")
	}
	return &AuthMiddleware{tokenHash: tokenHash}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.tokenHash == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := extractToken(r)
		if token == "" {
			httputil.WriteError(w, apperrors.Unauthorized("Missing authentication token"))
			return
		}

		digest := util.HashToken(token)
		if _, ok := m.verified.Load(digest); !ok {
			if !util.CheckAPIToken(token, m.tokenHash) {
				audit.LogFromRequest(r, audit.Event{Type: audit.EventAuthFailure})
				httputil.WriteError(w, apperrors.Unauthorized("Invalid token"))
				return
			}
			m.verified.Store(digest, struct{}{})
		}

		ctx := context.WithValue(r.Context(), ClientContextKey, digest[:16])
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	// EventSource cannot set headers.
	if r.Header.Get("Accept") == "text/event-stream" {
		return r.URL.Query().Get("token")
	}
	return ""
}
