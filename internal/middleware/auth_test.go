package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func hashToken(t *testing.T, token string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestAuthMiddleware(t *testing.T) {
	hash := hashToken(t, "valid-token")

	var seenClient string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenClient = GetClient(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		header     string
		accept     string
		query      string
		wantStatus int
	}{
		{"missing token", "", "", "", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", "", "", http.StatusUnauthorized},
		{"valid bearer token", "Bearer valid-token", "", "", http.StatusOK},
		{"non bearer scheme", "Basic valid-token", "", "", http.StatusUnauthorized},
		{"query token for event streams", "", "text/event-stream", "valid-token", http.StatusOK},
		{"query token ignored elsewhere", "", "application/json", "valid-token", http.StatusUnauthorized},
	}

	m := NewAuthMiddleware(hash)
	handler := m.Handler(next)

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			seenClient = ""
			url := "/v1/sessions"
			if tc.query != "" {
				url += "?token=" + tc.query
			}
			req := httptest.NewRequest(http.MethodGet, url, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			if tc.accept != "" {
				req.Header.Set("Accept", tc.accept)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code)
			if tc.wantStatus == http.StatusOK {
				assert.Len(t, seenClient, 16)
			} else {
				assert.Empty(t, seenClient)
			}
		})
	}

	t.Run("remembers verified tokens", func(t *testing.T) {
		m := NewAuthMiddleware(hash)
		handler := m.Handler(next)
		for i := 0; i < 2; i++ {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer valid-token")
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusOK, rec.Code)
		}
		count := 0
		m.verified.Range(func(_, _ any) bool {
			count++
			return true
		})
		assert.Equal(t, 1, count)
	})

	t.Run("empty hash disables authentication", func(t *testing.T) {
		handler := NewAuthMiddleware("").Handler(next)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestGetClient(t *testing.T) {
	t.Run("returns client from context", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), ClientContextKey, "abc")
		assert.Equal(t, "abc", GetClient(ctx))
	})

	t.Run("returns empty when missing", func(t *testing.T) {
		assert.Empty(t, GetClient(context.Background()))
	})
}
