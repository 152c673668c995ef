package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware(t *testing.T) {
	h := AuthMiddleware("tok", okHandler())

	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"healthcheck is open", "/healthcheck", "", http.StatusOK},
		{"missing token", "/api/records", "", http.StatusUnauthorized},
		{"bearer token", "/api/records", "Bearer tok", http.StatusOK},
		{"wrong bearer token", "/api/records", "Bearer nope", http.StatusUnauthorized},
		{"non-bearer scheme", "/api/records", "Basic tok", http.StatusUnauthorized},
		{"query token", "/api/events?token=tok", "", http.StatusOK},
		{"wrong query token", "/api/events?token=x", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Equal(t, tt.want, rr.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Contains(t, rr.Header().Get("WWW-Authenticate"), "Bearer")
			}
		})
	}
}

func TestAuthMiddleware_EmptyTokenDisablesCheck(t *testing.T) {
	h := AuthMiddleware("", okHandler())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/records", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}
