// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers header and query token extraction, rejection and identity propagation

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var httpTestSecret = []byte("http-middleware-test-secret-32b!")

func serveWithAuth(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, *Identity) {
	t.Helper()
	var got *Identity
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	HTTPAuthMiddleware(NewJWTVerifier(httpTestSecret))(handler).ServeHTTP(rec, req)
	return rec, got
}

func TestHTTPAuthMiddleware_BearerHeader(t *testing.T) {
	token, err := NewJWTVerifier(httpTestSecret).Issue("user-123", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/socket", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec, id := serveWithAuth(t, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, id)
	assert.Equal(t, "user-123", id.UserID)
}

func TestHTTPAuthMiddleware_QueryToken(t *testing.T) {
	token, err := NewJWTVerifier(httpTestSecret).Issue("user-9", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/socket?sessionId=s1&token="+token, nil)
	rec, id := serveWithAuth(t, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, id)
	assert.Equal(t, "user-9", id.UserID)
}

func TestHTTPAuthMiddleware_Rejects(t *testing.T) {
	expired, _ := NewJWTVerifier(httpTestSecret).Issue("user-1", -time.Hour)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic abc"},
		{"empty bearer", "Bearer "},
		{"garbage", "Bearer not-a-jwt"},
		{"expired", "Bearer " + expired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/socket", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec, id := serveWithAuth(t, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Nil(t, id)
		})
	}
}

func TestFromContext_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, FromContext(req.Context()))
}
