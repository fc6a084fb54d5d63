package handlerutils

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetClientIP(t *testing.T) {
	t.Run("XForwardedFor", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("X-Forwarded-For", "10.0.0.1, 172.16.0.1")
		assert.Equal(t, "10.0.0.1", GetClientIP(r))
	})

	t.Run("XRealIP", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("X-Real-IP", "10.0.0.2")
		assert.Equal(t, "10.0.0.2", GetClientIP(r))
	})

	t.Run("RemoteAddr", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = "192.168.1.1:34567"
		assert.Equal(t, "192.168.1.1", GetClientIP(r))
	})
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	assert.Empty(t, BearerToken(r))

	r.Header.Set("Authorization", "Bearer tok123")
	assert.Equal(t, "tok123", BearerToken(r))

	r.Header.Set("Authorization", "bearer tok123")
	assert.Equal(t, "tok123", BearerToken(r))

	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Empty(t, BearerToken(r))
}

func TestOAuthError(t *testing.T) {
	rec := httptest.NewRecorder()
	OAuthError(rec, 400, "invalid_request", "Token parameter is required")

	assert.Equal(t, 400, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"invalid_request","error_description":"Token parameter is required"}`, rec.Body.String())
}

func TestNoStore(t *testing.T) {
	rec := httptest.NewRecorder()
	NoStore(rec)
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")
	assert.Equal(t, "no-cache", rec.Header().Get("Pragma"))
}

func TestGetBaseURL(t *testing.T) {
	r := httptest.NewRequest("GET", "http://relay.example.com/auth/token", nil)
	assert.Equal(t, "http://relay.example.com", GetBaseURL(r))

	r.Header.Set("X-Forwarded-Proto", "https")
	assert.Equal(t, "https://relay.example.com", GetBaseURL(r))
}
