package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/authrelay/authrelay/pkg/types"
)

func TestGenericFetchUserInfoFromEndpoint(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer upstream_access", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sub":"u42","email":"dev@example.com","preferred_username":"dev"}`))
	}))
	defer ts.Close()

	p, err := NewGeneric(types.ProviderConfig{
		Type:         types.ProviderGeneric,
		ClientID:     "id",
		ClientSecret: "secret",
		AuthorizeURL: "https://idp.example.com/authorize",
		TokenURL:     "https://idp.example.com/token",
		UserInfoURL:  ts.URL + "/userinfo",
	})
	require.NoError(t, err)

	user, err := p.FetchUserInfo(context.Background(), &oauth2.Token{AccessToken: "upstream_access"})
	require.NoError(t, err)
	assert.Equal(t, "u42", user.Sub)
	assert.Equal(t, "dev@example.com", user.Email)
	assert.Equal(t, "dev", user.Name)
	assert.Equal(t, types.ProviderGeneric, user.Provider)
}

func TestGenericFetchUserInfoFromIDToken(t *testing.T) {
	p, err := NewGeneric(types.ProviderConfig{
		Type:         types.ProviderGeneric,
		ClientID:     "id",
		ClientSecret: "secret",
		AuthorizeURL: "https://idp.example.com/authorize",
		TokenURL:     "https://idp.example.com/token",
	})
	require.NoError(t, err)

	idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "u42",
		"email": "dev@example.com",
		"name":  "Dev Eloper",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)

	token := (&oauth2.Token{AccessToken: "a"}).WithExtra(map[string]any{"id_token": idToken})

	user, err := p.FetchUserInfo(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u42", user.Sub)
	assert.Equal(t, "dev@example.com", user.Email)
	assert.Equal(t, "Dev Eloper", user.Name)
}

func TestGenericFetchUserInfoNoSource(t *testing.T) {
	p, err := NewGeneric(types.ProviderConfig{
		Type:         types.ProviderGeneric,
		ClientID:     "id",
		ClientSecret: "secret",
		AuthorizeURL: "https://idp.example.com/authorize",
		TokenURL:     "https://idp.example.com/token",
	})
	require.NoError(t, err)

	_, err = p.FetchUserInfo(context.Background(), &oauth2.Token{AccessToken: "a"})
	assert.Error(t, err)
}

func TestGenericRevoke(t *testing.T) {
	t.Run("TestNoEndpointConfigured", func(t *testing.T) {
		p, err := NewGeneric(types.ProviderConfig{
			Type:         types.ProviderGeneric,
			ClientID:     "id",
			ClientSecret: "secret",
			AuthorizeURL: "https://idp.example.com/authorize",
			TokenURL:     "https://idp.example.com/token",
		})
		require.NoError(t, err)
		assert.ErrorIs(t, p.RevokeToken(context.Background(), "tok"), ErrRevokeUnsupported)
	})

	t.Run("TestPostsToConfiguredEndpoint", func(t *testing.T) {
		var gotToken string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			gotToken = r.PostForm.Get("token")
			w.WriteHeader(http.StatusOK)
		}))
		defer ts.Close()

		p, err := NewGeneric(types.ProviderConfig{
			Type:         types.ProviderGeneric,
			ClientID:     "id",
			ClientSecret: "secret",
			AuthorizeURL: "https://idp.example.com/authorize",
			TokenURL:     "https://idp.example.com/token",
			RevokeURL:    ts.URL + "/revoke",
		})
		require.NoError(t, err)

		require.NoError(t, p.RevokeToken(context.Background(), "tok123"))
		assert.Equal(t, "tok123", gotToken)
	})
}
