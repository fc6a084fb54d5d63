package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authrelay/authrelay/pkg/proxy"
	"github.com/authrelay/authrelay/pkg/types"
)

func TestServerSmoke(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}

	relay, err := proxy.NewOAuthRelay(&types.Config{
		PublicURL: "https://relay.example.com",
		Providers: []types.ProviderConfig{{
			Type:         types.ProviderGeneric,
			ClientID:     "test_client",
			ClientSecret: "test_secret",
			AuthorizeURL: "https://idp.example.com/authorize",
			TokenURL:     "https://idp.example.com/token",
			Scopes:       []string{"openid"},
		}},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, relay.Start(ctx))
	defer func() {
		if err := relay.Close(); err != nil {
			t.Logf("Error closing relay: %v", err)
		}
	}()

	server := httptest.NewServer(relay.GetHandler())
	defer server.Close()

	t.Run("Health", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("Metadata", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/.well-known/oauth-authorization-server")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var metadata types.OAuthMetadata
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&metadata))
		assert.NotEmpty(t, metadata.Issuer)
		assert.Contains(t, metadata.TokenEndpoint, "/auth/token")
	})

	t.Run("AuthorizeRedirectsUpstream", func(t *testing.T) {
		client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}}
		resp, err := client.Get(server.URL + "/auth/generic")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Location"), "https://idp.example.com/authorize")
	})
}
