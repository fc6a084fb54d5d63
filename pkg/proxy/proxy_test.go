package proxy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authrelay/authrelay/pkg/types"
)

// newUpstream fakes a standards-compliant OAuth provider with token and
// userinfo endpoints.
func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			_, _ = w.Write([]byte(`{"access_token":"upstream_access","token_type":"Bearer","expires_in":3600,"refresh_token":"upstream_refresh"}`))
		case "refresh_token":
			_, _ = w.Write([]byte(`{"access_token":"upstream_access_2","token_type":"Bearer","expires_in":3600}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"unsupported_grant_type"}`))
		}
	})
	mux.HandleFunc("GET /userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sub":"u1","email":"dev@example.com","name":"Dev"}`))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func newTestRelay(t *testing.T, mutate func(*types.Config)) *OAuthRelay {
	t.Helper()
	upstream := newUpstream(t)

	config := &types.Config{
		PublicURL: "https://relay.example.com",
		Providers: []types.ProviderConfig{{
			Type:         types.ProviderGeneric,
			ClientID:     "test_client",
			ClientSecret: "test_secret",
			AuthorizeURL: upstream.URL + "/authorize",
			TokenURL:     upstream.URL + "/token",
			UserInfoURL:  upstream.URL + "/userinfo",
			Scopes:       []string{"openid", "email"},
		}},
	}
	if mutate != nil {
		mutate(config)
	}

	relay, err := NewOAuthRelay(config)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := relay.Close(); err != nil {
			t.Logf("Error closing relay: %v", err)
		}
	})
	return relay
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestRelay(t, nil).GetHandler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetadataEndpoint(t *testing.T) {
	handler := newTestRelay(t, nil).GetHandler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/.well-known/oauth-authorization-server", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var metadata types.OAuthMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metadata))
	assert.Contains(t, metadata.GrantTypesSupported, "authorization_code")
	assert.Contains(t, metadata.GrantTypesSupported, "refresh_token")
	assert.Equal(t, []string{"S256"}, metadata.CodeChallengeMethodsSupported)
	assert.Contains(t, metadata.ScopesSupported, "openid")
}

func TestCORSPreflight(t *testing.T) {
	handler := newTestRelay(t, nil).GetHandler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("OPTIONS", "/health", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownProvider(t *testing.T) {
	handler := newTestRelay(t, nil).GetHandler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/auth/okta", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnsupportedGrantType(t *testing.T) {
	handler := newTestRelay(t, nil).GetHandler()

	form := url.Values{"grant_type": {"password"}}
	req := httptest.NewRequest("POST", "/auth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var oauthErr types.OAuthError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &oauthErr))
	assert.Equal(t, "unsupported_grant_type", oauthErr.Error)
}

func TestRevokeAlwaysSucceeds(t *testing.T) {
	handler := newTestRelay(t, nil).GetHandler()

	form := url.Values{"token": {"never-issued"}}
	req := httptest.NewRequest("POST", "/auth/revoke", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
}

func TestOAuthResponsesAreNotCacheable(t *testing.T) {
	handler := newTestRelay(t, nil).GetHandler()

	revokeReq := httptest.NewRequest("POST", "/auth/revoke", strings.NewReader(url.Values{"token": {"x"}}.Encode()))
	revokeReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	badGrantReq := httptest.NewRequest("POST", "/auth/token", strings.NewReader(url.Values{"grant_type": {"password"}}.Encode()))
	badGrantReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	logoutReq := httptest.NewRequest("POST", "/auth/generic/logout", nil)
	logoutReq.Header.Set("Authorization", "Bearer never-issued")

	for name, req := range map[string]*http.Request{
		"revoke":             revokeReq,
		"token error":        badGrantReq,
		"logout":             logoutReq,
		"callback bad state": httptest.NewRequest("GET", "/auth/generic/callback?code=c&state=missing", nil),
		"authorize":          httptest.NewRequest("GET", "/auth/generic", nil),
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, "no-store, no-cache, must-revalidate, private", rec.Header().Get("Cache-Control"))
			assert.Equal(t, "no-cache", rec.Header().Get("Pragma"))
			assert.Equal(t, "0", rec.Header().Get("Expires"))
		})
	}
}

func TestFullAuthorizationFlow(t *testing.T) {
	handler := newTestRelay(t, nil).GetHandler()

	// Step 1: client starts authorization and is bounced upstream.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET",
		"/auth/generic?redirect_uri=https%3A%2F%2Fclient.example.com%2Fdone&state=client-state", nil))
	require.Equal(t, http.StatusFound, rec.Code)

	authLocation, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := authLocation.Query().Get("state")
	require.NotEmpty(t, state)
	assert.Equal(t, "S256", authLocation.Query().Get("code_challenge_method"))

	// Step 2: the provider redirects back with a code; the relay hands
	// it on to the client.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET",
		"/auth/generic/callback?code=upstream-code&state="+url.QueryEscape(state), nil))
	require.Equal(t, http.StatusFound, rec.Code)

	clientLocation, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "client.example.com", clientLocation.Host)
	assert.Equal(t, "upstream-code", clientLocation.Query().Get("code"))
	assert.Equal(t, "client-state", clientLocation.Query().Get("state"))

	// Step 3: the client trades the code for relay tokens.
	form := url.Values{"grant_type": {"authorization_code"}, "code": {"upstream-code"}}
	req := httptest.NewRequest("POST", "/auth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")

	var tokenResp types.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokenResp))
	assert.Equal(t, "Bearer", tokenResp.TokenType)
	assert.NotEmpty(t, tokenResp.AccessToken)
	assert.NotEmpty(t, tokenResp.RefreshToken)
	assert.NotEqual(t, "upstream_access", tokenResp.AccessToken)
	require.NotNil(t, tokenResp.User)
	assert.Equal(t, "dev@example.com", tokenResp.User.Email)

	// Step 4: replaying the code fails with a single invalid_grant.
	req = httptest.NewRequest("POST", "/auth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var oauthErr types.OAuthError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &oauthErr))
	assert.Equal(t, "invalid_grant", oauthErr.Error)

	// Step 5: refresh rotates the access token.
	form = url.Values{"grant_type": {"refresh_token"}, "refresh_token": {tokenResp.RefreshToken}}
	req = httptest.NewRequest("POST", "/auth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var refreshed types.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &refreshed))
	assert.NotEqual(t, tokenResp.AccessToken, refreshed.AccessToken)
	assert.Equal(t, tokenResp.RefreshToken, refreshed.RefreshToken)

	// Step 6: revoking the token reports success and kills the grant.
	form = url.Values{"token": {refreshed.AccessToken}}
	req = httptest.NewRequest("POST", "/auth/revoke", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTokenEndpointAcceptsJSON(t *testing.T) {
	handler := newTestRelay(t, nil).GetHandler()

	req := httptest.NewRequest("POST", "/auth/token",
		strings.NewReader(`{"grant_type":"refresh_token","refresh_token":"never-issued"}`))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var oauthErr types.OAuthError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &oauthErr))
	assert.Equal(t, "invalid_grant", oauthErr.Error)
}

func TestLogout(t *testing.T) {
	handler := newTestRelay(t, nil).GetHandler()

	// Acquire a token through the direct flow first.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/auth/generic", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	authLocation, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET",
		"/auth/generic/callback?code=upstream-code&state="+url.QueryEscape(authLocation.Query().Get("state")), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var tokenResp types.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokenResp))

	// Missing bearer token is rejected.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/auth/generic/logout", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Logout succeeds and kills the grant.
	req := httptest.NewRequest("POST", "/auth/generic/logout", nil)
	req.Header.Set("Authorization", "Bearer "+tokenResp.AccessToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	form := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {tokenResp.RefreshToken}}
	req = httptest.NewRequest("POST", "/auth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Logging out again is still a success.
	req = httptest.NewRequest("POST", "/auth/generic/logout", nil)
	req.Header.Set("Authorization", "Bearer "+tokenResp.AccessToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAllowlistDeniedFlow(t *testing.T) {
	handler := newTestRelay(t, func(c *types.Config) {
		c.AllowlistEnabled = true
		c.AllowedUsers = "someone-else@example.com"
	}).GetHandler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/auth/generic", nil))
	require.Equal(t, http.StatusFound, rec.Code)

	authLocation, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := authLocation.Query().Get("state")

	// Direct flow: the callback runs the exchange and hits the gate.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET",
		"/auth/generic/callback?code=upstream-code&state="+url.QueryEscape(state), nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	var oauthErr types.OAuthError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &oauthErr))
	assert.Equal(t, "access_denied", oauthErr.Error)
}

func TestUpstreamErrorOnCallback(t *testing.T) {
	handler := newTestRelay(t, nil).GetHandler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET",
		"/auth/generic/callback?error=access_denied&error_description=user+said+no", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var oauthErr types.OAuthError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &oauthErr))
	assert.Equal(t, "access_denied", oauthErr.Error)
}
