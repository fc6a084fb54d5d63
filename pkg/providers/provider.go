// Package providers implements the upstream OAuth provider adapters.
// Each adapter owns its endpoint URLs and user-info mapping; the shared
// HTTP machinery for token requests lives in the embedded base.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/authrelay/authrelay/pkg/types"
)

// ErrRevokeUnsupported is returned by providers that have no upstream
// revocation endpoint.
var ErrRevokeUnsupported = errors.New("providers: upstream revocation not supported")

// Endpoints are the upstream URLs an adapter talks to.
type Endpoints struct {
	AuthURL     string
	TokenURL    string
	UserInfoURL string
	RevokeURL   string
}

// Provider is the capability set every upstream adapter implements.
type Provider interface {
	// Type returns the provider tag.
	Type() types.ProviderType

	// Endpoints returns the upstream URLs in use.
	Endpoints() Endpoints

	// DefaultScopes returns the scopes requested when config names none.
	DefaultScopes() []string

	// AuthorizationURL builds the upstream authorization redirect.
	AuthorizationURL(redirectURI, scope, state, codeChallenge string) string

	// ExchangeCode exchanges an authorization code for upstream tokens.
	ExchangeCode(ctx context.Context, code, codeVerifier, redirectURI string) (*oauth2.Token, error)

	// RefreshToken refreshes the upstream access token.
	RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)

	// FetchUserInfo retrieves the normalized identity for a token.
	FetchUserInfo(ctx context.Context, token *oauth2.Token) (*types.OAuthUserInfo, error)

	// RevokeToken revokes an upstream token, or ErrRevokeUnsupported.
	RevokeToken(ctx context.Context, token string) error
}

// New constructs the adapter for a provider config. The switch is
// exhaustive over the closed provider set.
func New(cfg types.ProviderConfig) (Provider, error) {
	switch cfg.Type {
	case types.ProviderGoogle:
		return NewGoogle(cfg), nil
	case types.ProviderGitHub:
		return NewGitHub(cfg), nil
	case types.ProviderMicrosoft:
		return NewMicrosoft(cfg), nil
	case types.ProviderGeneric:
		return NewGeneric(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider type: %q", cfg.Type)
	}
}

// base carries the credentials, endpoints, and HTTP plumbing shared by
// every adapter. Upstream calls are bounded so a hung provider cannot
// stall the request forever.
type base struct {
	cfg       types.ProviderConfig
	endpoints Endpoints
	client    *http.Client
}

func newBase(cfg types.ProviderConfig, endpoints Endpoints) base {
	return base{
		cfg:       cfg,
		endpoints: endpoints,
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (b *base) Endpoints() Endpoints { return b.endpoints }

// authorizationURL builds the upstream redirect with the standard
// parameters plus any provider-specific extras.
func (b *base) authorizationURL(redirectURI, scope, state, codeChallenge string, extra url.Values) string {
	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", b.cfg.ClientID)
	params.Set("redirect_uri", redirectURI)
	params.Set("scope", scope)
	params.Set("state", state)
	if codeChallenge != "" {
		params.Set("code_challenge", codeChallenge)
		params.Set("code_challenge_method", "S256")
	}
	for k, vs := range extra {
		for _, v := range vs {
			params.Set(k, v)
		}
	}
	return fmt.Sprintf("%s?%s", b.endpoints.AuthURL, params.Encode())
}

func (b *base) exchangeCode(ctx context.Context, code, codeVerifier, redirectURI string) (*oauth2.Token, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("client_id", b.cfg.ClientID)
	data.Set("client_secret", b.cfg.ClientSecret)
	data.Set("redirect_uri", redirectURI)
	if codeVerifier != "" {
		data.Set("code_verifier", codeVerifier)
	}
	return b.doTokenRequest(ctx, data)
}

func (b *base) refreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", b.cfg.ClientID)
	data.Set("client_secret", b.cfg.ClientSecret)

	token, err := b.doTokenRequest(ctx, data)
	if err != nil {
		return nil, err
	}
	// Some providers do not rotate the refresh token; keep the old one.
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	return token, nil
}

// doTokenRequest posts a form to the token endpoint and decodes the
// token response. The raw payload rides along via WithExtra so callers
// can read id_token and scope.
func (b *base) doTokenRequest(ctx context.Context, data url.Values) (*oauth2.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoints.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach token endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	accessToken, _ := raw["access_token"].(string)
	if accessToken == "" {
		return nil, fmt.Errorf("missing access_token in response")
	}

	tokenType, _ := raw["token_type"].(string)
	if tokenType == "" {
		tokenType = "Bearer"
	}

	expiresIn := 3600.0
	if v, ok := raw["expires_in"].(float64); ok && v > 0 {
		expiresIn = v
	}

	refreshToken, _ := raw["refresh_token"].(string)

	token := &oauth2.Token{
		AccessToken:  accessToken,
		TokenType:    tokenType,
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(time.Duration(expiresIn) * time.Second),
	}
	return token.WithExtra(raw), nil
}

// getJSON performs an authenticated GET against an upstream API and
// decodes the payload.
func (b *base) getJSON(ctx context.Context, rawurl, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", rawurl, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request to %s failed with status %d", rawurl, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// IDToken extracts the id_token carried in a token response, if any.
func IDToken(token *oauth2.Token) string {
	if token == nil {
		return ""
	}
	s, _ := token.Extra("id_token").(string)
	return s
}

// TokenScope extracts the scope string carried in a token response.
func TokenScope(token *oauth2.Token) string {
	if token == nil {
		return ""
	}
	s, _ := token.Extra("scope").(string)
	return s
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}
