package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/authrelay/authrelay/pkg/types"
)

// GoogleProvider implements the Provider interface for Google OAuth.
type GoogleProvider struct {
	base
}

// NewGoogle creates a new Google OAuth provider.
func NewGoogle(cfg types.ProviderConfig) *GoogleProvider {
	return &GoogleProvider{
		base: newBase(cfg, Endpoints{
			AuthURL:     "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:    "https://oauth2.googleapis.com/token",
			UserInfoURL: "https://www.googleapis.com/oauth2/v2/userinfo",
			RevokeURL:   "https://oauth2.googleapis.com/revoke",
		}),
	}
}

func (g *GoogleProvider) Type() types.ProviderType { return types.ProviderGoogle }

func (g *GoogleProvider) DefaultScopes() []string {
	return []string{"openid", "email", "profile"}
}

// AuthorizationURL requests offline access so Google issues a refresh
// token, and forces the consent prompt so it does so on re-auth too.
func (g *GoogleProvider) AuthorizationURL(redirectURI, scope, state, codeChallenge string) string {
	return g.authorizationURL(redirectURI, scope, state, codeChallenge, url.Values{
		"access_type": {"offline"},
		"prompt":      {"consent"},
	})
}

func (g *GoogleProvider) ExchangeCode(ctx context.Context, code, codeVerifier, redirectURI string) (*oauth2.Token, error) {
	return g.exchangeCode(ctx, code, codeVerifier, redirectURI)
}

func (g *GoogleProvider) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return g.refreshToken(ctx, refreshToken)
}

func (g *GoogleProvider) FetchUserInfo(ctx context.Context, token *oauth2.Token) (*types.OAuthUserInfo, error) {
	var raw map[string]any
	if err := g.getJSON(ctx, g.endpoints.UserInfoURL, token.AccessToken, &raw); err != nil {
		return nil, err
	}

	sub := stringField(raw, "id")
	if sub == "" {
		sub = stringField(raw, "sub")
	}

	return &types.OAuthUserInfo{
		Sub:          sub,
		Email:        stringField(raw, "email"),
		Name:         stringField(raw, "name"),
		Picture:      stringField(raw, "picture"),
		Provider:     types.ProviderGoogle,
		ProviderData: raw,
	}, nil
}

func (g *GoogleProvider) RevokeToken(ctx context.Context, token string) error {
	data := url.Values{}
	data.Set("token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoints.RevokeURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach revoke endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revocation failed with status %d", resp.StatusCode)
	}
	return nil
}
