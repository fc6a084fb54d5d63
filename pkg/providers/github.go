package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/authrelay/authrelay/pkg/types"
)

// GitHubProvider implements the Provider interface for GitHub OAuth.
type GitHubProvider struct {
	base
	apiBase string
}

// NewGitHub creates a new GitHub OAuth provider.
func NewGitHub(cfg types.ProviderConfig) *GitHubProvider {
	return &GitHubProvider{
		base: newBase(cfg, Endpoints{
			AuthURL:     "https://github.com/login/oauth/authorize",
			TokenURL:    "https://github.com/login/oauth/access_token",
			UserInfoURL: "https://api.github.com/user",
		}),
		apiBase: "https://api.github.com",
	}
}

func (g *GitHubProvider) Type() types.ProviderType { return types.ProviderGitHub }

func (g *GitHubProvider) DefaultScopes() []string {
	return []string{"read:user", "user:email"}
}

func (g *GitHubProvider) AuthorizationURL(redirectURI, scope, state, codeChallenge string) string {
	return g.authorizationURL(redirectURI, scope, state, codeChallenge, nil)
}

func (g *GitHubProvider) ExchangeCode(ctx context.Context, code, codeVerifier, redirectURI string) (*oauth2.Token, error) {
	return g.exchangeCode(ctx, code, codeVerifier, redirectURI)
}

func (g *GitHubProvider) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return g.refreshToken(ctx, refreshToken)
}

func (g *GitHubProvider) FetchUserInfo(ctx context.Context, token *oauth2.Token) (*types.OAuthUserInfo, error) {
	var raw map[string]any
	if err := g.getJSON(ctx, g.endpoints.UserInfoURL, token.AccessToken, &raw); err != nil {
		return nil, err
	}

	// GitHub user IDs are numeric.
	sub := stringField(raw, "id")
	if sub == "" {
		if id, ok := raw["id"].(float64); ok {
			sub = fmt.Sprintf("%.0f", id)
		}
	}

	email := stringField(raw, "email")
	if email == "" {
		// Users with a private email need a second call.
		email = g.primaryEmail(ctx, token.AccessToken)
	}

	name := stringField(raw, "name")
	if name == "" {
		name = stringField(raw, "login")
	}

	return &types.OAuthUserInfo{
		Sub:          sub,
		Email:        email,
		Name:         name,
		Picture:      stringField(raw, "avatar_url"),
		Provider:     types.ProviderGitHub,
		ProviderData: raw,
	}, nil
}

func (g *GitHubProvider) primaryEmail(ctx context.Context, accessToken string) string {
	var emails []struct {
		Email   string `json:"email"`
		Primary bool   `json:"primary"`
	}
	if err := g.getJSON(ctx, g.apiBase+"/user/emails", accessToken, &emails); err != nil {
		return ""
	}
	for _, e := range emails {
		if e.Primary {
			return e.Email
		}
	}
	if len(emails) > 0 {
		return emails[0].Email
	}
	return ""
}

// RevokeToken deletes the token through GitHub's application grant API,
// which authenticates with the app's client credentials.
func (g *GitHubProvider) RevokeToken(ctx context.Context, token string) error {
	body, _ := json.Marshal(map[string]string{"access_token": token})
	u := fmt.Sprintf("%s/applications/%s/token", g.apiBase, g.cfg.ClientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(g.cfg.ClientID, g.cfg.ClientSecret)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach revoke endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("revocation failed with status %d", resp.StatusCode)
	}
	return nil
}
