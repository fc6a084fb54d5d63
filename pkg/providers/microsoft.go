package providers

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/authrelay/authrelay/pkg/types"
)

// MicrosoftProvider implements the Provider interface for Microsoft
// identity platform (v2.0, common tenant).
type MicrosoftProvider struct {
	base
}

// NewMicrosoft creates a new Microsoft OAuth provider.
func NewMicrosoft(cfg types.ProviderConfig) *MicrosoftProvider {
	return &MicrosoftProvider{
		base: newBase(cfg, Endpoints{
			AuthURL:     "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
			TokenURL:    "https://login.microsoftonline.com/common/oauth2/v2.0/token",
			UserInfoURL: "https://graph.microsoft.com/v1.0/me",
		}),
	}
}

func (m *MicrosoftProvider) Type() types.ProviderType { return types.ProviderMicrosoft }

func (m *MicrosoftProvider) DefaultScopes() []string {
	// offline_access is what makes Microsoft return a refresh token.
	return []string{"openid", "profile", "email", "offline_access"}
}

func (m *MicrosoftProvider) AuthorizationURL(redirectURI, scope, state, codeChallenge string) string {
	return m.authorizationURL(redirectURI, scope, state, codeChallenge, nil)
}

func (m *MicrosoftProvider) ExchangeCode(ctx context.Context, code, codeVerifier, redirectURI string) (*oauth2.Token, error) {
	return m.exchangeCode(ctx, code, codeVerifier, redirectURI)
}

func (m *MicrosoftProvider) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return m.refreshToken(ctx, refreshToken)
}

func (m *MicrosoftProvider) FetchUserInfo(ctx context.Context, token *oauth2.Token) (*types.OAuthUserInfo, error) {
	var raw map[string]any
	if err := m.getJSON(ctx, m.endpoints.UserInfoURL, token.AccessToken, &raw); err != nil {
		return nil, err
	}

	email := stringField(raw, "mail")
	if email == "" {
		email = stringField(raw, "userPrincipalName")
	}

	return &types.OAuthUserInfo{
		Sub:          stringField(raw, "id"),
		Email:        email,
		Name:         stringField(raw, "displayName"),
		Provider:     types.ProviderMicrosoft,
		ProviderData: raw,
	}, nil
}

// RevokeToken is unsupported; the Microsoft identity platform has no
// RFC 7009 endpoint for access tokens.
func (m *MicrosoftProvider) RevokeToken(context.Context, string) error {
	return ErrRevokeUnsupported
}
