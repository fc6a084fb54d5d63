package types

import (
	"fmt"
	"time"
)

// ProviderType identifies one of the supported upstream providers.
type ProviderType string

const (
	ProviderGoogle    ProviderType = "google"
	ProviderGitHub    ProviderType = "github"
	ProviderMicrosoft ProviderType = "microsoft"
	ProviderGeneric   ProviderType = "generic"
)

// ParseProviderType validates a provider name from config or a URL path.
func ParseProviderType(s string) (ProviderType, error) {
	switch ProviderType(s) {
	case ProviderGoogle, ProviderGitHub, ProviderMicrosoft, ProviderGeneric:
		return ProviderType(s), nil
	default:
		return "", fmt.Errorf("unsupported provider: %q", s)
	}
}

// Config holds all configuration values for the relay.
type Config struct {
	Host        string
	Port        string
	PublicURL   string
	RoutePrefix string

	// StorageDSN selects the store backend: empty for in-memory,
	// redis:// for Redis, anything else is a GORM DSN (SQLite path or
	// postgres:// URL).
	StorageDSN string

	AllowlistEnabled bool
	AllowedUsers     string

	// AllowSequentialFallback enables the degraded token-exchange path
	// that tries every provider in order when none claims a code.
	AllowSequentialFallback bool

	Providers []ProviderConfig
}

// ProviderConfig carries the upstream credentials for one configured provider.
type ProviderConfig struct {
	Type         ProviderType
	ClientID     string
	ClientSecret string
	Scopes       []string

	// Endpoint overrides, required for the generic provider and ignored
	// by the built-in ones.
	AuthorizeURL string
	TokenURL     string
	UserInfoURL  string
	RevokeURL    string
}

// OAuthUserInfo is the normalized identity returned by every provider.
// ProviderData carries the raw upstream payload unmodified for audit.
type OAuthUserInfo struct {
	Sub          string         `json:"sub"`
	Email        string         `json:"email,omitempty"`
	Name         string         `json:"name,omitempty"`
	Picture      string         `json:"picture,omitempty"`
	Provider     ProviderType   `json:"provider"`
	ProviderData map[string]any `json:"provider_data,omitempty"`
}

// OAuthSession represents one in-flight authorization attempt, keyed by
// the opaque state token.
type OAuthSession struct {
	State string `json:"state"`

	// CodeVerifier is empty when the client generated its own PKCE pair.
	CodeVerifier  string `json:"code_verifier,omitempty"`
	CodeChallenge string `json:"code_challenge,omitempty"`

	// RedirectURI is this server's registered callback URI.
	RedirectURI string `json:"redirect_uri"`

	// ClientRedirectURI is set when a downstream client will complete
	// the token exchange itself after the callback.
	ClientRedirectURI string `json:"client_redirect_uri,omitempty"`

	// ClientState is the client's own state value, preserved verbatim.
	ClientState string `json:"client_state,omitempty"`

	Scopes    []string     `json:"scopes,omitempty"`
	Provider  ProviderType `json:"provider"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// PKCEData bridges an authorization callback and the deferred token
// exchange when this server generated the PKCE pair.
type PKCEData struct {
	CodeVerifier string `json:"code_verifier"`
	State        string `json:"state"`
}

// StoredTokenInfo is a token minted by this relay. AccessToken is the
// relay's own opaque key, not the upstream token.
type StoredTokenInfo struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	IDToken      string         `json:"id_token,omitempty"`
	ExpiresAt    time.Time      `json:"expires_at"`
	UserInfo     *OAuthUserInfo `json:"user_info,omitempty"`
	Provider     ProviderType   `json:"provider"`
	Scopes       []string       `json:"scopes,omitempty"`

	// Upstream holds the provider-issued tokens backing this entry,
	// needed for upstream refresh and best-effort revocation.
	Upstream *UpstreamToken `json:"upstream,omitempty"`
}

// UpstreamToken is the provider-issued token pair behind a relay token.
type UpstreamToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// TokenResponse is the JSON body returned by the token endpoint and by
// direct-flow callbacks.
type TokenResponse struct {
	AccessToken  string         `json:"access_token"`
	TokenType    string         `json:"token_type"`
	ExpiresIn    int            `json:"expires_in"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	IDToken      string         `json:"id_token,omitempty"`
	Scope        string         `json:"scope,omitempty"`
	User         *OAuthUserInfo `json:"user,omitempty"`
}

// OAuthError is the standard OAuth 2.0 error response body (RFC 6749 §5.2).
type OAuthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// OAuthMetadata is the RFC 8414 authorization server metadata document.
type OAuthMetadata struct {
	Issuer                                 string   `json:"issuer,omitempty"`
	AuthorizationEndpoint                  string   `json:"authorization_endpoint,omitempty"`
	TokenEndpoint                          string   `json:"token_endpoint,omitempty"`
	RevocationEndpoint                     string   `json:"revocation_endpoint,omitempty"`
	ResponseTypesSupported                 []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported                    []string `json:"grant_types_supported,omitempty"`
	CodeChallengeMethodsSupported          []string `json:"code_challenge_methods_supported,omitempty"`
	TokenEndpointAuthMethodsSupported      []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	RevocationEndpointAuthMethodsSupported []string `json:"revocation_endpoint_auth_methods_supported,omitempty"`
	ScopesSupported                        []string `json:"scopes_supported,omitempty"`
}
