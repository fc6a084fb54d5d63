// Package flow implements the OAuth authorization flow for a single
// provider: PKCE generation and resolution, session lifecycle, the
// code-for-token exchange under both trust models, allowlist
// enforcement, and local token issuance.
package flow

import (
	"context"
	"errors"
	"log"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/authrelay/authrelay/pkg/allowlist"
	"github.com/authrelay/authrelay/pkg/encryption"
	"github.com/authrelay/authrelay/pkg/events"
	"github.com/authrelay/authrelay/pkg/providers"
	"github.com/authrelay/authrelay/pkg/store"
	"github.com/authrelay/authrelay/pkg/types"
)

// Engine drives the authorization flow for one configured provider.
// All state lives in the store; the engine itself is stateless and safe
// for concurrent use.
type Engine struct {
	provider providers.Provider
	store    store.Store
	allow    allowlist.Config
	events   events.Sink

	// redirectURI is this server's registered callback URI for the
	// provider. Upstream exchanges always use it, never a caller-supplied
	// value.
	redirectURI string
	scopes      []string
}

// NewEngine builds the flow engine for a provider. publicURL is the
// externally visible base URL of this server.
func NewEngine(p providers.Provider, st store.Store, allow allowlist.Config, sink events.Sink, publicURL, routePrefix string, scopes []string) *Engine {
	if len(scopes) == 0 {
		scopes = p.DefaultScopes()
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Engine{
		provider:    p,
		store:       st,
		allow:       allow,
		events:      sink,
		redirectURI: strings.TrimSuffix(publicURL, "/") + routePrefix + "/auth/" + string(p.Type()) + "/callback",
		scopes:      scopes,
	}
}

// ProviderType returns the tag of the engine's provider.
func (e *Engine) ProviderType() types.ProviderType { return e.provider.Type() }

// RedirectURI returns the registered callback URI.
func (e *Engine) RedirectURI() string { return e.redirectURI }

// AuthorizeRequest carries the caller-supplied parameters of an
// authorization request.
type AuthorizeRequest struct {
	// ClientRedirectURI, when set, means a downstream client will
	// complete the token exchange itself after the callback.
	ClientRedirectURI string

	// ClientState is the client's own state, echoed back verbatim.
	ClientState string

	// CodeChallenge being present signals the direct flow: the client
	// holds its own verifier.
	CodeChallenge       string
	CodeChallengeMethod string

	Scopes []string

	// ClientID is informational only.
	ClientID string
}

// StartAuthorization creates a session and returns the upstream
// authorization URL to redirect the user agent to.
func (e *Engine) StartAuthorization(ctx context.Context, req AuthorizeRequest) (string, error) {
	if req.CodeChallenge != "" && req.CodeChallengeMethod != "" && req.CodeChallengeMethod != "S256" {
		return "", &RequestError{Reason: "only the S256 code_challenge_method is supported"}
	}

	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = e.scopes
	}

	session := &types.OAuthSession{
		State:             encryption.GenerateState(),
		RedirectURI:       e.redirectURI,
		ClientRedirectURI: req.ClientRedirectURI,
		ClientState:       req.ClientState,
		Scopes:            scopes,
		Provider:          e.provider.Type(),
		ExpiresAt:         time.Now().Add(store.SessionTTL),
	}

	challenge := req.CodeChallenge
	if challenge == "" {
		// Proxy flow: this server holds the verifier; the client never
		// sees it.
		verifier := oauth2.GenerateVerifier()
		challenge = oauth2.S256ChallengeFromVerifier(verifier)
		session.CodeVerifier = verifier
	}
	session.CodeChallenge = challenge

	if err := e.store.PutSession(ctx, session, store.SessionTTL); err != nil {
		return "", err
	}

	return e.provider.AuthorizationURL(e.redirectURI, strings.Join(scopes, " "), session.State, challenge), nil
}

// CallbackResult is the outcome of HandleCallback: either a redirect
// back to the downstream client carrying the code, or a completed
// direct exchange.
type CallbackResult struct {
	RedirectURL string
	Token       *types.TokenResponse
}

// HandleCallback processes the upstream redirect carrying code and
// state. For client-redirect sessions it stores the PKCE mapping and
// hands the code to the client; otherwise it completes the exchange
// immediately.
func (e *Engine) HandleCallback(ctx context.Context, code, state string) (*CallbackResult, error) {
	if code == "" {
		return nil, &RequestError{Reason: "missing authorization code"}
	}

	session, err := e.store.GetSession(ctx, state)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &StateError{Reason: "unknown or expired state"}
	} else if err != nil {
		return nil, err
	}

	if session.ClientRedirectURI != "" {
		if session.CodeVerifier != "" {
			data := &types.PKCEData{CodeVerifier: session.CodeVerifier, State: session.State}
			if err := e.store.PutPKCE(ctx, store.PKCEKey(e.provider.Type(), code), data, store.PKCETTL); err != nil {
				return nil, err
			}
		}

		u, err := url.Parse(session.ClientRedirectURI)
		if err != nil {
			return nil, &RequestError{Reason: "invalid client redirect URI"}
		}
		q := u.Query()
		q.Set("code", code)
		if session.ClientState != "" {
			q.Set("state", session.ClientState)
		} else {
			q.Set("state", session.State)
		}
		u.RawQuery = q.Encode()

		// The session stays alive: the deferred token exchange deletes
		// it, or it expires on its own if the client never completes.
		return &CallbackResult{RedirectURL: u.String()}, nil
	}

	resp, err := e.completeExchange(ctx, code, session.CodeVerifier, session.Scopes, events.TypeLogon)
	if err != nil {
		return nil, err
	}
	if err := e.store.DeleteSession(ctx, state); err != nil {
		log.Printf("Failed to delete session after exchange: %v", err)
	}
	return &CallbackResult{Token: resp}, nil
}

// resolveCodeVerifier chooses the PKCE verifier for a token exchange.
// A server-stored verifier always wins, unconditionally ignoring any
// client-supplied one: accepting a substituted verifier for a code the
// caller did not legitimately receive would bypass PKCE entirely.
func (e *Engine) resolveCodeVerifier(ctx context.Context, code, clientVerifier string) (verifier, state string, err error) {
	data, err := e.store.GetPKCE(ctx, store.PKCEKey(e.provider.Type(), code))
	if err == nil {
		if clientVerifier != "" {
			log.Printf("Ignoring client-supplied code_verifier for %s code with a stored verifier", e.provider.Type())
		}
		return data.CodeVerifier, data.State, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", "", err
	}
	if clientVerifier != "" {
		return clientVerifier, "", nil
	}
	return "", "", &TokenExchangeError{Reason: "no verifier available for code"}
}

// HasStoredCode reports whether this provider's PKCE namespace holds
// the code. It is a read-only ownership probe for the router.
func (e *Engine) HasStoredCode(ctx context.Context, code string) bool {
	_, err := e.store.GetPKCE(ctx, store.PKCEKey(e.provider.Type(), code))
	return err == nil
}

// ExchangeCode performs the deferred token exchange for a code handed
// to a downstream client at callback time. clientRedirectURI is logged
// but never used for the upstream exchange. The returned ErrNotOwned
// means no mapping and no verifier: the caller should try elsewhere.
func (e *Engine) ExchangeCode(ctx context.Context, code, clientVerifier, clientRedirectURI string) (*types.TokenResponse, error) {
	verifier, state, err := e.resolveCodeVerifier(ctx, code, clientVerifier)
	if err != nil {
		var exchErr *TokenExchangeError
		if errors.As(err, &exchErr) {
			return nil, ErrNotOwned
		}
		return nil, err
	}

	if clientRedirectURI != "" && clientRedirectURI != e.redirectURI {
		log.Printf("Client-supplied redirect_uri %q ignored; using registered URI", clientRedirectURI)
	}

	scopes := e.scopes
	if state != "" {
		if session, err := e.store.GetSession(ctx, state); err == nil && len(session.Scopes) > 0 {
			scopes = session.Scopes
		}
	}

	resp, err := e.completeExchange(ctx, code, verifier, scopes, events.TypeTokenExchange)
	if err != nil {
		return nil, err
	}

	// Consumption comes after the token is persisted, so a crash or
	// client disconnect between exchange and persist leaves the mapping
	// intact for a legitimate retry.
	e.cleanupAfterTokenExchange(ctx, code, state)
	return resp, nil
}

func (e *Engine) cleanupAfterTokenExchange(ctx context.Context, code, state string) {
	if _, err := e.store.GetAndDeletePKCE(ctx, store.PKCEKey(e.provider.Type(), code)); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Printf("Failed to consume PKCE mapping: %v", err)
	}
	if state != "" {
		if err := e.store.DeleteSession(ctx, state); err != nil {
			log.Printf("Failed to delete session after exchange: %v", err)
		}
	}
}

// completeExchange runs the upstream exchange, fetches user info, runs
// the allowlist gate, and persists a relay token. Order matters: a
// denial must happen before anything is persisted. eventType records
// which path issued the token, direct callback or deferred exchange.
func (e *Engine) completeExchange(ctx context.Context, code, verifier string, scopes []string, eventType events.Type) (*types.TokenResponse, error) {
	upstream, err := e.provider.ExchangeCode(ctx, code, verifier, e.redirectURI)
	if err != nil {
		e.events.Emit(events.Event{
			Type:     events.TypeExchangeFailure,
			Provider: string(e.provider.Type()),
			Detail:   err.Error(),
		})
		return nil, &TokenExchangeError{Reason: "upstream rejected the authorization code", Err: err}
	}

	user, err := e.provider.FetchUserInfo(ctx, upstream)
	if err != nil {
		return nil, &ProviderError{Op: "user info fetch", Err: err}
	}

	if !e.allow.IsAllowed(user.Email) {
		reason := e.allow.Reason(user.Email)
		e.events.Emit(events.Event{
			Type:     events.TypeAccessDenied,
			Provider: string(e.provider.Type()),
			Subject:  user.Sub,
			Email:    user.Email,
			Detail:   reason,
		})
		return nil, &AllowlistDeniedError{Reason: reason}
	}

	resp, err := e.mintToken(ctx, upstream, user, scopes)
	if err != nil {
		return nil, err
	}

	e.events.Emit(events.Event{
		Type:     eventType,
		Provider: string(e.provider.Type()),
		Subject:  user.Sub,
		Email:    user.Email,
	})
	return resp, nil
}

// mintToken issues relay-owned opaque tokens backed by the upstream
// pair and persists the record.
func (e *Engine) mintToken(ctx context.Context, upstream *oauth2.Token, user *types.OAuthUserInfo, scopes []string) (*types.TokenResponse, error) {
	accessToken := encryption.GenerateRandomString(32)

	refreshToken := ""
	recordTTL := store.AccessTokenTTL + store.ExpirySkewBuffer
	if upstream.RefreshToken != "" {
		refreshToken = encryption.GenerateRandomString(32)
		recordTTL = store.RefreshTokenTTL
	}

	idToken := providers.IDToken(upstream)

	info := &types.StoredTokenInfo{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		IDToken:      idToken,
		ExpiresAt:    time.Now().Add(store.AccessTokenTTL),
		UserInfo:     user,
		Provider:     e.provider.Type(),
		Scopes:       scopes,
		Upstream: &types.UpstreamToken{
			AccessToken:  upstream.AccessToken,
			RefreshToken: upstream.RefreshToken,
			ExpiresAt:    upstream.Expiry,
		},
	}
	if err := e.store.PutToken(ctx, info, recordTTL); err != nil {
		return nil, err
	}

	return &types.TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(store.AccessTokenTTL / time.Second),
		RefreshToken: refreshToken,
		IDToken:      idToken,
		Scope:        strings.Join(scopes, " "),
		User:         user,
	}, nil
}

// RefreshToken refreshes a relay token through the upstream provider
// and rotates the local access token. ErrNotOwned means the refresh
// token does not belong to this provider.
func (e *Engine) RefreshToken(ctx context.Context, refreshToken string) (*types.TokenResponse, error) {
	info, err := e.store.FindByRefreshToken(ctx, refreshToken)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotOwned
	} else if err != nil {
		return nil, err
	}
	if info.Provider != e.provider.Type() {
		return nil, ErrNotOwned
	}
	if info.Upstream == nil || info.Upstream.RefreshToken == "" {
		return nil, &TokenExchangeError{Reason: "no upstream refresh token on record"}
	}

	upstream, err := e.provider.RefreshToken(ctx, info.Upstream.RefreshToken)
	if err != nil {
		return nil, &TokenExchangeError{Reason: "upstream refresh failed", Err: err}
	}

	newAccess := encryption.GenerateRandomString(32)
	newInfo := &types.StoredTokenInfo{
		AccessToken:  newAccess,
		RefreshToken: refreshToken,
		IDToken:      providers.IDToken(upstream),
		ExpiresAt:    time.Now().Add(store.AccessTokenTTL),
		UserInfo:     info.UserInfo,
		Provider:     info.Provider,
		Scopes:       info.Scopes,
		Upstream: &types.UpstreamToken{
			AccessToken:  upstream.AccessToken,
			RefreshToken: upstream.RefreshToken,
			ExpiresAt:    upstream.Expiry,
		},
	}
	if err := e.store.PutToken(ctx, newInfo, store.RefreshTokenTTL); err != nil {
		return nil, err
	}
	if err := e.store.DeleteToken(ctx, info.AccessToken); err != nil {
		log.Printf("Failed to delete rotated access token: %v", err)
	}

	e.events.Emit(events.Event{
		Type:     events.TypeTokenRefresh,
		Provider: string(e.provider.Type()),
		Subject:  subjectOf(info),
	})

	return &types.TokenResponse{
		AccessToken:  newAccess,
		TokenType:    "Bearer",
		ExpiresIn:    int(store.AccessTokenTTL / time.Second),
		RefreshToken: refreshToken,
		IDToken:      newInfo.IDToken,
		Scope:        strings.Join(newInfo.Scopes, " "),
		User:         newInfo.UserInfo,
	}, nil
}

// VerifyToken resolves a relay access token to its record. Expired
// tokens are absent by contract.
func (e *Engine) VerifyToken(ctx context.Context, accessToken string) (*types.StoredTokenInfo, error) {
	return e.store.GetToken(ctx, accessToken)
}

// RevokeUpstream best-effort revokes the upstream token behind a
// record. Unsupported providers are not an error.
func (e *Engine) RevokeUpstream(ctx context.Context, info *types.StoredTokenInfo) {
	if info.Upstream == nil || info.Upstream.AccessToken == "" {
		return
	}
	if err := e.provider.RevokeToken(ctx, info.Upstream.AccessToken); err != nil && !errors.Is(err, providers.ErrRevokeUnsupported) {
		log.Printf("Upstream revocation failed for %s: %v", e.provider.Type(), err)
	}
}

// Revoke removes a relay token record, revoking upstream best-effort,
// and reports the removal to the audit sink.
func (e *Engine) Revoke(ctx context.Context, info *types.StoredTokenInfo) {
	e.RevokeUpstream(ctx, info)
	if err := e.store.DeleteToken(ctx, info.AccessToken); err != nil {
		log.Printf("Failed to delete revoked token: %v", err)
	}
	e.events.Emit(events.Event{
		Type:     events.TypeTokenRevoked,
		Provider: string(e.provider.Type()),
		Subject:  subjectOf(info),
	})
}

// Logout revokes upstream best-effort and always removes the local
// token.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	info, err := e.store.GetToken(ctx, accessToken)
	if err == nil {
		e.RevokeUpstream(ctx, info)
		e.events.Emit(events.Event{
			Type:     events.TypeLogoff,
			Provider: string(e.provider.Type()),
			Subject:  subjectOf(info),
		})
	}
	return e.store.DeleteToken(ctx, accessToken)
}

func subjectOf(info *types.StoredTokenInfo) string {
	if info.UserInfo == nil {
		return ""
	}
	return info.UserInfo.Sub
}
