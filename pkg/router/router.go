// Package router dispatches token-endpoint operations across the
// configured providers. Authorization codes carry no provider tag, so
// the router resolves ownership through the PKCE namespace; refresh
// tokens resolve through the store's reverse index.
package router

import (
	"context"
	"errors"
	"log"

	"github.com/authrelay/authrelay/pkg/flow"
	"github.com/authrelay/authrelay/pkg/store"
	"github.com/authrelay/authrelay/pkg/types"
)

// ErrNoOwner means no configured provider claimed the presented code or
// token. Handlers report it as a single invalid_grant without revealing
// which providers were tried.
var ErrNoOwner = errors.New("no provider owns the presented grant")

// Router fans token operations out to the per-provider engines.
type Router struct {
	manager *flow.Manager
	store   store.TokenStore

	// allowSequentialFallback permits trying every provider in turn for
	// a code with no stored PKCE mapping, provided the client brought
	// its own verifier. Off by default: it spends one upstream attempt
	// per provider on garbage input.
	allowSequentialFallback bool
}

func New(manager *flow.Manager, st store.TokenStore, allowSequentialFallback bool) *Router {
	return &Router{
		manager:                 manager,
		store:                   st,
		allowSequentialFallback: allowSequentialFallback,
	}
}

// ExchangeAuthorizationCode routes a deferred code exchange to the
// owning provider. Ownership is decided by the PKCE namespace probe;
// exactly one engine runs the exchange, so a failed attempt never
// cascades into retries against unrelated providers.
func (r *Router) ExchangeAuthorizationCode(ctx context.Context, code, clientVerifier, clientRedirectURI string) (*types.TokenResponse, error) {
	engines := r.manager.Ordered()

	for _, e := range engines {
		if !e.HasStoredCode(ctx, code) {
			continue
		}
		return e.ExchangeCode(ctx, code, clientVerifier, clientRedirectURI)
	}

	// No stored mapping anywhere. Without a client verifier no engine
	// could complete the exchange, so don't bother upstream.
	if clientVerifier == "" || !r.allowSequentialFallback {
		return nil, ErrNoOwner
	}

	for _, e := range engines {
		resp, err := e.ExchangeCode(ctx, code, clientVerifier, clientRedirectURI)
		if errors.Is(err, flow.ErrNotOwned) {
			continue
		}
		if err != nil {
			log.Printf("Fallback exchange via %s failed: %v", e.ProviderType(), err)
			continue
		}
		return resp, nil
	}
	return nil, ErrNoOwner
}

// RefreshToken routes a refresh through the store's reverse index. A
// lookup miss is a dead grant; only an index failure degrades to
// sequential dispatch.
func (r *Router) RefreshToken(ctx context.Context, refreshToken string) (*types.TokenResponse, error) {
	info, err := r.store.FindByRefreshToken(ctx, refreshToken)
	if err == nil {
		e, err := r.manager.Get(info.Provider)
		if err != nil {
			return nil, ErrNoOwner
		}
		return e.RefreshToken(ctx, refreshToken)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoOwner
	}

	log.Printf("Refresh token index lookup failed, trying providers sequentially: %v", err)
	for _, e := range r.manager.Ordered() {
		resp, rerr := e.RefreshToken(ctx, refreshToken)
		if errors.Is(rerr, flow.ErrNotOwned) {
			continue
		}
		if rerr != nil {
			return nil, rerr
		}
		return resp, nil
	}
	return nil, ErrNoOwner
}

// Revoke drops a relay token, revoking upstream best-effort when the
// record identifies its provider. It never fails: revocation of an
// unknown token is indistinguishable from success per RFC 7009.
func (r *Router) Revoke(ctx context.Context, token, tokenTypeHint string) {
	info, err := r.lookup(ctx, token, tokenTypeHint)
	if err != nil {
		return
	}

	if e, err := r.manager.Get(info.Provider); err == nil {
		e.Revoke(ctx, info)
		return
	}

	// The record survived a configuration change; drop it locally.
	if err := r.store.DeleteToken(ctx, info.AccessToken); err != nil {
		log.Printf("Failed to delete revoked token: %v", err)
	}
}

// lookup resolves a token to its record, trying the hinted index first.
func (r *Router) lookup(ctx context.Context, token, hint string) (*types.StoredTokenInfo, error) {
	if hint == "refresh_token" {
		if info, err := r.store.FindByRefreshToken(ctx, token); err == nil {
			return info, nil
		}
		return r.store.GetToken(ctx, token)
	}
	if info, err := r.store.GetToken(ctx, token); err == nil {
		return info, nil
	}
	return r.store.FindByRefreshToken(ctx, token)
}
