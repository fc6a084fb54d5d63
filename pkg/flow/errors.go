package flow

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotOwned signals that this provider did not issue the code or
// token in question. It is routing information for the multi-provider
// dispatcher and must never be written to an HTTP response directly;
// only the router, after exhausting all providers, converts it into a
// single invalid_grant.
var ErrNotOwned = errors.New("code or token not owned by this provider")

// StateError reports a missing, expired, or mismatched state value.
// These are commonly benign (multiple tabs, caching, server restart),
// so the message tells the user to restart the flow.
type StateError struct {
	Reason string
}

func (e *StateError) Error() string {
	return "invalid state parameter: " + e.Reason
}

// RequestError reports a malformed authorization or token request.
type RequestError struct {
	Reason string
}

func (e *RequestError) Error() string {
	return "invalid request: " + e.Reason
}

// TokenExchangeError reports a failed code-for-token exchange: the
// upstream rejected the code, or no verifier could be resolved.
type TokenExchangeError struct {
	Reason string
	Err    error
}

func (e *TokenExchangeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token exchange failed: %s: %v", e.Reason, e.Err)
	}
	return "token exchange failed: " + e.Reason
}

func (e *TokenExchangeError) Unwrap() error { return e.Err }

// ProviderError reports an upstream API failure outside the token
// exchange itself, such as a user-info fetch.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s failed: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// AllowlistDeniedError is an authorization decision, not a failure: the
// authenticated user is not permitted to receive tokens.
type AllowlistDeniedError struct {
	Reason string
}

func (e *AllowlistDeniedError) Error() string {
	return "access denied: " + e.Reason
}

// HTTPError maps a flow error onto an HTTP status and an RFC 6749 error
// body. Upstream detail stays in the logs; the caller sees only the
// standard code and a human-readable description.
func HTTPError(err error) (status int, code, description string) {
	var stateErr *StateError
	var reqErr *RequestError
	var exchErr *TokenExchangeError
	var provErr *ProviderError
	var denyErr *AllowlistDeniedError

	switch {
	case errors.As(err, &stateErr):
		return http.StatusBadRequest, "invalid_request",
			stateErr.Reason + " - this can be caused by caching, multiple tabs, or a server restart; please restart the authorization flow"
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, "invalid_request", reqErr.Reason
	case errors.As(err, &denyErr):
		return http.StatusForbidden, "access_denied", denyErr.Reason
	case errors.As(err, &exchErr):
		return http.StatusBadRequest, "invalid_grant", "authorization code is invalid, expired, or already used"
	case errors.As(err, &provErr):
		return http.StatusInternalServerError, "server_error", "upstream provider request failed"
	case errors.Is(err, ErrNotOwned):
		// Routing sentinel; surfaces only if a caller misuses it.
		return http.StatusBadRequest, "invalid_grant", "authorization code is invalid, expired, or already used"
	default:
		return http.StatusInternalServerError, "server_error", "internal error"
	}
}
