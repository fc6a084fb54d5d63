package token

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/authrelay/authrelay/pkg/flow"
	"github.com/authrelay/authrelay/pkg/handlerutils"
	"github.com/authrelay/authrelay/pkg/router"
)

type Handler struct {
	router *router.Router
}

func NewHandler(rt *router.Router) http.Handler {
	return &Handler{router: rt}
}

// tokenRequest is the union of the authorization_code and refresh_token
// grant parameters, accepted as form data or JSON.
type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier"`
	RedirectURI  string `json:"redirect_uri"`
	RefreshToken string `json:"refresh_token"`
}

func parseTokenRequest(r *http.Request) (*tokenRequest, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req tokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, err
		}
		return &req, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	return &tokenRequest{
		GrantType:    r.FormValue("grant_type"),
		Code:         r.FormValue("code"),
		CodeVerifier: r.FormValue("code_verifier"),
		RedirectURI:  r.FormValue("redirect_uri"),
		RefreshToken: r.FormValue("refresh_token"),
	}, nil
}

func (p *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	handlerutils.NoStore(w)

	req, err := parseTokenRequest(r)
	if err != nil {
		handlerutils.OAuthError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	switch req.GrantType {
	case "authorization_code":
		p.handleAuthorizationCode(w, r, req)
	case "refresh_token":
		p.handleRefreshToken(w, r, req)
	default:
		handlerutils.OAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "Supported grant types are authorization_code and refresh_token")
	}
}

func (p *Handler) handleAuthorizationCode(w http.ResponseWriter, r *http.Request, req *tokenRequest) {
	if req.Code == "" {
		handlerutils.OAuthError(w, http.StatusBadRequest, "invalid_request", "Authorization code is required")
		return
	}

	resp, err := p.router.ExchangeAuthorizationCode(r.Context(), req.Code, req.CodeVerifier, req.RedirectURI)
	if err != nil {
		writeError(w, err)
		return
	}
	handlerutils.JSON(w, http.StatusOK, resp)
}

func (p *Handler) handleRefreshToken(w http.ResponseWriter, r *http.Request, req *tokenRequest) {
	if req.RefreshToken == "" {
		handlerutils.OAuthError(w, http.StatusBadRequest, "invalid_request", "Refresh token is required")
		return
	}

	resp, err := p.router.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, err)
		return
	}
	handlerutils.JSON(w, http.StatusOK, resp)
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, router.ErrNoOwner) {
		handlerutils.OAuthError(w, http.StatusBadRequest, "invalid_grant", "The provided grant is invalid or expired")
		return
	}
	status, code, description := flow.HTTPError(err)
	handlerutils.OAuthError(w, status, code, description)
}
