package authorize

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/authrelay/authrelay/pkg/flow"
	"github.com/authrelay/authrelay/pkg/handlerutils"
	"github.com/authrelay/authrelay/pkg/types"
)

type Handler struct {
	manager *flow.Manager
}

func NewHandler(manager *flow.Manager) http.Handler {
	return &Handler{manager: manager}
}

func (p *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	handlerutils.NoStore(w)

	// Get parameters from query or form
	var params url.Values
	if r.Method == "GET" {
		params = r.URL.Query()
	} else {
		if err := r.ParseForm(); err != nil {
			handlerutils.OAuthError(w, http.StatusBadRequest, "invalid_request", "Failed to parse form data")
			return
		}
		params = r.Form
	}

	providerType, err := types.ParseProviderType(r.PathValue("provider"))
	if err != nil {
		handlerutils.OAuthError(w, http.StatusNotFound, "invalid_request", "Unknown provider")
		return
	}

	engine, err := p.manager.Get(providerType)
	if err != nil {
		handlerutils.OAuthError(w, http.StatusNotFound, "invalid_request", "Provider is not configured")
		return
	}

	req := flow.AuthorizeRequest{
		ClientRedirectURI:   params.Get("redirect_uri"),
		ClientState:         params.Get("state"),
		CodeChallenge:       params.Get("code_challenge"),
		CodeChallengeMethod: params.Get("code_challenge_method"),
		ClientID:            params.Get("client_id"),
	}
	if scope := params.Get("scope"); scope != "" {
		req.Scopes = strings.Fields(scope)
	}

	authURL, err := engine.StartAuthorization(r.Context(), req)
	if err != nil {
		status, code, description := flow.HTTPError(err)
		handlerutils.OAuthError(w, status, code, description)
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}
