package callback

import (
	"log"
	"net/http"

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

	query := r.URL.Query()

	// The provider reports user denial and its own failures here.
	if errParam := query.Get("error"); errParam != "" {
		log.Printf("Authorization failed upstream: %s (%s)", errParam, query.Get("error_description"))
		handlerutils.OAuthError(w, http.StatusBadRequest, errParam, query.Get("error_description"))
		return
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

	result, err := engine.HandleCallback(r.Context(), query.Get("code"), query.Get("state"))
	if err != nil {
		status, code, description := flow.HTTPError(err)
		handlerutils.OAuthError(w, status, code, description)
		return
	}

	if result.RedirectURL != "" {
		http.Redirect(w, r, result.RedirectURL, http.StatusFound)
		return
	}
	handlerutils.JSON(w, http.StatusOK, result.Token)
}
