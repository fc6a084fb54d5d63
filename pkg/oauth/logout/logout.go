package logout

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

	token := handlerutils.BearerToken(r)
	if token == "" {
		handlerutils.OAuthError(w, http.StatusUnauthorized, "invalid_request", "Bearer token is required")
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

	// Logout is idempotent: an unknown or already-removed token still
	// reports success.
	if err := engine.Logout(r.Context(), token); err != nil {
		log.Printf("Failed to remove token on logout: %v", err)
	}

	handlerutils.JSON(w, http.StatusOK, map[string]any{
		"success": true,
	})
}
