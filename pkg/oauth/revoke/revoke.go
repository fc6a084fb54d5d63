package revoke

import (
	"net/http"

	"github.com/authrelay/authrelay/pkg/handlerutils"
	"github.com/authrelay/authrelay/pkg/router"
)

type Handler struct {
	router *router.Router
}

func NewHandler(rt *router.Router) http.Handler {
	return &Handler{router: rt}
}

func (p *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	handlerutils.NoStore(w)

	// Parse form data
	if err := r.ParseForm(); err != nil {
		handlerutils.OAuthError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	token := r.FormValue("token")
	tokenTypeHint := r.FormValue("token_type_hint") // RFC 7009: token_type_hint parameter
	if token == "" {
		handlerutils.OAuthError(w, http.StatusBadRequest, "invalid_request", "Token parameter is required")
		return
	}

	// RFC 7009: respond 200 whether or not the token existed.
	p.router.Revoke(r.Context(), token, tokenTypeHint)

	handlerutils.JSON(w, http.StatusOK, map[string]any{
		"success": true,
	})
}
