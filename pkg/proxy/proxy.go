package proxy

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"

	"github.com/authrelay/authrelay/pkg/allowlist"
	"github.com/authrelay/authrelay/pkg/events"
	"github.com/authrelay/authrelay/pkg/flow"
	"github.com/authrelay/authrelay/pkg/handlerutils"
	"github.com/authrelay/authrelay/pkg/oauth/authorize"
	"github.com/authrelay/authrelay/pkg/oauth/callback"
	"github.com/authrelay/authrelay/pkg/oauth/logout"
	"github.com/authrelay/authrelay/pkg/oauth/revoke"
	"github.com/authrelay/authrelay/pkg/oauth/token"
	"github.com/authrelay/authrelay/pkg/providers"
	"github.com/authrelay/authrelay/pkg/ratelimit"
	"github.com/authrelay/authrelay/pkg/router"
	"github.com/authrelay/authrelay/pkg/store"
	"github.com/authrelay/authrelay/pkg/store/dbstore"
	"github.com/authrelay/authrelay/pkg/store/memory"
	"github.com/authrelay/authrelay/pkg/store/redisstore"
	"github.com/authrelay/authrelay/pkg/types"
)

// OAuthRelay ties the configured providers, the flow engines, the
// router, and the store together behind one HTTP surface.
type OAuthRelay struct {
	metadata    *types.OAuthMetadata
	store       store.Store
	rateLimiter *ratelimit.Limiter
	manager     *flow.Manager
	router      *router.Router
	config      *types.Config

	ctx    context.Context
	cancel context.CancelFunc
}

func NewOAuthRelay(config *types.Config) (*OAuthRelay, error) {
	if config.Port == "" {
		config.Port = "8080"
	}
	if config.PublicURL == "" {
		config.PublicURL = fmt.Sprintf("http://localhost:%s", config.Port)
	}
	if len(config.Providers) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}

	st, err := openStore(config.StorageDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	allow := allowlist.Load(config.AllowlistEnabled, config.AllowedUsers)
	if allow.Enabled {
		log.Printf("Allowlist enabled with %d entries", len(allow.AllowedUsers))
	}

	// Initialize rate limiter
	rateLimiter := ratelimit.New(
		time.Duration(15)*time.Minute,
		5000,
	)

	manager := flow.NewManager()
	var scopesSupported []string
	for _, pc := range config.Providers {
		provider, err := providers.New(pc)
		if err != nil {
			return nil, fmt.Errorf("failed to configure %s provider: %w", pc.Type, err)
		}
		engine := flow.NewEngine(provider, st, allow, events.LogSink{}, config.PublicURL, config.RoutePrefix, pc.Scopes)
		if err := manager.Register(engine); err != nil {
			return nil, err
		}
		scopes := pc.Scopes
		if len(scopes) == 0 {
			scopes = provider.DefaultScopes()
		}
		for _, s := range scopes {
			if !slices.Contains(scopesSupported, s) {
				scopesSupported = append(scopesSupported, s)
			}
		}
		log.Printf("Registered %s provider", pc.Type)
	}

	metadata := &types.OAuthMetadata{
		ResponseTypesSupported:                 []string{"code"},
		CodeChallengeMethodsSupported:          []string{"S256"},
		TokenEndpointAuthMethodsSupported:      []string{"client_secret_post", "none"},
		GrantTypesSupported:                    []string{"authorization_code", "refresh_token"},
		ScopesSupported:                        scopesSupported,
		RevocationEndpointAuthMethodsSupported: []string{"client_secret_post", "none"},
	}

	return &OAuthRelay{
		metadata:    metadata,
		store:       st,
		rateLimiter: rateLimiter,
		manager:     manager,
		router:      router.New(manager, st, config.AllowSequentialFallback),
		config:      config,
	}, nil
}

// openStore selects the backend by DSN shape: empty means in-memory,
// redis:// means Redis, anything else is handed to GORM.
func openStore(dsn string) (store.Store, error) {
	switch {
	case dsn == "":
		log.Println("STORAGE_DSN not set, using in-memory storage")
		return memory.New(), nil
	case strings.HasPrefix(dsn, "redis://") || strings.HasPrefix(dsn, "rediss://"):
		log.Println("Using Redis storage")
		return redisstore.New(dsn)
	default:
		st, err := dbstore.New(dsn)
		if err != nil {
			return nil, err
		}
		log.Printf("Using %s storage", st.Type())
		return st, nil
	}
}

func (p *OAuthRelay) Close() error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.store != nil {
		return p.store.Close()
	}
	return nil
}

func (p *OAuthRelay) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	// Periodic sweep of expired sessions, mappings, and tokens. Backends
	// with native TTLs make this a no-op.
	go func() {
		ticker := time.NewTicker(store.CleanupInterval)
		defer ticker.Stop()
		context.AfterFunc(p.ctx, ticker.Stop)
		for range ticker.C {
			if err := p.store.Cleanup(p.ctx); err != nil {
				log.Printf("Failed to cleanup expired records: %v", err)
			}
			p.rateLimiter.Prune()
		}
	}()

	return nil
}

func (p *OAuthRelay) SetupRoutes(mux *http.ServeMux) {
	authorizeHandler := authorize.NewHandler(p.manager)
	callbackHandler := callback.NewHandler(p.manager)
	tokenHandler := token.NewHandler(p.router)
	revokeHandler := revoke.NewHandler(p.router)
	logoutHandler := logout.NewHandler(p.manager)

	prefix := p.config.RoutePrefix

	mux.HandleFunc("GET "+prefix+"/health", p.withCORS(p.healthHandler))

	// OAuth endpoints
	mux.HandleFunc("GET "+prefix+"/auth/{provider}", p.withCORS(p.withRateLimit(authorizeHandler)))
	mux.HandleFunc("GET "+prefix+"/auth/{provider}/callback", p.withCORS(p.withRateLimit(callbackHandler)))
	mux.HandleFunc("POST "+prefix+"/auth/token", p.withCORS(p.withRateLimit(tokenHandler)))
	mux.HandleFunc("POST "+prefix+"/auth/revoke", p.withCORS(p.withRateLimit(revokeHandler)))
	mux.HandleFunc("POST "+prefix+"/auth/{provider}/logout", p.withCORS(p.withRateLimit(logoutHandler)))

	// Metadata endpoint
	mux.HandleFunc("GET /.well-known/oauth-authorization-server", p.withCORS(p.oauthMetadataHandler))
}

// GetHandler returns the fully wired http.Handler for the relay.
func (p *OAuthRelay) GetHandler() http.Handler {
	mux := http.NewServeMux()
	p.SetupRoutes(mux)

	// Wrap with logging middleware
	return handlers.LoggingHandler(os.Stdout, mux)
}

// withCORS wraps a handler with CORS headers
func (p *OAuthRelay) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", strconv.Itoa(int((12 * time.Hour).Seconds())))

		// Handle preflight OPTIONS request
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// withRateLimit wraps a handler with rate limiting
func (p *OAuthRelay) withRateLimit(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p.rateLimiter != nil {
			clientIP := handlerutils.GetClientIP(r)
			if !p.rateLimiter.Allow(clientIP) {
				handlerutils.JSON(w, http.StatusTooManyRequests, types.OAuthError{
					Error:            "too_many_requests",
					ErrorDescription: "Rate limit exceeded",
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	}
}

func (p *OAuthRelay) healthHandler(w http.ResponseWriter, r *http.Request) {
	handlerutils.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (p *OAuthRelay) oauthMetadataHandler(w http.ResponseWriter, r *http.Request) {
	baseURL := handlerutils.GetBaseURL(r)
	prefix := p.config.RoutePrefix

	metadata := &types.OAuthMetadata{
		Issuer:                                 baseURL,
		AuthorizationEndpoint:                  fmt.Sprintf("%s%s/auth/{provider}", baseURL, prefix),
		TokenEndpoint:                          fmt.Sprintf("%s%s/auth/token", baseURL, prefix),
		RevocationEndpoint:                     fmt.Sprintf("%s%s/auth/revoke", baseURL, prefix),
		ResponseTypesSupported:                 p.metadata.ResponseTypesSupported,
		CodeChallengeMethodsSupported:          p.metadata.CodeChallengeMethodsSupported,
		TokenEndpointAuthMethodsSupported:      p.metadata.TokenEndpointAuthMethodsSupported,
		GrantTypesSupported:                    p.metadata.GrantTypesSupported,
		ScopesSupported:                        p.metadata.ScopesSupported,
		RevocationEndpointAuthMethodsSupported: p.metadata.RevocationEndpointAuthMethodsSupported,
	}

	handlerutils.JSON(w, http.StatusOK, metadata)
}
