package api

import (
	"net/http"
	"time"

	"github.com/Rrens/insights-gateway/internal/api/handler"
	customMiddleware "github.com/Rrens/insights-gateway/internal/api/middleware"
	"github.com/Rrens/insights-gateway/internal/security"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// PermissionAdmin is the permission required for administrative endpoints
const PermissionAdmin = "admin"

// Deps are the collaborators the HTTP surface is built from. RateLimiter and
// SchemaCache are optional.
type Deps struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
	ContextTurns   int
	HistoryLimit   int

	JWT         *security.JWTManager
	Roles       *security.RoleResolver
	Permissions *security.PermissionCache
	RateLimiter customMiddleware.Limiter
	SchemaCache handler.SchemaFlusher

	Conversations handler.QuestionHandler
	History       handler.HistoryReader
	Providers     handler.ProviderLister
	ReadyChecks   []handler.Check
}

// NewRouter creates and configures the HTTP router
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)
	if deps.RequestTimeout > 0 {
		r.Use(middleware.Timeout(deps.RequestTimeout))
	}

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authMiddleware := customMiddleware.NewAuthMiddleware(deps.JWT, deps.Roles, deps.Permissions)
	insightsHandler := handler.NewInsightsHandler(deps.Conversations, deps.ContextTurns)
	sessionHandler := handler.NewSessionHandler(deps.History, deps.HistoryLimit)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(5*time.Second, deps.ReadyChecks...))

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)
			if deps.RateLimiter != nil {
				r.Use(customMiddleware.NewRateLimitMiddleware(deps.RateLimiter).Limit)
			}

			r.Post("/insights/ask", insightsHandler.Ask)
			r.Get("/sessions/{sessionID}/messages", sessionHandler.Messages)
			r.Get("/datasets", handler.ListDatasets)
			r.Get("/llm-providers", handler.ListLLMProviders(deps.Providers))

			r.With(customMiddleware.RequirePermission(PermissionAdmin)).
				Post("/admin/cache/flush", handler.FlushCache(deps.Permissions, deps.SchemaCache))
		})
	})

	return r
}
