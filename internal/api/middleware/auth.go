package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/Rrens/insights-gateway/internal/api/response"
	"github.com/Rrens/insights-gateway/internal/domain"
	"github.com/Rrens/insights-gateway/internal/security"
	"github.com/rs/zerolog/log"
)

type contextKey string

const userKey contextKey = "user"

// AuthMiddleware verifies bearer tokens and attaches the caller's resolved
// data-access grant to the request context
type AuthMiddleware struct {
	jwtManager  *security.JWTManager
	resolver    *security.RoleResolver
	permissions *security.PermissionCache
	now         func() time.Time
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(jwtManager *security.JWTManager, resolver *security.RoleResolver, permissions *security.PermissionCache) *AuthMiddleware {
	return &AuthMiddleware{
		jwtManager:  jwtManager,
		resolver:    resolver,
		permissions: permissions,
		now:         time.Now,
	}
}

// Authenticate validates the JWT token. Resolved grants are cached per token
// until the cache TTL or the token expiry, whichever comes first.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			response.Unauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || strings.TrimSpace(parts[1]) == "" {
			response.Unauthorized(w, "invalid authorization header format")
			return
		}
		token := strings.TrimSpace(parts[1])
		key := security.TokenKey(token)

		user, err := m.permissions.GetOrLoad(r.Context(), key, func(context.Context) (*domain.UserContext, error) {
			claims, err := m.jwtManager.ValidateAccessToken(token)
			if err != nil {
				return nil, err
			}
			return m.resolver.Resolve(claims), nil
		})
		if err != nil {
			log.Debug().Err(err).Msg("rejected bearer token")
			response.Unauthorized(w, "invalid or expired token")
			return
		}

		if !user.TokenExpiresAt.IsZero() && !m.now().Before(user.TokenExpiresAt) {
			m.permissions.Invalidate(key)
			response.Unauthorized(w, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// RequirePermission rejects callers that do not hold permission
func RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := GetUser(r.Context())
			if !ok {
				response.Unauthorized(w, "unauthorized")
				return
			}
			if !user.HasPermission(permission) {
				response.Forbidden(w, "missing permission "+permission)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithUser returns a context carrying the caller
func WithUser(ctx context.Context, user *domain.UserContext) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// GetUser gets the caller from context
func GetUser(ctx context.Context) (*domain.UserContext, bool) {
	user, ok := ctx.Value(userKey).(*domain.UserContext)
	return user, ok && user != nil
}
