package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/Rrens/insights-gateway/internal/api/response"
	"github.com/Rrens/insights-gateway/internal/llm"
	"github.com/rs/zerolog/log"
)

// Check is one dependency probed by the readiness endpoint
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// HealthCheck returns a simple health check response
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{
		"status": "ok",
	})
}

// ReadyCheck reports ready when every dependency answers within timeout
func ReadyCheck(timeout time.Duration, checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		status := make(map[string]string, len(checks))
		ready := true
		for _, c := range checks {
			if err := c.Ping(ctx); err != nil {
				log.Warn().Err(err).Str("dependency", c.Name).Msg("readiness check failed")
				status[c.Name] = "unavailable"
				ready = false
				continue
			}
			status[c.Name] = "ok"
		}

		if !ready {
			response.Error(w, http.StatusServiceUnavailable, map[string]any{
				"status":       "not ready",
				"dependencies": status,
			})
			return
		}
		response.OK(w, map[string]any{
			"status":       "ready",
			"dependencies": status,
		})
	}
}

// ProviderLister describes the registered LLM providers
type ProviderLister interface {
	GetProvidersInfo() []llm.ProviderInfo
	DefaultProvider() string
}

// ListLLMProviders returns available LLM providers
func ListLLMProviders(providers ProviderLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, map[string]any{
			"providers":        providers.GetProvidersInfo(),
			"default_provider": providers.DefaultProvider(),
		})
	}
}
