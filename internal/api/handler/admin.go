package handler

import (
	"context"
	"net/http"

	"github.com/Rrens/insights-gateway/internal/api/response"
	"github.com/rs/zerolog/log"
)

// PermissionClearer drops cached permission grants
type PermissionClearer interface {
	Clear() int
}

// SchemaFlusher drops cached table schemas
type SchemaFlusher interface {
	FlushAll(ctx context.Context) (int64, error)
}

// FlushCache clears the permission cache and, when configured, the schema
// cache. Permission grants are reloaded from tokens on the next request.
func FlushCache(permissions PermissionClearer, schemas SchemaFlusher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cleared := permissions.Clear()

		var deleted int64
		if schemas != nil {
			var err error
			deleted, err = schemas.FlushAll(r.Context())
			if err != nil {
				log.Error().Err(err).Int64("keys_deleted", deleted).Msg("failed to flush schema cache")
				response.InternalError(w, "failed to flush schema cache")
				return
			}
		}

		log.Info().Int("permissions_cleared", cleared).Int64("keys_deleted", deleted).Msg("caches flushed")
		response.OK(w, map[string]any{
			"message":             "cache flushed successfully",
			"permissions_cleared": cleared,
			"keys_deleted":        deleted,
		})
	}
}
