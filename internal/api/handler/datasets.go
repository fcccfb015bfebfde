package handler

import (
	"net/http"
	"slices"

	"github.com/Rrens/insights-gateway/internal/api/middleware"
	"github.com/Rrens/insights-gateway/internal/api/response"
)

// ListDatasets returns the caller's data-access grant
func ListDatasets(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	datasets := slices.Clone(user.AllowedDatasets)
	slices.Sort(datasets)
	if datasets == nil {
		datasets = []string{}
	}

	response.OK(w, map[string]any{
		"user_id":        user.UserID,
		"datasets":       datasets,
		"allowed_tables": user.AllowedTables,
		"unrestricted":   user.Unrestricted(),
	})
}
