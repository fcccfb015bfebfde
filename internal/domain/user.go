package domain

import (
	"slices"
	"time"
)

// WildcardDataset grants access to every dataset
const WildcardDataset = "*"

// UserContext is the resolved identity and data-access grant of a caller.
// It is treated as read-only once built.
type UserContext struct {
	UserID          string              `json:"user_id"`
	Email           string              `json:"email,omitempty"`
	Roles           []string            `json:"roles"`
	Permissions     []string            `json:"permissions"`
	AllowedDatasets []string            `json:"allowed_datasets"`
	AllowedTables   map[string][]string `json:"allowed_tables,omitempty"`
	TokenExpiresAt  time.Time           `json:"token_expires_at"`
}

// HasPermission reports whether the user holds the capability
func (u *UserContext) HasPermission(permission string) bool {
	return slices.Contains(u.Permissions, permission)
}

// HasRole reports whether the user holds the role
func (u *UserContext) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

// Unrestricted reports whether the user may read every dataset
func (u *UserContext) Unrestricted() bool {
	return slices.Contains(u.AllowedDatasets, WildcardDataset)
}
