package security

import (
	"slices"
	"sort"
	"strings"

	"github.com/Rrens/insights-gateway/internal/config"
	"github.com/Rrens/insights-gateway/internal/domain"
)

// RoleResolver turns token roles into data-access grants
type RoleResolver struct {
	roles map[string]config.RoleGrant
}

// NewRoleResolver creates a resolver over the configured role grants. Role
// names are matched case-insensitively.
func NewRoleResolver(roles map[string]config.RoleGrant) *RoleResolver {
	normalized := make(map[string]config.RoleGrant, len(roles))
	for name, grant := range roles {
		normalized[strings.ToLower(name)] = grant
	}
	return &RoleResolver{roles: normalized}
}

// Resolve builds the UserContext of verified claims. Grants are unioned
// across roles: a wildcard dataset wins over everything, and a dataset
// granted without a table list wins over table lists from other roles.
// Unknown roles grant nothing.
func (r *RoleResolver) Resolve(claims *Claims) *domain.UserContext {
	uc := &domain.UserContext{
		UserID:      claims.UserID(),
		Email:       claims.Email,
		Roles:       slices.Clone(claims.Roles),
		Permissions: slices.Clone(claims.Permissions),
	}
	if claims.ExpiresAt != nil {
		uc.TokenExpiresAt = claims.ExpiresAt.Time
	}

	wildcard := false
	datasets := make(map[string]string)
	unrestricted := make(map[string]bool)
	tables := make(map[string]map[string]string)

	for _, role := range claims.Roles {
		grant, ok := r.roles[strings.ToLower(role)]
		if !ok {
			continue
		}

		for _, p := range grant.Permissions {
			if !slices.Contains(uc.Permissions, p) {
				uc.Permissions = append(uc.Permissions, p)
			}
		}

		restricted := make(map[string][]string, len(grant.Tables))
		for ds, list := range grant.Tables {
			restricted[strings.ToLower(ds)] = list
		}

		for _, ds := range grant.Datasets {
			if ds == domain.WildcardDataset {
				wildcard = true
				continue
			}
			key := strings.ToLower(ds)
			if _, seen := datasets[key]; !seen {
				datasets[key] = ds
			}

			list, limited := restricted[key]
			if !limited {
				unrestricted[key] = true
				continue
			}
			if tables[key] == nil {
				tables[key] = make(map[string]string)
			}
			for _, t := range list {
				if _, seen := tables[key][strings.ToLower(t)]; !seen {
					tables[key][strings.ToLower(t)] = t
				}
			}
		}
	}

	if wildcard {
		uc.AllowedDatasets = []string{domain.WildcardDataset}
		return uc
	}

	uc.AllowedDatasets = make([]string, 0, len(datasets))
	for key, ds := range datasets {
		uc.AllowedDatasets = append(uc.AllowedDatasets, ds)
		if unrestricted[key] || len(tables[key]) == 0 {
			continue
		}
		if uc.AllowedTables == nil {
			uc.AllowedTables = make(map[string][]string)
		}
		list := make([]string, 0, len(tables[key]))
		for _, t := range tables[key] {
			list = append(list, t)
		}
		sort.Strings(list)
		uc.AllowedTables[ds] = list
	}
	sort.Strings(uc.AllowedDatasets)
	return uc
}
