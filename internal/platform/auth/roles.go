package auth

import (
	"net/http"
)

const (
	RoleViewer  = "viewer"
	RoleAnalyst = "analyst"
	RoleAdmin   = "admin"
)

var roleRank = map[string]int{
	RoleViewer:  1,
	RoleAnalyst: 2,
	RoleAdmin:   3,
}

// HasAtLeast reports whether any held role meets the required rank.
func HasAtLeast(roles []string, required string) bool {
	need, ok := roleRank[required]
	if !ok {
		return false
	}
	for _, role := range roles {
		if roleRank[role] >= need {
			return true
		}
	}
	return false
}

// RequiredRoleForRequest maps mutating methods to analyst and reads to
// viewer.
func RequiredRoleForRequest(r *http.Request) string {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return RoleViewer
	default:
		return RoleAnalyst
	}
}
