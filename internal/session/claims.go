package session

import (
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/caridad-org/console/internal/rbac"
)

// tokenClaims is the subset of JWT claims read without verifying the signature.
type tokenClaims struct {
	Login     string
	Roles     []rbac.Role
	ExpiresAt time.Time
}

// readClaims decodes token without verification. ok is false for opaque tokens.
func readClaims(token string) (tokenClaims, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return tokenClaims{}, false
	}
	var out tokenClaims
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		out.Login = sub
	}
	for _, key := range []string{"login", "username"} {
		if out.Login != "" {
			break
		}
		if v, ok := claims[key].(string); ok {
			out.Login = v
		}
	}
	if raw, ok := claims["roles"].([]any); ok {
		for _, item := range raw {
			if role, ok := claimRole(item); ok {
				out.Roles = append(out.Roles, role)
			}
		}
	}
	return out, true
}

// claimRole accepts {"id":1,"name":"ADMIN"} and the Spanish aliases. Bare
// role names carry no ID and cannot resolve menus, so they are skipped.
func claimRole(item any) (rbac.Role, bool) {
	obj, ok := item.(map[string]any)
	if !ok {
		return rbac.Role{}, false
	}
	var role rbac.Role
	for _, key := range []string{"idRol", "id"} {
		if id, ok := claimInt(obj[key]); ok {
			role.ID = id
			break
		}
	}
	for _, key := range []string{"nombre", "name"} {
		if name, ok := obj[key].(string); ok && strings.TrimSpace(name) != "" {
			role.Name = strings.TrimSpace(name)
			break
		}
	}
	if role.ID <= 0 || role.Name == "" {
		return rbac.Role{}, false
	}
	return role, true
}

func claimInt(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), n == float64(int64(n))
	case string:
		id, err := strconv.ParseInt(n, 10, 64)
		return id, err == nil
	default:
		return 0, false
	}
}
