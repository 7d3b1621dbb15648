package rbac

// Role represents a named permission bucket issued by the backend.
type Role struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Menu represents a navigable console section visible to a role.
type Menu struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Path    string `json:"path"`
	Enabled bool   `json:"enabled"`
}

// Subject describes the session state consulted by access decisions.
type Subject interface {
	IsAuthenticated() bool
	ActiveRole() (Role, bool)
}

// HasRole reports whether roles contains a role with the given ID.
func HasRole(roles []Role, id int64) (Role, bool) {
	for _, role := range roles {
		if role.ID == id {
			return role, true
		}
	}
	return Role{}, false
}
