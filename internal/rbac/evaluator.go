package rbac

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/caridad-org/console/internal/shared"
)

// Outcome classifies an access decision.
type Outcome int

const (
	// Allowed means the navigation may proceed.
	Allowed Outcome = iota
	// DenyUnauthenticated means no live session exists.
	DenyUnauthenticated
	// DenyNoActiveRole means the identity holds several roles and none was chosen yet.
	DenyNoActiveRole
	// DenyRole means the active role is not among the required ones.
	DenyRole
)

func (o Outcome) String() string {
	switch o {
	case Allowed:
		return "allowed"
	case DenyUnauthenticated:
		return "unauthenticated"
	case DenyNoActiveRole:
		return "role_not_selected"
	case DenyRole:
		return "role_forbidden"
	default:
		return "unknown"
	}
}

// Decision is the result of evaluating a route requirement against a subject.
type Decision struct {
	Outcome    Outcome
	Redirect   string
	Required   []string
	ActiveRole string
}

// Allowed reports whether the decision permits navigation.
func (d Decision) Allowed() bool {
	return d.Outcome == Allowed
}

// CanAccess reports whether subject satisfies required. An empty requirement
// always passes, even without a session.
func CanAccess(required []string, subject Subject) bool {
	return Evaluate(required, subject).Allowed()
}

// Evaluate decides whether subject may reach a route requiring any of required.
// It keeps no state; callers evaluate again on every navigation.
func Evaluate(required []string, subject Subject) Decision {
	normalized := NormalizeRoles(required)
	if len(normalized) == 0 {
		return Decision{Outcome: Allowed}
	}
	if subject == nil || !subject.IsAuthenticated() {
		return Decision{Outcome: DenyUnauthenticated, Redirect: shared.PathWelcome, Required: normalized}
	}
	role, ok := subject.ActiveRole()
	if !ok {
		return Decision{Outcome: DenyNoActiveRole, Redirect: shared.PathSelectRole, Required: normalized}
	}
	active := NormalizeRole(role.Name)
	for _, name := range normalized {
		if name == active {
			return Decision{Outcome: Allowed, Required: normalized, ActiveRole: active}
		}
	}
	return Decision{Outcome: DenyRole, Redirect: shared.PathUnauthorized, Required: normalized, ActiveRole: active}
}

// NormalizeRole trims and upper-cases a role name so "Voluntario" and
// "VOLUNTARIO" compare equal.
func NormalizeRole(name string) string {
	return cases.Upper(language.Und).String(strings.TrimSpace(name))
}

// NormalizeRoles normalizes, drops blanks and deduplicates while keeping order.
func NormalizeRoles(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(names))
	normalized := make([]string, 0, len(names))
	for _, name := range names {
		name = NormalizeRole(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		normalized = append(normalized, name)
	}
	return normalized
}
