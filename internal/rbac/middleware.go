package rbac

import (
	"log/slog"
	"net/http"

	"github.com/caridad-org/console/internal/platform/httpx"
	"github.com/caridad-org/console/internal/shared"
)

// SubjectSource yields the session state current at the time of the call.
type SubjectSource interface {
	CurrentSubject() Subject
}

// Middleware wires role guards for console routes.
type Middleware struct {
	Source SubjectSource
	Routes *RouteTable
	Logger *slog.Logger
}

// RequireAny ensures the active role is one of roles. No roles means public.
func (m Middleware) RequireAny(roles ...string) func(http.Handler) http.Handler {
	required := NormalizeRoles(roles)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.serve(w, r, next, required)
		})
	}
}

// RequireRoute guards a handler with the roles the route table declares for pattern.
// The table is consulted on each request so a reloaded table takes effect.
func (m Middleware) RequireRoute(pattern string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.serve(w, r, next, m.Routes.RequiredFor(pattern))
		})
	}
}

// RequireSession ensures an authenticated session with an active role exists,
// without restricting which role.
func (m Middleware) RequireSession() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := m.subject()
			decision := Decision{Outcome: Allowed}
			switch {
			case subject == nil || !subject.IsAuthenticated():
				decision = Decision{Outcome: DenyUnauthenticated, Redirect: shared.PathWelcome}
			default:
				if _, ok := subject.ActiveRole(); !ok {
					decision = Decision{Outcome: DenyNoActiveRole, Redirect: shared.PathSelectRole}
				}
			}
			if decision.Allowed() {
				next.ServeHTTP(w, r)
				return
			}
			m.deny(w, r, decision)
		})
	}
}

func (m Middleware) serve(w http.ResponseWriter, r *http.Request, next http.Handler, required []string) {
	decision := Evaluate(required, m.subject())
	if decision.Allowed() {
		next.ServeHTTP(w, r)
		return
	}
	m.deny(w, r, decision)
}

func (m Middleware) subject() Subject {
	if m.Source == nil {
		return nil
	}
	return m.Source.CurrentSubject()
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, decision Decision) {
	if m.Logger != nil {
		m.Logger.Info("rbac deny",
			slog.String("path", r.URL.Path),
			slog.String("reason", decision.Outcome.String()),
			slog.String("active_role", decision.ActiveRole),
			slog.Any("required", decision.Required),
		)
	}
	if httpx.WantsHTML(r) {
		http.Redirect(w, r, decision.Redirect, http.StatusSeeOther)
		return
	}
	status := http.StatusForbidden
	title := "Forbidden"
	if decision.Outcome == DenyUnauthenticated {
		status = http.StatusUnauthorized
		title = "Unauthorized"
	}
	httpx.WriteProblem(w, httpx.ProblemDetail{
		Title:    title,
		Status:   status,
		Reason:   decision.Outcome.String(),
		Redirect: decision.Redirect,
	})
}
