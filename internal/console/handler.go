// Package console exposes the session model to the browser front-end.
package console

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/caridad-org/console/internal/platform/httpx"
	"github.com/caridad-org/console/internal/rbac"
	"github.com/caridad-org/console/internal/session"
	"github.com/caridad-org/console/internal/shared"
	"github.com/caridad-org/console/internal/transport"
)

// Sessions is the session manager surface used by the handlers.
type Sessions interface {
	Login(ctx context.Context, username, password string) (session.Result, error)
	Logout(ctx context.Context) error
	SelectRole(ctx context.Context, roleID int64) (session.Snapshot, error)
	Snapshot() session.Snapshot
	Subscribe(fn func(session.Event)) func()
}

// RoleAdmin is the backend surface behind the role administration screens.
type RoleAdmin interface {
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	MenusByRole(ctx context.Context, roleID int64) ([]rbac.Menu, error)
	AssignMenus(ctx context.Context, roleID int64, menuIDs []int64) error
}

// Handler wires HTTP endpoints for the console session.
type Handler struct {
	logger    *slog.Logger
	sessions  Sessions
	admin     RoleAdmin
	routes    *rbac.RouteTable
	location  *transport.Location
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, sessions Sessions, admin RoleAdmin, routes *rbac.RouteTable, location *transport.Location, guard rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		sessions:  sessions,
		admin:     admin,
		routes:    routes,
		location:  location,
		rbac:      guard,
		validator: validator.New(),
	}
}

// MountRoutes registers console routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get(shared.PathWelcome, h.welcome)
	r.Get(shared.PathUnauthorized, h.unauthorized)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.handleLogin)
		r.Post("/logout", h.handleLogout)
	})

	r.Route("/session", func(r chi.Router) {
		r.Get("/", h.showSession)
		r.Get("/role", h.listSelectableRoles)
		r.Post("/role", h.selectRole)
		r.Get("/events", h.streamEvents)
	})

	r.Get("/access", h.checkAccess)

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireSession())
		r.Get("/menus", h.listMenus)
	})

	r.Route("/admin/roles", func(r chi.Router) {
		r.With(h.rbac.RequireRoute("/admin/roles")).Get("/", h.listRoles)
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireRoute("/admin/roles/{roleID}/menus"))
			r.Get("/{roleID}/menus", h.showRoleMenus)
			r.Put("/{roleID}/menus", h.assignRoleMenus)
		})
	})
}

type loginForm struct {
	Username string `json:"username" validate:"required,max=128"`
	Password string `json:"password" validate:"required,max=256"`
}

type sessionView struct {
	Authenticated      bool           `json:"authenticated"`
	Login              string         `json:"login,omitempty"`
	Roles              []rbac.Role    `json:"roles,omitempty"`
	Role               *rbac.Role     `json:"role,omitempty"`
	Menus              []rbac.Menu    `json:"menus"`
	NeedsRoleSelection bool           `json:"needsRoleSelection"`
	Routes             []string       `json:"routes"`
	Location           string         `json:"location,omitempty"`
	Notice             *shared.Notice `json:"notice,omitempty"`
	Message            string         `json:"message,omitempty"`
}

func (h *Handler) view(snap session.Snapshot) sessionView {
	out := sessionView{
		Authenticated:      snap.IsAuthenticated(),
		Role:               snap.Role,
		Menus:              snap.Menus,
		NeedsRoleSelection: snap.NeedsRoleSelection(),
		Routes:             h.routes.Accessible(snap),
	}
	if out.Menus == nil {
		out.Menus = []rbac.Menu{}
	}
	if out.Routes == nil {
		out.Routes = []string{}
	}
	if snap.Identity != nil {
		out.Login = snap.Identity.Login
		out.Roles = snap.Identity.Roles
	}
	if h.location != nil {
		out.Location = h.location.Current()
	}
	return out
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	form, err := h.decodeLogin(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	errs := make(map[string]string)
	if err := h.validator.Struct(form); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fieldErr := range fieldErrs {
				errs[strings.ToLower(fieldErr.Field())] = fieldErr.Tag()
			}
		}
	}
	if len(errs) > 0 {
		httpx.JSON(w, http.StatusBadRequest, map[string]any{"errors": errs})
		return
	}

	result, err := h.sessions.Login(r.Context(), form.Username, form.Password)
	if err != nil {
		h.logger.Info("console login rejected", slog.String("login", form.Username), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := h.view(result.Snapshot)
	out.Message = result.Message
	notice := shared.NoticeWelcome
	if result.NeedsRoleSelection {
		notice = shared.NoticeChooseRole
		h.navigate(shared.PathSelectRole)
	} else {
		h.navigate(shared.PathHome)
	}
	out.Notice = &notice
	out.Location = h.currentLocation()
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) decodeLogin(r *http.Request) (loginForm, error) {
	var form loginForm
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := httpx.DecodeJSON(r, &form); err != nil {
			return form, errors.Join(httpx.ErrValidation, err)
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return form, errors.Join(httpx.ErrValidation, err)
		}
		form.Username = r.PostFormValue("username")
		form.Password = r.PostFormValue("password")
	}
	form.Username = strings.TrimSpace(form.Username)
	return form, nil
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(r.Context()); err != nil {
		h.logger.Warn("console logout", slog.Any("error", err))
	}
	h.navigate(shared.PathWelcome)
	out := h.view(h.sessions.Snapshot())
	notice := shared.NoticeLoggedOut
	out.Notice = &notice
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) showSession(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.view(h.sessions.Snapshot()))
}

func (h *Handler) listSelectableRoles(w http.ResponseWriter, r *http.Request) {
	snap := h.sessions.Snapshot()
	if snap.Identity == nil {
		httpx.RespondError(w, shared.ErrNotLoggedIn)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"roles":  snap.Identity.Roles,
		"active": snap.Role,
	})
}

type selectRoleRequest struct {
	RoleID int64 `json:"roleId" validate:"gt=0"`
}

func (h *Handler) selectRole(w http.ResponseWriter, r *http.Request) {
	var req selectRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, err))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, err))
		return
	}
	snap, err := h.sessions.SelectRole(r.Context(), req.RoleID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.navigate(shared.PathHome)
	httpx.JSON(w, http.StatusOK, h.view(snap))
}

type accessView struct {
	Path     string   `json:"path"`
	Allowed  bool     `json:"allowed"`
	Reason   string   `json:"reason"`
	Redirect string   `json:"redirect,omitempty"`
	Required []string `json:"required,omitempty"`
}

// checkAccess evaluates a front-end navigation attempt against the route table.
func (h *Handler) checkAccess(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("path")
	if target == "" || !strings.HasPrefix(target, "/") {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, errors.New("path must start with /")))
		return
	}
	target = path.Clean(target)
	decision := rbac.Evaluate(h.routes.RequiredForPath(target), h.sessions.Snapshot())
	if decision.Allowed() {
		h.navigate(target)
	}
	httpx.JSON(w, http.StatusOK, accessView{
		Path:     target,
		Allowed:  decision.Allowed(),
		Reason:   decision.Outcome.String(),
		Redirect: decision.Redirect,
		Required: decision.Required,
	})
}

func (h *Handler) listMenus(w http.ResponseWriter, r *http.Request) {
	snap := h.sessions.Snapshot()
	menus := snap.Menus
	if menus == nil {
		menus = []rbac.Menu{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role": snap.Role, "menus": menus})
}

func (h *Handler) welcome(w http.ResponseWriter, r *http.Request) {
	h.navigate(shared.PathWelcome)
	httpx.JSON(w, http.StatusOK, h.view(h.sessions.Snapshot()))
}

func (h *Handler) unauthorized(w http.ResponseWriter, r *http.Request) {
	snap := h.sessions.Snapshot()
	notice := shared.Notice{Kind: shared.NoticeWarning, Message: "No tiene permisos para acceder a esta sección"}
	if !snap.IsAuthenticated() {
		notice = shared.Notice{Kind: shared.NoticeWarning, Message: "Inicie sesión para continuar"}
	}
	out := h.view(snap)
	out.Notice = &notice
	httpx.JSON(w, http.StatusForbidden, out)
}

func (h *Handler) navigate(path string) {
	if h.location != nil {
		h.location.Navigate(path)
	}
}

func (h *Handler) currentLocation() string {
	if h.location == nil {
		return ""
	}
	return h.location.Current()
}
