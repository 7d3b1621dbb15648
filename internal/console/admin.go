package console

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/caridad-org/console/internal/platform/httpx"
	"github.com/caridad-org/console/internal/rbac"
)

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.admin.ListRoles(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) showRoleMenus(w http.ResponseWriter, r *http.Request) {
	roleID, err := roleIDParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	var (
		roles []rbac.Role
		menus []rbac.Menu
	)
	group, ctx := errgroup.WithContext(r.Context())
	group.Go(func() error {
		var err error
		roles, err = h.admin.ListRoles(ctx)
		return err
	})
	group.Go(func() error {
		var err error
		menus, err = h.admin.MenusByRole(ctx, roleID)
		return err
	})
	if err := group.Wait(); err != nil {
		httpx.RespondError(w, err)
		return
	}

	role, ok := rbac.HasRole(roles, roleID)
	if !ok {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "role "+strconv.FormatInt(roleID, 10)+" not found")
		return
	}
	if menus == nil {
		menus = []rbac.Menu{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role": role, "menus": menus})
}

type assignMenusForm struct {
	Menus []int64 `json:"menus" validate:"dive,gt=0"`
}

func (h *Handler) assignRoleMenus(w http.ResponseWriter, r *http.Request) {
	roleID, err := roleIDParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var form assignMenusForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, err))
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, err))
		return
	}
	if err := h.admin.AssignMenus(r.Context(), roleID, dedupe(form.Menus)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	menus, err := h.admin.MenusByRole(r.Context(), roleID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roleId": roleID, "menus": menus})
}

func roleIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "roleID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Join(httpx.ErrValidation, errors.New("invalid role id"))
	}
	return id, nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
