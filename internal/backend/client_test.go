package backend_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caridad-org/console/internal/backend"
	"github.com/caridad-org/console/internal/rbac"
	"github.com/caridad-org/console/internal/shared"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *backend.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return backend.NewClient(srv.URL+"/", srv.Client())
}

func TestLoginDecodesRoleAliases(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, backend.PathLogin, r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ana", body["username"])
		assert.Equal(t, "secreto", body["password"])
		_, _ = io.WriteString(w, `{"token":" abc.def ","mensaje":"Bienvenida","roles":[
			{"idRol":1,"nombre":"ADMIN","descripcion":"Administración"},
			{"id":3,"name":"VOLUNTARIO"}]}`)
	})

	resp, err := client.Login(context.Background(), "ana", "secreto")
	require.NoError(t, err)
	assert.Equal(t, "abc.def", resp.Token)
	assert.Equal(t, "Bienvenida", resp.Message)
	assert.Equal(t, []rbac.Role{
		{ID: 1, Name: "ADMIN", Description: "Administración"},
		{ID: 3, Name: "VOLUNTARIO"},
	}, resp.Roles)
}

func TestLoginRejectedCredentials(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden} {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `{"mensaje":"Credenciales inválidas"}`)
		})
		_, err := client.Login(context.Background(), "ana", "mala")
		require.ErrorIs(t, err, shared.ErrAuthentication, "status %d", status)
		assert.Contains(t, err.Error(), "Credenciales inválidas")
		assert.False(t, shared.IsAuthorization(err))
	}
}

func TestLoginMalformedPayload(t *testing.T) {
	cases := map[string]string{
		"missing token": `{"roles":[{"id":1,"nombre":"ADMIN"}]}`,
		"no roles":      `{"token":"t","roles":[]}`,
		"role no id":    `{"token":"t","roles":[{"nombre":"ADMIN"}]}`,
		"not json":      `<html>`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, payload)
			})
			_, err := client.Login(context.Background(), "ana", "x")
			var decodeErr *backend.DecodeError
			require.ErrorAs(t, err, &decodeErr)
			assert.Equal(t, "login", decodeErr.Endpoint)
			assert.ErrorIs(t, err, shared.ErrUpstream)
		})
	}
}

func TestMenusByRole(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/menus/role/3", r.URL.Path)
		_, _ = io.WriteString(w, `[
			{"idMenu":10,"nombre":"Entregas","direccion":"/entregas","estado":1},
			{"id":11,"nombre":"Voluntarios","direccion":"/voluntarios","estado":"inactivo"},
			{"idMenu":12,"nombre":"Ayuda","direccion":"/ayuda","estado":true}]`)
	})

	menus, err := client.MenusByRole(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, []rbac.Menu{
		{ID: 10, Name: "Entregas", Path: "/entregas", Enabled: true},
		{ID: 11, Name: "Voluntarios", Path: "/voluntarios", Enabled: false},
		{ID: 12, Name: "Ayuda", Path: "/ayuda", Enabled: true},
	}, menus)
}

func TestMenusByRoleRejectsBadRecords(t *testing.T) {
	cases := map[string]string{
		"missing estado":  `[{"idMenu":1,"nombre":"A","direccion":"/a"}]`,
		"relative path":   `[{"idMenu":1,"nombre":"A","direccion":"a","estado":1}]`,
		"unexpected flag": `[{"idMenu":1,"nombre":"A","direccion":"/a","estado":"quizas"}]`,
		"flag out of set": `[{"idMenu":1,"nombre":"A","direccion":"/a","estado":2}]`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, payload)
			})
			_, err := client.MenusByRole(context.Background(), 1)
			var decodeErr *backend.DecodeError
			require.ErrorAs(t, err, &decodeErr)
			assert.Equal(t, "menus", decodeErr.Endpoint)
		})
	}
}

func TestAuthenticatedCallRejectedIsAuthorizationError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := client.MenusByRole(context.Background(), 1)
	var authErr *shared.AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.Status)
	assert.Equal(t, "/api/menus/role/1", authErr.Path)
}

func TestStatusErrors(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == backend.PathRoles {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, strings.Repeat("x", 1000))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"rol no existe"}`)
	})

	_, err := client.MenusByRole(context.Background(), 99)
	require.ErrorIs(t, err, shared.ErrNotFound)
	assert.False(t, errors.Is(err, shared.ErrUpstream))
	var statusErr *backend.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, "rol no existe", statusErr.Message)

	_, err = client.ListRoles(context.Background())
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.Status)
	assert.Less(t, len(statusErr.Message), 300)
	assert.False(t, errors.Is(err, shared.ErrNotFound))
	assert.ErrorIs(t, err, shared.ErrUpstream)
}

func TestAssignMenusSendsEmptyList(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/api/menus/role/2", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.AssignMenus(context.Background(), 2, nil))
	assert.Equal(t, []any{}, got["menus"])
}

func TestListRoles(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"idRol":1,"nombre":"ADMIN"},{"idRol":2,"nombre":"VENTAS","descripcion":"Tienda"}]`)
	})
	roles, err := client.ListRoles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []rbac.Role{{ID: 1, Name: "ADMIN"}, {ID: 2, Name: "VENTAS", Description: "Tienda"}}, roles)
}

func TestUnreachableBackendIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := backend.NewClient(url, nil)
	err := client.Ping(context.Background())
	require.True(t, shared.IsNetwork(err), "got %v", err)

	_, err = client.Login(context.Background(), "ana", "x")
	require.True(t, shared.IsNetwork(err))
	assert.False(t, errors.Is(err, shared.ErrAuthentication))
}
