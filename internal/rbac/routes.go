package rbac

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	"github.com/caridad-org/console/internal/shared"
)

// RouteTable maps console route patterns to the roles allowed on them.
// A declared pattern also covers every path below it, so "/donantes"
// guards "/donantes/12" unless a more specific pattern is declared.
type RouteTable struct {
	order    []string
	required map[string][]string
	mux      *chi.Mux
	// owner maps each pattern registered on mux to the declared pattern.
	owner map[string]string
}

var matchOnly = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})

// RouteDeclaration is one entry of the route permission file.
type RouteDeclaration struct {
	Pattern string   `yaml:"pattern"`
	Roles   []string `yaml:"roles"`
}

type routeFile struct {
	Routes []RouteDeclaration `yaml:"routes"`
}

// NewRouteTable builds a table from declarations. Later duplicates of a
// pattern are rejected.
func NewRouteTable(decls []RouteDeclaration) (*RouteTable, error) {
	table := &RouteTable{
		required: make(map[string][]string, len(decls)),
		mux:      chi.NewMux(),
		owner:    make(map[string]string, 2*len(decls)),
	}
	for i, decl := range decls {
		pattern := strings.TrimSpace(decl.Pattern)
		if pattern == "" || !strings.HasPrefix(pattern, "/") {
			return nil, fmt.Errorf("rbac: route %d: pattern %q must start with /", i, decl.Pattern)
		}
		if len(pattern) > 1 {
			pattern = strings.TrimRight(pattern, "/")
		}
		if _, exists := table.required[pattern]; exists {
			return nil, fmt.Errorf("rbac: route %q declared twice", pattern)
		}
		if err := table.register(pattern, pattern); err != nil {
			return nil, err
		}
		table.order = append(table.order, pattern)
		table.required[pattern] = NormalizeRoles(decl.Roles)
	}
	// Subtrees go in after every declared pattern so an explicit "/x/*"
	// declaration keeps precedence over the one derived from "/x".
	for _, pattern := range table.order {
		subtree := pattern + "/*"
		if pattern == "/" || strings.HasSuffix(pattern, "*") {
			continue
		}
		if _, exists := table.owner[subtree]; exists {
			continue
		}
		if err := table.register(subtree, pattern); err != nil {
			return nil, err
		}
	}
	return table, nil
}

// register adds pattern to the matcher. chi panics on malformed patterns,
// which surface here as errors.
func (t *RouteTable) register(pattern, owner string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rbac: route %q: %v", owner, r)
		}
	}()
	t.mux.Handle(pattern, matchOnly)
	t.owner[pattern] = owner
	return nil
}

// ParseRoutes decodes a YAML route permission document.
func ParseRoutes(data []byte) (*RouteTable, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var file routeFile
	if err := decoder.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return NewRouteTable(nil)
		}
		return nil, fmt.Errorf("rbac: parse routes: %w", err)
	}
	return NewRouteTable(file.Routes)
}

// LoadRoutes reads the route permission file at path.
func LoadRoutes(path string) (*RouteTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rbac: read routes: %w", err)
	}
	return ParseRoutes(data)
}

// DefaultRoutes returns the built-in declarations used when no file is configured.
func DefaultRoutes() *RouteTable {
	table, _ := NewRouteTable([]RouteDeclaration{
		{Pattern: "/admin/roles", Roles: shared.AdminRoles()},
		{Pattern: "/admin/roles/{roleID}/menus", Roles: shared.AdminRoles()},
		{Pattern: "/donantes", Roles: []string{shared.RoleAdmin, shared.RoleVentas}},
		{Pattern: "/donaciones", Roles: []string{shared.RoleAdmin, shared.RoleVentas}},
		{Pattern: "/inventario", Roles: []string{shared.RoleAdmin, shared.RoleInventario}},
		{Pattern: "/entregas", Roles: []string{shared.RoleAdmin, shared.RoleInventario, shared.RoleVoluntario}},
		{Pattern: "/voluntarios", Roles: []string{shared.RoleAdmin, shared.RoleVoluntario}},
	})
	return table
}

// RequiredFor returns the roles declared for pattern; nil means unrestricted.
func (t *RouteTable) RequiredFor(pattern string) []string {
	if t == nil {
		return nil
	}
	roles := t.required[pattern]
	if len(roles) == 0 {
		return nil
	}
	out := make([]string, len(roles))
	copy(out, roles)
	return out
}

// Match resolves a concrete console path, such as "/admin/roles/3/menus",
// to the declared pattern guarding it. The path is cleaned first so
// trailing slashes and dot segments cannot step around a declaration.
func (t *RouteTable) Match(requestPath string) (string, bool) {
	if t == nil || requestPath == "" {
		return "", false
	}
	cleaned := path.Clean("/" + requestPath)
	found := t.mux.Find(chi.NewRouteContext(), http.MethodGet, cleaned)
	if found == "" {
		return "", false
	}
	owner, ok := t.owner[found]
	return owner, ok
}

// RequiredForPath returns the roles guarding a concrete path; nil means
// no declared pattern covers it.
func (t *RouteTable) RequiredForPath(requestPath string) []string {
	pattern, ok := t.Match(requestPath)
	if !ok {
		return nil
	}
	return t.RequiredFor(pattern)
}

// Patterns lists declared patterns in declaration order.
func (t *RouteTable) Patterns() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Accessible lists the declared patterns subject may navigate to right now.
func (t *RouteTable) Accessible(subject Subject) []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, len(t.order))
	for _, pattern := range t.order {
		if CanAccess(t.required[pattern], subject) {
			out = append(out, pattern)
		}
	}
	return out
}
