package backend

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/caridad-org/console/internal/rbac"
	"github.com/caridad-org/console/internal/shared"
)

// DecodeError reports a backend payload that does not match the expected shape.
type DecodeError struct {
	Endpoint string
	Field    string
	Err      error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("backend: decode %s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("backend: decode %s: field %s: %v", e.Endpoint, e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == shared.ErrUpstream }

var errMissing = errors.New("required field missing")

// LoginResponse is the mapped result of POST /api/login.
type LoginResponse struct {
	Token   string
	Roles   []rbac.Role
	Message string
}

type wireLogin struct {
	Token   *string           `json:"token"`
	Roles   []json.RawMessage `json:"roles"`
	Mensaje string            `json:"mensaje"`
	Message string            `json:"message"`
}

type wireRole struct {
	ID          *int64  `json:"id"`
	IDRol       *int64  `json:"idRol"`
	Name        *string `json:"name"`
	Nombre      *string `json:"nombre"`
	Description string  `json:"description"`
	Descripcion string  `json:"descripcion"`
}

type wireMenu struct {
	IDMenu    *int64    `json:"idMenu"`
	ID        *int64    `json:"id"`
	Nombre    *string   `json:"nombre"`
	Direccion *string   `json:"direccion"`
	Estado    *wireFlag `json:"estado"`
}

type roleRecord struct {
	ID          int64  `validate:"gt=0"`
	Name        string `validate:"required"`
	Description string
}

type menuRecord struct {
	ID      int64  `validate:"gt=0"`
	Name    string `validate:"required"`
	Path    string `validate:"required,startswith=/"`
	Enabled bool
}

// wireFlag accepts the several encodings the backend uses for "estado".
type wireFlag bool

func (f *wireFlag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = wireFlag(b)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		v, err := strconv.ParseInt(n.String(), 10, 64)
		if err != nil || (v != 0 && v != 1) {
			return fmt.Errorf("unexpected flag %s", data)
		}
		*f = v == 1
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("unexpected flag %s", data)
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "activo", "active", "a":
		*f = true
	case "false", "0", "inactivo", "inactive", "i":
		*f = false
	default:
		return fmt.Errorf("unexpected flag %q", s)
	}
	return nil
}

type decoder struct {
	validate *validator.Validate
}

func newDecoder() decoder {
	return decoder{validate: validator.New()}
}

func (d decoder) login(data []byte) (LoginResponse, error) {
	const endpoint = "login"
	var wire wireLogin
	if err := json.Unmarshal(data, &wire); err != nil {
		return LoginResponse{}, &DecodeError{Endpoint: endpoint, Err: err}
	}
	if wire.Token == nil || strings.TrimSpace(*wire.Token) == "" {
		return LoginResponse{}, &DecodeError{Endpoint: endpoint, Field: "token", Err: errMissing}
	}
	if len(wire.Roles) == 0 {
		return LoginResponse{}, &DecodeError{Endpoint: endpoint, Field: "roles", Err: errors.New("identity holds no roles")}
	}
	roles := make([]rbac.Role, 0, len(wire.Roles))
	for i, raw := range wire.Roles {
		role, err := d.role(endpoint, fmt.Sprintf("roles[%d]", i), raw)
		if err != nil {
			return LoginResponse{}, err
		}
		roles = append(roles, role)
	}
	message := wire.Mensaje
	if message == "" {
		message = wire.Message
	}
	return LoginResponse{Token: strings.TrimSpace(*wire.Token), Roles: roles, Message: message}, nil
}

func (d decoder) roles(data []byte) ([]rbac.Role, error) {
	const endpoint = "roles"
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, &DecodeError{Endpoint: endpoint, Err: err}
	}
	roles := make([]rbac.Role, 0, len(raws))
	for i, raw := range raws {
		role, err := d.role(endpoint, fmt.Sprintf("[%d]", i), raw)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

func (d decoder) role(endpoint, path string, raw json.RawMessage) (rbac.Role, error) {
	var wire wireRole
	if err := json.Unmarshal(raw, &wire); err != nil {
		return rbac.Role{}, &DecodeError{Endpoint: endpoint, Field: path, Err: err}
	}
	record := roleRecord{
		ID:          firstInt(wire.IDRol, wire.ID),
		Name:        strings.TrimSpace(firstString(wire.Nombre, wire.Name)),
		Description: firstNonEmpty(wire.Descripcion, wire.Description),
	}
	if err := d.check(endpoint, path, record); err != nil {
		return rbac.Role{}, err
	}
	return rbac.Role{ID: record.ID, Name: record.Name, Description: record.Description}, nil
}

func (d decoder) menus(data []byte) ([]rbac.Menu, error) {
	const endpoint = "menus"
	var wires []wireMenu
	if err := json.Unmarshal(data, &wires); err != nil {
		return nil, &DecodeError{Endpoint: endpoint, Err: err}
	}
	menus := make([]rbac.Menu, 0, len(wires))
	for i, wire := range wires {
		path := fmt.Sprintf("[%d]", i)
		if wire.Estado == nil {
			return nil, &DecodeError{Endpoint: endpoint, Field: path + ".estado", Err: errMissing}
		}
		record := menuRecord{
			ID:      firstInt(wire.IDMenu, wire.ID),
			Name:    strings.TrimSpace(firstString(wire.Nombre)),
			Path:    strings.TrimSpace(firstString(wire.Direccion)),
			Enabled: bool(*wire.Estado),
		}
		if err := d.check(endpoint, path, record); err != nil {
			return nil, err
		}
		menus = append(menus, rbac.Menu{ID: record.ID, Name: record.Name, Path: record.Path, Enabled: record.Enabled})
	}
	return menus, nil
}

func (d decoder) check(endpoint, path string, record any) error {
	err := d.validate.Struct(record)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		first := fieldErrs[0]
		return &DecodeError{
			Endpoint: endpoint,
			Field:    path + "." + strings.ToLower(first.Field()),
			Err:      fmt.Errorf("failed %q check", first.Tag()),
		}
	}
	return &DecodeError{Endpoint: endpoint, Field: path, Err: err}
}

func firstInt(values ...*int64) int64 {
	for _, v := range values {
		if v != nil {
			return *v
		}
	}
	return 0
}

func firstString(values ...*string) string {
	for _, v := range values {
		if v != nil {
			return *v
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
