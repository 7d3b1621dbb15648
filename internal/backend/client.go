// Package backend wraps the organization's REST API consumed by the console.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/caridad-org/console/internal/rbac"
	"github.com/caridad-org/console/internal/shared"
)

// API paths served by the backend.
const (
	PathLogin       = "/api/login"
	PathHealth      = "/api/health"
	PathStatus      = "/api/status"
	PathRoles       = "/api/roles"
	PathMenusByRole = "/api/menus/role/"
)

const (
	maxBodyBytes    = 4 << 20
	maxMessageBytes = 256
)

// Client wraps interactions with the backend API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	decode     decoder
}

// NewClient constructs a new client. httpClient carries the authenticating
// transport; nil falls back to a plain client with a 30s timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		decode:     newDecoder(),
	}
}

// Ping checks if the backend is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, PathHealth, nil)
	return err
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges credentials for a token and the identity's roles.
// Rejected credentials return shared.ErrAuthentication.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResponse, error) {
	body, err := c.do(ctx, http.MethodPost, PathLogin, loginRequest{Username: username, Password: password})
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.rejectsCredentials() {
			if statusErr.Message == "" {
				return LoginResponse{}, shared.ErrAuthentication
			}
			return LoginResponse{}, fmt.Errorf("%w: %s", shared.ErrAuthentication, statusErr.Message)
		}
		if shared.IsAuthorization(err) {
			return LoginResponse{}, shared.ErrAuthentication
		}
		return LoginResponse{}, err
	}
	return c.decode.login(body)
}

// MenusByRole returns the menus visible to roleID.
func (c *Client) MenusByRole(ctx context.Context, roleID int64) ([]rbac.Menu, error) {
	body, err := c.do(ctx, http.MethodGet, menusPath(roleID), nil)
	if err != nil {
		return nil, err
	}
	return c.decode.menus(body)
}

// ListRoles returns every role known to the backend.
func (c *Client) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	body, err := c.do(ctx, http.MethodGet, PathRoles, nil)
	if err != nil {
		return nil, err
	}
	return c.decode.roles(body)
}

type assignMenusRequest struct {
	Menus []int64 `json:"menus"`
}

// AssignMenus replaces the menu set granted to roleID.
func (c *Client) AssignMenus(ctx context.Context, roleID int64, menuIDs []int64) error {
	if menuIDs == nil {
		menuIDs = []int64{}
	}
	_, err := c.do(ctx, http.MethodPut, menusPath(roleID), assignMenusRequest{Menus: menuIDs})
	return err
}

func menusPath(roleID int64) string {
	return PathMenusByRole + strconv.FormatInt(roleID, 10)
}

// StatusError reports a non-2xx response other than 401/403 on authenticated calls.
type StatusError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend: %s %s returned %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("backend: %s %s returned %d: %s", e.Method, e.Path, e.Status, e.Message)
}

// Is matches shared.ErrNotFound on 404 and shared.ErrUpstream otherwise.
func (e *StatusError) Is(target error) bool {
	switch target {
	case shared.ErrNotFound:
		return e.Status == http.StatusNotFound
	case shared.ErrUpstream:
		return e.Status != http.StatusNotFound
	}
	return false
}

// UserMessage returns the message the backend meant for the operator.
func (e *StatusError) UserMessage() string { return e.Message }

func (e *StatusError) rejectsCredentials() bool {
	switch e.Status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if shared.IsAuthorization(err) || shared.IsNetwork(err) {
			return nil, unwrapURLError(err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &shared.NetworkError{Method: method, Path: path, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &shared.NetworkError{Method: method, Path: path, Err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	if path != PathLogin && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		return nil, &shared.AuthorizationError{Status: resp.StatusCode, Method: method, Path: path}
	}
	return nil, &StatusError{Method: method, Path: path, Status: resp.StatusCode, Message: errorMessage(body)}
}

// unwrapURLError strips the *url.Error added by http.Client so callers match
// the console error types directly.
func unwrapURLError(err error) error {
	var authErr *shared.AuthorizationError
	if errors.As(err, &authErr) {
		return authErr
	}
	var netErr *shared.NetworkError
	if errors.As(err, &netErr) {
		return netErr
	}
	return err
}

func errorMessage(body []byte) string {
	var payload struct {
		Mensaje string `json:"mensaje"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		msg := strings.TrimSpace(string(body))
		if len(msg) > maxMessageBytes {
			msg = strings.ToValidUTF8(msg[:maxMessageBytes], "") + "..."
		}
		return msg
	}
	for _, msg := range []string{payload.Mensaje, payload.Message, payload.Error} {
		if msg != "" {
			return msg
		}
	}
	return ""
}
