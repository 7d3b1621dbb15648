// Package transport attaches the console credential to outbound backend
// calls and reacts to the backend rejecting it.
package transport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/caridad-org/console/internal/shared"
	"github.com/caridad-org/console/internal/tokenstore"
)

// DefaultPublicPaths never carry the Authorization header.
var DefaultPublicPaths = []string{"/api/login", "/api/health", "/api/status"}

// Session is the part of the session manager the authenticator drives.
type Session interface {
	Generation() uint64
	// Expire ends the session if generation is still current and reports
	// whether it did.
	Expire(ctx context.Context, generation uint64) (bool, error)
}

// Navigator moves the console to another route.
type Navigator interface {
	Navigate(path string) bool
}

// Recorder receives outbound call outcomes.
type Recorder interface {
	ObserveOutbound(method string, status int)
	ObserveTeardown()
}

// Config wires the authenticator.
type Config struct {
	Base        http.RoundTripper
	Tokens      tokenstore.Store
	Session     Session
	Navigator   Navigator
	Recorder    Recorder
	Logger      *slog.Logger
	PublicPaths []string
	// Landing is where the console goes after a rejected token. Defaults to /welcome.
	Landing string
}

// Authenticator is an http.RoundTripper adding bearer authentication.
type Authenticator struct {
	base      http.RoundTripper
	tokens    tokenstore.Store
	session   Session
	navigator Navigator
	recorder  Recorder
	logger    *slog.Logger
	public    map[string]struct{}
	landing   string

	teardowns singleflight.Group
}

// New constructs an Authenticator.
func New(cfg Config) *Authenticator {
	base := cfg.Base
	if base == nil {
		base = http.DefaultTransport
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	paths := cfg.PublicPaths
	if paths == nil {
		paths = DefaultPublicPaths
	}
	public := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		public[strings.TrimRight(p, "/")] = struct{}{}
	}
	landing := cfg.Landing
	if landing == "" {
		landing = shared.PathWelcome
	}
	return &Authenticator{
		base:      base,
		tokens:    cfg.Tokens,
		session:   cfg.Session,
		navigator: cfg.Navigator,
		recorder:  cfg.Recorder,
		logger:    logger,
		public:    public,
		landing:   landing,
	}
}

// Client returns an http.Client using the authenticator as transport.
func (a *Authenticator) Client() *http.Client {
	return &http.Client{Transport: a}
}

// IsPublic reports whether path is on the public allow-list.
func (a *Authenticator) IsPublic(path string) bool {
	_, ok := a.public[strings.TrimRight(path, "/")]
	return ok
}

// RoundTrip implements http.RoundTripper.
func (a *Authenticator) RoundTrip(req *http.Request) (*http.Response, error) {
	if a.IsPublic(req.URL.Path) {
		return a.send(req, req)
	}

	var generation uint64
	if a.session != nil {
		generation = a.session.Generation()
	}
	out := req.Clone(req.Context())
	// A pinned token belongs to a login still in progress, not to the
	// current session, so its rejection must not end that session.
	pinned, isPinned := tokenstore.TokenFromContext(req.Context())
	switch {
	case isPinned:
		out.Header.Set("Authorization", BearerHeader(pinned))
	case a.tokens != nil:
		token, err := a.tokens.Get(req.Context())
		if err != nil {
			a.logger.Warn("transport read token", slog.Any("error", err))
		} else if header := BearerHeader(token); header != "" {
			out.Header.Set("Authorization", header)
		}
	}

	resp, err := a.send(req, out)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		_ = resp.Body.Close()
		if !isPinned {
			a.reject(req.Context(), generation, req.URL.Path, resp.StatusCode)
		}
		return nil, &shared.AuthorizationError{Status: resp.StatusCode, Method: req.Method, Path: req.URL.Path}
	}
	return resp, nil
}

func (a *Authenticator) send(orig, out *http.Request) (*http.Response, error) {
	if out.Header.Get("X-Request-ID") == "" {
		if out == orig {
			out = orig.Clone(orig.Context())
		}
		out.Header.Set("X-Request-ID", uuid.NewString())
	}
	resp, err := a.base.RoundTrip(out)
	if err != nil {
		a.observe(orig.Method, 0)
		if ctxErr := orig.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &shared.NetworkError{Method: orig.Method, Path: orig.URL.Path, Err: err}
	}
	a.observe(orig.Method, resp.StatusCode)
	return resp, nil
}

// reject tears the session down once per generation, however many in-flight
// requests come back rejected. Only an actual teardown moves the console to
// the landing route.
func (a *Authenticator) reject(ctx context.Context, generation uint64, path string, status int) {
	key := strconv.FormatUint(generation, 10)
	_, _, _ = a.teardowns.Do(key, func() (any, error) {
		a.logger.Warn("backend rejected credential",
			slog.String("path", path),
			slog.Int("status", status),
			slog.Uint64("generation", generation),
		)
		if a.session == nil {
			return nil, nil
		}
		ended, err := a.session.Expire(context.WithoutCancel(ctx), generation)
		if err != nil {
			a.logger.Error("transport expire session", slog.Any("error", err))
		}
		if !ended {
			a.logger.Debug("rejection for a superseded session ignored", slog.Uint64("generation", generation))
			return nil, nil
		}
		if a.recorder != nil {
			a.recorder.ObserveTeardown()
		}
		if a.navigator != nil {
			a.navigator.Navigate(a.landing)
		}
		return nil, nil
	})
}

func (a *Authenticator) observe(method string, status int) {
	if a.recorder != nil {
		a.recorder.ObserveOutbound(method, status)
	}
}

// BearerHeader builds the Authorization value for token, adding the prefix
// exactly once. Empty tokens yield "".
func BearerHeader(token string) string {
	token = tokenstore.Normalize(token)
	if token == "" {
		return ""
	}
	return "Bearer " + token
}
