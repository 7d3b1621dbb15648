package transport_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caridad-org/console/internal/shared"
	"github.com/caridad-org/console/internal/tokenstore"
	"github.com/caridad-org/console/internal/transport"
)

type fakeSession struct {
	generation atomic.Uint64
	expires    atomic.Int32
	tokens     tokenstore.Store
}

func (s *fakeSession) Generation() uint64 { return s.generation.Load() }

func (s *fakeSession) Expire(ctx context.Context, generation uint64) (bool, error) {
	if !s.generation.CompareAndSwap(generation, generation+1) {
		return false, nil
	}
	s.expires.Add(1)
	return true, s.tokens.Clear(ctx)
}

type countingRecorder struct {
	outbound  atomic.Int32
	teardowns atomic.Int32
}

func (r *countingRecorder) ObserveOutbound(string, int) { r.outbound.Add(1) }
func (r *countingRecorder) ObserveTeardown()            { r.teardowns.Add(1) }

type fixture struct {
	tokens   *tokenstore.MemoryStore
	session  *fakeSession
	location *transport.Location
	recorder *countingRecorder
	client   *http.Client
}

func newFixture(t *testing.T, handler http.HandlerFunc) (*fixture, string) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	f := &fixture{
		tokens:   tokenstore.NewMemoryStore(),
		location: transport.NewLocation("/admin/roles"),
		recorder: &countingRecorder{},
	}
	f.session = &fakeSession{tokens: f.tokens}
	f.session.generation.Store(1)
	auth := transport.New(transport.Config{
		Base:      srv.Client().Transport,
		Tokens:    f.tokens,
		Session:   f.session,
		Navigator: f.location,
		Recorder:  f.recorder,
	})
	f.client = auth.Client()
	return f, srv.URL
}

func TestBearerHeader(t *testing.T) {
	assert.Equal(t, "Bearer abc", transport.BearerHeader("abc"))
	assert.Equal(t, "Bearer abc", transport.BearerHeader("Bearer abc"))
	assert.Equal(t, "Bearer abc", transport.BearerHeader("bearer Bearer abc"))
	assert.Empty(t, transport.BearerHeader(""))
	assert.Empty(t, transport.BearerHeader("Bearer "))
}

func TestAttachesTokenOnce(t *testing.T) {
	var got string
	f, base := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		w.WriteHeader(http.StatusOK)
	})
	require.NoError(t, f.tokens.Set(context.Background(), "Bearer tok"))

	resp, err := f.client.Get(base + "/api/roles")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "Bearer tok", got)
}

func TestPublicPathsStayAnonymous(t *testing.T) {
	var got []string
	var mu sync.Mutex
	f, base := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = append(got, r.Header.Get("Authorization"))
		mu.Unlock()
		w.WriteHeader(http.StatusUnauthorized)
	})
	require.NoError(t, f.tokens.Set(context.Background(), "tok"))

	resp, err := f.client.Post(base+"/api/login", "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = f.client.Get(base + "/api/health/")
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, []string{"", ""}, got)
	assert.Zero(t, f.session.expires.Load(), "public 401 must not end the session")
	assert.Equal(t, "/admin/roles", f.location.Current())
}

func TestRejectionTearsDownOnce(t *testing.T) {
	const calls = 8
	arrived := make(chan struct{}, calls)
	release := make(chan struct{})
	f, base := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		arrived <- struct{}{}
		<-release
		w.WriteHeader(http.StatusUnauthorized)
	})
	require.NoError(t, f.tokens.Set(context.Background(), "tok"))

	errs := make(chan error, calls)
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.client.Get(base + "/api/menus/role/1")
			if resp != nil {
				_ = resp.Body.Close()
			}
			errs <- err
		}()
	}
	for i := 0; i < calls; i++ {
		<-arrived
	}
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.True(t, shared.IsAuthorization(err), "got %v", err)
	}
	assert.Equal(t, int32(1), f.session.expires.Load())
	assert.Equal(t, int32(1), f.recorder.teardowns.Load())
	assert.Equal(t, shared.PathWelcome, f.location.Current())
	assert.Equal(t, uint64(1), f.location.Visits())
	token, err := f.tokens.Get(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestForbiddenAlsoTearsDown(t *testing.T) {
	f, base := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	_, err := f.client.Get(base + "/api/roles")
	var authErr *shared.AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusForbidden, authErr.Status)
	assert.Equal(t, int32(1), f.session.expires.Load())
}

func TestNextSessionCanBeTornDownToo(t *testing.T) {
	f, base := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := f.client.Get(base + "/api/roles")
	require.Error(t, err)
	// A new login moves the generation forward; its rejection is honored.
	f.session.generation.Add(1)
	_, err = f.client.Get(base + "/api/roles")
	require.Error(t, err)
	assert.Equal(t, int32(2), f.session.expires.Load())
}

func TestSupersededRejectionLeavesConsoleAlone(t *testing.T) {
	var f *fixture
	f, base := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		// Another login completes while this request is in flight.
		f.session.generation.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	require.NoError(t, f.tokens.Set(context.Background(), "tok"))

	_, err := f.client.Get(base + "/api/roles")
	assert.True(t, shared.IsAuthorization(err), "got %v", err)
	assert.Zero(t, f.session.expires.Load())
	assert.Zero(t, f.recorder.teardowns.Load())
	assert.Equal(t, "/admin/roles", f.location.Current())
	assert.Zero(t, f.location.Visits())
	token, err := f.tokens.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
}

func TestPinnedTokenRejectionKeepsSession(t *testing.T) {
	var got string
	f, base := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusUnauthorized)
	})
	require.NoError(t, f.tokens.Set(context.Background(), "tok"))

	ctx := tokenstore.ContextWithToken(context.Background(), "Bearer nuevo")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/menus/role/2", nil)
	require.NoError(t, err)
	_, err = f.client.Do(req)

	assert.True(t, shared.IsAuthorization(err), "got %v", err)
	assert.Equal(t, "Bearer nuevo", got)
	assert.Zero(t, f.session.expires.Load())
	assert.Zero(t, f.recorder.teardowns.Load())
	assert.Equal(t, "/admin/roles", f.location.Current())
	token, err := f.tokens.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
}

func TestNetworkFailureKeepsSession(t *testing.T) {
	f, _ := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	require.NoError(t, f.tokens.Set(context.Background(), "tok"))

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	_, err := f.client.Get(deadURL + "/api/roles")
	require.Error(t, err)
	var netErr *shared.NetworkError
	require.True(t, errors.As(err, &netErr), "got %v", err)
	assert.Equal(t, "/api/roles", netErr.Path)
	assert.Zero(t, f.session.expires.Load())
	token, err := f.tokens.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
	assert.Equal(t, "/admin/roles", f.location.Current())
}

func TestLocationNavigate(t *testing.T) {
	loc := transport.NewLocation(shared.PathWelcome)
	assert.False(t, loc.Navigate(shared.PathWelcome))
	assert.True(t, loc.Navigate("/entregas"))
	assert.Equal(t, "/entregas", loc.Current())
	assert.Equal(t, uint64(1), loc.Visits())
}
