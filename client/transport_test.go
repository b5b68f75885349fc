package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, s *Session, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := s.HTTPClient().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestTransport_InjectsBearer(t *testing.T) {
	api := newFakeAPI(t)
	api.set(func(a *fakeAPI) { a.validToken = "A" })
	store := NewMemoryStore()
	seed(t, store, Bundle{AccessToken: "A", RefreshToken: "R"})
	s := newTestSession(t, api.URL, store)

	resp := get(t, s, s.URL("/courses/list"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Bearer A", api.authHeader())
	assert.False(t, SessionRefreshed(resp))
}

func TestTransport_NoTokenNoHeader(t *testing.T) {
	api := newFakeAPI(t)
	s := newTestSession(t, api.URL, nil)

	resp := get(t, s, s.URL("/courses/list"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, api.authHeader())
}

func TestTransport_ForeignHostUntouched(t *testing.T) {
	var seen atomic.Value
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer foreign.Close()

	api := newFakeAPI(t)
	store := NewMemoryStore()
	seed(t, store, Bundle{AccessToken: "A", RefreshToken: "R"})
	var h handlerCounter
	s := newTestSession(t, api.URL, store, WithUnauthorizedHandler(h.fn()))

	resp := get(t, s, foreign.URL+"/courses/list")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "", seen.Load())
	assert.Zero(t, api.refreshCalls.Load())
	assert.Zero(t, h.count())
	assert.Equal(t, "A", s.Credentials(context.Background()).AccessToken)
}

func TestTransport_Boundary401Notifies(t *testing.T) {
	api := newFakeAPI(t)
	store := NewMemoryStore()
	seed(t, store, Bundle{AccessToken: "A", RefreshToken: "R"})
	var h handlerCounter
	s := newTestSession(t, api.URL, store, WithUnauthorizedHandler(h.fn()))

	resp := get(t, s, s.URL(PathClassesList))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, api.authHeader(), "boundary endpoints get no bearer")
	assert.Equal(t, 1, h.count())
	assert.Zero(t, api.refreshCalls.Load())
}

func TestTransport_Protected401Refreshes(t *testing.T) {
	api := newFakeAPI(t)
	api.set(func(a *fakeAPI) { a.refreshToken, a.nextAccess, a.nextRefresh = "R", "A2", "R2" })
	store := NewMemoryStore()
	seed(t, store, Bundle{AccessToken: "A", RefreshToken: "R"})
	var h handlerCounter
	s := newTestSession(t, api.URL, store, WithUnauthorizedHandler(h.fn()))

	resp := get(t, s, s.URL("/courses/list"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "the stale response is handed back")
	assert.True(t, SessionRefreshed(resp))
	assert.Equal(t, "Bearer A2", resp.Request.Header.Get("Authorization"))
	assert.EqualValues(t, 1, api.refreshCalls.Load())
	assert.Zero(t, h.count())

	// caller retries
	retry := get(t, s, s.URL("/courses/list"))
	assert.Equal(t, http.StatusOK, retry.StatusCode)
	assert.Equal(t, "Bearer A2", api.authHeader())
}

func TestTransport_Protected401WithoutRefreshToken(t *testing.T) {
	api := newFakeAPI(t)
	store := NewMemoryStore()
	seed(t, store, Bundle{AccessToken: "A"})
	var h handlerCounter
	s := newTestSession(t, api.URL, store, WithUnauthorizedHandler(h.fn()))

	resp := get(t, s, s.URL("/courses/list"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.False(t, SessionRefreshed(resp))
	assert.Equal(t, 1, h.count())
	assert.Zero(t, api.refreshCalls.Load())
	assert.True(t, s.Credentials(context.Background()).IsZero())
}

func TestTransport_ConcurrentStale401sShareOneRefresh(t *testing.T) {
	api := newFakeAPI(t)
	api.set(func(a *fakeAPI) {
		a.refreshToken, a.nextAccess, a.nextRefresh = "R", "A2", "R2"
		a.refreshDelay = 100 * time.Millisecond
	})
	store := NewMemoryStore()
	seed(t, store, Bundle{AccessToken: "A", RefreshToken: "R"})
	var h handlerCounter
	s := newTestSession(t, api.URL, store, WithUnauthorizedHandler(h.fn()))

	const callers = 10
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		good  atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			resp, err := s.HTTPClient().Get(s.URL("/courses/list"))
			if err != nil {
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusOK || SessionRefreshed(resp) {
				good.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, callers, good.Load())
	assert.EqualValues(t, 1, api.refreshCalls.Load())
	assert.Zero(t, h.count())
	assert.Equal(t, "A2", s.Credentials(context.Background()).AccessToken)
}

func TestTransport_CallerDeadlineDuringRefresh(t *testing.T) {
	api := newFakeAPI(t)
	api.set(func(a *fakeAPI) {
		a.refreshToken, a.nextAccess, a.nextRefresh = "R", "A2", "R2"
		a.refreshDelay = time.Second
	})
	store := NewMemoryStore()
	seed(t, store, Bundle{AccessToken: "A", RefreshToken: "R"})
	var h handlerCounter
	s := newTestSession(t, api.URL, store, WithUnauthorizedHandler(h.fn()))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL("/courses/list"), nil)
	require.NoError(t, err)

	began := time.Now()
	resp, err := s.HTTPClient().Do(req)
	assert.Less(t, time.Since(began), 800*time.Millisecond, "request outlived its deadline")
	if err == nil {
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.False(t, SessionRefreshed(resp))
	}

	require.Eventually(t, func() bool {
		return s.Credentials(context.Background()).AccessToken == "A2"
	}, 3*time.Second, 10*time.Millisecond)
	assert.Zero(t, h.count())
}

func TestTransport_RetryAfterRefresh(t *testing.T) {
	var bodies []string
	api := newFakeAPI(t)
	api.set(func(a *fakeAPI) { a.refreshToken, a.nextAccess, a.nextRefresh = "R", "A2", "R2" })

	// echo endpoint that needs the new token and records the body it saw
	mux := http.NewServeMux()
	mux.Handle("/", api.Config.Handler)
	mux.HandleFunc("/progress/save", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if r.Header.Get("Authorization") != "Bearer A2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store := NewMemoryStore()
	seed(t, store, Bundle{AccessToken: "A", RefreshToken: "R"})
	s := newTestSession(t, server.URL, store, WithRetryAfterRefresh(true))

	resp, err := s.HTTPClient().Post(s.URL("/progress/save"), "text/plain", strings.NewReader("chapter=3"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"chapter=3", "chapter=3"}, bodies)
	assert.EqualValues(t, 1, api.refreshCalls.Load())
}

func TestTransport_BasePathBoundary(t *testing.T) {
	var sawAuth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := NewMemoryStore()
	seed(t, store, Bundle{AccessToken: "A", RefreshToken: "R"})
	s := newTestSession(t, server.URL+"/api/v2", store, WithBoundaryPaths("/public/news"))

	get(t, s, s.URL(PathClassesList))
	assert.Equal(t, "", sawAuth.Load())

	get(t, s, s.URL("/public/news"))
	assert.Equal(t, "", sawAuth.Load())

	get(t, s, s.URL("/courses/list"))
	assert.Equal(t, "Bearer A", sawAuth.Load())
}
