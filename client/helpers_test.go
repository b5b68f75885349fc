package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testNow = time.Unix(1_700_000_000, 0)

func fixedClock() time.Time { return testNow }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// signedToken builds an HS256 JWT. exp == 0 omits the claim.
func signedToken(t *testing.T, sub string, exp int64) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": sub, "type": "access"}
	if exp != 0 {
		claims["exp"] = exp
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

// fakeAPI is a minimal LMS backend. Protected endpoints accept only the
// current access token; the refresh endpoint hands out the next one.
type fakeAPI struct {
	*httptest.Server

	mu            sync.Mutex
	validToken    string
	refreshToken  string
	nextAccess    string
	nextRefresh   string
	refreshStatus int
	refreshDelay  time.Duration

	refreshCalls   atomic.Int32
	protectedCalls atomic.Int32
	lastAuth       atomic.Value
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	api := &fakeAPI{refreshStatus: http.StatusOK}
	mux := http.NewServeMux()

	mux.HandleFunc("/users/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		api.refreshCalls.Add(1)
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		api.mu.Lock()
		delay := api.refreshDelay
		status := api.refreshStatus
		api.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}

		api.mu.Lock()
		defer api.mu.Unlock()
		if status != http.StatusOK || body.RefreshToken != api.refreshToken {
			if status == http.StatusOK {
				status = http.StatusUnauthorized
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant", "error_description": "refresh token rejected"})
			return
		}
		api.validToken = api.nextAccess
		resp := map[string]any{
			"access_token": api.nextAccess,
			"expires_in":   3600,
			"token_type":   "Bearer",
		}
		if api.nextRefresh != "" {
			resp["refresh_token"] = api.nextRefresh
			resp["refresh_expires_in"] = 86400
			api.refreshToken = api.nextRefresh
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("/users/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		api.lastAuth.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		if body.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":       "A",
			"refresh_token":      "R",
			"expires_in":         3600,
			"refresh_expires_in": 86400,
		})
	})

	mux.HandleFunc("/courses/list", func(w http.ResponseWriter, r *http.Request) {
		api.protectedCalls.Add(1)
		auth := r.Header.Get("Authorization")
		api.lastAuth.Store(auth)
		api.mu.Lock()
		ok := api.validToken != "" && auth == "Bearer "+api.validToken
		api.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[{"id":"c1"}]`)
	})

	mux.HandleFunc("/classes/list", func(w http.ResponseWriter, r *http.Request) {
		api.lastAuth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
	})

	api.Server = httptest.NewServer(mux)
	t.Cleanup(api.Close)
	return api
}

func (api *fakeAPI) set(fn func(api *fakeAPI)) {
	api.mu.Lock()
	defer api.mu.Unlock()
	fn(api)
}

func (api *fakeAPI) authHeader() string {
	v, _ := api.lastAuth.Load().(string)
	return v
}

// handlerCounter counts unauthorized notifications.
type handlerCounter struct{ n atomic.Int32 }

func (h *handlerCounter) fn() func() { return func() { h.n.Add(1) } }
func (h *handlerCounter) count() int { return int(h.n.Load()) }

func newTestSession(t *testing.T, baseURL string, store KeyValueStore, opts ...ClientOption) *Session {
	t.Helper()
	opts = append([]ClientOption{WithLogger(quietLogger()), WithUnauthorizedDebounce(0)}, opts...)
	s, err := NewSession(baseURL, store, opts...)
	require.NoError(t, err)
	return s
}

func seed(t *testing.T, store *MemoryStore, b Bundle) {
	t.Helper()
	require.NoError(t, store.SetMany(context.Background(), b.values()))
}

// failingStore errors on every operation.
type failingStore struct{}

var errDiskGone = errors.New("disk gone")

func (failingStore) Get(context.Context, string) (string, error) { return "", errDiskGone }
func (failingStore) Set(context.Context, string, string) error   { return errDiskGone }
func (failingStore) Delete(context.Context, string) error        { return errDiskGone }
