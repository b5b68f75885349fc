package lmsauth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	lms "github.com/lmsapp/lmsauth"
	"github.com/lmsapp/lmsauth/client"
	"github.com/lmsapp/lmsauth/stores/fs"
)

const testSecret = "test-jwt-secret"

// clock is a settable time source shared by server and clients
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Now().Truncate(time.Second)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mailbox captures reset codes instead of sending them
type mailbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (m *mailbox) SendPasswordResetCode(_ context.Context, to, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codes == nil {
		m.codes = make(map[string]string)
	}
	m.codes[to] = code
	return nil
}

func (m *mailbox) code(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[email]
}

type testEnv struct {
	*httptest.Server
	app    *lms.Server
	stores *fs.Stores
	clock  *clock
	mail   *mailbox
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	stores := fs.New(t.TempDir())
	env := &testEnv{stores: stores, clock: newClock(), mail: &mailbox{}}
	env.app = (&lms.Server{
		Users:         stores.Users,
		RefreshTokens: stores.RefreshTokens,
		ResetCodes:    stores.ResetCodes,
		JWTSecretKey:  testSecret,
		Email:         env.mail,
		Logger:        quietLogger(),
		Now:           env.clock.Now,
	}).EnsureDefaults()
	env.Server = httptest.NewServer(env.app.Handler())
	t.Cleanup(env.Close)
	return env
}

// session returns a client session against the env sharing its clock
func (e *testEnv) session(t *testing.T, opts ...client.ClientOption) *client.Session {
	t.Helper()
	opts = append([]client.ClientOption{
		client.WithClock(e.clock.Now),
		client.WithLogger(quietLogger()),
		client.WithUnauthorizedDebounce(0),
	}, opts...)
	s, err := client.NewSession(e.URL, client.NewMemoryStore(), opts...)
	require.NoError(t, err)
	return s
}

// post sends a JSON body without any client-side session handling
func (e *testEnv) post(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (e *testEnv) get(t *testing.T, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) signup(t *testing.T, username, email, password string) client.TokenResponse {
	t.Helper()
	resp, body := e.post(t, "/students/signup", client.SignupRequest{
		Username: username,
		Email:    email,
		Password: password,
		ClassID:  "c10",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	return tokensFrom(t, body)
}

func tokensFrom(t *testing.T, body map[string]any) client.TokenResponse {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	var tr client.TokenResponse
	require.NoError(t, json.Unmarshal(data, &tr))
	return tr
}
