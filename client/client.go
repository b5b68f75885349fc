package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultUnauthorizedDebounce is how close together two session-ended
// notifications may be before the second is dropped.
const DefaultUnauthorizedDebounce = time.Second

// Session owns the credential bundle for one API and drives the refresh
// protocol. It is safe for concurrent use.
type Session struct {
	baseURL       *url.URL
	store         *SecureStore
	inspector     *Inspector
	logger        *slog.Logger
	httpClient    *http.Client
	baseTransport http.RoundTripper
	boundary      *boundary
	unauthorized  *notifier
	refreshGroup  singleflight.Group
	refreshMu     sync.Mutex

	// set by options
	backend           KeyValueStore
	clock             func() time.Time
	timeout           time.Duration
	jar               http.CookieJar
	debounce          time.Duration
	handler           func()
	extraBoundary     []string
	retryAfterRefresh bool
}

// ClientOption configures a Session
type ClientOption func(*Session)

// WithHTTPClient sets a custom base HTTP client (for timeouts, TLS config, etc.)
// Its transport is wrapped by the auth pipeline.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(s *Session) {
		if client == nil {
			return
		}
		if client.Transport != nil {
			s.baseTransport = client.Transport
		}
		s.timeout = client.Timeout
		if client.Jar != nil {
			s.jar = client.Jar
		}
	}
}

// WithTransport sets the base transport (for connection pooling, proxies, etc.)
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(s *Session) {
		s.baseTransport = transport
	}
}

// WithCookieJar replaces the default in-memory cookie jar.
func WithCookieJar(jar http.CookieJar) ClientOption {
	return func(s *Session) {
		s.jar = jar
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithClock overrides the clock used for expiry checks.
func WithClock(now func() time.Time) ClientOption {
	return func(s *Session) {
		s.clock = now
	}
}

// WithUnauthorizedHandler registers the session-ended handler at construction.
func WithUnauthorizedHandler(fn func()) ClientOption {
	return func(s *Session) {
		s.handler = fn
	}
}

// WithUnauthorizedDebounce drops session-ended notifications that arrive
// within d of the previous one. Zero disables debouncing.
func WithUnauthorizedDebounce(d time.Duration) ClientOption {
	return func(s *Session) {
		s.debounce = d
	}
}

// WithRetryAfterRefresh makes the pipeline replay a request once after a
// successful refresh instead of handing the stale 401 back to the caller.
func WithRetryAfterRefresh(retry bool) ClientOption {
	return func(s *Session) {
		s.retryAfterRefresh = retry
	}
}

// WithBoundaryPaths adds paths to the auth-boundary table.
func WithBoundaryPaths(paths ...string) ClientOption {
	return func(s *Session) {
		s.extraBoundary = append(s.extraBoundary, paths...)
	}
}

// NewSession creates a session for the API rooted at baseURL, keeping its
// credentials in backend.
func NewSession(baseURL string, backend KeyValueStore, opts ...ClientOption) (*Session, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host required", baseURL)
	}
	if backend == nil {
		backend = NewMemoryStore()
	}

	s := &Session{
		baseURL:       u,
		backend:       backend,
		baseTransport: http.DefaultTransport,
		debounce:      DefaultUnauthorizedDebounce,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		s.jar = jar
	}

	s.store = NewSecureStore(s.backend, s.logger)
	s.inspector = NewInspector(s.clock)
	s.boundary = newBoundary(u, DefaultBoundaryPaths)
	s.boundary.add(s.extraBoundary...)
	s.unauthorized = newNotifier(s.debounce, s.logger)
	s.unauthorized.set(s.handler)

	s.httpClient = &http.Client{
		Transport: &Transport{session: s, base: s.baseTransport},
		Jar:       s.jar,
		Timeout:   s.timeout,
	}
	return s, nil
}

// HTTPClient returns the client wrapped with the auth pipeline. Use it for
// every call to the API.
func (s *Session) HTTPClient() *http.Client {
	return s.httpClient
}

// BaseURL returns the API root this session talks to.
func (s *Session) BaseURL() string {
	return s.baseURL.String()
}

// URL resolves an API path (optionally with a query string) against the base URL.
func (s *Session) URL(path string) string {
	u := *s.baseURL
	rawQuery := ""
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path, rawQuery = path[:i], path[i+1:]
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + normalizePath(path)
	u.RawPath = ""
	u.RawQuery = rawQuery
	return u.String()
}

// Store returns the fail-safe credential store.
func (s *Session) Store() *SecureStore {
	return s.store
}

// Inspector returns the token inspector used by this session.
func (s *Session) Inspector() *Inspector {
	return s.inspector
}

// RegisterUnauthorizedHandler sets the single session-ended handler,
// replacing any previous one. Pass nil to remove it.
func (s *Session) RegisterUnauthorizedHandler(fn func()) {
	s.unauthorized.set(fn)
}

// Login authenticates with username/password and stores the returned bundle.
func (s *Session) Login(ctx context.Context, username, password string) (*Result, error) {
	res, err := s.postJSON(ctx, PathLogin, map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	s.storeTokens(ctx, res)
	return res, nil
}

// ExchangeToken trades an identity provider access token (Google, GitHub)
// for an LMS session and stores the returned bundle.
func (s *Session) ExchangeToken(ctx context.Context, provider, accessToken string) (*Result, error) {
	res, err := s.postJSON(ctx, PathExchangeToken, map[string]string{
		"provider":    provider,
		"accessToken": accessToken,
	})
	if err != nil {
		return nil, err
	}
	s.storeTokens(ctx, res)
	return res, nil
}

// SignupStudent creates a student account and stores the returned bundle.
func (s *Session) SignupStudent(ctx context.Context, req SignupRequest) (*Result, error) {
	return s.signup(ctx, PathStudentSignup, req)
}

// SignupDriver creates a driver account and stores the returned bundle.
func (s *Session) SignupDriver(ctx context.Context, req SignupRequest) (*Result, error) {
	return s.signup(ctx, PathDriverSignup, req)
}

func (s *Session) signup(ctx context.Context, path string, req SignupRequest) (*Result, error) {
	res, err := s.postJSON(ctx, path, req)
	if err != nil {
		return nil, err
	}
	s.storeTokens(ctx, res)
	return res, nil
}

// RequestPasswordReset asks the server to send a reset code to email.
func (s *Session) RequestPasswordReset(ctx context.Context, email string) (*Result, error) {
	return s.postJSON(ctx, PathRequestPasswordReset, map[string]string{"email": email})
}

// CheckResetCode verifies a reset code before the new password is chosen.
func (s *Session) CheckResetCode(ctx context.Context, email, code string) (*Result, error) {
	return s.postJSON(ctx, PathCheckResetCode, map[string]string{"email": email, "code": code})
}

// ResetPassword completes the reset flow.
func (s *Session) ResetPassword(ctx context.Context, email, code, newPassword string) (*Result, error) {
	return s.postJSON(ctx, PathResetPassword, map[string]string{
		"email":    email,
		"code":     code,
		"password": newPassword,
	})
}

// Logout removes the stored credentials.
func (s *Session) Logout(ctx context.Context) {
	s.store.ClearBundle(ctx)
}

// Credentials returns the stored bundle.
func (s *Session) Credentials(ctx context.Context) Bundle {
	return s.store.LoadBundle(ctx)
}

// Subject returns the username carried by the stored access token.
func (s *Session) Subject(ctx context.Context) (string, error) {
	token, ok := s.store.Get(ctx, KeyToken)
	if !ok {
		return "", ErrNoSession
	}
	claims, err := s.inspector.Decode(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// IsLoggedIn returns true if there is an unexpired access token.
func (s *Session) IsLoggedIn(ctx context.Context) bool {
	token, ok := s.store.Get(ctx, KeyToken)
	return ok && !s.inspector.IsExpired(token)
}

// storeTokens persists the bundle from a successful token response.
func (s *Session) storeTokens(ctx context.Context, res *Result) {
	if !res.OK {
		return
	}
	var tr TokenResponse
	if err := res.Decode(&tr); err != nil {
		s.logger.WarnContext(ctx, "token response could not be decoded", "error", err)
		return
	}
	if tr.AccessToken == "" {
		s.logger.WarnContext(ctx, "token response without access token", "status", res.Status)
		return
	}
	if !s.store.SaveBundle(ctx, tr.Bundle()) {
		s.logger.WarnContext(ctx, "credentials could not be persisted")
	}
}

// postJSON sends body through the pipeline and wraps the reply in a Result.
// The error is only set for encoding or transport failures.
func (s *Session) postJSON(ctx context.Context, path string, body any) (*Result, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL(path), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &Result{
		OK:     resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status: resp.StatusCode,
		Data:   rawJSON(data),
	}, nil
}

// rawJSON keeps JSON bodies as-is and quotes anything else.
func rawJSON(data []byte) json.RawMessage {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	if json.Valid(data) {
		return json.RawMessage(data)
	}
	quoted, _ := json.Marshal(string(data))
	return json.RawMessage(quoted)
}
