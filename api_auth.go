package lmsauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/lmsapp/lmsauth/client"
)

var errWrongPassword = errors.New("wrong password")

// ErrorResponse is the OAuth 2.0 style error body
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// APIAuth issues and rotates token bundles for the LMS API
type APIAuth struct {
	// Stores
	Users         UserStore
	RefreshTokens RefreshTokenStore

	// JWT configuration
	JWTSecretKey string // Secret key for signing JWTs
	JWTIssuer    string // Issuer claim (e.g., "lms")

	// Token configuration
	AccessTokenExpiry  time.Duration // Defaults to 15 minutes
	RefreshTokenExpiry time.Duration // Defaults to 7 days

	// ValidateSignup defaults to DefaultSignupValidator
	ValidateSignup SignupValidator

	// IdentityProviders back /users/exchange-token, keyed by lowercase name
	IdentityProviders map[string]IdentityProvider

	// Callbacks
	OnLoginSuccess func(username string, r *http.Request)
	OnLoginFailure func(username string, r *http.Request, err error)

	Logger *slog.Logger
	Now    func() time.Time
}

type accessClaims struct {
	Type string `json:"type"`
	Role Role   `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type refreshClaims struct {
	Type   string `json:"type"`
	Family string `json:"fam"`
	jwt.RegisteredClaims
}

func (a *APIAuth) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *APIAuth) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

func (a *APIAuth) accessExpiry() time.Duration {
	if a.AccessTokenExpiry > 0 {
		return a.AccessTokenExpiry
	}
	return TokenExpiryAccessToken
}

func (a *APIAuth) refreshExpiry() time.Duration {
	if a.RefreshTokenExpiry > 0 {
		return a.RefreshTokenExpiry
	}
	return TokenExpiryRefreshToken
}

// HandleLogin handles POST /users/login
func (a *APIAuth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, "invalid_request", "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		errorResponse(w, "invalid_request", "Username and password required", http.StatusBadRequest)
		return
	}

	user, err := lookupUser(a.Users, req.Username)
	if err == nil && !CheckPassword(user.PasswordHash, req.Password) {
		err = errWrongPassword
	}
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) && !errors.Is(err, errWrongPassword) {
			a.logger().ErrorContext(r.Context(), "login lookup failed", "error", err)
		}
		if a.OnLoginFailure != nil {
			a.OnLoginFailure(req.Username, r, err)
		}
		errorResponse(w, "invalid_grant", "Invalid credentials", http.StatusUnauthorized)
		return
	}

	if a.OnLoginSuccess != nil {
		a.OnLoginSuccess(user.Username, r)
	}
	a.issue(w, r, user, "", 0, http.StatusOK)
}

// HandleStudentSignup handles POST /students/signup
func (a *APIAuth) HandleStudentSignup(w http.ResponseWriter, r *http.Request) {
	a.handleSignup(w, r, RoleStudent)
}

// HandleDriverSignup handles POST /driver/signup
func (a *APIAuth) HandleDriverSignup(w http.ResponseWriter, r *http.Request) {
	a.handleSignup(w, r, RoleDriver)
}

func (a *APIAuth) handleSignup(w http.ResponseWriter, r *http.Request, role Role) {
	var req client.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, "invalid_request", "Invalid request body", http.StatusBadRequest)
		return
	}

	validate := a.ValidateSignup
	if validate == nil {
		validate = DefaultSignupValidator
	}
	if err := validate(&req); err != nil {
		errorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	user, err := newUser(&req, role, a.now())
	if err != nil {
		a.logger().ErrorContext(r.Context(), "signup failed", "error", err)
		errorResponse(w, "server_error", "Failed to create account", http.StatusInternalServerError)
		return
	}
	if err := a.Users.CreateUser(user); err != nil {
		if errors.Is(err, ErrUserExists) {
			errorResponse(w, "user_exists", "Username or email already registered", http.StatusConflict)
			return
		}
		a.logger().ErrorContext(r.Context(), "create user failed", "error", err)
		errorResponse(w, "server_error", "Failed to create account", http.StatusInternalServerError)
		return
	}

	a.logger().InfoContext(r.Context(), "account created", "username", user.Username, "role", role)
	a.issue(w, r, user, "", 0, http.StatusCreated)
}

// HandleRefresh handles POST /users/refresh-token. Every call rotates the
// refresh token; presenting a rotated token revokes its whole family.
func (a *APIAuth) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, "invalid_request", "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.RefreshToken == "" {
		errorResponse(w, "invalid_request", "Refresh token required", http.StatusBadRequest)
		return
	}

	claims, err := a.parseRefreshToken(req.RefreshToken)
	if err != nil {
		errorResponse(w, "invalid_grant", "Invalid refresh token", http.StatusUnauthorized)
		return
	}

	current, err := a.RefreshTokens.GetRefreshToken(claims.ID)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			errorResponse(w, "invalid_grant", "Invalid refresh token", http.StatusUnauthorized)
		} else {
			a.logger().ErrorContext(r.Context(), "refresh token lookup failed", "error", err)
			errorResponse(w, "server_error", "Failed to validate token", http.StatusInternalServerError)
		}
		return
	}
	if current.Revoked {
		a.revokeFamily(r.Context(), current)
		errorResponse(w, "invalid_grant", "Token reuse detected, all sessions revoked", http.StatusUnauthorized)
		return
	}

	user, err := a.Users.GetUserByUsername(current.Username)
	if err != nil {
		errorResponse(w, "invalid_grant", "Account no longer exists", http.StatusUnauthorized)
		return
	}

	a.issue(w, r, user, current.Family, current.Generation+1, http.StatusOK, current.ID)
}

func (a *APIAuth) revokeFamily(ctx context.Context, token *RefreshToken) {
	a.logger().WarnContext(ctx, "refresh token reuse, revoking family",
		"username", token.Username, "family", token.Family)
	if err := a.RefreshTokens.RevokeTokenFamily(token.Family); err != nil {
		a.logger().ErrorContext(ctx, "revoking token family failed", "error", err)
	}
}

// issue creates a refresh token (new family when family is empty, else a
// rotation of rotateFrom) plus an access token and writes the bundle.
func (a *APIAuth) issue(w http.ResponseWriter, r *http.Request, user *User, family string, generation, status int, rotateFrom ...string) {
	now := a.now()
	if family == "" {
		family = uuid.NewString()
	}
	record := &RefreshToken{
		ID:         uuid.NewString(),
		Family:     family,
		Generation: generation,
		Username:   user.Username,
		CreatedAt:  now,
		ExpiresAt:  now.Add(a.refreshExpiry()),
	}

	var err error
	if len(rotateFrom) > 0 {
		err = a.RefreshTokens.RotateRefreshToken(rotateFrom[0], record)
	} else {
		err = a.RefreshTokens.CreateRefreshToken(record)
	}
	switch {
	case errors.Is(err, ErrTokenReused):
		a.revokeFamily(r.Context(), record)
		errorResponse(w, "invalid_grant", "Token reuse detected, all sessions revoked", http.StatusUnauthorized)
		return
	case errors.Is(err, ErrTokenExpired), errors.Is(err, ErrTokenNotFound):
		errorResponse(w, "invalid_grant", "Token has expired", http.StatusUnauthorized)
		return
	case err != nil:
		a.logger().ErrorContext(r.Context(), "storing refresh token failed", "error", err)
		errorResponse(w, "server_error", "Failed to create session", http.StatusInternalServerError)
		return
	}

	refresh, err := a.createRefreshToken(record)
	if err != nil {
		a.logger().ErrorContext(r.Context(), "signing refresh token failed", "error", err)
		errorResponse(w, "server_error", "Failed to create token", http.StatusInternalServerError)
		return
	}
	access, expiresIn, err := a.createAccessToken(user, now)
	if err != nil {
		a.logger().ErrorContext(r.Context(), "signing access token failed", "error", err)
		errorResponse(w, "server_error", "Failed to create token", http.StatusInternalServerError)
		return
	}

	tokenResponse(w, status, client.TokenResponse{
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresIn:        client.Seconds(expiresIn),
		RefreshExpiresIn: client.Seconds(a.refreshExpiry().Seconds()),
		TokenType:        "Bearer",
	})
}

// createAccessToken creates a signed JWT access token
func (a *APIAuth) createAccessToken(user *User, now time.Time) (string, int64, error) {
	expiry := a.accessExpiry()
	claims := accessClaims{
		Type: tokenTypeAccess,
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			Issuer:    a.JWTIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.JWTSecretKey))
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, int64(expiry.Seconds()), nil
}

func (a *APIAuth) createRefreshToken(record *RefreshToken) (string, error) {
	claims := refreshClaims{
		Type:   tokenTypeRefresh,
		Family: record.Family,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        record.ID,
			Subject:   record.Username,
			Issuer:    a.JWTIssuer,
			IssuedAt:  jwt.NewNumericDate(record.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(record.ExpiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.JWTSecretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (a *APIAuth) parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	}
	if a.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(a.JWTIssuer))
	}
	return opts
}

func (a *APIAuth) keyFunc(*jwt.Token) (any, error) {
	return []byte(a.JWTSecretKey), nil
}

func (a *APIAuth) parseRefreshToken(tokenString string) (*refreshClaims, error) {
	var claims refreshClaims
	if _, err := jwt.ParseWithClaims(tokenString, &claims, a.keyFunc, a.parserOptions()...); err != nil {
		return nil, err
	}
	if claims.Type != tokenTypeRefresh {
		return nil, fmt.Errorf("invalid token type")
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("missing token id")
	}
	return &claims, nil
}

// ValidateAccessToken validates a JWT access token and returns its subject
// and role
func (a *APIAuth) ValidateAccessToken(tokenString string) (username string, role Role, err error) {
	var claims accessClaims
	if _, err := jwt.ParseWithClaims(tokenString, &claims, a.keyFunc, a.parserOptions()...); err != nil {
		return "", "", err
	}
	if claims.Type != tokenTypeAccess {
		return "", "", fmt.Errorf("invalid token type")
	}
	if claims.Subject == "" {
		return "", "", fmt.Errorf("missing subject")
	}
	return claims.Subject, claims.Role, nil
}

// VerifyToken has the shape the gRPC auth interceptors expect
func (a *APIAuth) VerifyToken(_ context.Context, token string) (string, error) {
	username, _, err := a.ValidateAccessToken(token)
	return username, err
}

// Middleware returns an APIMiddleware that validates tokens issued by a
func (a *APIAuth) Middleware() *APIMiddleware {
	return &APIMiddleware{Validate: a.ValidateAccessToken}
}

// tokenResponse sends a successful token response
func tokenResponse(w http.ResponseWriter, status int, resp client.TokenResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// errorResponse sends an OAuth 2.0 compliant error response
func errorResponse(w http.ResponseWriter, errorCode, description string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:            errorCode,
		ErrorDescription: description,
	})
}

// ============================================================================
// APIMiddleware - bearer token validation
// ============================================================================

type apiContextKey string

const (
	contextKeyUsername apiContextKey = "api_username"
	contextKeyRole     apiContextKey = "api_role"
)

// UsernameFromContext retrieves the authenticated username set by APIMiddleware
func UsernameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyUsername).(string); ok {
		return v
	}
	return ""
}

// RoleFromContext retrieves the authenticated role set by APIMiddleware
func RoleFromContext(ctx context.Context) Role {
	if v, ok := ctx.Value(contextKeyRole).(Role); ok {
		return v
	}
	return ""
}

// APIMiddleware provides middleware for validating access tokens
type APIMiddleware struct {
	Validate func(token string) (username string, role Role, err error)

	// Error handling
	OnAuthError func(w http.ResponseWriter, r *http.Request, err error)
}

// RequireBearer rejects requests without a valid access token
func (m *APIMiddleware) RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, role, err := m.validateRequest(r)
		if err != nil {
			m.handleAuthError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyUsername, username)
		ctx = context.WithValue(ctx, contextKeyRole, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Optional allows requests without auth but sets user info if present
func (m *APIMiddleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if username, role, err := m.validateRequest(r); err == nil {
			ctx := context.WithValue(r.Context(), contextKeyUsername, username)
			ctx = context.WithValue(ctx, contextKeyRole, role)
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

func (m *APIMiddleware) validateRequest(r *http.Request) (string, Role, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", "", fmt.Errorf("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", "", fmt.Errorf("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", "", fmt.Errorf("empty token")
	}

	username, role, err := m.Validate(token)
	if err != nil {
		return "", "", fmt.Errorf("invalid token: %w", err)
	}
	return username, role, nil
}

func (m *APIMiddleware) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	if m.OnAuthError != nil {
		m.OnAuthError(w, r, err)
		return
	}
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	errorResponse(w, "unauthorized", err.Error(), http.StatusUnauthorized)
}
