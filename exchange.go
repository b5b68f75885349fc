package lmsauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// ErrIdentityRejected is returned by an IdentityProvider that does not
// accept the presented token.
var ErrIdentityRejected = errors.New("identity provider rejected token")

// ExternalIdentity is what a third party identity provider vouches for
type ExternalIdentity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// IdentityProvider resolves a provider access token (from a Google or GitHub
// sign-in on the device) to the identity behind it.
type IdentityProvider interface {
	Name() string
	Identify(ctx context.Context, accessToken string) (*ExternalIdentity, error)
}

// HandleExchangeToken handles POST /users/exchange-token. A provider access
// token whose verified email belongs to an existing account is exchanged for
// a fresh LMS token bundle. Accounts are never created here.
func (a *APIAuth) HandleExchangeToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider    string `json:"provider"`
		AccessToken string `json:"accessToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, "invalid_request", "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Provider == "" || req.AccessToken == "" {
		errorResponse(w, "invalid_request", "Provider and access token required", http.StatusBadRequest)
		return
	}
	provider, ok := a.IdentityProviders[strings.ToLower(req.Provider)]
	if !ok {
		errorResponse(w, "invalid_request", "Unsupported provider", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	identity, err := provider.Identify(ctx, req.AccessToken)
	if err != nil {
		if errors.Is(err, ErrIdentityRejected) {
			a.logger().InfoContext(ctx, "provider token rejected", "provider", provider.Name(), "error", err)
			errorResponse(w, "invalid_grant", "Provider token rejected", http.StatusUnauthorized)
			return
		}
		a.logger().ErrorContext(ctx, "identity provider unavailable", "provider", provider.Name(), "error", err)
		errorResponse(w, "temporarily_unavailable", "Identity provider unavailable", http.StatusBadGateway)
		return
	}
	if identity.Email == "" || !identity.EmailVerified {
		errorResponse(w, "invalid_grant", "Provider did not return a verified email", http.StatusUnauthorized)
		return
	}

	user, err := a.Users.GetUserByEmail(strings.ToLower(identity.Email))
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			a.logger().ErrorContext(ctx, "exchange lookup failed", "error", err)
		}
		if a.OnLoginFailure != nil {
			a.OnLoginFailure(identity.Email, r, err)
		}
		errorResponse(w, "invalid_grant", "No account for this identity", http.StatusUnauthorized)
		return
	}

	a.logger().InfoContext(ctx, "provider token exchanged", "provider", provider.Name(), "username", user.Username)
	if a.OnLoginSuccess != nil {
		a.OnLoginSuccess(user.Username, r)
	}
	a.issue(w, r, user, "", 0, http.StatusOK)
}
