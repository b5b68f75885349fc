// Package oauth2 provides identity providers for the token exchange
// endpoint. Each provider takes an access token the device obtained from the
// provider's own sign-in and asks the provider's userinfo API who it belongs
// to.
package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"

	lms "github.com/lmsapp/lmsauth"
)

// BaseOAuth2 holds what every provider shares
type BaseOAuth2 struct {
	ProviderName string

	// UserInfoURL is the URL to fetch user info from. Can be overridden for
	// testing.
	UserInfoURL string

	// HTTPClient is used for userinfo calls; nil means http.DefaultClient
	HTTPClient *http.Client

	Endpoint oauth2.Endpoint
	Scopes   []string

	Logger *slog.Logger
}

// Name implements lms.IdentityProvider
func (b *BaseOAuth2) Name() string {
	return b.ProviderName
}

// AuthConfig returns the authorization code flow config for front ends that
// sign users in with this provider before calling the exchange endpoint.
func (b *BaseOAuth2) AuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     b.Endpoint,
		Scopes:       b.Scopes,
	}
}

func (b *BaseOAuth2) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

// fetch GETs url with the provider token and decodes the JSON reply into v.
// 401 and 403 mean the token was not accepted.
func (b *BaseOAuth2) fetch(ctx context.Context, url, accessToken string, v any) error {
	if b.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, b.HTTPClient)
	}
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed getting user info from %s: %w", b.ProviderName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		b.logger().DebugContext(ctx, "provider refused token", "provider", b.ProviderName, "status", resp.StatusCode)
		return fmt.Errorf("%w: %s returned %d", lms.ErrIdentityRejected, b.ProviderName, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%s userinfo returned %d", b.ProviderName, resp.StatusCode)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse user info: %w", err)
	}
	return nil
}
