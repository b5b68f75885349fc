package oauth2

import (
	"context"
	"fmt"

	"golang.org/x/oauth2/google"

	lms "github.com/lmsapp/lmsauth"
)

type GoogleOAuth2 struct {
	*BaseOAuth2
}

var _ lms.IdentityProvider = (*GoogleOAuth2)(nil)

func NewGoogleOAuth2() *GoogleOAuth2 {
	return &GoogleOAuth2{
		BaseOAuth2: &BaseOAuth2{
			ProviderName: "google",
			UserInfoURL:  "https://www.googleapis.com/oauth2/v2/userinfo",
			Endpoint:     google.Endpoint,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
		},
	}
}

type googleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
}

// Identify implements lms.IdentityProvider
func (g *GoogleOAuth2) Identify(ctx context.Context, accessToken string) (*lms.ExternalIdentity, error) {
	var info googleUserInfo
	if err := g.fetch(ctx, g.UserInfoURL, accessToken, &info); err != nil {
		return nil, err
	}
	if info.ID == "" {
		return nil, fmt.Errorf("%w: google user info has no id", lms.ErrIdentityRejected)
	}
	return &lms.ExternalIdentity{
		Provider:      g.ProviderName,
		Subject:       info.ID,
		Email:         info.Email,
		EmailVerified: info.VerifiedEmail,
		Name:          info.Name,
	}, nil
}
