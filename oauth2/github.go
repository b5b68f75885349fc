package oauth2

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/oauth2/github"

	lms "github.com/lmsapp/lmsauth"
)

type GithubOAuth2 struct {
	*BaseOAuth2

	// EmailsURL lists the account's addresses when the profile email is
	// private or unverified.
	EmailsURL string
}

var _ lms.IdentityProvider = (*GithubOAuth2)(nil)

func NewGithubOAuth2() *GithubOAuth2 {
	return &GithubOAuth2{
		BaseOAuth2: &BaseOAuth2{
			ProviderName: "github",
			UserInfoURL:  "https://api.github.com/user",
			Endpoint:     github.Endpoint,
			Scopes:       []string{"read:user", "user:email"},
		},
		EmailsURL: "https://api.github.com/user/emails",
	}
}

type githubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// Identify implements lms.IdentityProvider. The email is the primary
// address from the emails API, since the profile email is unverified and
// often empty.
func (g *GithubOAuth2) Identify(ctx context.Context, accessToken string) (*lms.ExternalIdentity, error) {
	var user githubUser
	if err := g.fetch(ctx, g.UserInfoURL, accessToken, &user); err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("%w: github user has no id", lms.ErrIdentityRejected)
	}

	var emails []githubEmail
	if err := g.fetch(ctx, g.EmailsURL, accessToken, &emails); err != nil {
		return nil, err
	}

	identity := &lms.ExternalIdentity{
		Provider: g.ProviderName,
		Subject:  strconv.FormatInt(user.ID, 10),
		Name:     user.Name,
	}
	if identity.Name == "" {
		identity.Name = user.Login
	}
	for _, e := range emails {
		if e.Primary {
			identity.Email = e.Email
			identity.EmailVerified = e.Verified
			break
		}
	}
	return identity, nil
}
