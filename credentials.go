package lmsauth

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lmsapp/lmsauth/client"
)

var (
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	emailRegex    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// SignupValidator validates a signup payload before the account is created
type SignupValidator func(req *client.SignupRequest) error

// DefaultSignupValidator provides sensible default validation for signup
var DefaultSignupValidator SignupValidator = func(req *client.SignupRequest) error {
	// Username: 3-20 chars, alphanumeric + underscore + hyphen
	if len(req.Username) < 3 || len(req.Username) > 20 {
		return fmt.Errorf("username must be 3-20 characters")
	}
	if !usernameRegex.MatchString(req.Username) {
		return fmt.Errorf("username can only contain letters, numbers, underscores, and hyphens")
	}

	if req.Email == "" && req.Phone == "" {
		return fmt.Errorf("email or phone required")
	}
	if req.Email != "" && !emailRegex.MatchString(req.Email) {
		return fmt.Errorf("invalid email format")
	}

	// Phone format check if provided (basic check - apps can customize)
	if req.Phone != "" {
		cleaned := strings.NewReplacer("-", "", " ", "", "(", "", ")", "").Replace(req.Phone)
		if len(cleaned) < 10 {
			return fmt.Errorf("invalid phone number")
		}
	}

	if len(req.Password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	return nil
}

// DetectUsernameType attempts to detect what type of login name was provided.
// Returns "email" or "username".
func DetectUsernameType(username string) string {
	if strings.Contains(username, "@") {
		return "email"
	}
	return "username"
}
