package lmsauth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
)

// ErrInvalidResetCode covers unknown, expired, exhausted and wrong codes.
// Callers are not told which.
var ErrInvalidResetCode = errors.New("invalid or expired reset code")

// sessionKeyResetEmail marks the scs session once a code has been checked
const sessionKeyResetEmail = "reset_email"

// PasswordReset runs the three step reset flow: request a code by email,
// check it, then set a new password. The check and the final step are tied
// together by the scs session.
type PasswordReset struct {
	Users         UserStore
	Codes         ResetCodeStore
	RefreshTokens RefreshTokenStore // optional, revoked after a reset
	Email         SendEmail
	Sessions      *scs.SessionManager

	Logger *slog.Logger
	Now    func() time.Time
}

func (p *PasswordReset) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *PasswordReset) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HandleRequestReset handles POST /request-password-reset. The response is
// the same whether or not the email belongs to an account.
func (p *PasswordReset) HandleRequestReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		errorResponse(w, "invalid_request", "Email required", http.StatusBadRequest)
		return
	}
	email := normalizeEmail(req.Email)
	ctx := r.Context()

	if _, err := p.Users.GetUserByEmail(email); err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			p.logger().ErrorContext(ctx, "reset lookup failed", "error", err)
		}
		jsonResponse(w, http.StatusOK, map[string]string{"message": "If the email is registered, a code has been sent"})
		return
	}

	code, err := GenerateResetCode()
	if err != nil {
		p.logger().ErrorContext(ctx, "generating reset code failed", "error", err)
		errorResponse(w, "server_error", "Failed to start reset", http.StatusInternalServerError)
		return
	}
	now := p.now()
	if err := p.Codes.SaveResetCode(&ResetCode{
		Email:     email,
		CodeHash:  HashResetCode(email, code),
		CreatedAt: now,
		ExpiresAt: now.Add(ResetCodeExpiry),
	}); err != nil {
		p.logger().ErrorContext(ctx, "saving reset code failed", "error", err)
		errorResponse(w, "server_error", "Failed to start reset", http.StatusInternalServerError)
		return
	}
	if err := p.Email.SendPasswordResetCode(ctx, email, code); err != nil {
		p.logger().ErrorContext(ctx, "sending reset code failed", "error", err)
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "If the email is registered, a code has been sent"})
}

// HandleCheckCode handles POST /check-code-for-reset
func (p *PasswordReset) HandleCheckCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Code == "" {
		errorResponse(w, "invalid_request", "Email and code required", http.StatusBadRequest)
		return
	}
	email := normalizeEmail(req.Email)

	if err := p.verify(r, email, req.Code); err != nil {
		p.codeError(w, r, err)
		return
	}
	p.Sessions.Put(r.Context(), sessionKeyResetEmail, email)
	jsonResponse(w, http.StatusOK, map[string]bool{"valid": true})
}

// HandleResetPassword handles POST /reset-password
func (p *PasswordReset) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Code     string `json:"code"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Code == "" {
		errorResponse(w, "invalid_request", "Email and code required", http.StatusBadRequest)
		return
	}
	email := normalizeEmail(req.Email)
	ctx := r.Context()

	if p.Sessions.GetString(ctx, sessionKeyResetEmail) != email {
		errorResponse(w, "reset_not_verified", "Check the reset code first", http.StatusForbidden)
		return
	}
	if len(req.Password) < 8 {
		errorResponse(w, "invalid_request", "password must be at least 8 characters", http.StatusBadRequest)
		return
	}
	if err := p.verify(r, email, req.Code); err != nil {
		p.codeError(w, r, err)
		return
	}

	user, err := p.Users.GetUserByEmail(email)
	if err != nil {
		p.codeError(w, r, ErrInvalidResetCode)
		return
	}
	hash, err := HashPassword(req.Password)
	if err == nil {
		err = p.Users.UpdatePassword(user.ID, hash)
	}
	if err != nil {
		p.logger().ErrorContext(ctx, "password update failed", "error", err)
		errorResponse(w, "server_error", "Failed to update password", http.StatusInternalServerError)
		return
	}

	if err := p.Codes.DeleteResetCode(email); err != nil {
		p.logger().WarnContext(ctx, "deleting reset code failed", "error", err)
	}
	p.Sessions.Remove(ctx, sessionKeyResetEmail)
	if p.RefreshTokens != nil {
		if err := p.RefreshTokens.RevokeUserTokens(user.Username); err != nil {
			p.logger().WarnContext(ctx, "revoking sessions after reset failed", "error", err)
		}
	}

	p.logger().InfoContext(ctx, "password reset", "username", user.Username)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "Password updated"})
}

// verify checks code against the stored hash. Wrong guesses count against
// the code; expired or exhausted codes are removed.
func (p *PasswordReset) verify(r *http.Request, email, code string) error {
	stored, err := p.Codes.GetResetCode(email)
	if err != nil {
		if errors.Is(err, ErrResetCodeNotFound) {
			return ErrInvalidResetCode
		}
		return err
	}

	if stored.IsExpired(p.now()) || stored.Attempts >= ResetCodeMaxAttempts {
		if err := p.Codes.DeleteResetCode(email); err != nil {
			p.logger().WarnContext(r.Context(), "deleting stale reset code failed", "error", err)
		}
		return ErrInvalidResetCode
	}

	if !matchResetCode(stored, code) {
		stored.Attempts++
		if err := p.Codes.SaveResetCode(stored); err != nil {
			return err
		}
		return ErrInvalidResetCode
	}
	return nil
}

func (p *PasswordReset) codeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrInvalidResetCode) {
		errorResponse(w, "invalid_code", ErrInvalidResetCode.Error(), http.StatusBadRequest)
		return
	}
	p.logger().ErrorContext(r.Context(), "reset code check failed", "error", err)
	errorResponse(w, "server_error", "Failed to check code", http.StatusInternalServerError)
}

func jsonResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
