package lmsauth

import (
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"
)

// Server is the reference LMS API: auth endpoints, password reset and the
// catalog, on one router.
type Server struct {
	// Must be passed in
	Users         UserStore
	RefreshTokens RefreshTokenStore
	ResetCodes    ResetCodeStore

	// Optional name used for the JWT issuer and session cookie
	AppName string

	JWTSecretKey       string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration

	// Defaults to ConsoleEmailSender
	Email SendEmail

	// Defaults to SampleCatalog
	Catalog *Catalog

	// Providers accepted by /users/exchange-token
	IdentityProviders []IdentityProvider

	Session *scs.SessionManager
	Logger  *slog.Logger
	Now     func() time.Time

	Auth  *APIAuth
	Reset *PasswordReset

	router *mux.Router
}

// EnsureDefaults fills in unset fields and builds the handlers
func (s *Server) EnsureDefaults() *Server {
	if s.AppName == "" {
		s.AppName = "lms"
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.JWTSecretKey == "" {
		s.JWTSecretKey = strings.TrimSpace(os.Getenv("LMS_JWT_SECRET"))
		if s.JWTSecretKey == "" {
			s.Logger.Warn("no JWT secret configured, using the development default")
			s.JWTSecretKey = "MyTestJWTSecretKey123456"
		}
	}
	if s.Email == nil {
		s.Email = &ConsoleEmailSender{Logger: s.Logger}
	}
	if s.Catalog == nil {
		s.Catalog = SampleCatalog()
	}
	if s.Catalog.Users == nil {
		s.Catalog.Users = s.Users
	}
	if s.Session == nil {
		s.Session = scs.New()
		s.Session.Lifetime = ResetCodeExpiry
		s.Session.Cookie.Name = s.AppName + "_session"
		s.Session.Cookie.HttpOnly = true
		s.Session.Cookie.SameSite = http.SameSiteLaxMode
	}
	if s.Auth == nil {
		providers := make(map[string]IdentityProvider, len(s.IdentityProviders))
		for _, p := range s.IdentityProviders {
			providers[strings.ToLower(p.Name())] = p
		}
		s.Auth = &APIAuth{
			Users:              s.Users,
			RefreshTokens:      s.RefreshTokens,
			JWTSecretKey:       s.JWTSecretKey,
			JWTIssuer:          s.AppName,
			AccessTokenExpiry:  s.AccessTokenExpiry,
			RefreshTokenExpiry: s.RefreshTokenExpiry,
			IdentityProviders:  providers,
			OnLoginSuccess:     s.auditLoginSuccess,
			OnLoginFailure:     s.auditLoginFailure,
			Logger:             s.Logger,
			Now:                s.Now,
		}
	}
	if s.Reset == nil {
		s.Reset = &PasswordReset{
			Users:         s.Users,
			Codes:         s.ResetCodes,
			RefreshTokens: s.RefreshTokens,
			Email:         s.Email,
			Sessions:      s.Session,
			Logger:        s.Logger,
			Now:           s.Now,
		}
	}
	return s
}

// Router returns the gorilla/mux router, building it on first use
func (s *Server) Router() *mux.Router {
	if s.router != nil {
		return s.router
	}
	s.EnsureDefaults()

	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/users/login", s.Auth.HandleLogin).Methods(http.MethodPost)
	r.HandleFunc("/users/refresh-token", s.Auth.HandleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/students/signup", s.Auth.HandleStudentSignup).Methods(http.MethodPost)
	r.HandleFunc("/driver/signup", s.Auth.HandleDriverSignup).Methods(http.MethodPost)
	r.HandleFunc("/users/exchange-token", s.Auth.HandleExchangeToken).Methods(http.MethodPost)

	reset := r.NewRoute().Subrouter()
	reset.Use(s.Session.LoadAndSave)
	reset.HandleFunc("/request-password-reset", s.Reset.HandleRequestReset).Methods(http.MethodPost)
	reset.HandleFunc("/check-code-for-reset", s.Reset.HandleCheckCode).Methods(http.MethodPost)
	reset.HandleFunc("/reset-password", s.Reset.HandleResetPassword).Methods(http.MethodPost)

	mw := s.Auth.Middleware()
	s.Catalog.Register(r, mw.RequireBearer, mw.Optional)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		errorResponse(w, "not_found", "no such endpoint", http.StatusNotFound)
	})
	s.router = r
	return r
}

// Handler implements the http.Handler accessor used by http.Server
func (s *Server) Handler() http.Handler {
	return s.Router()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.Logger.DebugContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

func (s *Server) auditLoginSuccess(username string, r *http.Request) {
	s.Logger.InfoContext(r.Context(), "login succeeded",
		"username", username, "path", r.URL.Path, "remote", r.RemoteAddr)
}

func (s *Server) auditLoginFailure(username string, r *http.Request, err error) {
	s.Logger.WarnContext(r.Context(), "login failed",
		"username", username, "path", r.URL.Path, "remote", r.RemoteAddr, "reason", err)
}
