// Package server exposes the HTTP API: auth, catalog CRUD, and the
// borrow/return/penalty operations of the lending engine.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"libris/internal/app"
	"libris/internal/ratelimit"
	"libris/internal/util"
	"libris/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App

	RedisAddr     string
	RedisPassword string

	RegisterRateLimitPerMinute int
	LoginRateLimitPerMinute    int
	TrustedProxyCIDRs          []string
}

// Server exposes HTTP endpoints for the backend.
type Server struct {
	app             *app.App
	mux             *http.ServeMux
	trustedProxies  *util.TrustedProxies
	registerLimiter *ratelimit.FixedWindowLimiter
	loginLimiter    *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured. Rate limiting is
// active only when a Redis address is configured.
func New(cfg Config) (*Server, error) {
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}

	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		trustedProxies: trusted,
	}

	if cfg.RedisAddr != "" {
		registerLimit := cfg.RegisterRateLimitPerMinute
		if registerLimit <= 0 {
			registerLimit = 5
		}
		loginLimit := cfg.LoginRateLimitPerMinute
		if loginLimit <= 0 {
			loginLimit = 10
		}
		s.registerLimiter, err = ratelimit.NewRedisFixedWindowLimiter(
			cfg.RedisAddr, cfg.RedisPassword, "libris:ratelimit:register", registerLimit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init register limiter: %w", err)
		}
		s.loginLimiter, err = ratelimit.NewRedisFixedWindowLimiter(
			cfg.RedisAddr, cfg.RedisPassword, "libris:ratelimit:login", loginLimit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init login limiter: %w", err)
		}
	} else {
		slog.Warn("rate limiting disabled: no redis address configured")
	}

	s.routes()
	return s, nil
}

// Router returns the configured handler with middleware applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/register", s.handleRegister)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout)
	s.mux.Handle("/api/users/me", s.authenticated(s.handleMe))

	// catalog
	s.mux.Handle("/api/books", s.authenticated(s.handleBooks))
	s.mux.Handle("/api/books/", s.authenticated(s.handleBookByID))
	s.mux.Handle("/api/authors", s.authenticated(s.handleNamedCollection(s.authorResource())))
	s.mux.Handle("/api/authors/", s.authenticated(s.handleNamedItem("/api/authors/", s.authorResource())))
	s.mux.Handle("/api/categories", s.authenticated(s.handleNamedCollection(s.categoryResource())))
	s.mux.Handle("/api/categories/", s.authenticated(s.handleNamedItem("/api/categories/", s.categoryResource())))

	// lending (member)
	s.mux.Handle("/api/borrow", s.authenticated(s.handleBorrow))
	s.mux.Handle("/api/my/transactions", s.authenticated(s.handleMyTransactions))
	s.mux.Handle("/api/my/transactions/", s.authenticated(s.handleReturn))
	s.mux.Handle("/api/my/penalties", s.authenticated(s.handleMyPenalties))
	s.mux.Handle("/api/my/penalties/", s.authenticated(s.handlePayPenalty))
	s.mux.Handle("/api/my/stats", s.authenticated(s.handleMyStats))

	// admin
	s.mux.Handle("/api/admin/users", s.adminOnly(s.handleAdminUsers))
	s.mux.Handle("/api/admin/users/", s.adminOnly(s.handleAdminUserByID))
	s.mux.Handle("/api/admin/transactions", s.adminOnly(s.handleAdminTransactions))
	s.mux.Handle("/api/admin/transactions/", s.adminOnly(s.handleAdminTransactionByID))
	s.mux.Handle("/api/admin/penalties", s.adminOnly(s.handleAdminPenalties))
	s.mux.Handle("/api/admin/penalties/", s.adminOnly(s.handleAdminPenaltyByID))
	s.mux.Handle("/api/admin/stats", s.adminOnly(s.handleAdminStats))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if user.Role != domain.RoleAdmin {
			s.audit(r, "authorize.admin", "forbidden", "user_id", user.ID)
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return domain.User{}, false
	}
	return s.app.UserFromToken(token)
}

// auth handlers
type registerRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.registerLimiter, "too many registration attempts") {
		return
	}
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := s.app.Register(req.FullName, req.Email, req.Password)
	if err != nil {
		s.audit(r, "auth.register", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "auth.register", "success", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := s.app.Login(req.Email, req.Password)
	if err != nil {
		s.audit(r, "auth.login", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "auth.login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.app.Logout(token); err != nil {
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// helpers

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return "", false
	}
	return header[len(prefix):], true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError maps domain and application failures to status codes.
// Every domain-rule violation stays a 4xx with its own message so the UI
// can tell them apart; only infrastructure failures become 500s.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrBookNotFound),
		errors.Is(err, domain.ErrTransactionNotFound),
		errors.Is(err, domain.ErrPenaltyNotFound),
		errors.Is(err, app.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNotOwner):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrOutOfStock),
		errors.Is(err, domain.ErrAlreadyBorrowed),
		errors.Is(err, domain.ErrUnpaidPenalty),
		errors.Is(err, domain.ErrAlreadyReturned),
		errors.Is(err, app.ErrInvalidInput),
		errors.Is(err, app.ErrEmailTaken):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		slog.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	fields := append([]any{
		"event", event,
		"outcome", outcome,
		"request_id", util.RequestIDFromRequest(r),
		"client_ip", util.ClientIP(r, s.trustedProxies),
	}, attrs...)
	slog.Info("audit", fields...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	if limiter.Allow(util.ClientIP(r, s.trustedProxies)) {
		return true
	}
	s.audit(r, "ratelimit", "blocked", "path", r.URL.Path)
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}
