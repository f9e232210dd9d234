package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"storybookai/internal/ratelimit"
	"storybookai/internal/util"
	"storybookai/pkg/auth"
	"storybookai/pkg/domain"
	"storybookai/services/sandbox/internal/app"
)

const maxBodyBytes = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// RedisClient enables per-client rate limiting when RateLimitPerMinute > 0.
	RedisClient        *redis.Client
	RateLimitPerMinute int
	TrustedProxies     *util.TrustedProxies
}

// Server exposes the storybook REST API backed by the in-memory app.
type Server struct {
	app     *app.App
	mux     *http.ServeMux
	limiter *ratelimit.FixedWindowLimiter
	proxies *util.TrustedProxies
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	s := &Server{
		app:     cfg.App,
		mux:     http.NewServeMux(),
		proxies: cfg.TrustedProxies,
	}
	if cfg.RateLimitPerMinute > 0 {
		limiter, err := ratelimit.NewFixedWindowLimiterFromClient(cfg.RedisClient, "storybook:sandbox:ratelimit", cfg.RateLimitPerMinute, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init limiter: %w", err)
		}
		s.limiter = limiter
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	if s.limiter != nil {
		h = s.rateLimited(h)
	}
	h = util.WithSecurityHeaders(util.WithCORS(h))
	return util.WithRequestID(util.WithRequestLog("sandbox", h))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	s.mux.Handle("GET /api/auth/me", s.authenticated(s.handleMe))
	s.mux.Handle("PUT /api/auth/profile", s.authenticated(s.handleUpdateProfile))

	s.mux.HandleFunc("GET /api/book/discover", s.handleDiscover)
	s.mux.Handle("GET /api/book/history", s.authenticated(s.handleHistory))
	s.mux.Handle("POST /api/book/generate", s.authenticated(s.handleGenerate))
	s.mux.HandleFunc("GET /api/book/{id}", s.handleBook)
	s.mux.Handle("GET /api/book/{id}/status", s.authenticated(s.handleStatus))
	s.mux.HandleFunc("GET /api/book/{id}/cover", s.handleCover)
	s.mux.HandleFunc("GET /api/book/{id}/pdf", s.handlePDF)
	s.mux.Handle("PATCH /api/book/{id}/visibility", s.authenticated(s.handleVisibility))
	s.mux.Handle("DELETE /api/book/{id}", s.authenticated(s.handleDelete))

	s.mux.Handle("POST /api/subscription/sync", s.authenticated(s.handleSubscriptionSync))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			s.audit(r, "sandbox.authorize", "fail")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

// authorize resolves the bearer token; requests without one are anonymous.
func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return domain.User{}, false
	}
	user, err := s.app.Authenticate(token)
	if err != nil {
		return domain.User{}, false
	}
	return user, true
}

// viewerID is the caller's user id, or 0 for anonymous and invalid tokens.
func (s *Server) viewerID(r *http.Request) int64 {
	user, ok := s.authorize(r)
	if !ok {
		return 0
	}
	return user.ID
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password required")
		return
	}
	resp, err := s.app.Login(req.Email, req.Password)
	if err != nil {
		s.audit(r, "sandbox.login", "fail")
		writeAppError(w, err)
		return
	}
	s.audit(r, "sandbox.login", "success", "user_id", resp.UserID)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.app.Register(req.Name, req.Email, req.Password)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, user domain.User) {
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req domain.ProfileUpdate
	if !decodeJSON(w, r, &req) {
		return
	}
	updated, err := s.app.UpdateProfile(user.ID, req.Name)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDiscover(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Discover())
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request, user domain.User) {
	writeJSON(w, http.StatusOK, s.app.History(user.ID))
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req domain.GenerateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, err := s.app.Generate(user, req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.GenerateResponse{BookID: id})
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	detail, err := s.app.Book(s.viewerID(r), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, user domain.User) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	status, err := s.app.Status(user.ID, id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleCover(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	data, err := s.app.Cover(s.viewerID(r), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeBytes(w, http.DetectContentType(data), data)
}

func (s *Server) handlePDF(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	data, err := s.app.PDF(s.viewerID(r), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"book-%d.pdf\"", id))
	writeBytes(w, "application/pdf", data)
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request, user domain.User) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	var req struct {
		IsPublic *bool `json:"isPublic"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.IsPublic == nil {
		writeError(w, http.StatusBadRequest, "isPublic is required")
		return
	}
	if err := s.app.SetVisibility(user.ID, id, *req.IsPublic); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"isPublic": *req.IsPublic})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, user domain.User) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	if err := s.app.DeleteBook(user.ID, id); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleSubscriptionSync(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req struct {
		IsPro bool `json:"isPro"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	updated, err := s.app.SyncSubscription(user.ID, req.IsPro)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		key := util.ClientIP(r, s.proxies)
		if !s.limiter.Allow(r.Context(), key) {
			s.audit(r, "sandbox.ratelimit", "fail")
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.proxies),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func bookID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid book id")
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeBytes(w http.ResponseWriter, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeErrorCode(w, status, msg, "")
}

func writeErrorCode(w http.ResponseWriter, status int, msg, code string) {
	body := map[string]string{"error": msg}
	if code != "" {
		body["code"] = code
	}
	writeJSON(w, status, body)
}

func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrNameRequired),
		errors.Is(err, domain.ErrNameRequired),
		errors.Is(err, domain.ErrUnknownValue),
		errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrPasswordBlank),
		errors.Is(err, auth.ErrPasswordTooShort):
		writeErrorCode(w, http.StatusBadRequest, err.Error(), "invalid_request")
	case errors.Is(err, app.ErrInvalidCredentials):
		writeErrorCode(w, http.StatusUnauthorized, err.Error(), "invalid_credentials")
	case errors.Is(err, app.ErrUnauthorized):
		writeErrorCode(w, http.StatusUnauthorized, err.Error(), "unauthorized")
	case errors.Is(err, domain.ErrOptionLocked):
		writeErrorCode(w, http.StatusForbidden, err.Error(), "premium_required")
	case errors.Is(err, app.ErrForbidden):
		writeErrorCode(w, http.StatusForbidden, err.Error(), "forbidden")
	case errors.Is(err, app.ErrEmailAlreadyExists):
		writeErrorCode(w, http.StatusConflict, err.Error(), "email_exists")
	case errors.Is(err, app.ErrBookNotFound):
		writeErrorCode(w, http.StatusNotFound, err.Error(), "not_found")
	case errors.Is(err, app.ErrNotReady):
		writeErrorCode(w, http.StatusNotFound, err.Error(), "not_ready")
	default:
		slog.Error("sandbox_internal_error", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
