// Package api exposes a small read-only admin HTTP surface over the
// live entity tree: login, a health check, and a rendering of the
// current property tree and recent audit history. It is not part of
// the vDC API protocol — vdSMs never talk to it.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/digitalstrom/vdchost/internal/audit"
	"github.com/digitalstrom/vdchost/internal/auth"
	"github.com/digitalstrom/vdchost/internal/entity"
	"github.com/digitalstrom/vdchost/internal/host"
	"github.com/digitalstrom/vdchost/pkg/secret"
)

type claimsKey struct{}

// Server is the admin HTTP server: a thin, read-only window onto the
// running vdc host.
type Server struct {
	host      *entity.VdcHost
	runtime   *host.Runtime
	auditDB   *audit.Store
	auth      *auth.Manager
	adminUser string
	adminHash string

	router chi.Router
	server *http.Server
}

// New builds a Server. auditDB may be nil when the audit log is
// disabled.
func New(h *entity.VdcHost, rt *host.Runtime, auditDB *audit.Store, authMgr *auth.Manager, adminUser, adminPasswordHash string) *Server {
	s := &Server{
		host:      h,
		runtime:   rt,
		auditDB:   auditDB,
		auth:      authMgr,
		adminUser: adminUser,
		adminHash: adminPasswordHash,
		router:    chi.NewRouter(),
	}
	s.setupRoutes()
	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.router.Get("/healthz", s.handleHealth)
	s.router.Post("/api/v1/login", s.handleLogin)

	s.router.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/api/v1/tree", s.handleTree)
		r.Get("/api/v1/session", s.handleSession)
		r.Get("/api/v1/audit", s.handleAuditList)
	})
}

// ListenAndServe binds addr and serves until the process exits or
// Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	s.server.Addr = addr
	log.Info().Str("addr", addr).Msg("api: admin server listening")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims, err := s.auth.ValidateToken(parts[1])
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"serving":   s.runtime.IsServing(),
		"hostDSUID": s.host.Common.DSUID.String(),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		User     string `json:"user"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.User != s.adminUser || !secret.VerifyPassword(req.Password, s.adminHash) {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.auth.IssueToken(req.User)
	if err != nil {
		log.Warn().Err(err).Msg("api: failed to issue token")
		respondError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.host.PropertyTree())
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess := s.runtime.Session()
	if sess == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"connected": false})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"connected": true,
		"state":     sess.State().String(),
		"vdsmDSUID": sess.VdsmDSUID().String(),
		"remote":    sess.RemoteAddr().String(),
		"pingCount": sess.PingCount(),
	})
}

func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	if s.auditDB == nil {
		respondError(w, http.StatusServiceUnavailable, "audit log is disabled")
		return
	}

	events, err := s.auditDB.List(r.Context(), audit.Filters{
		DSUID: r.URL.Query().Get("dsuid"),
		Kind:  r.URL.Query().Get("kind"),
	}, 100, 0)
	if err != nil {
		log.Warn().Err(err).Msg("api: failed to list audit events")
		respondError(w, http.StatusInternalServerError, "failed to list audit events")
		return
	}

	respondJSON(w, http.StatusOK, events)
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("api: failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
