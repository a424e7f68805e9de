// Package server provides the HTTP API for Choubo.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ledgerworks/choubo/internal/auth"
	"github.com/ledgerworks/choubo/internal/chat"
	"github.com/ledgerworks/choubo/internal/config"
	"github.com/ledgerworks/choubo/internal/reconcile"
	"github.com/ledgerworks/choubo/internal/storage"
)

type contextKey string

const userIDKey contextKey = "userID"

// Server is the HTTP server for the Choubo API.
type Server struct {
	orchestrator *chat.Orchestrator
	reconciler   *reconcile.Reconciler
	store        storage.Store
	blobs        *storage.BlobStore
	tokens       *auth.Service
	accessKey    string
	config       *config.Config
	logger       *zap.Logger
	server       *http.Server
}

// NewServer creates a server with the given dependencies. accessKey guards
// the login endpoint; when empty, login is disabled.
func NewServer(
	orchestrator *chat.Orchestrator,
	reconciler *reconcile.Reconciler,
	store storage.Store,
	blobs *storage.BlobStore,
	tokens *auth.Service,
	accessKey string,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		orchestrator: orchestrator,
		reconciler:   reconciler,
		store:        store,
		blobs:        blobs,
		tokens:       tokens,
		accessKey:    accessKey,
		config:       cfg,
		logger:       logger,
	}
}

// Router builds the chi router with all routes attached.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Post("/api/v1/login", s.handleLogin)
	// Downloads carry their own token; no bearer auth.
	r.Get("/api/v1/files", s.handleDownload)

	r.Group(func(r chi.Router) {
		r.Use(s.requireUser)
		r.Post("/api/v1/chat", s.handleChat)
		r.Post("/api/v1/documents", s.handleUploadDocument)
		r.Get("/api/v1/documents", s.handleListDocuments)
		r.Get("/api/v1/documents/{id}", s.handleGetDocument)
		r.Delete("/api/v1/documents/{id}", s.handleDeleteDocument)
		r.Get("/api/v1/status", s.handleStatus)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// requireUser verifies the bearer token and stores the user id on the
// request context.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			s.respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, err := s.tokens.VerifyUserToken(token)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}
