// Package server is the HTTP ingress: GitHub and tracker webhooks plus the
// small JSON API used to request reviews and manage integrations. Handlers
// validate and enqueue; workflows run elsewhere.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jacklau/codereviewer/internal/config"
	"github.com/jacklau/codereviewer/internal/pipeline"
	"github.com/jacklau/codereviewer/internal/store"
)

// Service is the pipeline surface the handlers call.
type Service interface {
	HandlePullRequest(ctx context.Context, ev pipeline.PullRequestEvent) (bool, error)
	HandleIssueComment(ctx context.Context, ev pipeline.CommentEvent) (bool, error)
	HandleIssueWebhook(ctx context.Context, userID int64, provider string, body []byte) (bool, error)
	RequestReview(ctx context.Context, userID int64, owner, repo string, number int) ([]string, error)
	ListReviews(owner, repo string, limit int) ([]store.Review, error)
	ConnectLinear(ctx context.Context, userID int64, apiKey string) (*store.Integration, error)
	ConnectJira(ctx context.Context, userID int64, conn pipeline.JiraConnection) (*store.Integration, error)
	Disconnect(ctx context.Context, userID int64, provider string) (bool, error)
	RequestSync(ctx context.Context, userID int64, provider string) ([]string, error)
}

// Server routes HTTP requests to the pipeline.
type Server struct {
	router *chi.Mux
	svc    Service
	cfg    config.ServerConfig
	logger *slog.Logger
}

// New creates a Server.
func New(svc Service, cfg config.ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router: chi.NewRouter(),
		svc:    svc,
		cfg:    cfg,
		logger: logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", s.handleHealth)

	s.router.Post("/api/webhooks/github", s.handleGitHubWebhook)
	s.router.Post("/api/webhooks/{provider}/{userID}", s.handleTrackerWebhook)

	s.router.Group(func(r chi.Router) {
		r.Use(requireUser)
		r.Post("/api/repositories/{owner}/{repo}/pulls/{number}/review", s.handleRequestReview)
		r.Get("/api/repositories/{owner}/{repo}/reviews", s.handleListReviews)
		r.Post("/api/integrations/linear", s.handleConnectLinear)
		r.Post("/api/integrations/jira", s.handleConnectJira)
		r.Post("/api/integrations/{provider}/sync", s.handleSync)
		r.Delete("/api/integrations/{provider}", s.handleDisconnect)
	})
}

// Router returns the root handler.
func (s *Server) Router() http.Handler { return s.router }

// ListenAndServe serves on the configured address until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.router,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userKey struct{}

// requireUser reads the caller's user ID from X-User-Id.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.Header.Get("X-User-Id"), 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusUnauthorized, "missing or invalid X-User-Id")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, id)))
	})
}

func userID(r *http.Request) int64 {
	id, _ := r.Context().Value(userKey{}).(int64)
	return id
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}
