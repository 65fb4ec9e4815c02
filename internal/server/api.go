package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jacklau/codereviewer/internal/github"
	"github.com/jacklau/codereviewer/internal/issues"
	"github.com/jacklau/codereviewer/internal/pipeline"
	"github.com/jacklau/codereviewer/internal/ratelimit"
	"github.com/jacklau/codereviewer/internal/store"
	"github.com/jacklau/codereviewer/internal/workflow"
)

type runsResponse struct {
	RunIDs []string `json:"runIds"`
}

type rateLimitResponse struct {
	Error   string    `json:"error"`
	ResetAt time.Time `json:"resetAt"`
}

type reviewResponse struct {
	ID        int64     `json:"id"`
	PRNumber  int       `json:"prNumber"`
	PRTitle   string    `json:"prTitle"`
	PRURL     string    `json:"prUrl"`
	Review    string    `json:"review"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

type integrationResponse struct {
	Provider      string   `json:"provider"`
	WorkspaceID   string   `json:"workspaceId"`
	WorkspaceName string   `json:"workspaceName"`
	ProjectKeys   []string `json:"projectKeys,omitempty"`
}

func (s *Server) handleRequestReview(w http.ResponseWriter, r *http.Request) {
	owner, repo := chi.URLParam(r, "owner"), chi.URLParam(r, "repo")
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || number <= 0 {
		writeError(w, http.StatusBadRequest, "invalid pull request number")
		return
	}

	ids, err := s.svc.RequestReview(r.Context(), userID(r), owner, repo, number)
	var rl *ratelimit.Error
	switch {
	case errors.As(err, &rl):
		w.Header().Set("Retry-After", strconv.Itoa(max(1, int(time.Until(rl.ResetAt).Seconds()+0.5))))
		writeJSON(w, http.StatusTooManyRequests, rateLimitResponse{Error: rl.Error(), ResetAt: rl.ResetAt})
	case errors.Is(err, pipeline.ErrRepositoryNotConnected), errors.Is(err, github.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, workflow.ErrConfiguration):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		s.logger.Error("requesting review failed", "repo", owner+"/"+repo, "pr", number, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, runsResponse{RunIDs: ids})
	}
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	reviews, err := s.svc.ListReviews(chi.URLParam(r, "owner"), chi.URLParam(r, "repo"), limit)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "repository not connected")
		return
	}
	if err != nil {
		s.logger.Error("listing reviews failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list reviews")
		return
	}

	out := make([]reviewResponse, 0, len(reviews))
	for _, rv := range reviews {
		out = append(out, reviewResponse{
			ID:        rv.ID,
			PRNumber:  rv.PRNumber,
			PRTitle:   rv.PRTitle,
			PRURL:     rv.PRURL,
			Review:    rv.Review,
			Status:    rv.Status,
			CreatedAt: rv.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleConnectLinear(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey string `json:"apiKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.APIKey == "" {
		writeError(w, http.StatusBadRequest, "apiKey is required")
		return
	}
	in, err := s.svc.ConnectLinear(r.Context(), userID(r), req.APIKey)
	s.writeIntegration(w, in, err)
}

func (s *Server) handleConnectJira(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CloudURL    string   `json:"cloudUrl"`
		Email       string   `json:"email"`
		APIToken    string   `json:"apiToken"`
		ProjectKeys []string `json:"projectKeys"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CloudURL == "" || req.Email == "" || req.APIToken == "" {
		writeError(w, http.StatusBadRequest, "cloudUrl, email and apiToken are required")
		return
	}
	in, err := s.svc.ConnectJira(r.Context(), userID(r), pipeline.JiraConnection{
		CloudURL:    req.CloudURL,
		Email:       req.Email,
		APIToken:    req.APIToken,
		ProjectKeys: req.ProjectKeys,
	})
	s.writeIntegration(w, in, err)
}

func (s *Server) writeIntegration(w http.ResponseWriter, in *store.Integration, err error) {
	switch {
	case errors.Is(err, pipeline.ErrInvalidJiraURL):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	case err != nil:
		s.logger.Warn("connecting integration failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusCreated, integrationResponse{
			Provider:      in.Provider,
			WorkspaceID:   in.WorkspaceID,
			WorkspaceName: in.WorkspaceName,
			ProjectKeys:   in.Metadata.ProjectKeys,
		})
	}
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	provider, ok := knownProvider(w, r)
	if !ok {
		return
	}
	ids, err := s.svc.RequestSync(r.Context(), userID(r), provider)
	if errors.Is(err, pipeline.ErrIntegrationNotFound) {
		writeError(w, http.StatusNotFound, "integration not found")
		return
	}
	if err != nil {
		s.logger.Error("requesting sync failed", "provider", provider, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to request sync")
		return
	}
	writeJSON(w, http.StatusAccepted, runsResponse{RunIDs: ids})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	provider, ok := knownProvider(w, r)
	if !ok {
		return
	}
	existed, err := s.svc.Disconnect(r.Context(), userID(r), provider)
	if err != nil {
		s.logger.Error("disconnecting integration failed", "provider", provider, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to disconnect")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true, "existed": existed})
}

func knownProvider(w http.ResponseWriter, r *http.Request) (string, bool) {
	p := chi.URLParam(r, "provider")
	switch issues.Source(p) {
	case issues.SourceLinear, issues.SourceJira:
		return p, true
	}
	writeError(w, http.StatusNotFound, "unknown provider")
	return "", false
}
