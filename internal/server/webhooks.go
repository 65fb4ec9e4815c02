package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	gogithub "github.com/google/go-github/v60/github"

	"github.com/jacklau/codereviewer/internal/issues"
	"github.com/jacklau/codereviewer/internal/pipeline"
)

const (
	maxWebhookBytes = 5 << 20
	shutdownTimeout = 10 * time.Second
)

type msgResponse struct {
	Msg string `json:"msg"`
}

// handleGitHubWebhook verifies and parses a GitHub delivery and hands pull
// request and comment events to the pipeline. Everything else is
// acknowledged and ignored.
func (s *Server) handleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBytes)

	var payload []byte
	var err error
	if s.cfg.WebhookSecret != "" {
		payload, err = gogithub.ValidatePayload(r, []byte(s.cfg.WebhookSecret))
		if err != nil {
			s.logger.Warn("rejected github webhook", "error", err)
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	} else {
		payload, err = io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "reading body failed")
			return
		}
	}

	kind := gogithub.WebHookType(r)
	if kind == "ping" {
		writeJSON(w, http.StatusOK, msgResponse{Msg: "pong"})
		return
	}

	event, err := gogithub.ParseWebHook(kind, payload)
	if err != nil {
		// Unknown event types land here too; they are not an error for the sender.
		s.logger.Debug("ignoring github webhook", "event", kind, "error", err)
		writeJSON(w, http.StatusOK, msgResponse{Msg: "Event received"})
		return
	}

	ctx := r.Context()
	switch ev := event.(type) {
	case *gogithub.PullRequestEvent:
		_, err = s.svc.HandlePullRequest(ctx, pipeline.PullRequestEvent{
			Action: ev.GetAction(),
			Owner:  ev.GetRepo().GetOwner().GetLogin(),
			Repo:   ev.GetRepo().GetName(),
			Number: ev.GetNumber(),
			Title:  ev.GetPullRequest().GetTitle(),
		})
	case *gogithub.IssueCommentEvent:
		_, err = s.svc.HandleIssueComment(ctx, pipeline.CommentEvent{
			Action:        ev.GetAction(),
			Owner:         ev.GetRepo().GetOwner().GetLogin(),
			Repo:          ev.GetRepo().GetName(),
			Number:        ev.GetIssue().GetNumber(),
			IsPullRequest: ev.GetIssue().GetPullRequestLinks() != nil,
			CommentID:     ev.GetComment().GetID(),
			User:          ev.GetComment().GetUser().GetLogin(),
			UserType:      ev.GetComment().GetUser().GetType(),
			Body:          ev.GetComment().GetBody(),
		})
	}
	if err != nil {
		s.logger.Error("handling github webhook failed", "event", kind, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue event")
		return
	}
	writeJSON(w, http.StatusOK, msgResponse{Msg: "Event received"})
}

// handleTrackerWebhook accepts Linear and Jira issue webhooks registered per
// user.
func (s *Server) handleTrackerWebhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	var secret, header string
	switch issues.Source(provider) {
	case issues.SourceLinear:
		secret, header = s.cfg.LinearWebhookSecret, "Linear-Signature"
	case issues.SourceJira:
		secret, header = s.cfg.JiraWebhookSecret, "X-Hub-Signature"
	default:
		writeError(w, http.StatusNotFound, "unknown provider")
		return
	}
	uid, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || uid <= 0 {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body failed")
		return
	}
	if secret != "" && !issues.VerifySignature(body, r.Header.Get(header), secret) {
		s.logger.Warn("rejected tracker webhook", "provider", provider, "user", uid)
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	stored, err := s.svc.HandleIssueWebhook(r.Context(), uid, provider, body)
	switch {
	case errors.Is(err, pipeline.ErrIntegrationNotFound):
		writeError(w, http.StatusNotFound, "integration not found")
		return
	case err != nil:
		s.logger.Error("handling tracker webhook failed", "provider", provider, "user", uid, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process webhook")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true, "stored": stored})
}
