package pipeline

// Event names.
const (
	EventRepositoryConnected = "repository.connected"
	EventReviewRequested     = "pr.review.requested"
	EventMentionRequested    = "pr.mention.requested"
	EventIntegrationSync     = "integration.sync.requested"
	EventIssueSync           = "issue.sync.requested"
	EventScheduledSync       = "scheduled.sync.tick"
)

// Payloads identify the user whose credentials a run needs; the credentials
// themselves are loaded and decrypted inside the steps and never queued.

// RepositoryConnected triggers codebase indexing.
type RepositoryConnected struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	UserID int64  `json:"userId"`
}

// ReviewRequested triggers a full PR review.
type ReviewRequested struct {
	Owner    string `json:"owner"`
	Repo     string `json:"repo"`
	PRNumber int    `json:"prNumber"`
	UserID   int64  `json:"userId"`
	Title    string `json:"title,omitempty"`
}

// MentionRequested triggers the mention responder.
type MentionRequested struct {
	Owner       string `json:"owner"`
	Repo        string `json:"repo"`
	PRNumber    int    `json:"prNumber"`
	UserID      int64  `json:"userId"`
	Query       string `json:"query"`
	CommentUser string `json:"commentUser"`
	CommentID   int64  `json:"commentId"`
}

// IntegrationSync triggers a bulk issue sync for one provider.
type IntegrationSync struct {
	UserID   int64  `json:"userId"`
	Provider string `json:"provider"`
}

// IssueSync triggers embedding of one stored issue.
type IssueSync struct {
	IssueID string `json:"issueId"`
	Source  string `json:"source"`
	UserID  int64  `json:"userId"`
}
