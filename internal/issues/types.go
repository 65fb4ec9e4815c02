// Package issues talks to external issue trackers and normalizes their issues
// into one provider-agnostic shape.
package issues

import (
	"context"
	"strings"
	"time"
)

// Source identifies where a normalized issue came from.
type Source string

const (
	SourceLinear Source = "linear"
	SourceJira   Source = "jira"
	SourceGitHub Source = "github"
)

// ParseSource returns the Source named by s.
func ParseSource(s string) (Source, bool) {
	switch Source(strings.ToLower(s)) {
	case SourceLinear:
		return SourceLinear, true
	case SourceJira:
		return SourceJira, true
	case SourceGitHub:
		return SourceGitHub, true
	}
	return "", false
}

// Priority is the canonical five-level priority.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
	PriorityNone   Priority = "none"
)

// NormalizePriority maps a tracker priority name onto the canonical levels.
// Unknown names map to PriorityNone.
func NormalizePriority(name string) Priority {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "urgent", "highest", "blocker", "critical":
		return PriorityUrgent
	case "high":
		return PriorityHigh
	case "medium":
		return PriorityMedium
	case "low", "lowest", "minor", "trivial":
		return PriorityLow
	}
	return PriorityNone
}

// NormalizedIssue is the canonical issue record shared by every source.
// A zero SourceUpdatedAt means the update time is unknown.
type NormalizedIssue struct {
	ExternalID      string    `json:"externalId"`
	Source          Source    `json:"source"`
	SourceURL       string    `json:"sourceUrl"`
	ProjectKey      string    `json:"projectKey"`
	ProjectName     string    `json:"projectName"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Status          string    `json:"status"`
	Priority        Priority  `json:"priority"`
	Assignee        string    `json:"assignee"`
	Labels          []string  `json:"labels"`
	IssueType       string    `json:"issueType"`
	SourceCreatedAt time.Time `json:"sourceCreatedAt"`
	SourceUpdatedAt time.Time `json:"sourceUpdatedAt"`
}

// Project is a tracker project (Jira project or Linear team).
type Project struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Filters narrows a bulk listing.
type Filters struct {
	ProjectKeys  []string
	UpdatedAfter time.Time
}

// Page is one page of a bulk listing. An empty Continuation means the
// listing is exhausted.
type Page struct {
	Items        []NormalizedIssue
	Continuation string
}

// Pager is implemented by every tracker client so bulk sync can walk any
// source the same way.
type Pager interface {
	Source() Source
	GetProjects(ctx context.Context) ([]Project, error)
	ListIssues(ctx context.Context, continuation string, filters Filters) (*Page, error)
	GetIssue(ctx context.Context, id string) (*NormalizedIssue, error)
}

// CollectAll pages through src until the listing is exhausted or max issues
// have been gathered. max <= 0 means no cap.
func CollectAll(ctx context.Context, src Pager, filters Filters, max int) ([]NormalizedIssue, error) {
	var all []NormalizedIssue
	continuation := ""
	for {
		page, err := src.ListIssues(ctx, continuation, filters)
		if err != nil {
			return all, err
		}
		all = append(all, page.Items...)
		if max > 0 && len(all) >= max {
			return all[:max], nil
		}
		if page.Continuation == "" || page.Continuation == continuation {
			return all, nil
		}
		continuation = page.Continuation
	}
}

func nonNilLabels(labels []string) []string {
	if labels == nil {
		return []string{}
	}
	return labels
}
