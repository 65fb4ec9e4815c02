// Package prompt renders the LLM prompts for reviews and mention replies.
package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/jacklau/codereviewer/internal/github"
	"github.com/jacklau/codereviewer/internal/retrieval"
)

// NoIssuesFound is rendered in place of the issue block when retrieval found nothing.
const NoIssuesFound = "No relevant issues found in connected integrations."

const diffTruncatedMarker = "\n... (diff truncated)"

// maxCitations bounds the related-issue footer on mention replies.
const maxCitations = 3

var funcs = template.FuncMap{
	"join":  strings.Join,
	"upper": strings.ToUpper,
	"percent": func(score float64) string {
		return fmt.Sprintf("%.1f%%", score*100)
	},
	"add1": func(i int) int { return i + 1 },
	"orDefault": func(s, fallback string) string {
		if strings.TrimSpace(s) == "" {
			return fallback
		}
		return s
	},
}

const issueBlockTemplate = `## Related Issues from Connected Integrations

The following issues from Linear and Jira may be relevant to this context:
{{range $i, $c := .}}{{if $i}}

---{{end}}

### Issue {{add1 $i}} [{{upper (print $c.Issue.Source)}}] (Relevance: {{percent $c.Score}})
- **ID**: {{$c.Issue.ExternalID}}
- **Title**: {{$c.Issue.Title}}
- **Project**: {{orDefault $c.Issue.ProjectKey "N/A"}} ({{orDefault $c.Issue.ProjectName "N/A"}})
- **Status**: {{orDefault $c.Issue.Status "Unknown"}}
- **Priority**: {{orDefault (print $c.Issue.Priority) "None"}}
- **Assignee**: {{orDefault $c.Issue.Assignee "Unassigned"}}
- **Type**: {{orDefault $c.Issue.IssueType "Issue"}}
- **Labels**: {{if $c.Issue.Labels}}{{join $c.Issue.Labels ", "}}{{else}}None{{end}}
{{- if $c.Issue.SourceURL}}
- **URL**: {{$c.Issue.SourceURL}}{{end}}
{{- if $c.Snippet}}

**Content:**
{{$c.Snippet}}{{end}}{{end}}

---
*Use these issues as context when responding. Reference issue IDs when applicable.*`

var issueBlockTmpl = template.Must(template.New("issues").Funcs(funcs).Parse(issueBlockTemplate))

// IssueContextBlock formats retrieved issues as a markdown block for a prompt.
func IssueContextBlock(contexts []retrieval.IssueContext) (string, error) {
	if len(contexts) == 0 {
		return NoIssuesFound, nil
	}
	return render(issueBlockTmpl, contexts)
}

// Citations returns the collapsible related-issue footer appended to mention
// replies, or "" when there are no issues.
func Citations(contexts []retrieval.IssueContext) string {
	if len(contexts) == 0 {
		return ""
	}
	if len(contexts) > maxCitations {
		contexts = contexts[:maxCitations]
	}

	var b strings.Builder
	b.WriteString("\n\n<details>\n<summary>📋 Related Issues</summary>\n\n")
	for i, c := range contexts {
		if i > 0 {
			b.WriteString("\n")
		}
		id := c.Issue.ExternalID
		if c.Issue.SourceURL != "" {
			id = fmt.Sprintf("[%s](%s)", id, c.Issue.SourceURL)
		}
		fmt.Fprintf(&b, "- [%s] %s: %s", strings.ToUpper(string(c.Issue.Source)), id, c.Issue.Title)
	}
	b.WriteString("\n</details>")
	return b.String()
}

// TruncateDiff cuts diff to at most max bytes on a rune boundary and marks
// the cut. max <= 0 disables truncation.
func TruncateDiff(diff string, max int) string {
	if max <= 0 || len(diff) <= max {
		return diff
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(diff[cut]) {
		cut--
	}
	return diff[:cut] + diffTruncatedMarker
}

// formatComments renders PR comments as "@user: body" paragraphs.
func formatComments(comments []github.Comment) string {
	parts := make([]string, 0, len(comments))
	for _, c := range comments {
		parts = append(parts, "@"+c.User+": "+c.Body)
	}
	return strings.Join(parts, "\n\n")
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering %s prompt: %w", t.Name(), err)
	}
	return buf.String(), nil
}
