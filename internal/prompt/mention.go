package prompt

import (
	"text/template"

	"github.com/jacklau/codereviewer/internal/github"
	"github.com/jacklau/codereviewer/internal/retrieval"
)

// recentComments is how many trailing PR comments go into a mention prompt.
const recentComments = 10

const mentionTemplate = `You are an AI assistant helping with a GitHub Pull Request. A user has mentioned you with a question or request.

## Pull Request Context
**Title**: {{.Title}}
**Description**: {{orDefault .Description "No description provided"}}

## Code Changes (Diff)
` + "```diff" + `
{{.Diff}}
` + "```" + `

## Relevant Code from Repository
{{if .CodeContext}}{{join .CodeContext "\n\n---\n\n"}}{{else}}No additional code context found.{{end}}

{{.IssueBlock}}

## Recent PR Comments
{{orDefault .Comments "No previous comments."}}

---

## User Question
@{{.CommentUser}} asked: {{.Question}}

---

Please provide a helpful, concise response to the user's question. Consider:
1. The PR context and code changes
2. Any relevant issues from Linear or Jira
3. The codebase context
4. Keep your response focused and actionable
5. If referencing issues, include their IDs and source (Linear/Jira)
6. Use markdown formatting for code snippets if needed

Respond directly to the user's question:`

var mentionTmpl = template.Must(template.New("mention").Funcs(funcs).Parse(mentionTemplate))

// MentionInput is everything the mention prompt is built from.
type MentionInput struct {
	Title       string
	Description string
	Diff        string
	MaxDiff     int
	CodeContext []string
	Issues      []retrieval.IssueContext
	Comments    []github.Comment
	CommentUser string
	Question    string
}

type mentionData struct {
	Title       string
	Description string
	Diff        string
	CodeContext []string
	IssueBlock  string
	Comments    string
	CommentUser string
	Question    string
}

// BuildMention renders the prompt answering a user's @mention question.
// Only the last ten comments are included.
func BuildMention(in MentionInput) (string, error) {
	block, err := IssueContextBlock(in.Issues)
	if err != nil {
		return "", err
	}
	comments := in.Comments
	if len(comments) > recentComments {
		comments = comments[len(comments)-recentComments:]
	}
	return render(mentionTmpl, mentionData{
		Title:       in.Title,
		Description: in.Description,
		Diff:        TruncateDiff(in.Diff, in.MaxDiff),
		CodeContext: in.CodeContext,
		IssueBlock:  block,
		Comments:    formatComments(comments),
		CommentUser: in.CommentUser,
		Question:    in.Question,
	})
}
