package prompt

import (
	"strings"
	"text/template"

	"github.com/jacklau/codereviewer/internal/retrieval"
)

const reviewTemplate = `You are an expert code reviewer. Analyze the following pull request and provide a detailed, constructive code review.

PR Title: {{.Title}}
PR Description: {{orDefault .Description "No description provided"}}

Context from Codebase:
{{if .CodeContext}}{{join .CodeContext "\n\n"}}{{else}}No relevant code context found.{{end}}

{{.IssueBlock}}

Code Changes:
` + "```diff" + `
{{.Diff}}
` + "```" + `
{{- if or .GoodRules .BadRules}}

**Custom Review Rules:**
{{- if .GoodRules}}
Please follow these GOOD practices:
{{- range .GoodRules}}
- {{.}}{{end}}{{end}}
{{- if .BadRules}}
Please avoid these BAD practices:
{{- range .BadRules}}
- {{.}}{{end}}{{end}}

Judge the code based on these rules.{{end}}

Please provide:
1. **Walkthrough**: A file-by-file explanation of the changes.
2. **Related Issues**: Which of the related issues above this change addresses or affects, referenced by ID. Say so plainly if none apply.
3. **Sequence Diagram**: A Mermaid JS sequence diagram visualizing the flow of the changes (if applicable). Use ` + "```mermaid ... ```" + ` block. **IMPORTANT**: Ensure the Mermaid syntax is valid. Do not use special characters (like quotes, braces, parentheses) inside Note text or labels as it breaks rendering. Keep the diagram simple.
4. **Summary**: Brief overview.
5. **Strengths**: What's done well.
6. **Issues**: Bugs, security concerns, code smells.
7. **Suggestions**: Specific code improvements.
8. **Roast**: A short, good-humored closing remark about the code.

Format your response in markdown.`

var reviewTmpl = template.Must(template.New("review").Funcs(funcs).Parse(reviewTemplate))

// ReviewInput is everything the review prompt is built from.
type ReviewInput struct {
	Title       string
	Description string
	Diff        string
	MaxDiff     int
	CodeContext []string
	Issues      []retrieval.IssueContext
	GoodRules   []string
	BadRules    []string
}

type reviewData struct {
	Title       string
	Description string
	Diff        string
	CodeContext []string
	IssueBlock  string
	GoodRules   []string
	BadRules    []string
}

// BuildReview renders the full review prompt.
func BuildReview(in ReviewInput) (string, error) {
	block, err := IssueContextBlock(in.Issues)
	if err != nil {
		return "", err
	}
	return render(reviewTmpl, reviewData{
		Title:       in.Title,
		Description: in.Description,
		Diff:        TruncateDiff(in.Diff, in.MaxDiff),
		CodeContext: in.CodeContext,
		IssueBlock:  block,
		GoodRules:   nonBlank(in.GoodRules),
		BadRules:    nonBlank(in.BadRules),
	})
}

func nonBlank(rules []string) []string {
	var out []string
	for _, r := range rules {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
