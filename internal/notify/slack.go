package notify

import (
	"fmt"
	"strconv"

	"github.com/jacklau/codereviewer/internal/workflow"
)

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackPayload struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

func mrkdwn(s string) slackText { return slackText{Type: "mrkdwn", Text: s} }

// slackMessage renders a failed run as Block Kit. Text is the fallback shown
// in notifications.
func slackMessage(a workflow.Alert) slackPayload {
	step := a.Step
	if step == "" {
		step = "-"
	}
	return slackPayload{
		Text: Headline(a),
		Blocks: []slackBlock{
			{Type: "header", Text: &slackText{Type: "plain_text", Text: "Workflow run failed"}},
			{Type: "section", Text: &slackText{Type: "mrkdwn", Text: ":rotating_light: *" + Headline(a) + "*"}},
			{Type: "section", Fields: []slackText{
				mrkdwn("*Function*\n`" + a.FunctionID + "`"),
				mrkdwn("*Event*\n`" + a.Event + "`"),
				mrkdwn("*Step*\n" + step),
				mrkdwn("*Attempts*\n" + strconv.Itoa(a.Attempts)),
			}},
			{Type: "section", Text: &slackText{Type: "mrkdwn", Text: fmt.Sprintf("*Error*\n```%s```", Truncate(a.Error, maxErrorChars))}},
			{Type: "context", Elements: []slackText{mrkdwn("run `" + a.RunID + "`")}},
		},
	}
}
