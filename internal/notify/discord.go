package notify

import (
	"strconv"
	"time"

	"github.com/jacklau/codereviewer/internal/workflow"
)

// discordRed is the embed sidebar colour for failures.
const discordRed = 0xE74C3C

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields"`
	Footer      *discordFooter `json:"footer,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
}

type discordFooter struct {
	Text string `json:"text"`
}

type discordPayload struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

func discordMessage(a workflow.Alert, at time.Time) discordPayload {
	step := a.Step
	if step == "" {
		step = "-"
	}
	return discordPayload{
		Username: "codereviewer",
		Embeds: []discordEmbed{{
			Title:       Headline(a),
			Description: "```" + Truncate(a.Error, maxErrorChars) + "```",
			Color:       discordRed,
			Fields: []discordField{
				{Name: "Event", Value: a.Event, Inline: true},
				{Name: "Step", Value: step, Inline: true},
				{Name: "Attempts", Value: strconv.Itoa(a.Attempts), Inline: true},
			},
			Footer:    &discordFooter{Text: "run " + a.RunID},
			Timestamp: at.UTC().Format(time.RFC3339),
		}},
	}
}
