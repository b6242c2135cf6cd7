package ai

import (
	"context"
	"fmt"
	"strings"
)

const labelSystemPrompt = "You label URLs. Answer with exactly one word: True or False."

const labelPrompt = `Judging only from the URL, could this page contain company details
such as name, contact email or phone, location, industry, social profiles, a
company description, or people with their roles and contact details? Pages
like contact, about, team, leadership, careers, offices, partners, press, and
the homepage usually do. When unsure, answer True.

URL: %s`

// Labeler asks the model whether a URL is worth harvesting.
type Labeler struct {
	client *Client
	log    RequestLog
}

// NewLabeler returns a Labeler sending through client. log may be nil.
func NewLabeler(client *Client, log RequestLog) *Labeler {
	if log == nil {
		log = discardLog{}
	}
	return &Labeler{client: client, log: log}
}

// Label implements crawler.Labeler. An answer other than False counts as
// useful; errors are returned and the caller defaults to useful.
func (l *Labeler) Label(ctx context.Context, url string) (bool, error) {
	prompt := fmt.Sprintf(labelPrompt, url)
	out, err := l.client.complete(ctx, chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: labelSystemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens: 10,
	})
	record(ctx, l.log, "label", url, prompt, out, err)
	if err != nil {
		return true, err
	}
	answer := strings.Trim(strings.TrimSpace(out.content), `."'`)
	return !strings.EqualFold(answer, "false"), nil
}

// StaticLabeler labels every URL useful. It is used when AI labeling is
// disabled.
type StaticLabeler struct{}

// Label implements crawler.Labeler.
func (StaticLabeler) Label(context.Context, string) (bool, error) {
	return true, nil
}
