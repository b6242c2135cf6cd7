package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/site-harvester/internal/crawler"
)

const extractionSystemPrompt = "You extract factual company information from website text. " +
	"Never invent values; use an empty string when a field is not present."

const extractionPrompt = `Current company record (JSON):
%s

New page text:
%s

Return the complete updated record. Keep every value from the current record,
add only information that is new in the page text, and do not repeat a person
already listed by name or email.`

// DefaultMaxTextChars bounds the page text sent per extraction call.
const DefaultMaxTextChars = 60000

// Extractor folds page text into a company snapshot.
type Extractor struct {
	client   *Client
	log      RequestLog
	maxChars int
}

// NewExtractor returns an Extractor sending through client. log may be nil.
func NewExtractor(client *Client, log RequestLog, maxChars int) *Extractor {
	if log == nil {
		log = discardLog{}
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxTextChars
	}
	return &Extractor{client: client, log: log, maxChars: maxChars}
}

// Extract implements crawler.Extractor. On any error the caller keeps current.
func (e *Extractor) Extract(ctx context.Context, current crawler.Snapshot, text string) (crawler.Snapshot, error) {
	if strings.TrimSpace(text) == "" {
		return current, nil
	}
	currentJSON, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return current, fmt.Errorf("marshal snapshot: %w", err)
	}
	if runes := []rune(text); len(runes) > e.maxChars {
		text = string(runes[:e.maxChars])
	}
	prompt := fmt.Sprintf(extractionPrompt, currentJSON, text)

	out, err := e.client.complete(ctx, chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: extractionSystemPrompt},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: snapshotResponseFormat,
	})
	record(ctx, e.log, "extract", firstLine(text), prompt, out, err)
	if err != nil {
		return current, err
	}

	next := crawler.NewSnapshot()
	if err := json.Unmarshal([]byte(out.content), &next); err != nil {
		return current, fmt.Errorf("decode snapshot: %w: %w", crawler.ErrParse, err)
	}
	if next.Persons == nil {
		next.Persons = []crawler.Person{}
	}
	if next.SocialLinks.Other == nil {
		next.SocialLinks.Other = []string{}
	}
	return next, nil
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	if len(line) > 120 {
		line = line[:120]
	}
	return line
}

// PassthroughExtractor never changes the snapshot. It is used when AI
// extraction is disabled.
type PassthroughExtractor struct{}

// Extract implements crawler.Extractor.
func (PassthroughExtractor) Extract(_ context.Context, current crawler.Snapshot, _ string) (crawler.Snapshot, error) {
	return current, nil
}

// IsUnavailable reports whether err came from an open circuit breaker.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
