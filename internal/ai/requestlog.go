package ai

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RequestLogEntry is one line of the AI request log.
type RequestLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Purpose   string    `json:"purpose"`
	Subject   string    `json:"subject"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response,omitempty"`
	Error     string    `json:"error,omitempty"`
	Usage     Usage     `json:"tokens_used"`
}

// RequestLog records AI exchanges. Record must not fail the caller.
type RequestLog interface {
	Record(ctx context.Context, entry RequestLogEntry)
}

type appender interface {
	AppendJSONL(ctx context.Context, rel string, v any) error
}

// JSONLLog appends entries to a jsonl artifact.
type JSONLLog struct {
	out    appender
	name   string
	logger *zap.Logger
}

// NewJSONLLog writes entries to name through out.
func NewJSONLLog(out appender, name string, logger *zap.Logger) *JSONLLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSONLLog{out: out, name: name, logger: logger}
}

// Record implements RequestLog.
func (l *JSONLLog) Record(ctx context.Context, entry RequestLogEntry) {
	if err := l.out.AppendJSONL(ctx, l.name, entry); err != nil {
		l.logger.Warn("write ai request log", zap.String("subject", entry.Subject), zap.Error(err))
	}
}

type discardLog struct{}

func (discardLog) Record(context.Context, RequestLogEntry) {}

func record(ctx context.Context, log RequestLog, purpose, subject, prompt string, out completion, err error) {
	entry := RequestLogEntry{
		Timestamp: time.Now().UTC(),
		Purpose:   purpose,
		Subject:   subject,
		Prompt:    prompt,
		Response:  out.content,
		Usage:     out.usage,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	log.Record(ctx, entry)
}
