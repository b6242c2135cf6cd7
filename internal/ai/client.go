package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"go.uber.org/zap"
)

// ErrUnavailable wraps failures caused by an open circuit breaker.
var ErrUnavailable = errors.New("ai service unavailable")

// Config describes the chat completions endpoint.
type Config struct {
	APIURL      string
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float64
	// BreakerFailureThreshold consecutive failures open the breaker.
	BreakerFailureThreshold uint
	// BreakerDelay is how long the breaker stays open before a trial call.
	BreakerDelay time.Duration
}

// Client sends chat completion requests through a circuit breaker.
type Client struct {
	http    *http.Client
	apiURL  string
	apiKey  string
	model   string
	temp    float64
	breaker circuitbreaker.CircuitBreaker[completion]
	logger  *zap.Logger
}

// NewClient validates cfg and builds a Client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Model == "" {
		return nil, errors.New("ai model is required")
	}
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.BreakerFailureThreshold == 0 {
		cfg.BreakerFailureThreshold = 5
	}
	if cfg.BreakerDelay <= 0 {
		cfg.BreakerDelay = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("ai")

	breaker := circuitbreaker.NewBuilder[completion]().
		HandleIf(func(_ completion, err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		}).
		WithFailureThreshold(cfg.BreakerFailureThreshold).
		WithDelay(cfg.BreakerDelay).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			logger.Warn("ai circuit breaker state change",
				zap.String("from", event.OldState.String()),
				zap.String("to", event.NewState.String()),
			)
		}).
		Build()

	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		apiURL:  apiURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		temp:    cfg.Temperature,
		breaker: breaker,
		logger:  logger,
	}, nil
}

// BreakerOpen reports whether calls are currently short-circuited.
func (c *Client) BreakerOpen() bool {
	return c.breaker.IsOpen()
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat any           `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Usage is the token accounting returned by the endpoint.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type completion struct {
	content string
	usage   Usage
}

func (c *Client) complete(ctx context.Context, req chatRequest) (completion, error) {
	req.Model = c.model
	req.Temperature = c.temp
	out, err := failsafe.With[completion](c.breaker).WithContext(ctx).Get(func() (completion, error) {
		return c.do(ctx, req)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return completion{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return out, err
}

func (c *Client) do(ctx context.Context, body chatRequest) (completion, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return completion{}, fmt.Errorf("marshal chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return completion{}, fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return completion{}, fmt.Errorf("chat request failed: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close chat response body", zap.Error(cerr))
		}
	}()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return completion{}, fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return completion{}, fmt.Errorf("chat request: unexpected status %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var decoded chatResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return completion{}, fmt.Errorf("decode chat response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return completion{}, errors.New("chat response has no choices")
	}
	return completion{content: decoded.Choices[0].Message.Content, usage: decoded.Usage}, nil
}
