// Package pubsub publishes artifact notifications to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/JakeFAU/site-harvester/internal/publisher/pubsub"

// Publisher publishes JSON payloads to Pub/Sub topics. Topic handles are
// created lazily and reused so publish batching applies across calls.
type Publisher struct {
	client       *pubsub.Client
	defaultTopic string
	tracer       trace.Tracer
	propagator   propagation.TextMapPropagator

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// Option customizes a Publisher.
type Option func(*Publisher)

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Publisher) {
		p.tracer = tp.Tracer(tracerName)
	}
}

// WithPropagator overrides the global text map propagator.
func WithPropagator(prop propagation.TextMapPropagator) Option {
	return func(p *Publisher) {
		p.propagator = prop
	}
}

// New wraps client. defaultTopic is used when Publish receives an empty topic.
func New(client *pubsub.Client, defaultTopic string, opts ...Option) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("pubsub client is required")
	}
	p := &Publisher{
		client:       client,
		defaultTopic: defaultTopic,
		tracer:       otel.Tracer(tracerName),
		propagator:   otel.GetTextMapPropagator(),
		topics:       make(map[string]*pubsub.Topic),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// NewFromProject dials Pub/Sub for projectID.
func NewFromProject(ctx context.Context, projectID, defaultTopic string, opts ...Option) (*Publisher, error) {
	if projectID == "" {
		return nil, errors.New("pubsub project id is required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return New(client, defaultTopic, opts...)
}

// Publish marshals payload to JSON and waits for the server to acknowledge
// it. Trace context from ctx travels in the message attributes, along with
// any attributes the payload declares.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		topic = p.defaultTopic
	}
	if topic == "" {
		return "", errors.New("pubsub topic is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	ctx, span := p.tracer.Start(ctx, "pubsub.publish")
	defer span.End()
	span.SetAttributes(attribute.String("messaging.destination", topic))

	msg := &pubsub.Message{Data: data, Attributes: make(map[string]string)}
	if attrs, ok := payload.(interface{ Attributes() map[string]string }); ok {
		for k, v := range attrs.Attributes() {
			msg.Attributes[k] = v
		}
	}
	p.propagator.Inject(ctx, attributeCarrier(msg.Attributes))

	id, err := p.topic(topic).Publish(ctx, msg).Get(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.topics = make(map[string]*pubsub.Topic)
	p.mu.Unlock()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

func (p *Publisher) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[name]
	if !ok {
		t = p.client.Topic(name)
		p.topics[name] = t
	}
	return t
}

// attributeCarrier adapts message attributes to propagation.TextMapCarrier.
type attributeCarrier map[string]string

func (c attributeCarrier) Get(key string) string { return c[key] }

func (c attributeCarrier) Set(key, value string) { c[key] = value }

func (c attributeCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
