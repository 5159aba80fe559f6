// Package pubsub publishes completion notifications to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
)

// TopicPublisher is the slice of *pubsub.Topic the publisher needs.
type TopicPublisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// Publisher sends JSON payloads to one topic.
type Publisher struct {
	topic TopicPublisher
}

// New creates a Publisher for the provided topic.
func New(topic TopicPublisher) *Publisher {
	return &Publisher{topic: topic}
}

// Publish marshals payload to JSON, injects trace context into the message
// attributes, and waits for the server-assigned ID. The topic argument is
// informational; the bound topic is always used.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.topic == nil {
		return "", errors.New("pubsub topic is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: map[string]string{}}
	if topic != "" {
		msg.Attributes["topic"] = topic
	}
	otel.GetTextMapPropagator().Inject(ctx, attributeCarrier(msg.Attributes))

	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// attributeCarrier adapts Pub/Sub attributes to propagation.TextMapCarrier.
type attributeCarrier map[string]string

func (c attributeCarrier) Get(key string) string {
	return c[key]
}

func (c attributeCarrier) Set(key, value string) {
	c[key] = value
}

func (c attributeCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
