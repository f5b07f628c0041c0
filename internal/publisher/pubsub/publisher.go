// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
)

// Config captures the parameters for the Pub/Sub publisher.
type Config struct {
	ProjectID string `mapstructure:"project_id" yaml:"project_id"`
	// TopicPrefix is prepended to every topic name, e.g. "douflow-".
	TopicPrefix string `mapstructure:"topic_prefix" yaml:"topic_prefix"`
}

// Publisher publishes pipeline events to Cloud Pub/Sub topics. It
// implements pipeline.Publisher.
type Publisher struct {
	client *pubsub.Client
	prefix string

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New creates a Publisher for the provided client.
func New(client *pubsub.Client, cfg Config) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	return &Publisher{
		client: client,
		prefix: cfg.TopicPrefix,
		topics: make(map[string]*pubsub.Topic),
	}, nil
}

// Publish marshals the payload to JSON and publishes it to the topic,
// waiting for the server-assigned message ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	result := p.topic(topic).Publish(ctx, &pubsub.Message{Data: data})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and stops the topic publishers.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.topics = make(map[string]*pubsub.Topic)
}

func (p *Publisher) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[name]
	if !ok {
		t = p.client.Topic(p.prefix + name)
		p.topics[name] = t
	}
	return t
}
