// Package memory contains an in-process message bus used in single-binary
// deployments and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Message is one published event.
type Message struct {
	ID      string
	Topic   string
	Payload any
}

// Bus delivers published messages to topic subscribers in publish order.
// Delivery is at-least-once; subscribers must tolerate duplicates and keep
// draining their channel or publishers will block.
type Bus struct {
	mu       sync.Mutex
	seq      int
	subs     map[string][]chan Message
	messages []Message
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]chan Message)}
}

// Subscribe registers a subscriber channel for a topic. Messages published
// after the call are delivered in order.
func (b *Bus) Subscribe(topic string, buffer int) <-chan Message {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Message, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], ch)
	return ch
}

// Publish records the message and hands it to every subscriber of the
// topic. It implements pipeline.Publisher.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) (string, error) {
	b.mu.Lock()
	b.seq++
	msg := Message{
		ID:      fmt.Sprintf("memory-%d", b.seq),
		Topic:   topic,
		Payload: payload,
	}
	b.messages = append(b.messages, msg)
	subs := append([]chan Message(nil), b.subs[topic]...)
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- msg:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return msg.ID, nil
}

// Messages returns every recorded publish, across all topics.
func (b *Bus) Messages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.messages))
	copy(out, b.messages)
	return out
}
