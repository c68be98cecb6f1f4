// Package memory keeps chunk notifications in process. It encodes payloads
// the same way the Pub/Sub publisher does, so tests see the wire form.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/JakeFAU/gumgenie-scout/internal/market"
)

// Publisher records every notification.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
}

var _ market.Publisher = (*Publisher)(nil)

// PublishedMessage is one recorded notification.
type PublishedMessage struct {
	ID         string
	Topic      string
	Payload    any
	Data       []byte
	Attributes map[string]string
}

type attributer interface {
	Attributes() map[string]string
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish encodes payload as JSON and records it under topic.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := PublishedMessage{Topic: topic, Payload: payload, Data: data}
	if a, ok := payload.(attributer); ok {
		msg.Attributes = a.Attributes()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	msg.ID = fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, msg)
	return msg.ID, nil
}

// Messages returns a copy of every recorded notification, oldest first.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// ForTopic returns the recorded notifications published to topic.
func (p *Publisher) ForTopic(topic string) []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []PublishedMessage
	for _, m := range p.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
