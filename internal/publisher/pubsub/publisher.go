// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/JakeFAU/gumgenie-scout/internal/market"
	"github.com/JakeFAU/gumgenie-scout/internal/metrics"
)

// Attributer is implemented by payloads that want message attributes set,
// so subscribers can filter without decoding the body.
type Attributer interface {
	Attributes() map[string]string
}

// Publisher sends chunk notices to a single Pub/Sub topic.
type Publisher struct {
	publisher *pubsub.Publisher
}

var _ market.Publisher = (*Publisher)(nil)

// New creates a Publisher for the provided topic publisher.
func New(publisher *pubsub.Publisher) *Publisher {
	return &Publisher{publisher: publisher}
}

// Publish sends payload as a JSON message and waits for the server-assigned
// id. Payloads implementing Attributer also set message attributes. The
// topic argument is ignored because the wrapped publisher is bound to one.
func (p *Publisher) Publish(ctx context.Context, _ string, payload any) (string, error) {
	if p.publisher == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data}
	if a, ok := payload.(Attributer); ok {
		msg.Attributes = a.Attributes()
	}

	start := time.Now()
	id, err := p.publisher.Publish(ctx, msg).Get(ctx)
	metrics.ObserveRemoteRequest("pubsub", "publish", time.Since(start))
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}
