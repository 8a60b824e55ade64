package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/drivelane/engine/internal/services"
)

// PubSubNotificationPublisher publishes cascade notifications to the
// customer and administrator topics.
type PubSubNotificationPublisher struct {
	customerTopic *pubsub.Topic
	adminTopic    *pubsub.Topic
	marshal       func(any) ([]byte, error)
}

// NewPubSubNotificationPublisher constructs a Pub/Sub backed notification publisher.
func NewPubSubNotificationPublisher(customerTopic, adminTopic *pubsub.Topic) (*PubSubNotificationPublisher, error) {
	if customerTopic == nil {
		return nil, errors.New("pubsub notification publisher: customer topic is required")
	}
	if adminTopic == nil {
		return nil, errors.New("pubsub notification publisher: admin topic is required")
	}
	return &PubSubNotificationPublisher{
		customerTopic: customerTopic,
		adminTopic:    adminTopic,
		marshal:       json.Marshal,
	}, nil
}

// PublishServiceRecommended enqueues the customer-facing recommendation message.
func (p *PubSubNotificationPublisher) PublishServiceRecommended(ctx context.Context, message services.ServiceRecommendedMessage) (string, error) {
	if p == nil || p.customerTopic == nil {
		return "", errors.New("pubsub notification publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal service recommended: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "event", "service_recommended")
	setAttr(attrs, "customerId", message.CustomerID)
	setAttr(attrs, "serviceId", message.ServiceID)
	setAttr(attrs, "triggerId", message.TriggerID)

	id, err := p.customerTopic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish service recommended: %w", err)
	}
	return id, nil
}

// PublishCascadeTriggered enqueues the administrator-facing cascade message.
func (p *PubSubNotificationPublisher) PublishCascadeTriggered(ctx context.Context, message services.CascadeTriggeredMessage) (string, error) {
	if p == nil || p.adminTopic == nil {
		return "", errors.New("pubsub notification publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal cascade triggered: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "event", "cascade_triggered")
	setAttr(attrs, "ruleId", message.RuleID)
	setAttr(attrs, "customerId", message.CustomerID)
	setAttr(attrs, "triggerId", message.TriggerID)

	id, err := p.adminTopic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish cascade triggered: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
