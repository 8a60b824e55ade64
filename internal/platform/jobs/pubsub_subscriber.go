package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/drivelane/engine/internal/platform/requestctx"
	"github.com/drivelane/engine/internal/services"
)

// Event names carried in the envelope. An empty event is read as a
// completion for compatibility with producers that predate the field.
const (
	eventOrderCompleted = "order.completed"
	eventOrderCancelled = "order.cancelled"
)

// orderEventEnvelope is the wire form of an order lifecycle event.
type orderEventEnvelope struct {
	Event        string `json:"event"`
	OrderID      string `json:"orderId"`
	CustomerID   string `json:"customerId"`
	CascadeDepth int    `json:"cascadeDepth"`
}

// OrderCompletedSubscriber receives order lifecycle events and feeds them
// into the cascade service. Malformed messages are acked and dropped, since
// redelivery cannot fix them; processing failures nack so Pub/Sub retries.
type OrderCompletedSubscriber struct {
	subscription *pubsub.Subscription
	cascade      services.CascadeService
	logger       func(context.Context, string, map[string]any)
	base         *zap.Logger
}

type OrderCompletedSubscriberDeps struct {
	Subscription *pubsub.Subscription
	Cascade      services.CascadeService
	Logger       func(context.Context, string, map[string]any)
	// BaseLogger, when set, is scoped per message and stamped into the
	// handler context so downstream engine events carry the message fields.
	BaseLogger *zap.Logger
}

func NewOrderCompletedSubscriber(deps OrderCompletedSubscriberDeps) (*OrderCompletedSubscriber, error) {
	if deps.Subscription == nil {
		return nil, errors.New("order completed subscriber: subscription is required")
	}
	if deps.Cascade == nil {
		return nil, errors.New("order completed subscriber: cascade service is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &OrderCompletedSubscriber{
		subscription: deps.Subscription,
		cascade:      deps.Cascade,
		logger:       logger,
		base:         deps.BaseLogger,
	}, nil
}

// Run blocks receiving messages until the context is cancelled.
func (s *OrderCompletedSubscriber) Run(ctx context.Context) error {
	return s.subscription.Receive(ctx, s.handle)
}

func (s *OrderCompletedSubscriber) handle(ctx context.Context, msg *pubsub.Message) {
	var envelope orderEventEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		s.logger(ctx, "order_event_malformed", map[string]any{
			"messageId": msg.ID,
			"error":     err.Error(),
		})
		msg.Ack()
		return
	}
	if strings.TrimSpace(envelope.OrderID) == "" {
		s.logger(ctx, "order_event_malformed", map[string]any{
			"messageId": msg.ID,
			"error":     "missing order id",
		})
		msg.Ack()
		return
	}

	if s.base != nil {
		ctx = requestctx.WithLogger(ctx, s.base.With(
			zap.String("messageId", msg.ID),
			zap.String("orderId", envelope.OrderID),
		))
	}

	var decisions int
	var err error
	switch envelope.Event {
	case "", eventOrderCompleted:
		var report services.CascadeReport
		report, err = s.cascade.HandleOrderCompleted(ctx, services.OrderCompletedCommand{
			OrderID:    envelope.OrderID,
			CustomerID: envelope.CustomerID,
			Depth:      envelope.CascadeDepth,
		})
		decisions = len(report.Decisions)
	case eventOrderCancelled:
		err = s.cascade.HandleOrderCancelled(ctx, services.OrderCancelledCommand{
			OrderID:    envelope.OrderID,
			CustomerID: envelope.CustomerID,
		})
	default:
		s.logger(ctx, "order_event_dropped", map[string]any{
			"messageId": msg.ID,
			"orderId":   envelope.OrderID,
			"error":     "unknown event " + envelope.Event,
		})
		msg.Ack()
		return
	}

	if err != nil {
		// Unknown orders are dropped: retrying cannot make them appear.
		if errors.Is(err, services.ErrCascadeOrderNotFound) || errors.Is(err, services.ErrCascadeInvalidInput) {
			s.logger(ctx, "order_event_dropped", map[string]any{
				"messageId": msg.ID,
				"orderId":   envelope.OrderID,
				"error":     err.Error(),
			})
			msg.Ack()
			return
		}
		s.logger(ctx, "order_event_retry", map[string]any{
			"messageId": msg.ID,
			"orderId":   envelope.OrderID,
			"error":     err.Error(),
		})
		msg.Nack()
		return
	}

	s.logger(ctx, "order_event_processed", map[string]any{
		"messageId": msg.ID,
		"orderId":   envelope.OrderID,
		"event":     envelope.Event,
		"decisions": decisions,
	})
	msg.Ack()
}
