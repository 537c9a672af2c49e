package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"

	kafkax "github.com/ariefcatur/marketplace-orders/internal/kafka"
	"github.com/ariefcatur/marketplace-orders/internal/orders"
)

const eventVersion = 1

type eventProducer interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers ...kafkago.Header) error
}

// Publisher is the API side of notifications: it turns committed order
// changes into events for the notifier worker.
type Publisher struct {
	producer eventProducer
	service  string
	now      func() time.Time
}

var _ orders.Notifier = (*Publisher)(nil)

func NewPublisher(p eventProducer, service string) *Publisher {
	return &Publisher{producer: p, service: service, now: time.Now}
}

func (p *Publisher) OrderPlaced(ctx context.Context, d orders.OrderDetail) error {
	return p.publish(ctx, orders.TopicOrderPlaced, orders.EventOrderPlaced, d.ID,
		orders.OrderPlacedPayload{Order: orders.NewOrderSummary(d)})
}

func (p *Publisher) OrderStatusChanged(ctx context.Context, d orders.OrderDetail, from orders.Status) error {
	return p.publish(ctx, orders.TopicOrderStatusChanged, orders.EventOrderStatusChanged, d.ID,
		orders.OrderStatusChangedPayload{From: from, To: d.Status, Order: orders.NewOrderSummary(d)})
}

func (p *Publisher) publish(ctx context.Context, topic, eventType, orderID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	env := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  eventVersion,
		OccurredAt:    p.now().UTC(),
		Producer:      p.service,
		CorrelationID: orderID,
		Payload:       body,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", eventType, err)
	}

	headers := kafkax.InjectTrace(ctx, []kafkago.Header{
		{Key: kafkax.HeaderEventType, Value: []byte(eventType)},
		{Key: kafkax.HeaderEventVersion, Value: []byte(strconv.Itoa(eventVersion))},
	})
	if err := p.producer.Publish(ctx, topic, orders.PartitionKey(orderID), value, headers...); err != nil {
		return fmt.Errorf("publish %s for order %s: %w", eventType, orderID, err)
	}
	return nil
}
