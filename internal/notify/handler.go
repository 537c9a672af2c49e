package notify

import (
	"context"
	"fmt"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	kafkax "github.com/ariefcatur/marketplace-orders/internal/kafka"
	"github.com/ariefcatur/marketplace-orders/internal/orders"
)

type deduper interface {
	Seen(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

// Handler consumes order events and hands them to the Dispatcher, once per
// event id.
type Handler struct {
	dispatcher *Dispatcher
	dedup      deduper
	log        *slog.Logger
	tracer     trace.Tracer
}

func NewHandler(log *slog.Logger, d *Dispatcher, dedup deduper) *Handler {
	return &Handler{dispatcher: d, dedup: dedup, log: log, tracer: otel.Tracer("notifier")}
}

// Handle is a kafka.Handler. A returned error makes the consumer retry.
func (h *Handler) Handle(ctx context.Context, m kafkago.Message) error {
	ctx = kafkax.ExtractTrace(ctx, m.Headers)
	ctx, span := h.tracer.Start(ctx, "notify.Handle", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	env, err := kafkax.Decode[orders.Envelope](m.Value)
	if err != nil {
		h.log.Error("undecodable event dropped", "topic", m.Topic, "offset", m.Offset, "err", err)
		return nil
	}
	span.SetAttributes(
		attribute.String("event_id", env.EventID),
		attribute.String("event_type", env.EventType),
		attribute.String("order_id", env.CorrelationID),
	)

	seen, err := h.dedup.Seen(ctx, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup event %s: %w", env.EventID, err)
	}
	if seen {
		h.log.Debug("duplicate event skipped", "event_id", env.EventID)
		return nil
	}

	if err := h.dispatch(ctx, env); err != nil {
		if ferr := h.dedup.Forget(ctx, env.EventID); ferr != nil {
			h.log.Warn("dedup forget failed", "event_id", env.EventID, "err", ferr)
		}
		return err
	}
	return nil
}

func (h *Handler) dispatch(ctx context.Context, env orders.Envelope) error {
	switch env.EventType {
	case orders.EventOrderPlaced:
		p, err := kafkax.Decode[orders.OrderPlacedPayload](env.Payload)
		if err != nil {
			h.log.Error("bad payload dropped", "event_id", env.EventID, "err", err)
			return nil
		}
		return h.dispatcher.OrderPlaced(ctx, p.Order)
	case orders.EventOrderStatusChanged:
		p, err := kafkax.Decode[orders.OrderStatusChangedPayload](env.Payload)
		if err != nil {
			h.log.Error("bad payload dropped", "event_id", env.EventID, "err", err)
			return nil
		}
		return h.dispatcher.OrderStatusChanged(ctx, p.From, p.Order)
	default:
		return nil // ignore
	}
}
