package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/ariefcatur/marketplace-orders/internal/orders"
)

type Audience string

const (
	AudienceBuyer  Audience = "buyer"
	AudienceSeller Audience = "seller"
)

// ErrNoDelivery means not a single recipient of an event could be mailed.
var ErrNoDelivery = errors.New("no notification delivered")

// Dispatcher mails the buyer and every seller of an order. A failed
// recipient is logged; only a total failure is reported to the caller.
type Dispatcher struct {
	mailer Mailer
	log    *slog.Logger
	sent   metric.Int64Counter
}

func NewDispatcher(log *slog.Logger, m Mailer) *Dispatcher {
	sent, err := otel.Meter("notifier").Int64Counter("notifications.sent",
		metric.WithDescription("order emails by audience and outcome"))
	if err != nil {
		otel.Handle(err)
		sent = noop.Int64Counter{}
	}
	return &Dispatcher{mailer: m, log: log, sent: sent}
}

type delivery struct {
	to       orders.Party
	audience Audience
	summary  orders.OrderSummary
	subject  string
	heading  string
}

func (d *Dispatcher) OrderPlaced(ctx context.Context, s orders.OrderSummary) error {
	jobs := []delivery{{
		to: s.Buyer, audience: AudienceBuyer, summary: s,
		subject: fmt.Sprintf("Order Confirmation #%s", s.OrderID),
		heading: "Order Confirmation",
	}}
	for _, seller := range s.Sellers {
		jobs = append(jobs, delivery{
			to: seller, audience: AudienceSeller, summary: sellerView(s, seller.ID),
			subject: fmt.Sprintf("New Order Received #%s", s.OrderID),
			heading: "New Order Received",
		})
	}
	return d.run(ctx, jobs)
}

// OrderStatusChanged tells the buyer; sellers hear about cancellations too
// so they stop fulfilment.
func (d *Dispatcher) OrderStatusChanged(ctx context.Context, from orders.Status, s orders.OrderSummary) error {
	subject := fmt.Sprintf("Order #%s is now %s", s.OrderID, s.Status)
	jobs := []delivery{{
		to: s.Buyer, audience: AudienceBuyer, summary: s,
		subject: subject, heading: fmt.Sprintf("Order Update: %s → %s", from, s.Status),
	}}
	if s.Status == orders.StatusCancelled {
		for _, seller := range s.Sellers {
			jobs = append(jobs, delivery{
				to: seller, audience: AudienceSeller, summary: sellerView(s, seller.ID),
				subject: subject, heading: "Order Cancelled",
			})
		}
	}
	return d.run(ctx, jobs)
}

// Notify renders and sends one email about s.
func (d *Dispatcher) Notify(ctx context.Context, s orders.OrderSummary, to orders.Party, audience Audience, subject, heading string) error {
	if to.Email == "" {
		return fmt.Errorf("%s %d has no email address", audience, to.ID)
	}
	html, err := renderOrderEmail(emailData{Heading: heading, Audience: audience, Order: s})
	if err != nil {
		return err
	}
	return d.mailer.Send(ctx, Message{To: to.Email, Subject: subject, HTML: html})
}

func (d *Dispatcher) run(ctx context.Context, jobs []delivery) error {
	var delivered int
	for _, j := range jobs {
		err := d.Notify(ctx, j.summary, j.to, j.audience, j.subject, j.heading)
		outcome := "sent"
		if err != nil {
			outcome = "failed"
			d.log.Warn("order email failed",
				"order_id", j.summary.OrderID, "audience", j.audience, "recipient_id", j.to.ID, "err", err)
		} else {
			delivered++
		}
		d.sent.Add(ctx, 1, metric.WithAttributes(
			attribute.String("audience", string(j.audience)),
			attribute.String("outcome", outcome),
		))
	}
	if delivered == 0 && len(jobs) > 0 {
		return ErrNoDelivery
	}
	return nil
}

// sellerView keeps only the lines a seller fulfils and totals those.
func sellerView(s orders.OrderSummary, sellerID int64) orders.OrderSummary {
	out := s
	out.Lines = nil
	out.Total = decimal.Zero
	for _, ln := range s.Lines {
		if ln.SellerID == sellerID {
			out.Lines = append(out.Lines, ln)
			out.Total = out.Total.Add(ln.Subtotal)
		}
	}
	return out
}
