package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kafkax "github.com/ariefcatur/marketplace-orders/internal/kafka"
	"github.com/ariefcatur/marketplace-orders/internal/orders"
	"github.com/ariefcatur/marketplace-orders/internal/redisx"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeMailer struct {
	mu   sync.Mutex
	sent []Message
	fail map[string]error
}

func (m *fakeMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[msg.To]; err != nil {
		return err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) to(addr string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for _, msg := range m.sent {
		if msg.To == addr {
			out = append(out, msg)
		}
	}
	return out
}

type published struct {
	topic   string
	key     []byte
	value   []byte
	headers []kafkago.Header
}

type fakeProducer struct {
	msgs []published
	err  error
}

func (p *fakeProducer) Publish(_ context.Context, topic string, key, value []byte, headers ...kafkago.Header) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{topic: topic, key: key, value: value, headers: headers})
	return nil
}

func sampleDetail() orders.OrderDetail {
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	kopi := orders.Product{ID: 1, SellerID: 10, Name: "Kopi Gayo", Price: decimal.NewFromInt(100), DiscountedPrice: decimal.NewFromInt(80)}
	teh := orders.Product{ID: 2, SellerID: 11, Name: "Teh Tarik", Price: decimal.NewFromInt(50)}
	return orders.OrderDetail{
		Order: orders.Order{
			ID: "0b7f0b4e-4a7c-4f7e-9d4b-2f5c1c0e6a11", BuyerID: 1, AddressID: 100,
			Status: orders.StatusPending, Total: decimal.NewFromInt(210), CreatedAt: at, UpdatedAt: at,
		},
		Lines: []orders.LineDetail{
			{OrderLine: orders.OrderLine{ProductID: 1, Quantity: 2, UnitPrice: decimal.NewFromInt(80)}, Product: kopi},
			{OrderLine: orders.OrderLine{ProductID: 2, Quantity: 1, UnitPrice: decimal.NewFromInt(50)}, Product: teh},
		},
		Address: orders.Address{ID: 100, UserID: 1, Line: "Jl. Merdeka 1", City: "Jakarta", State: "DKI", Country: "ID", Pincode: "10110"},
		Buyer:   orders.User{ID: 1, Name: "Budi", Email: "budi@example.com"},
		Sellers: []orders.User{
			{ID: 10, Name: "Sari", Email: "sari@example.com"},
			{ID: 11, Name: "Joko", Email: "joko@example.com"},
		},
	}
}

func TestPublisher_OrderPlaced(t *testing.T) {
	fp := &fakeProducer{}
	pub := NewPublisher(fp, "orders-api")
	pub.now = func() time.Time { return time.Date(2024, 5, 1, 9, 0, 1, 0, time.UTC) }
	d := sampleDetail()

	require.NoError(t, pub.OrderPlaced(context.Background(), d))
	require.Len(t, fp.msgs, 1)
	msg := fp.msgs[0]
	assert.Equal(t, orders.TopicOrderPlaced, msg.topic)
	assert.Equal(t, orders.PartitionKey(d.ID), msg.key)
	assert.Equal(t, orders.EventOrderPlaced, kafkax.HeaderValue(msg.headers, kafkax.HeaderEventType))
	assert.Equal(t, "1", kafkax.HeaderValue(msg.headers, kafkax.HeaderEventVersion))

	env, err := kafkax.Decode[orders.Envelope](msg.value)
	require.NoError(t, err)
	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, "orders-api", env.Producer)
	assert.Equal(t, d.ID, env.CorrelationID)
	assert.Equal(t, 1, env.EventVersion)

	p, err := kafkax.Decode[orders.OrderPlacedPayload](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, "budi@example.com", p.Order.Buyer.Email)
	assert.Len(t, p.Order.Sellers, 2)
	require.Len(t, p.Order.Lines, 2)
	assert.True(t, decimal.NewFromInt(160).Equal(p.Order.Lines[0].Subtotal))
}

func TestPublisher_StatusChangedAndErrors(t *testing.T) {
	fp := &fakeProducer{}
	pub := NewPublisher(fp, "orders-api")
	d := sampleDetail()
	d.Status = orders.StatusCancelled

	require.NoError(t, pub.OrderStatusChanged(context.Background(), d, orders.StatusApproved))
	require.Len(t, fp.msgs, 1)
	assert.Equal(t, orders.TopicOrderStatusChanged, fp.msgs[0].topic)

	env, err := kafkax.Decode[orders.Envelope](fp.msgs[0].value)
	require.NoError(t, err)
	p, err := kafkax.Decode[orders.OrderStatusChangedPayload](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusApproved, p.From)
	assert.Equal(t, orders.StatusCancelled, p.To)

	fp.err = kafkax.ErrProducerClosed
	err = pub.OrderPlaced(context.Background(), d)
	assert.ErrorIs(t, err, kafkax.ErrProducerClosed)
}

func TestDispatcher_OrderPlacedMailsEveryParty(t *testing.T) {
	m := &fakeMailer{}
	d := NewDispatcher(discard(), m)
	s := orders.NewOrderSummary(sampleDetail())

	require.NoError(t, d.OrderPlaced(context.Background(), s))

	buyer := m.to("budi@example.com")
	require.Len(t, buyer, 1)
	assert.Contains(t, buyer[0].Subject, "Order Confirmation")
	assert.Contains(t, buyer[0].HTML, "Kopi Gayo")
	assert.Contains(t, buyer[0].HTML, "Teh Tarik")
	assert.Contains(t, buyer[0].HTML, "$210.00")

	sari := m.to("sari@example.com")
	require.Len(t, sari, 1)
	assert.Contains(t, sari[0].Subject, "New Order Received")
	assert.Contains(t, sari[0].HTML, "Kopi Gayo")
	assert.NotContains(t, sari[0].HTML, "Teh Tarik")
	assert.Contains(t, sari[0].HTML, "$160.00")

	joko := m.to("joko@example.com")
	require.Len(t, joko, 1)
	assert.NotContains(t, joko[0].HTML, "Kopi Gayo")
	assert.Contains(t, joko[0].HTML, "$50.00")
}

func TestDispatcher_StatusChangedAudience(t *testing.T) {
	s := orders.NewOrderSummary(sampleDetail())

	t.Run("approved goes to the buyer only", func(t *testing.T) {
		m := &fakeMailer{}
		s := s
		s.Status = orders.StatusApproved
		require.NoError(t, NewDispatcher(discard(), m).OrderStatusChanged(context.Background(), orders.StatusPending, s))
		assert.Len(t, m.sent, 1)
		assert.Len(t, m.to("budi@example.com"), 1)
	})

	t.Run("cancelled also reaches sellers", func(t *testing.T) {
		m := &fakeMailer{}
		s := s
		s.Status = orders.StatusCancelled
		require.NoError(t, NewDispatcher(discard(), m).OrderStatusChanged(context.Background(), orders.StatusPending, s))
		assert.Len(t, m.sent, 3)
		assert.Contains(t, m.to("sari@example.com")[0].HTML, "Order Cancelled")
	})
}

func TestDispatcher_PartialAndTotalFailure(t *testing.T) {
	s := orders.NewOrderSummary(sampleDetail())

	m := &fakeMailer{fail: map[string]error{"sari@example.com": errors.New("mailbox full")}}
	require.NoError(t, NewDispatcher(discard(), m).OrderPlaced(context.Background(), s))
	assert.Len(t, m.sent, 2)

	down := errors.New("relay down")
	m = &fakeMailer{fail: map[string]error{
		"budi@example.com": down, "sari@example.com": down, "joko@example.com": down,
	}}
	err := NewDispatcher(discard(), m).OrderPlaced(context.Background(), s)
	assert.ErrorIs(t, err, ErrNoDelivery)
}

func TestDispatcher_SkipsPartiesWithoutEmail(t *testing.T) {
	s := orders.NewOrderSummary(sampleDetail())
	s.Sellers[1].Email = ""
	m := &fakeMailer{}

	require.NoError(t, NewDispatcher(discard(), m).OrderPlaced(context.Background(), s))
	assert.Len(t, m.sent, 2)
}

func TestRenderOrderEmail(t *testing.T) {
	s := orders.NewOrderSummary(sampleDetail())
	s.Lines[0].ProductName = `<script>alert(1)</script>`

	html, err := renderOrderEmail(emailData{Heading: "Order Confirmation", Audience: AudienceBuyer, Order: s})
	require.NoError(t, err)
	assert.Contains(t, html, "#"+s.OrderID)
	assert.Contains(t, html, "01 May 2024")
	assert.Contains(t, html, "Jl. Merdeka 1")
	assert.Contains(t, html, "ID - 10110")
	assert.Contains(t, html, "$80.00")
	assert.NotContains(t, html, "<script>")
}

func envelopeMessage(t *testing.T, eventID, eventType string, payload any) kafkago.Message {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	value, err := json.Marshal(orders.Envelope{EventID: eventID, EventType: eventType, EventVersion: 1, Payload: body})
	require.NoError(t, err)
	return kafkago.Message{Topic: orders.TopicOrderPlaced, Value: value}
}

func newTestHandler(t *testing.T, m Mailer) *Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewHandler(discard(), NewDispatcher(discard(), m), redisx.NewDedup(rdb, "notifier"))
}

func TestHandler_HandlesEachEventOnce(t *testing.T) {
	m := &fakeMailer{}
	h := newTestHandler(t, m)
	msg := envelopeMessage(t, "ev-1", orders.EventOrderPlaced,
		orders.OrderPlacedPayload{Order: orders.NewOrderSummary(sampleDetail())})

	require.NoError(t, h.Handle(context.Background(), msg))
	require.NoError(t, h.Handle(context.Background(), msg))
	assert.Len(t, m.sent, 3)
}

func TestHandler_RetryAfterTotalFailure(t *testing.T) {
	down := errors.New("relay down")
	m := &fakeMailer{fail: map[string]error{"budi@example.com": down}}
	h := newTestHandler(t, m)
	s := orders.NewOrderSummary(sampleDetail())
	s.Status = orders.StatusApproved
	msg := envelopeMessage(t, "ev-2", orders.EventOrderStatusChanged,
		orders.OrderStatusChangedPayload{From: orders.StatusPending, To: orders.StatusApproved, Order: s})

	assert.ErrorIs(t, h.Handle(context.Background(), msg), ErrNoDelivery)

	m.fail = nil
	require.NoError(t, h.Handle(context.Background(), msg), "a failed event must not stay marked as handled")
	assert.Len(t, m.to("budi@example.com"), 1)
}

func TestHandler_DropsWhatItCannotUse(t *testing.T) {
	m := &fakeMailer{}
	h := newTestHandler(t, m)
	ctx := context.Background()

	assert.NoError(t, h.Handle(ctx, kafkago.Message{Value: []byte("{not json")}))
	assert.NoError(t, h.Handle(ctx, envelopeMessage(t, "ev-3", "ProductRestocked", map[string]int{"id": 1})))

	bad := envelopeMessage(t, "ev-4", orders.EventOrderPlaced, nil)
	bad.Value = []byte(strings.Replace(string(bad.Value), `"payload":null`, `"payload":"oops"`, 1))
	assert.NoError(t, h.Handle(ctx, bad))
	assert.Empty(t, m.sent)
}

func TestCompose(t *testing.T) {
	raw := string(compose("orders@example.com", Message{To: "budi@example.com", Subject: "Pesanan #1", HTML: "<p>hi</p>"}))
	assert.Contains(t, raw, "From: orders@example.com\r\n")
	assert.Contains(t, raw, "To: budi@example.com\r\n")
	assert.Contains(t, raw, "Content-Type: text/html")
	assert.True(t, strings.HasSuffix(raw, "\r\n\r\n<p>hi</p>"))
}
