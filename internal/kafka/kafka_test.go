package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeWriter struct {
	mu      sync.Mutex
	written []kafka.Message
	fail    error
	closed  bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail != nil {
		return w.fail
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestProducer_FlushesQueueOnClose(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(discard(), w, 16)
	p.Start(context.Background())

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, p.Publish(context.Background(), "order.placed", []byte(k), []byte("{}")))
	}
	p.Close()
	p.Close()
	p.WaitClosed()

	require.Len(t, w.written, 3)
	assert.Equal(t, "order.placed", w.written[0].Topic)
	assert.Equal(t, []byte("a"), w.written[0].Key)
	assert.True(t, w.closed)

	err := p.Publish(context.Background(), "order.placed", nil, nil)
	assert.ErrorIs(t, err, ErrProducerClosed)
}

func TestProducer_StopsWhenContextEnds(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(discard(), w, 1)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	require.NoError(t, p.Publish(context.Background(), "t", nil, []byte("x")))
	cancel()
	p.WaitClosed()

	assert.Len(t, w.written, 1)
	assert.ErrorIs(t, p.Publish(context.Background(), "t", nil, nil), ErrProducerClosed)
}

func TestProducer_WriteErrorsDoNotStopTheLoop(t *testing.T) {
	w := &fakeWriter{fail: errors.New("broker down")}
	p := newProducer(discard(), w, 4)
	p.Start(context.Background())

	require.NoError(t, p.Publish(context.Background(), "t", nil, []byte("1")))
	require.NoError(t, p.Publish(context.Background(), "t", nil, []byte("2")))
	p.Close()
	p.WaitClosed()

	assert.Empty(t, w.written)
	assert.True(t, w.closed)
}

func TestProducer_PublishHonoursContextWhenFull(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(discard(), w, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Publish(ctx, "t", nil, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	p.Start(context.Background())
	p.Close()
	p.WaitClosed()
}

type fakeReader struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []int64
	closed    bool
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{msgs: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		r.msgs <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func TestConsumer_CommitsInPartitionOrder(t *testing.T) {
	r := newFakeReader(
		kafka.Message{Partition: 0, Offset: 1},
		kafka.Message{Partition: 1, Offset: 1},
		kafka.Message{Partition: 0, Offset: 2},
		kafka.Message{Partition: 0, Offset: 3},
	)
	c := newConsumer(discard(), r, 2)
	c.backoff = time.Millisecond

	var mu sync.Mutex
	seen := map[int][]int64{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- c.Start(ctx, func(_ context.Context, m kafka.Message) error {
			mu.Lock()
			defer mu.Unlock()
			seen[m.Partition] = append(seen[m.Partition], m.Offset)
			return nil
		})
	}()

	require.Eventually(t, func() bool { return len(r.commits()) == 4 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{1, 2, 3}, seen[0])
	assert.Equal(t, []int64{1}, seen[1])
	assert.True(t, r.closed)
}

func TestConsumer_RetriesThenMovesOn(t *testing.T) {
	r := newFakeReader(kafka.Message{Offset: 7}, kafka.Message{Offset: 8})
	c := newConsumer(discard(), r, 1)
	c.backoff = time.Millisecond

	var mu sync.Mutex
	calls := map[int64]int{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- c.Start(ctx, func(_ context.Context, m kafka.Message) error {
			mu.Lock()
			defer mu.Unlock()
			calls[m.Offset]++
			if m.Offset == 7 {
				return errors.New("smtp down")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool { return len(r.commits()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls[7])
	assert.Equal(t, 1, calls[8])
	assert.Equal(t, []int64{7, 8}, r.commits())
}

func TestDecode(t *testing.T) {
	type payload struct {
		OrderID string `json:"order_id"`
	}
	got, err := Decode[payload]([]byte(`{"order_id":"o-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "o-1", got.OrderID)

	_, err = Decode[payload]([]byte(`{`))
	assert.Error(t, err)
}

func TestTraceHeadersRoundTrip(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := InjectTrace(ctx, []kafka.Header{{Key: HeaderEventType, Value: []byte("OrderPlaced")}})
	assert.Equal(t, "OrderPlaced", HeaderValue(headers, HeaderEventType))
	assert.NotEmpty(t, HeaderValue(headers, "traceparent"))

	got := trace.SpanContextFromContext(ExtractTrace(context.Background(), headers))
	assert.Equal(t, traceID, got.TraceID())
	assert.Equal(t, spanID, got.SpanID())
}
