package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

var ErrProducerClosed = errors.New("producer closed")

const writeTimeout = 10 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer queues messages and writes them from one goroutine, so Publish
// never waits on the broker.
type Producer struct {
	w     messageWriter
	log   *slog.Logger
	inbox chan kafka.Message
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewProducer writes to whatever topic each message names.
func NewProducer(log *slog.Logger, brokers []string, buf int) *Producer {
	return newProducer(log, &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}, buf)
}

func newProducer(log *slog.Logger, w messageWriter, buf int) *Producer {
	return &Producer{
		w:     w,
		log:   log,
		inbox: make(chan kafka.Message, buf),
		done:  make(chan struct{}),
	}
}

// Start runs the write loop until Close or ctx is done. Messages already
// queued are flushed before the writer closes.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		for m := range p.inbox {
			wctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			if err := p.w.WriteMessages(wctx, m); err != nil {
				p.log.Error("kafka write failed", "topic", m.Topic, "key", string(m.Key), "err", err)
			}
			cancel()
		}
		if err := p.w.Close(); err != nil {
			p.log.Warn("kafka writer close", "err", err)
		}
		close(p.done)
	}()
	go func() {
		select {
		case <-ctx.Done():
			p.Close()
		case <-p.done:
		}
	}()
}

func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte, headers ...kafka.Header) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}
	m := kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
	select {
	case p.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting messages. It is safe to call more than once.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
}

// WaitClosed blocks until the queue is flushed. Start must have been called.
func (p *Producer) WaitClosed() { <-p.done }
