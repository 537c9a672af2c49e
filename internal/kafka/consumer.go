package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Handler returns nil once the message is done with and its offset may be
// committed.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r        messageReader
	log      *slog.Logger
	workers  int
	attempts int
	backoff  time.Duration
}

func NewConsumer(log *slog.Logger, brokers []string, group string, topics []string, workers int) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(log, r, workers)
}

func newConsumer(log *slog.Logger, r messageReader, workers int) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, log: log, workers: workers, attempts: 3, backoff: 200 * time.Millisecond}
}

// Start fetches until ctx is done. Each partition is pinned to one worker so
// offsets within a partition are committed in order.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	lanes := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				c.handle(ctx, h, m)
			}
		}(lanes[i])
	}
	defer func() {
		for _, l := range lanes {
			close(l)
		}
		wg.Wait()
	}()

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}
		select {
		case lanes[m.Partition%len(lanes)] <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

// handle retries h a few times and then commits regardless; a message that
// keeps failing is logged and skipped rather than blocking its partition.
func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) {
	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err = h(ctx, m); err == nil {
			break
		}
		c.log.Warn("handler failed",
			"topic", m.Topic, "partition", m.Partition, "offset", m.Offset, "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
	if err != nil {
		c.log.Error("message dropped after retries",
			"topic", m.Topic, "partition", m.Partition, "offset", m.Offset, "err", err)
	}
	if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		c.log.Error("commit failed", "topic", m.Topic, "partition", m.Partition, "offset", m.Offset, "err", err)
	}
}
