// Package kafka provides Kafka producer and consumer clients backed by
// segmentio/kafka-go. Mutation events are fetched in lingering batches and
// committed explicitly once the batch has been applied; completion events are
// published as JSON.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/config"
)

// Consumer reads a topic as part of a consumer group. Offsets are committed
// only through Commit.
type Consumer struct {
	reader *kafka.Reader
	logger *slog.Logger
}

func NewConsumer(cfg config.KafkaConfig, topic string) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1e3,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	return &Consumer{
		reader: r,
		logger: slog.Default().With("component", "kafka-consumer", "topic", topic),
	}
}

// FetchBatch blocks for the first message, then keeps collecting for up to
// linger or until max messages are held.
func (c *Consumer) FetchBatch(ctx context.Context, max int, linger time.Duration) ([]kafka.Message, error) {
	first, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	batch := []kafka.Message{first}

	lingerCtx, cancel := context.WithTimeout(ctx, linger)
	defer cancel()
	for len(batch) < max {
		msg, err := c.reader.FetchMessage(lingerCtx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if lingerCtx.Err() != nil {
				break
			}
			return nil, err
		}
		batch = append(batch, msg)
	}
	c.logger.Debug("batch fetched",
		"messages", len(batch),
		"first_offset", batch[0].Offset,
		"last_offset", batch[len(batch)-1].Offset,
	)
	return batch, nil
}

// Commit marks msgs as processed for the consumer group.
func (c *Consumer) Commit(ctx context.Context, msgs ...kafka.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := c.reader.CommitMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("committing %d messages: %w", len(msgs), err)
	}
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON is a generic helper that unmarshals a Kafka message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
