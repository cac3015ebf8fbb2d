package queue

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/r3data-core/rdatacore/internal/apierrors"
)

// Consumer blocking-pops Jobs from one Kafka topic under one consumer
// group. "Blocking pop" is Reader.FetchMessage; "ack" is CommitMessages — a
// worker that dies between the two causes a group rebalance to redeliver
// the message, giving at-least-once delivery per §4.G.
type Consumer struct {
	reader *kafka.Reader
}

// NewConsumer builds a Consumer reading topic under groupID across brokers.
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: groupID,
		}),
	}
}

// Fetch blocks until a Job is available or ctx is done. The returned
// kafka.Message must be passed to Ack once the job has been durably handled
// — the message is NOT auto-committed.
func (c *Consumer) Fetch(ctx context.Context) (Job, kafka.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return Job{}, kafka.Message{}, apierrors.Wrap(apierrors.KindQueue, "fetch queue message", err)
	}

	job, err := UnmarshalJob(msg.Value)
	if err != nil {
		return Job{}, msg, apierrors.Wrap(apierrors.KindUnexpected, "decode queue job", err)
	}

	return job, msg, nil
}

// Ack commits msg's offset, marking it delivered.
func (c *Consumer) Ack(ctx context.Context, msg kafka.Message) error {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		return apierrors.Wrap(apierrors.KindQueue, "commit queue message", err)
	}

	return nil
}

// Close stops the reader, releasing its connection to the consumer group.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
