package queue

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/r3data-core/rdatacore/internal/apierrors"
)

// Producer enqueues Jobs onto one Kafka topic. The Scheduler holds a
// Producer for the fetch topic; the ingester holds no Producer and drains
// the fetch and process topics with the same handler.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer builds a Producer writing to topic across brokers.
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
	}
}

// Enqueue writes job as one Kafka message keyed by run id, so all jobs for
// a given run land on the same partition and are processed in order.
func (p *Producer) Enqueue(ctx context.Context, job Job) error {
	payload, err := job.Marshal()
	if err != nil {
		return apierrors.Wrap(apierrors.KindUnexpected, "marshal queue job", err)
	}

	msg := kafka.Message{Key: []byte(job.RunID), Value: payload}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return apierrors.Wrap(apierrors.KindQueue, "enqueue job", err)
	}

	return nil
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
