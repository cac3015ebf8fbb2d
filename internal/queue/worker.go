package queue

import (
	"context"
	"errors"
	"log/slog"
)

// Handler processes one dequeued Job. A returned error leaves the message
// uncommitted, so it is redelivered on the next FetchMessage/rebalance
// (§4.G at-least-once delivery) rather than acknowledged and dropped.
type Handler func(ctx context.Context, job Job) error

// RunWorkerPool starts concurrency goroutines, each blocking-popping from
// consumer and invoking handler, acking only on success. It blocks until ctx
// is done and every worker goroutine has returned.
func RunWorkerPool(ctx context.Context, logger *slog.Logger, consumer *Consumer, concurrency int, handler Handler) {
	done := make(chan struct{}, concurrency)

	for i := 0; i < concurrency; i++ {
		go func(worker int) {
			defer func() { done <- struct{}{} }()
			runWorker(ctx, logger, consumer, handler, worker)
		}(i)
	}

	for i := 0; i < concurrency; i++ {
		<-done
	}
}

func runWorker(ctx context.Context, logger *slog.Logger, consumer *Consumer, handler Handler, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, msg, err := consumer.Fetch(ctx)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return
			}

			logger.Error("queue fetch failed", slog.Int("worker", worker), slog.String("error", err.Error()))

			continue
		}

		if err := handler(ctx, job); err != nil {
			logger.Error("queue job failed, leaving uncommitted for redelivery",
				slog.Int("worker", worker), slog.String("run_id", job.RunID), slog.String("error", err.Error()))

			continue
		}

		if err := consumer.Ack(ctx, msg); err != nil {
			logger.Error("queue ack failed", slog.Int("worker", worker), slog.String("run_id", job.RunID), slog.String("error", err.Error()))
		}
	}
}
