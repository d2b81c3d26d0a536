package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/okapilabs/drainq/pkg/breaker"
	"github.com/okapilabs/drainq/pkg/core"
	"github.com/okapilabs/drainq/pkg/policy"
	"github.com/okapilabs/drainq/pkg/scheduler"
)

// DependencyName is the breaker key for the chat-messaging gateway.
const DependencyName = "messaging-gateway"

// Handler returns the notification family handler. Each invocation
// consults the breaker before touching the gateway: once the circuit is
// open, remaining jobs in the batch fail fast without attempting the
// call, so a run drains quickly even during an outage.
func Handler(gateway core.Gateway, br *breaker.Breaker, retry policy.RetryConfig, logger *slog.Logger) scheduler.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}

	return func(ctx context.Context, job *core.Job) error {
		envelope, err := ParseEnvelope(job.Payload)
		if err != nil {
			// Malformed payloads burn retries like any other failure and
			// end up quarantined with the parse error in the trail.
			return err
		}

		if !br.Allow() {
			return core.CircuitOpen(br.Name())
		}

		var deliveryID string
		sendErr := policy.Do(ctx, retry, func() error {
			id, err := gateway.Send(ctx, envelope.To, job.Payload)
			if err == nil {
				deliveryID = id
			}
			return err
		})
		if sendErr != nil {
			br.RecordFailure(sendErr.Error())
			logger.Warn("notification send failed",
				"job_id", job.ID,
				"to", MaskDestination(envelope.To),
				"channel", envelope.Channel(),
				"error", sendErr)
			return sendErr
		}

		br.RecordSuccess()
		logger.Info("notification sent",
			"job_id", job.ID,
			"to", MaskDestination(envelope.To),
			"channel", envelope.Channel(),
			"delivery_id", deliveryID)
		return nil
	}
}

// EnqueueOption adjusts a queued notification.
type EnqueueOption func(*core.Job)

// WithDelay defers the first delivery attempt.
func WithDelay(d time.Duration) EnqueueOption {
	return func(j *core.Job) {
		if d > 0 {
			at := time.Now().Add(d)
			j.NextAttemptAt = &at
		}
	}
}

// WithPriority sets the job priority (higher runs first).
func WithPriority(p int) EnqueueOption {
	return func(j *core.Job) { j.Priority = p }
}

// Enqueue queues a notification for delivery by the given family.
func Enqueue(ctx context.Context, q core.Enqueuer, family string, envelope *Envelope, opts ...EnqueueOption) (string, error) {
	payload, err := envelope.Marshal()
	if err != nil {
		return "", err
	}
	job := &core.Job{
		ID:      uuid.New().String(),
		Family:  family,
		Payload: payload,
		Status:  core.StatusQueued,
	}
	for _, opt := range opts {
		opt(job)
	}
	if err := q.Enqueue(ctx, job); err != nil {
		return "", err
	}
	return job.ID, nil
}
