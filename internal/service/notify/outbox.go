package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"FuturesPilot/internal/domain/models"
	"FuturesPilot/internal/domain/repository"
	"FuturesPilot/pkg/queue"
)

const AlertDispatchType = "alert.dispatch"

// Outbox enqueues alerts on the Redis queue instead of calling a slow sink
// inline. DispatchJob drains the queue with the queue's retry and DLQ.
type Outbox struct {
	q queue.Publisher
}

func NewOutbox(q queue.Publisher) *Outbox { return &Outbox{q: q} }

func (o *Outbox) Notify(ctx context.Context, alert models.Alert) error {
	return o.q.PublishMessage(ctx, AlertDispatchType, alert)
}

// DispatchJob delivers queued alerts to the wrapped notifier.
type DispatchJob struct {
	target repository.Notifier
}

func NewDispatchJob(target repository.Notifier) *DispatchJob { return &DispatchJob{target: target} }

func (j *DispatchJob) Name() string { return "alert_dispatch" }

func (j *DispatchJob) Type() string { return AlertDispatchType }

func (j *DispatchJob) Handle(ctx context.Context, payload json.RawMessage) error {
	alert, err := queue.ParsePayload[models.Alert](payload)
	if err != nil {
		return fmt.Errorf("alert payload: %w", err)
	}
	return j.target.Notify(ctx, *alert)
}
