package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/segmentio/kafka-go"

	"FuturesPilot/internal/domain/models"
	domrepo "FuturesPilot/internal/domain/repository"
	pkgkafka "FuturesPilot/pkg/kafka"
	"FuturesPilot/pkg/logger"
)

// KafkaOutcomeHandler consumes closed-trade reports from the outcomes topic.
type KafkaOutcomeHandler struct {
	topic    string
	recorder *OutcomeRecorder
	metrics  domrepo.Metrics
	validate *validator.Validate
}

var _ pkgkafka.MessageHandler = (*KafkaOutcomeHandler)(nil)

func NewKafkaOutcomeHandler(topic string, recorder *OutcomeRecorder, metrics domrepo.Metrics) *KafkaOutcomeHandler {
	return &KafkaOutcomeHandler{topic: topic, recorder: recorder, metrics: metrics, validate: validator.New()}
}

func (h *KafkaOutcomeHandler) Topic() string { return h.topic }

// incoming message schema: OutcomeRequest as JSON
func (h *KafkaOutcomeHandler) Handle(ctx context.Context, b []byte) error {
	var req models.OutcomeRequest
	if err := json.Unmarshal(b, &req); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	if err := h.validate.Struct(req); err != nil {
		h.metrics.RecordError("consumer_validate")
		return fmt.Errorf("invalid outcome: %w", err)
	}

	o := h.recorder.FromRequest(req)
	h.metrics.RecordLatency("outcome_ingest_lag", time.Since(o.ClosedAt).Seconds())

	start := time.Now()
	err := h.recorder.Record(ctx, o)
	h.metrics.RecordLatency("outcome_record", time.Since(start).Seconds())
	if errors.Is(err, ErrUnknownStrategy) {
		// retrying cannot fix this; drop instead of dead-lettering forever
		return nil
	}
	return err
}

// Hook counts failed attempts and logs each one with its trace id, so a
// message that ends in the DLQ can be followed back to its reporter.
func (h *KafkaOutcomeHandler) Hook(log *logger.Logger) pkgkafka.ConsumerHook {
	return pkgkafka.HookFuncs{
		Err: func(ctx context.Context, km kafka.Message, attempt int, err error) {
			h.metrics.RecordError("consumer_attempt")
			log.Warn("outcome message attempt failed",
				logger.String("trace_id", pkgkafka.TraceID(ctx)),
				logger.Int("partition", km.Partition),
				logger.Int64("offset", km.Offset),
				logger.Int("attempt", attempt),
				logger.Error(err))
		},
	}
}
