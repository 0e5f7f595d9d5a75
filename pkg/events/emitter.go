// Package events handles event emission for job lifecycle changes
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/lewiskimaru/lasomi-sub001/pkg/kafka"
	"github.com/lewiskimaru/lasomi-sub001/pkg/models"
	"github.com/lewiskimaru/lasomi-sub001/pkg/tracing"
)

// Emitter publishes job lifecycle events. Consumers downstream (billing,
// notification fan-out) key off event_type.
type Emitter interface {
	EmitJobTerminal(ctx context.Context, job *models.Job, formats []string) error
}

// KafkaEmitter emits job events to Kafka.
type KafkaEmitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewKafkaEmitter creates a new Kafka-backed event emitter
func NewKafkaEmitter(producer *kafka.Producer, logger ectologger.Logger) *KafkaEmitter {
	return &KafkaEmitter{
		producer: producer,
		logger:   logger,
	}
}

// EmitJobTerminal emits the event for a job reaching a terminal state.
// Emission failures are logged but never fail the job itself.
func (e *KafkaEmitter) EmitJobTerminal(ctx context.Context, job *models.Job, formats []string) error {
	ctx, span := tracing.StartSpan(ctx, "events.KafkaEmitter.EmitJobTerminal")
	defer span.End()

	var eventType string
	switch job.State {
	case models.JobStateCompleted:
		eventType = "job.completed"
	case models.JobStateFailed:
		eventType = "job.failed"
	case models.JobStateCancelled:
		eventType = "job.cancelled"
	default:
		return nil
	}

	var stats json.RawMessage
	if len(job.ProviderStats) > 0 {
		stats, _ = json.Marshal(job.ProviderStats)
	}

	event := &kafka.JobEvent{
		EventType:     eventType,
		TenantID:      job.TenantID,
		JobID:         job.ID,
		State:         string(job.State),
		FailureReason: job.FailureReason,
		FeatureCount:  len(job.Features),
		ClusterCount:  len(job.Clusters),
		Formats:       formats,
		Stats:         stats,
	}

	if err := e.producer.PublishJobEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit job event")
		return err
	}

	return nil
}

// NopEmitter discards events. Used when Kafka is disabled.
type NopEmitter struct{}

func (NopEmitter) EmitJobTerminal(context.Context, *models.Job, []string) error { return nil }
