package services

import (
	"context"
	"fmt"
	"time"

	awspkg "fulfillment-service/pkg/aws"
	"fulfillment-service/repository"

	"go.uber.org/zap"
)

// MetricsRecorder is satisfied by *aws.MetricsClient.
type MetricsRecorder interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
}

type nopMetrics struct{}

func (nopMetrics) RecordCount(context.Context, string, map[string]string) error { return nil }

// EffectRunner executes a named side effect at most once per gateway event.
// Completion is only recorded after fn succeeds, so a failed effect is retried
// on the next delivery of the same event.
type EffectRunner struct {
	store   repository.IdempotencyRepository
	metrics MetricsRecorder
	logger  *zap.Logger
	now     func() time.Time
}

func NewEffectRunner(store repository.IdempotencyRepository, metrics MetricsRecorder, logger *zap.Logger) *EffectRunner {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &EffectRunner{store: store, metrics: metrics, logger: logger, now: time.Now}
}

func (r *EffectRunner) RunOnce(ctx context.Context, eventID, effectName string, fn func(ctx context.Context) error) error {
	done, err := r.store.Exists(ctx, effectName, eventID)
	if err != nil {
		return fmt.Errorf("effect %s: idempotency lookup: %w", effectName, err)
	}
	if done {
		r.logger.Debug("effect already completed, skipping",
			zap.String("event_id", eventID),
			zap.String("effect", effectName),
		)
		_ = r.metrics.RecordCount(ctx, awspkg.MetricEffectSkipped, map[string]string{"Effect": effectName})
		return nil
	}

	if err := fn(ctx); err != nil {
		_ = r.metrics.RecordCount(ctx, awspkg.MetricEffectFailed, map[string]string{"Effect": effectName})
		return fmt.Errorf("effect %s: %w", effectName, err)
	}

	if err := r.store.Record(ctx, effectName, eventID, r.now()); err != nil {
		// the effect ran; a replay will run it again
		r.logger.Error("failed to record effect completion",
			zap.String("event_id", eventID),
			zap.String("effect", effectName),
			zap.Error(err),
		)
		return fmt.Errorf("effect %s: record completion: %w", effectName, err)
	}
	return nil
}
