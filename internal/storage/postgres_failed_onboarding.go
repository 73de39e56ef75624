package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/identity-onboarding/internal/model"
	"gitlab.com/timkado/api/identity-onboarding/internal/observer"
	"gitlab.com/timkado/api/identity-onboarding/pkg/logger"
	"gitlab.com/timkado/api/identity-onboarding/pkg/utils"
)

// SaveFailedOnboarding stores a failure drained from the failure stream.
func (r *PostgresRepo) SaveFailedOnboarding(ctx context.Context, failure model.FailedOnboarding) error {
	operation := func() error {
		if err := r.db.WithContext(ctx).Create(&failure).Error; err != nil {
			return checkConstraintViolation(err)
		}
		return nil
	}

	startTime := utils.Now()
	err := retryableOperation(ctx, newRetryPolicy(ctx, commitRetryMaxElapsedTime), "SaveFailedOnboarding Commit", operation)
	observer.ObserveDbOperationDuration("save", "failed_onboarding", time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Error("Failed to save failed onboarding after retries",
			zap.String("request_id", failure.RequestID),
			zap.String("step", failure.Step),
			zap.Error(err))
		return err
	}

	logger.FromContext(ctx).Info("Saved failed onboarding",
		zap.Uint("id", failure.ID),
		zap.String("request_id", failure.RequestID),
		zap.String("step", failure.Step))
	return nil
}
