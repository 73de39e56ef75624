package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"gitlab.com/timkado/api/identity-onboarding/internal/apperrors"
	"gitlab.com/timkado/api/identity-onboarding/internal/model"
	"gitlab.com/timkado/api/identity-onboarding/internal/observer"
	"gitlab.com/timkado/api/identity-onboarding/pkg/logger"
	"gitlab.com/timkado/api/identity-onboarding/pkg/utils"
)

const fullnameQuery = "lastname = ? AND firstname = ?"

func (r *PostgresRepo) CountByFullname(ctx context.Context, lastname, firstname string) (int64, error) {
	var count int64
	operation := func() error {
		err := r.db.WithContext(ctx).
			Model(&model.User{}).
			Where(fullnameQuery, lastname, firstname).
			Count(&count).Error
		if err != nil {
			return checkConstraintViolation(err)
		}
		return nil
	}

	startTime := utils.Now()
	err := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "CountByFullname", operation)
	observer.ObserveDbOperationDuration("count", "user", time.Since(startTime), err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to count users by fullname", zap.Error(err))
		return 0, err
	}
	return count, nil
}

func (r *PostgresRepo) CreateUser(ctx context.Context, user *model.User) error {
	operation := func() error {
		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var count int64
			if err := tx.Model(&model.User{}).
				Where(fullnameQuery, user.Lastname, user.Firstname).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return fmt.Errorf("%w: user %s %s", apperrors.ErrDuplicate, user.Firstname, user.Lastname)
			}
			return tx.Create(user).Error
		})
		return checkConstraintViolation(err)
	}

	startTime := utils.Now()
	err := retryableOperation(ctx, newRetryPolicy(ctx, commitRetryMaxElapsedTime), "CreateUser Commit", operation)
	observer.ObserveDbOperationDuration("create", "user", time.Since(startTime), err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to create user", zap.String("user_id", user.ID), zap.Error(err))
		return err
	}

	logger.FromContext(ctx).Info("User created", zap.String("user_id", user.ID))
	return nil
}
