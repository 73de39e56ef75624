package storage

import (
	"context"

	"gitlab.com/timkado/api/identity-onboarding/internal/model"
)

// UserRepo defines user storage operations
type UserRepo interface {
	// CountByFullname returns how many users share the exact (lastname, firstname) pair.
	CountByFullname(ctx context.Context, lastname, firstname string) (int64, error)
	// CreateUser inserts the user. It re-counts the (lastname, firstname)
	// pair inside the insert transaction and fails with apperrors.ErrDuplicate
	// when a match exists.
	CreateUser(ctx context.Context, user *model.User) error
}

// FailedOnboardingRepo defines storage for failures drained from the failure stream
type FailedOnboardingRepo interface {
	SaveFailedOnboarding(ctx context.Context, failure model.FailedOnboarding) error
}

// Repository is the combined storage surface.
type Repository interface {
	UserRepo
	FailedOnboardingRepo
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

var _ Repository = (*PostgresRepo)(nil)
