package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/identity-onboarding/internal/model"
)

// RepositoryMock mocks the combined storage.Repository interface
type RepositoryMock struct {
	mock.Mock
}

// CountByFullname mocks the CountByFullname method
func (m *RepositoryMock) CountByFullname(ctx context.Context, lastname, firstname string) (int64, error) {
	args := m.Called(ctx, lastname, firstname)
	return args.Get(0).(int64), args.Error(1)
}

// CreateUser mocks the CreateUser method
func (m *RepositoryMock) CreateUser(ctx context.Context, user *model.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

// SaveFailedOnboarding mocks the SaveFailedOnboarding method
func (m *RepositoryMock) SaveFailedOnboarding(ctx context.Context, failure model.FailedOnboarding) error {
	args := m.Called(ctx, failure)
	return args.Error(0)
}

// Ping mocks the Ping method
func (m *RepositoryMock) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Close mocks the Close method
func (m *RepositoryMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
