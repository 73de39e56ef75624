package usecase

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/identity-onboarding/internal/geocoding"
	"gitlab.com/timkado/api/identity-onboarding/internal/model"
)

type fakeAnalyzer struct {
	fields []model.FormField
	err    error
	calls  int
}

func (f *fakeAnalyzer) AnalyzeForm(_ context.Context, _, _ string) ([]model.FormField, error) {
	f.calls++
	return f.fields, f.err
}

type fakeGeocoder struct {
	candidates []geocoding.Candidate
	err        error
	calls      int
}

func (f *fakeGeocoder) Search(_ context.Context, _ geocoding.Query) ([]geocoding.Candidate, error) {
	f.calls++
	return f.candidates, f.err
}

type publisherMock struct {
	mock.Mock
}

func (m *publisherMock) PublishUserCreated(ctx context.Context, record *model.WorkflowRecord, createdAt time.Time) error {
	return m.Called(ctx, record, createdAt).Error(0)
}

type failuresMock struct {
	mock.Mock
}

func (m *failuresMock) Enqueue(ctx context.Context, record *model.WorkflowRecord) error {
	return m.Called(ctx, record).Error(0)
}

type notifierMock struct {
	mock.Mock
}

func (m *notifierMock) Notify(ctx context.Context, connectionID, requestID string, n model.Notification) error {
	return m.Called(ctx, connectionID, requestID, n).Error(0)
}

type triggersMock struct {
	mock.Mock
}

func (m *triggersMock) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	return m.Called(ctx, subject, data, headers).Error(0)
}

type uploadsMock struct {
	mock.Mock
}

func (m *uploadsMock) Issue(ctx context.Context, requestID, contentType string) (model.UploadURLResponse, error) {
	args := m.Called(ctx, requestID, contentType)
	return args.Get(0).(model.UploadURLResponse), args.Error(1)
}

type registryMock struct {
	mock.Mock
}

func (m *registryMock) Register(ctx context.Context, reg model.ConnectionRegistration) error {
	return m.Called(ctx, reg).Error(0)
}

func (m *registryMock) Unregister(ctx context.Context, connectionID string) error {
	return m.Called(ctx, connectionID).Error(0)
}
