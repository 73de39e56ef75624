package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/identity-onboarding/internal/apperrors"
	"gitlab.com/timkado/api/identity-onboarding/internal/model"
	"gitlab.com/timkado/api/identity-onboarding/pkg/logger"
)

var insertFailedOnboarding = regexp.QuoteMeta(`INSERT INTO "failed_onboardings"`)

func TestSaveFailedOnboarding_Success(t *testing.T) {
	mockDB, mock, repo := setupMockDB(t)
	defer mockDB.Close()
	ctx := logger.WithLogger(context.Background(), zaptest.NewLogger(t))

	failure := *model.NewFailedOnboarding()

	mock.ExpectBegin()
	mock.ExpectQuery(insertFailedOnboarding).
		WithArgs(AnyTime{}, failure.RequestID, failure.Step, failure.Code, failure.Kind, failure.ErrorMessage,
			failure.Subject, failure.Payload, AnyTime{}, false, nil, "").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	err := repo.SaveFailedOnboarding(ctx, failure)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveFailedOnboarding_BeginError(t *testing.T) {
	mockDB, mock, repo := setupMockDB(t)
	defer mockDB.Close()
	ctx := logger.WithLogger(context.Background(), zaptest.NewLogger(t))

	expectedErr := errors.New("failed to begin")
	mock.ExpectBegin().WillReturnError(expectedErr)

	err := repo.SaveFailedOnboarding(ctx, *model.NewFailedOnboarding())

	assert.ErrorIs(t, err, apperrors.ErrDatabase)
	assert.Contains(t, err.Error(), expectedErr.Error())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveFailedOnboarding_CommitError(t *testing.T) {
	mockDB, mock, repo := setupMockDB(t)
	defer mockDB.Close()
	ctx := logger.WithLogger(context.Background(), zaptest.NewLogger(t))

	expectedErr := errors.New("commit failed")

	mock.ExpectBegin()
	mock.ExpectQuery(insertFailedOnboarding).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit().WillReturnError(expectedErr)

	err := repo.SaveFailedOnboarding(ctx, *model.NewFailedOnboarding())

	assert.ErrorIs(t, err, apperrors.ErrDatabase)
	assert.Contains(t, err.Error(), expectedErr.Error())
	assert.NoError(t, mock.ExpectationsWereMet())
}
