package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"gitlab.com/timkado/api/identity-onboarding/internal/apperrors"
	"gitlab.com/timkado/api/identity-onboarding/internal/extractor"
	"gitlab.com/timkado/api/identity-onboarding/internal/geocoding"
	"gitlab.com/timkado/api/identity-onboarding/internal/model"
	storagemock "gitlab.com/timkado/api/identity-onboarding/internal/storage/mock"
	"gitlab.com/timkado/api/identity-onboarding/pkg/logger"
)

const amiens = "8 Boulevard du Port 80000 Amiens"

var berthierCard = []model.FormField{
	{Key: "Prénom", Value: "CORINNE"},
	{Key: "NOM", Value: "BERTHIER"},
	{Key: "DATE DE NAISS.", Value: "06.12.1965"},
}

type harness struct {
	orch      *Orchestrator
	analyzer  *fakeAnalyzer
	geocoder  *fakeGeocoder
	repo      *storagemock.RepositoryMock
	publisher *publisherMock
	failures  *failuresMock
	notifier  *notifierMock
	logs      *observer.ObservedLogs
	ctx       context.Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)

	h := &harness{
		analyzer:  &fakeAnalyzer{fields: berthierCard},
		geocoder:  &fakeGeocoder{candidates: []geocoding.Candidate{{Label: amiens, Score: 0.89}}},
		repo:      new(storagemock.RepositoryMock),
		publisher: new(publisherMock),
		failures:  new(failuresMock),
		notifier:  new(notifierMock),
		logs:      logs,
		ctx:       logger.WithLogger(context.Background(), zap.New(core).Named("test_orchestrator")),
	}
	h.orch = NewOrchestrator(Dependencies{
		Extractor: extractor.NewService(h.analyzer, extractor.New(), "id-cards"),
		Verifier:  geocoding.NewVerifier(h.geocoder, geocoding.DefaultThreshold),
		Users:     h.repo,
		Publisher: h.publisher,
		Router:    NewOutcomeRouter(h.failures, h.notifier),
	})
	return h
}

func berthierRecord() *model.WorkflowRecord {
	return model.NewWorkflowRecord("req-1", "conn-1", "req-1.jpg", model.NewDeclaredIdentity(func(d *model.DeclaredIdentity) {
		d.Firstname = "Corinne"
		d.Lastname = "Berthier"
		d.Birthdate = "1965-12-06"
		d.Street = "8 bd du port"
		d.City = "Amiens"
		d.PostalCode = "80000"
	}))
}

func (h *harness) expectFailure(t *testing.T, message string) {
	t.Helper()
	h.failures.On("Enqueue", mock.Anything, mock.AnythingOfType("*model.WorkflowRecord")).Return(nil).Once()
	h.notifier.On("Notify", mock.Anything, "conn-1", "req-1", model.NewFailureNotification(message)).Return(nil).Once()
}

func assertFailedWith(t *testing.T, record *model.WorkflowRecord, step string, code apperrors.Code, kind apperrors.Kind) {
	t.Helper()
	require.NotNil(t, record.Error)
	assert.Equal(t, step, record.Error.Step)
	assert.Equal(t, code, record.Error.Code)
	assert.Equal(t, kind, record.Error.Kind)
	assert.Empty(t, record.UserID)
}

func TestOrchestrator_StepOrder(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, []string{
		"ExtractIdentity", "CrossCheckIdentity", "VerifyAddress", "CheckDuplicate",
		"CreateUser", "PublishUserCreatedEvent", "NotifySuccess",
	}, h.orch.Steps())
}

// Scenarios A and B: a matching card and a confident address create the user.
func TestOrchestrator_HappyPath(t *testing.T) {
	h := newHarness(t)
	record := berthierRecord()

	h.repo.On("CountByFullname", mock.Anything, "Berthier", "Corinne").Return(int64(0), nil).Once()
	h.repo.On("CreateUser", mock.Anything, mock.MatchedBy(func(u *model.User) bool {
		return len(u.ID) == 16 && u.Address == amiens && u.IDCardRef == "req-1.jpg" && u.Birthdate == "1965-12-06"
	})).Return(nil).Once()
	h.publisher.On("PublishUserCreated", mock.Anything, record, mock.Anything).Return(nil).Once()
	h.notifier.On("Notify", mock.Anything, "conn-1", "req-1", model.NewSuccessNotification()).Return(nil).Once()

	state := h.orch.Run(h.ctx, record)

	assert.Equal(t, model.StateSucceeded, state)
	assert.Equal(t, &model.ExtractedIdentity{Firstnames: []string{"CORINNE"}, Lastname: "BERTHIER", Birthdate: "1965-12-06"}, record.ExtractedIdentity)
	assert.Equal(t, amiens, record.VerifiedAddress)
	assert.Len(t, record.UserID, 16)
	assert.Nil(t, record.Error)

	h.repo.AssertExpectations(t)
	h.publisher.AssertExpectations(t)
	h.notifier.AssertExpectations(t)
	h.failures.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)

	finished := h.logs.FilterMessage("Workflow finished").All()
	require.Len(t, finished, 1)
	assert.Equal(t, "req-1", finished[0].ContextMap()["request_id"])
	assert.Equal(t, "Succeeded", finished[0].ContextMap()["state"])
	assert.Equal(t, 7, h.logs.FilterMessage("Step finished").Len())
}

// Scenario C: a low score is a policy rejection.
func TestOrchestrator_AddressUnverifiable(t *testing.T) {
	h := newHarness(t)
	h.geocoder.candidates = []geocoding.Candidate{{Label: amiens, Score: 0.49}}
	h.expectFailure(t, "Address is incorrect, please verify your input")

	record := berthierRecord()
	state := h.orch.Run(h.ctx, record)

	assert.Equal(t, model.StateFailed, state)
	assertFailedWith(t, record, StepVerifyAddress, apperrors.CodeAddressUnverifiable, apperrors.KindPolicyRejection)
	assert.Empty(t, record.VerifiedAddress)
	h.repo.AssertNotCalled(t, "CountByFullname", mock.Anything, mock.Anything, mock.Anything)
	h.failures.AssertExpectations(t)
	h.notifier.AssertExpectations(t)

	rejected := h.logs.FilterMessage("Step rejected the request").All()
	require.Len(t, rejected, 1)
	assert.Equal(t, zapcore.WarnLevel, rejected[0].Level)
}

// Scenario D: a transport failure is distinct from an unverifiable address.
func TestOrchestrator_AddressServiceError(t *testing.T) {
	h := newHarness(t)
	h.geocoder.candidates = nil
	h.geocoder.err = errors.New("dial tcp: connection refused")
	h.expectFailure(t, "Request Error")

	record := berthierRecord()
	assert.Equal(t, model.StateFailed, h.orch.Run(h.ctx, record))
	assertFailedWith(t, record, StepVerifyAddress, apperrors.CodeAddressServiceError, apperrors.KindUpstreamUnavailable)
	assert.Equal(t, 1, h.logs.FilterMessage("Step failed").Len())
}

// Scenario E: the declared firstname must match the card.
func TestOrchestrator_FirstnameMismatch(t *testing.T) {
	h := newHarness(t)
	h.analyzer.fields = []model.FormField{
		{Key: "Given name", Value: "Paul"},
		{Key: "Surname", Value: "BERTHIER"},
		{Key: "Date of birth", Value: "06/12/1965"},
	}
	h.expectFailure(t, "Firstname does not match with ID card, please verify your input.")

	record := berthierRecord()
	record.Declared.Firstname = "Jean"
	assert.Equal(t, model.StateFailed, h.orch.Run(h.ctx, record))

	assertFailedWith(t, record, StepCrossCheckIdentity, apperrors.CodeFirstnameMismatch, apperrors.KindPolicyRejection)
	assert.Equal(t, []string{"Paul"}, record.ExtractedIdentity.Firstnames, "earlier step output is kept")
	assert.Zero(t, h.geocoder.calls)
}

func TestOrchestrator_ExtractionIncomplete(t *testing.T) {
	h := newHarness(t)
	h.analyzer.fields = berthierCard[:2]
	h.expectFailure(t, "Could not extract all information from the ID Card")

	record := berthierRecord()
	assert.Equal(t, model.StateFailed, h.orch.Run(h.ctx, record))
	assertFailedWith(t, record, StepExtractIdentity, apperrors.CodeExtractionIncomplete, apperrors.KindPolicyRejection)
	assert.Nil(t, record.ExtractedIdentity)
}

func TestOrchestrator_ExtractionUnavailable(t *testing.T) {
	h := newHarness(t)
	h.analyzer.err = errors.New("ThrottlingException")
	h.expectFailure(t, "Could not extract information from the ID Card")

	record := berthierRecord()
	assert.Equal(t, model.StateFailed, h.orch.Run(h.ctx, record))
	assertFailedWith(t, record, StepExtractIdentity, apperrors.CodeExtractionUnavailable, apperrors.KindUpstreamUnavailable)
}

func TestOrchestrator_DuplicateNeverCreates(t *testing.T) {
	h := newHarness(t)
	h.repo.On("CountByFullname", mock.Anything, "Berthier", "Corinne").Return(int64(1), nil).Once()
	h.expectFailure(t, "User already exists")

	record := berthierRecord()
	assert.Equal(t, model.StateFailed, h.orch.Run(h.ctx, record))
	assertFailedWith(t, record, StepCheckDuplicate, apperrors.CodeUserAlreadyExists, apperrors.KindPolicyRejection)
	h.repo.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
	h.publisher.AssertNotCalled(t, "PublishUserCreated", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestrator_ConcurrentDuplicateCaughtAtCreate(t *testing.T) {
	h := newHarness(t)
	h.repo.On("CountByFullname", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), nil).Once()
	h.repo.On("CreateUser", mock.Anything, mock.Anything).Return(apperrors.ErrDuplicate).Once()
	h.expectFailure(t, "User already exists")

	record := berthierRecord()
	assert.Equal(t, model.StateFailed, h.orch.Run(h.ctx, record))
	assertFailedWith(t, record, StepCreateUser, apperrors.CodeUserAlreadyExists, apperrors.KindPolicyRejection)
}

func TestOrchestrator_UserStoreUnavailable(t *testing.T) {
	h := newHarness(t)
	h.repo.On("CountByFullname", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), apperrors.ErrDatabase).Once()
	h.expectFailure(t, "Unable to access the user store")

	record := berthierRecord()
	assert.Equal(t, model.StateFailed, h.orch.Run(h.ctx, record))
	assertFailedWith(t, record, StepCheckDuplicate, apperrors.CodeUserStoreUnavailable, apperrors.KindUpstreamUnavailable)
}

func TestOrchestrator_PublishFailureIsBestEffort(t *testing.T) {
	h := newHarness(t)
	h.repo.On("CountByFullname", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), nil).Once()
	h.repo.On("CreateUser", mock.Anything, mock.Anything).Return(nil).Once()
	h.publisher.On("PublishUserCreated", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("nats: timeout")).Once()
	h.notifier.On("Notify", mock.Anything, "conn-1", "req-1", model.NewSuccessNotification()).Return(nil).Once()

	record := berthierRecord()
	assert.Equal(t, model.StateSucceeded, h.orch.Run(h.ctx, record))
	assert.Nil(t, record.Error)
	assert.NotEmpty(t, record.UserID)
	h.notifier.AssertExpectations(t)
	h.failures.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
	assert.Equal(t, 1, h.logs.FilterMessage("Best-effort step failed, continuing").Len())
}

func TestOrchestrator_RouterErrorsAreSwallowed(t *testing.T) {
	h := newHarness(t)
	h.geocoder.candidates = nil
	h.failures.On("Enqueue", mock.Anything, mock.Anything).Return(errors.New("nats: no responders")).Once()
	h.notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("nats: connection closed")).Once()

	record := berthierRecord()
	assert.Equal(t, model.StateFailed, h.orch.Run(h.ctx, record))
	assert.Equal(t, apperrors.CodeAddressUnverifiable, record.Error.Code)
	h.failures.AssertExpectations(t)
	h.notifier.AssertExpectations(t)
	assert.Equal(t, 1, h.logs.FilterMessage("Failed to enqueue failed onboarding").Len())
	assert.Equal(t, 1, h.logs.FilterMessage("Failed to notify client").Len())
}

func TestOrchestrator_UnclassifiedErrorIsInternal(t *testing.T) {
	failures := new(failuresMock)
	notifier := new(notifierMock)
	failures.On("Enqueue", mock.Anything, mock.Anything).Return(nil).Once()
	notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything, model.NewFailureNotification("Internal Error")).Return(nil).Once()

	calledSecond := false
	orch := NewOrchestratorWithSteps(NewOutcomeRouter(failures, notifier), []Step{
		{Name: "First", State: model.StateExtracting, Run: func(context.Context, *model.WorkflowRecord) error { return errors.New("boom") }},
		{Name: "Second", State: model.StateCrossChecking, Run: func(context.Context, *model.WorkflowRecord) error {
			calledSecond = true
			return nil
		}},
	})

	record := model.NewWorkflowRecordFake()
	assert.Equal(t, model.StateFailed, orch.Run(context.Background(), record))
	assert.False(t, calledSecond, "a failure short-circuits the remaining steps")
	assertFailedWith(t, record, "First", apperrors.CodeInternalError, apperrors.KindUpstreamUnavailable)
}
