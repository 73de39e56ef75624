package usecase

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"gitlab.com/timkado/api/identity-onboarding/internal/apperrors"
	"gitlab.com/timkado/api/identity-onboarding/internal/crosscheck"
	"gitlab.com/timkado/api/identity-onboarding/internal/model"
	"gitlab.com/timkado/api/identity-onboarding/internal/storage"
)

// Step names, as reported in failure headers, metrics and logs.
const (
	StepExtractIdentity    = "ExtractIdentity"
	StepCrossCheckIdentity = "CrossCheckIdentity"
	StepVerifyAddress      = "VerifyAddress"
	StepCheckDuplicate     = "CheckDuplicate"
	StepCreateUser         = "CreateUser"
	StepPublishUserCreated = "PublishUserCreatedEvent"
	StepNotifySuccess      = "NotifySuccess"
)

const (
	userIDLength   = 16
	userIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	msgUserExists       = "User already exists"
	msgUserStoreFailure = "Unable to access the user store"
)

// StepFunc augments the record or fails with an error, preferably a *apperrors.StepError.
type StepFunc func(ctx context.Context, record *model.WorkflowRecord) error

// Step is one entry of the workflow table.
type Step struct {
	Name  string
	State model.State
	Run   StepFunc
	// BestEffort steps run after the account exists. Their failure is
	// logged and metered but never fails the workflow.
	BestEffort bool
}

func extractIdentityStep(extractor IdentityExtractor) StepFunc {
	return func(ctx context.Context, record *model.WorkflowRecord) error {
		identity, err := extractor.ExtractIdentity(ctx, record.IDCardKey)
		if err != nil {
			return err
		}
		return record.SetExtractedIdentity(identity)
	}
}

func crossCheckIdentityStep() StepFunc {
	return func(_ context.Context, record *model.WorkflowRecord) error {
		return crosscheck.Check(record.Declared, record.ExtractedIdentity)
	}
}

func verifyAddressStep(verifier AddressVerifier) StepFunc {
	return func(ctx context.Context, record *model.WorkflowRecord) error {
		d := record.Declared
		label, err := verifier.Verify(ctx, d.Street, d.City, d.PostalCode)
		if err != nil {
			return err
		}
		return record.SetVerifiedAddress(label)
	}
}

// DuplicateGuard refuses to onboard a full name that already has an account.
type DuplicateGuard struct {
	users storage.UserRepo
}

// NewDuplicateGuard creates a DuplicateGuard over the user store.
func NewDuplicateGuard(users storage.UserRepo) *DuplicateGuard {
	return &DuplicateGuard{users: users}
}

// Check passes the record through unchanged when no user has the declared
// (lastname, firstname). The check is not atomic with the later creation.
func (g *DuplicateGuard) Check(ctx context.Context, record *model.WorkflowRecord) error {
	count, err := g.users.CountByFullname(ctx, record.Declared.Lastname, record.Declared.Firstname)
	if err != nil {
		return apperrors.NewStepError(apperrors.KindUpstreamUnavailable, apperrors.CodeUserStoreUnavailable, msgUserStoreFailure, err)
	}
	if count > 0 {
		return apperrors.NewStepError(apperrors.KindPolicyRejection, apperrors.CodeUserAlreadyExists, msgUserExists, nil)
	}
	return nil
}

func createUserStep(users storage.UserRepo, now func() time.Time) StepFunc {
	return func(ctx context.Context, record *model.WorkflowRecord) error {
		id, err := NewUserID()
		if err != nil {
			return fmt.Errorf("generate user id: %w", err)
		}

		user := model.NewUserFromRecord(id, record, now().UTC())
		if err := users.CreateUser(ctx, user); err != nil {
			if errors.Is(err, apperrors.ErrDuplicate) {
				return apperrors.NewStepError(apperrors.KindPolicyRejection, apperrors.CodeUserAlreadyExists, msgUserExists, err)
			}
			return apperrors.NewStepError(apperrors.KindUpstreamUnavailable, apperrors.CodeUserStoreUnavailable, msgUserStoreFailure, err)
		}
		return record.SetUserID(id)
	}
}

func publishUserCreatedStep(publisher EventPublisher, now func() time.Time) StepFunc {
	return func(ctx context.Context, record *model.WorkflowRecord) error {
		if err := publisher.PublishUserCreated(ctx, record, now().UTC()); err != nil {
			return apperrors.NewStepError(apperrors.KindUpstreamUnavailable, apperrors.CodePublishFailed, "Unable to publish the UserCreated event", err)
		}
		return nil
	}
}

func notifySuccessStep(router *OutcomeRouter) StepFunc {
	return func(ctx context.Context, record *model.WorkflowRecord) error {
		router.Succeeded(ctx, record)
		return nil
	}
}

// NewUserID returns a random 16-character alphanumeric identifier.
func NewUserID() (string, error) {
	max := big.NewInt(int64(len(userIDAlphabet)))
	b := make([]byte, userIDLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = userIDAlphabet[n.Int64()]
	}
	return string(b), nil
}
