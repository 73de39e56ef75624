package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/identity-onboarding/internal/apperrors"
	"gitlab.com/timkado/api/identity-onboarding/internal/correlation"
	"gitlab.com/timkado/api/identity-onboarding/internal/model"
	"gitlab.com/timkado/api/identity-onboarding/internal/observer"
	"gitlab.com/timkado/api/identity-onboarding/internal/storage"
	"gitlab.com/timkado/api/identity-onboarding/pkg/logger"
)

const (
	outcomeSucceeded = "succeeded"
	outcomeFailed    = "failed"
)

// Dependencies are the collaborators the workflow steps call.
type Dependencies struct {
	Extractor IdentityExtractor
	Verifier  AddressVerifier
	Users     storage.UserRepo
	Publisher EventPublisher
	Router    *OutcomeRouter
}

// Orchestrator drives a record through the onboarding steps in order. The
// first failing step ends the run in Failed and hands the record to the
// OutcomeRouter; nothing done by earlier steps is undone.
type Orchestrator struct {
	steps  []Step
	router *OutcomeRouter
}

// NewOrchestrator builds the standard onboarding pipeline.
func NewOrchestrator(deps Dependencies) *Orchestrator {
	now := time.Now
	guard := NewDuplicateGuard(deps.Users)
	return NewOrchestratorWithSteps(deps.Router, []Step{
		{Name: StepExtractIdentity, State: model.StateExtracting, Run: extractIdentityStep(deps.Extractor)},
		{Name: StepCrossCheckIdentity, State: model.StateCrossChecking, Run: crossCheckIdentityStep()},
		{Name: StepVerifyAddress, State: model.StateVerifyingAddress, Run: verifyAddressStep(deps.Verifier)},
		{Name: StepCheckDuplicate, State: model.StateCheckingDuplicate, Run: guard.Check},
		{Name: StepCreateUser, State: model.StateCreating, Run: createUserStep(deps.Users, now)},
		{Name: StepPublishUserCreated, State: model.StatePublishing, Run: publishUserCreatedStep(deps.Publisher, now), BestEffort: true},
		{Name: StepNotifySuccess, State: model.StateNotifying, Run: notifySuccessStep(deps.Router), BestEffort: true},
	})
}

// NewOrchestratorWithSteps builds an orchestrator over an explicit step table.
func NewOrchestratorWithSteps(router *OutcomeRouter, steps []Step) *Orchestrator {
	return &Orchestrator{steps: steps, router: router}
}

// Steps returns the step names in execution order.
func (o *Orchestrator) Steps() []string {
	names := make([]string, len(o.steps))
	for i, s := range o.steps {
		names[i] = s.Name
	}
	return names
}

// Run executes the workflow for record and returns its terminal state.
func (o *Orchestrator) Run(ctx context.Context, record *model.WorkflowRecord) model.State {
	ctx = correlation.WithRequestID(ctx, record.RequestID)
	if record.ConnectionID != "" {
		ctx = correlation.WithConnectionID(ctx, record.ConnectionID)
	}
	log := logger.FromContext(ctx)
	start := time.Now()

	o.transition(ctx, model.StateStarted)

	for _, step := range o.steps {
		o.transition(ctx, step.State)
		stepLog := log.With(zap.String("step", step.Name))
		stepLog.Info("Step started")

		stepStart := time.Now()
		err := step.Run(ctx, record)
		observer.ObserveStepDuration(step.Name, time.Since(stepStart), err)

		if err == nil {
			stepLog.Info("Step finished", zap.Duration("duration", time.Since(stepStart)))
			continue
		}
		if step.BestEffort {
			stepLog.Error("Best-effort step failed, continuing", zap.Error(err))
			continue
		}

		o.fail(ctx, step.Name, record, err)
		log.Info("Workflow finished", zap.String("state", string(model.StateFailed)), zap.Duration("duration", time.Since(start)))
		return model.StateFailed
	}

	o.transition(ctx, model.StateSucceeded)
	observer.IncWorkflowOutcome(outcomeSucceeded, "", "")
	log.Info("Workflow finished",
		zap.String("state", string(model.StateSucceeded)),
		zap.String("user_id", record.UserID),
		zap.Duration("duration", time.Since(start)))
	return model.StateSucceeded
}

func (o *Orchestrator) fail(ctx context.Context, step string, record *model.WorkflowRecord, err error) {
	log := logger.FromContext(ctx).With(zap.String("step", step))
	se := classify(step, err)

	if se.Kind == apperrors.KindPolicyRejection {
		log.Warn("Step rejected the request", zap.String("code", string(se.Code)), zap.String("message", se.Message))
	} else {
		log.Error("Step failed", zap.String("code", string(se.Code)), zap.String("kind", string(se.Kind)), zap.Error(err))
	}

	if setErr := record.SetError(model.RecordError{
		Step:    se.Step,
		Code:    se.Code,
		Kind:    se.Kind,
		Message: se.Message,
	}); setErr != nil {
		log.Error("Failed to attach error to record", zap.Error(setErr))
	}

	o.transition(ctx, model.StateFailed)
	observer.IncWorkflowOutcome(outcomeFailed, step, string(se.Code))
	if o.router != nil {
		o.router.Failed(ctx, record)
	}
}

func (o *Orchestrator) transition(ctx context.Context, state model.State) {
	logger.FromContext(ctx).Debug("Workflow transition", zap.String("state", string(state)))
	observer.IncWorkflowTransition(string(state))
}

// classify returns the StepError for err attributed to step. Errors that are
// not StepErrors (record invariant breaks, id generation) are internal.
func classify(step string, err error) *apperrors.StepError {
	if se, ok := apperrors.AsStepError(err); ok {
		return se.InStep(step)
	}
	return apperrors.NewStepError(apperrors.KindUpstreamUnavailable, apperrors.CodeInternalError, "Internal Error", err).InStep(step)
}
