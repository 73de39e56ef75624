package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/identity-onboarding/internal/config"
	"gitlab.com/timkado/api/identity-onboarding/internal/ingestion"
	"gitlab.com/timkado/api/identity-onboarding/internal/ingestion/handler"
	"gitlab.com/timkado/api/identity-onboarding/internal/jetstream"
	"gitlab.com/timkado/api/identity-onboarding/internal/model"
	"gitlab.com/timkado/api/identity-onboarding/pkg/logger"
)

// Processor wires the trigger consumer, its router and the onboarding handler.
type Processor struct {
	consumer      ingestion.ConsumerInterface
	eventRouter   ingestion.RouterInterface
	onboardingHdl handler.EventHandlerInterface
}

// NewProcessor creates a processor consuming cfg.NATS.Requests and handing
// accepted triggers to runner.
func NewProcessor(jsClient jetstream.ClientInterface, cfg *config.Config, runner WorkflowRunner, failures ingestion.FailureSink) *Processor {
	router := ingestion.NewRouter()
	return &Processor{
		consumer:      ingestion.NewOnboardingConsumer(jsClient, router, failures, cfg.NATS.Requests),
		eventRouter:   router,
		onboardingHdl: handler.NewOnboardingHandler(runner),
	}
}

// GetRouter returns the processor's event router.
func (p *Processor) GetRouter() ingestion.RouterInterface {
	return p.eventRouter
}

// Setup registers handlers and sets up the consumer
func (p *Processor) Setup() error {
	p.eventRouter.Register(model.V1OnboardingRequested, p.onboardingHdl.HandleEvent)

	p.eventRouter.RegisterDefault(func(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
		logger.FromContext(ctx).Warn("Unhandled event type",
			zap.String("type", string(eventType)),
			zap.String("subject", metadata.MessageSubject),
		)
		return nil
	})

	if err := p.consumer.Setup(); err != nil {
		return fmt.Errorf("failed to setup onboarding consumer: %w", err)
	}

	logger.Log.Info("Processor setup complete")
	return nil
}

// Start starts the consumer
func (p *Processor) Start() error {
	if err := p.consumer.Start(); err != nil {
		return fmt.Errorf("failed to start onboarding consumer: %w", err)
	}
	logger.Log.Info("Onboarding consumer started")
	return nil
}

// Stop drains the consumer
func (p *Processor) Stop() {
	p.consumer.Stop()
	logger.Log.Info("Onboarding consumer stopped")
}
