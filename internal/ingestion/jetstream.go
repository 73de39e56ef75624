package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/identity-onboarding/internal/apperrors"
	"gitlab.com/timkado/api/identity-onboarding/internal/config"
	"gitlab.com/timkado/api/identity-onboarding/internal/events"
	"gitlab.com/timkado/api/identity-onboarding/internal/jetstream"
	"gitlab.com/timkado/api/identity-onboarding/internal/model"
	"gitlab.com/timkado/api/identity-onboarding/internal/observer"
	"gitlab.com/timkado/api/identity-onboarding/pkg/logger"
	"gitlab.com/timkado/api/identity-onboarding/pkg/utils"
)

// StepReceiveRequest names failures that happen before a workflow record exists.
const StepReceiveRequest = "ReceiveRequest"

const consumerType = "requests"

// AckNakAction represents the decision made after processing a message
type AckNakAction int

const (
	ActionAck      AckNakAction = iota // Message processed successfully, ACK it
	ActionNakDelay                     // Retryable error, NAK with calculated delay
	ActionDLQ                          // Max retries reached or fatal error, copy to the failure stream then TERM
)

// FailureSink receives triggers that could not be turned into a workflow.
type FailureSink interface {
	EnqueueRaw(ctx context.Context, requestID string, payload []byte, recErr model.RecordError) error
}

// OnboardingConsumer is the durable push consumer of onboarding triggers.
type OnboardingConsumer struct {
	client   jetstream.ClientInterface
	router   RouterInterface
	failures FailureSink
	cfg      config.ConsumerNatsConfig
	sub      *nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewOnboardingConsumer creates the trigger consumer.
func NewOnboardingConsumer(client jetstream.ClientInterface, router RouterInterface, failures FailureSink, cfg config.ConsumerNatsConfig) *OnboardingConsumer {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logger.WithLogger(ctx, logger.Log.With(zap.String("consumer", cfg.Consumer)))
	return &OnboardingConsumer{
		client:   client,
		router:   router,
		failures: failures,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// determineAckNakAction decides the fate of a message based on processing result and metadata.
// It returns the action to take (ACK, NAK_DELAY, DLQ) and the delay duration if applicable.
func determineAckNakAction(
	processingErr error,
	numDelivered uint64,
	maxDeliver int,
	nakBaseDelay time.Duration,
	nakMaxDelay time.Duration,
) (action AckNakAction, delay time.Duration) {
	if processingErr == nil {
		return ActionAck, 0
	}

	if !apperrors.IsRetryable(processingErr) || numDelivered >= uint64(maxDeliver) {
		return ActionDLQ, 0
	}

	return ActionNakDelay, utils.ExponentialDelay(numDelivered, nakBaseDelay, nakMaxDelay)
}

// Setup configures the NATS stream and consumer for onboarding triggers
func (c *OnboardingConsumer) Setup() error {
	log := logger.FromContext(c.ctx)
	log.Info("Setting up OnboardingConsumer...", zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))

	streamCfg := &nats.StreamConfig{
		Name:      c.cfg.Stream,
		Subjects:  c.cfg.SubjectList,
		Storage:   nats.FileStorage,
		Retention: nats.WorkQueuePolicy,
		MaxAge:    time.Duration(c.cfg.MaxAge*24) * time.Hour,
	}
	if err := c.client.SetupStream(c.ctx, streamCfg); err != nil {
		log.Error("Failed to setup requests stream", zap.Error(err), zap.String("stream", c.cfg.Stream))
		return fmt.Errorf("failed to setup requests stream '%s': %w", c.cfg.Stream, err)
	}

	consumerCfg := &nats.ConsumerConfig{
		Durable:        c.cfg.Consumer,
		DeliverGroup:   c.cfg.QueueGroup,
		FilterSubjects: c.cfg.SubjectList,
		AckPolicy:      nats.AckExplicitPolicy,
		DeliverSubject: nats.NewInbox(),
		MaxDeliver:     c.cfg.MaxDeliver,
		AckWait:        30 * time.Second,
		MaxAckPending:  1000,
		ReplayPolicy:   nats.ReplayInstantPolicy,
		DeliverPolicy:  nats.DeliverAllPolicy,
	}
	if err := c.client.SetupConsumer(c.ctx, c.cfg.Stream, consumerCfg); err != nil {
		log.Error("Failed to setup requests consumer", zap.Error(err), zap.String("consumer", c.cfg.Consumer))
		return fmt.Errorf("failed to setup requests consumer '%s' for stream '%s': %w", c.cfg.Consumer, c.cfg.Stream, err)
	}

	log.Info("OnboardingConsumer setup complete")
	return nil
}

// Start subscribes to the trigger stream
func (c *OnboardingConsumer) Start() error {
	log := logger.FromContext(c.ctx)

	sub, err := c.client.SubscribePush(">", c.cfg.Consumer, c.cfg.QueueGroup, c.cfg.Stream, c.handleMessage)
	if err != nil {
		log.Error("Failed to subscribe onboarding consumer", zap.Error(err), zap.String("group", c.cfg.QueueGroup))
		return fmt.Errorf("failed to subscribe onboarding consumer '%s': %w", c.cfg.Consumer, err)
	}
	c.sub = sub
	log.Info("OnboardingConsumer subscribed successfully")
	return nil
}

// Stop drains the subscription
func (c *OnboardingConsumer) Stop() {
	log := logger.FromContext(c.ctx)
	if c.sub != nil {
		if err := c.sub.Drain(); err != nil {
			log.Error("Error draining onboarding subscription", zap.Error(err))
		}
	}
	if c.cancel != nil {
		c.cancel()
	}
	log.Info("OnboardingConsumer stopped")
}

// ackable is the part of *nats.Msg the consumer settles messages with.
type ackable interface {
	Ack(opts ...nats.AckOpt) error
	NakWithDelay(delay time.Duration, opts ...nats.AckOpt) error
	Term(opts ...nats.AckOpt) error
}

// handleMessage routes one trigger and settles it.
func (c *OnboardingConsumer) handleMessage(msg *nats.Msg) {
	startTime := utils.Now()
	eventType, _ := model.MapToBaseEventType(msg.Subject)
	log := logger.FromContext(c.ctx)

	defer func() {
		observer.ObserveEventProcessingDuration(string(eventType), consumerType, time.Since(startTime))
		if r := recover(); r != nil {
			log.Error("[panic] Recovered from panic in message handler",
				zap.Any("panic", r),
				zap.String("subject", msg.Subject),
				zap.Stack("stack"))
			observer.IncEventsFailed(string(eventType), consumerType)
			observer.IncEventProcessingAction(string(eventType), "panic_nak", "panic")
			if nakErr := msg.Nak(); nakErr != nil {
				log.Error("Failed to NAK message after panic", zap.Error(nakErr))
			}
		}
	}()

	metadata, err := msg.Metadata()
	if err != nil {
		log.Error("Failed to read message metadata", zap.Error(err))
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error("Failed to NAK message", zap.Error(nakErr))
		}
		observer.IncEventProcessingAction(string(eventType), "nak_metadata_error", "metadata")
		return
	}

	internal := toMessageMetadata(msg, metadata)
	observer.IncEventsReceived(string(eventType), consumerType)
	c.process(logger.WithLogger(c.ctx, log.With(
		zap.String("nats_message_id", internal.MessageID),
		zap.Uint64("stream_sequence", internal.StreamSequence),
		zap.String("subject", msg.Subject),
	)), msg, internal, msg.Data)
}

// process routes the payload and applies the ack decision to m.
func (c *OnboardingConsumer) process(ctx context.Context, m ackable, metadata *model.MessageMetadata, data []byte) {
	log := logger.FromContext(ctx)
	eventType, _ := model.MapToBaseEventType(metadata.MessageSubject)

	processingErr := c.router.Route(ctx, metadata, data)
	action, nakDelay := determineAckNakAction(processingErr, metadata.NumDelivered, c.cfg.MaxDeliver, c.cfg.NakBaseDelay, c.cfg.NakMaxDelay)

	errorType := "none"
	if processingErr != nil {
		errorType = observer.SanitizeErrorType(processingErr.Error())
	}

	switch action {
	case ActionAck:
		log.Info("Successfully processed message")
		observer.IncEventsProcessed(string(eventType), consumerType)
		observer.IncEventProcessingAction(string(eventType), "ack_success", errorType)
		if ackErr := m.Ack(); ackErr != nil {
			log.Error("Failed to ACK message after successful processing", zap.Error(ackErr))
		}

	case ActionNakDelay:
		log.Info("NAKing message with delay for redelivery (retryable error)",
			zap.Error(processingErr),
			zap.Uint64("num_delivered", metadata.NumDelivered),
			zap.Int("max_deliver", c.cfg.MaxDeliver),
			zap.Duration("nak_delay", nakDelay))
		observer.IncEventsFailed(string(eventType), consumerType)
		observer.IncEventProcessingAction(string(eventType), "nak_retry", errorType)
		if nakErr := m.NakWithDelay(nakDelay); nakErr != nil {
			log.Error("Failed to NAK message with delay", zap.Error(nakErr))
		}

	case ActionDLQ:
		log.Warn("Copying trigger to the failure stream",
			zap.Error(processingErr),
			zap.Uint64("num_delivered", metadata.NumDelivered),
			zap.Bool("is_retryable", apperrors.IsRetryable(processingErr)))
		observer.IncEventsFailed(string(eventType), consumerType)

		if err := c.failures.EnqueueRaw(ctx, metadata.RequestID, data, toRecordError(processingErr)); err != nil {
			observer.IncDLQEnqueueFailure(StepReceiveRequest)
			observer.IncEventProcessingAction(string(eventType), "nak_dlq_publish_fail", "dlq_publish_fail")
			log.Error("Failed to copy trigger to the failure stream, redelivering", zap.Error(err))
			if nakErr := m.NakWithDelay(c.cfg.NakBaseDelay); nakErr != nil {
				log.Error("Failed to NAK message after failure stream error", zap.Error(nakErr))
			}
			return
		}

		observer.IncEventProcessingAction(string(eventType), "dlq_published_term", errorType)
		if termErr := m.Term(); termErr != nil {
			log.Error("Failed to TERM message after copying it to the failure stream", zap.Error(termErr))
		}
	}
}

func toMessageMetadata(msg *nats.Msg, md *nats.MsgMetadata) *model.MessageMetadata {
	var msgID string
	if msg.Header != nil {
		msgID = msg.Header.Get(events.HeaderMsgID)
	}
	requestID := msgID
	if msgID == "" {
		msgID = fmt.Sprintf("msg-%d", md.Sequence.Stream)
	}
	return &model.MessageMetadata{
		StreamSequence:   md.Sequence.Stream,
		ConsumerSequence: md.Sequence.Consumer,
		NumDelivered:     md.NumDelivered,
		NumPending:       md.NumPending,
		Timestamp:        md.Timestamp,
		Stream:           md.Stream,
		Consumer:         md.Consumer,
		MessageID:        msgID,
		MessageSubject:   msg.Subject,
		RequestID:        requestID,
	}
}

// toRecordError describes a processing error for the failure stream headers.
func toRecordError(err error) model.RecordError {
	if se, ok := apperrors.AsStepError(err); ok {
		step := se.Step
		if step == "" {
			step = StepReceiveRequest
		}
		return model.RecordError{Step: step, Code: se.Code, Kind: se.Kind, Message: se.Message}
	}
	return model.RecordError{
		Step:    StepReceiveRequest,
		Code:    apperrors.CodeInternalError,
		Kind:    apperrors.KindUpstreamUnavailable,
		Message: err.Error(),
	}
}
