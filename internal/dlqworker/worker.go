// Package dlqworker drains the onboarding failure stream into the
// failed_onboardings table for offline inspection.
package dlqworker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"gitlab.com/timkado/api/identity-onboarding/internal/apperrors"
	"gitlab.com/timkado/api/identity-onboarding/internal/config"
	"gitlab.com/timkado/api/identity-onboarding/internal/events"
	internal_js "gitlab.com/timkado/api/identity-onboarding/internal/jetstream"
	"gitlab.com/timkado/api/identity-onboarding/internal/model"
	"gitlab.com/timkado/api/identity-onboarding/internal/observer"
	"gitlab.com/timkado/api/identity-onboarding/internal/storage"
	"gitlab.com/timkado/api/identity-onboarding/pkg/logger"
	"gitlab.com/timkado/api/identity-onboarding/pkg/utils"
)

const (
	defaultMsgChanCap = 100
	fetchMaxWait      = 5 * time.Second
	fetchErrorBackoff = time.Second
	taskTimeout       = time.Minute
	poolSubmitNakWait = 5 * time.Second
)

// Persist outcomes, as reported by the failures_persisted metric.
const (
	resultSaved     = "saved"
	resultDuplicate = "duplicate"
	resultRetry     = "retry"
	resultDropped   = "dropped"
	resultInvalid   = "invalid"
)

// ackable is the part of *nats.Msg the worker settles messages with.
type ackable interface {
	Ack(opts ...nats.AckOpt) error
	NakWithDelay(delay time.Duration, opts ...nats.AckOpt) error
	Term(opts ...nats.AckOpt) error
}

// Worker pulls failed onboardings and stores them.
type Worker struct {
	cfg    config.DLQConfig
	logger *zap.Logger
	js     internal_js.ClientInterface
	pool   *ants.Pool
	store  storage.FailedOnboardingRepo
	msgCh  chan *nats.Msg
	stopWg sync.WaitGroup
	cancel context.CancelFunc
}

// NewWorker creates the worker and its pool. Call Setup before Start.
func NewWorker(cfg config.DLQConfig, baseLogger *zap.Logger, jsClient internal_js.ClientInterface, store storage.FailedOnboardingRepo) (*Worker, error) {
	log := baseLogger.Named("dlq_worker")
	pool, err := ants.NewPool(cfg.Workers,
		ants.WithLogger(logger.NewAntsLogger(log.Named("ants_pool"))),
		ants.WithPanicHandler(func(p interface{}) {
			log.Error("Worker panic caught", zap.Any("error", p), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}

	w := &Worker{
		cfg:    cfg,
		logger: log,
		js:     jsClient,
		pool:   pool,
		store:  store,
		msgCh:  make(chan *nats.Msg, defaultMsgChanCap),
	}
	w.logger.Info("DLQ Worker initialized", zap.Int("pool_size", cfg.Workers))
	return w, nil
}

func (w *Worker) filterSubject() string {
	return w.cfg.Subject + ".>"
}

// Setup creates the durable pull consumer on the failure stream. The stream
// itself is owned by events.FailureQueue.
func (w *Worker) Setup(ctx context.Context) error {
	consumerCfg := &nats.ConsumerConfig{
		Durable:       w.cfg.Consumer,
		FilterSubject: w.filterSubject(),
		AckPolicy:     nats.AckExplicitPolicy,
		MaxDeliver:    w.cfg.MaxDeliver,
		AckWait:       w.cfg.AckWait,
		MaxAckPending: w.cfg.MaxAckPending,
		DeliverPolicy: nats.DeliverAllPolicy,
		ReplayPolicy:  nats.ReplayInstantPolicy,
	}
	if err := w.js.SetupConsumer(ctx, w.cfg.Stream, consumerCfg); err != nil {
		return fmt.Errorf("failed to setup DLQ consumer '%s' for stream '%s': %w", w.cfg.Consumer, w.cfg.Stream, err)
	}
	w.logger.Info("DLQ Consumer setup complete", zap.String("consumer", w.cfg.Consumer))
	return nil
}

// Start runs the fetch and dispatch loops until ctx is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) error {
	derivedCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.logger.Info("Attempting DLQ pull subscription",
		zap.String("stream", w.cfg.Stream),
		zap.String("subject", w.filterSubject()),
		zap.String("durable_name", w.cfg.Consumer),
	)

	sub, err := w.js.SubscribePull(w.cfg.Stream, w.filterSubject(), w.cfg.Consumer)
	if err != nil {
		w.logger.Error("Failed to create DLQ pull subscription", zap.Error(err))
		cancel()
		return fmt.Errorf("failed to create DLQ pull subscription: %w", err)
	}

	w.stopWg.Add(2)
	go w.fetchMessages(derivedCtx, sub)
	go w.dispatchMessages(derivedCtx)

	w.logger.Info("DLQ worker started successfully")
	<-derivedCtx.Done()
	w.logger.Info("DLQ worker context cancelled, initiating shutdown...")
	return nil
}

// Stop waits for the loops, then releases the pool.
func (w *Worker) Stop() {
	w.logger.Info("Stopping DLQ worker...")
	if w.cancel != nil {
		w.cancel()
	}
	w.stopWg.Wait()
	w.pool.Release()
	w.logger.Info("DLQ worker stopped successfully")
}

func (w *Worker) fetchMessages(ctx context.Context, sub *nats.Subscription) {
	defer w.stopWg.Done()

	batch := w.cfg.FetchBatch
	if batch <= 0 {
		batch = 1
	}

	for {
		if ctx.Err() != nil {
			return
		}

		observer.IncDlqFetchRequest()
		msgs, err := sub.Fetch(batch, nats.MaxWait(fetchMaxWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				continue
			}
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				w.logger.Warn("DLQ subscription closed, fetcher stopping", zap.Error(err))
				return
			}
			observer.IncDlqFetchError()
			w.logger.Error("Fetcher loop error retrieving messages", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(fetchErrorBackoff):
			}
			continue
		}

		for _, msg := range msgs {
			select {
			case w.msgCh <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *Worker) dispatchMessages(ctx context.Context) {
	defer w.stopWg.Done()

	for {
		observer.SetDlqWorkersActive(w.pool.Running())

		select {
		case <-ctx.Done():
			return
		case msg := <-w.msgCh:
			err := w.pool.Submit(func() {
				taskCtx, taskCancel := context.WithTimeout(context.Background(), taskTimeout)
				defer taskCancel()
				w.handle(taskCtx, msg)
			})
			if err != nil {
				w.logger.Error("Failed to submit task to ants pool", zap.Error(err))
				if nakErr := msg.NakWithDelay(poolSubmitNakWait); nakErr != nil {
					w.logger.Error("Failed to NAK message after pool submission error", zap.Error(nakErr))
				}
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg *nats.Msg) {
	meta, err := msg.Metadata()
	if err != nil {
		w.logger.Error("Failed to get message metadata", zap.Error(err), zap.String("subject", msg.Subject))
		observer.IncFailurePersisted(resultInvalid)
		if termErr := msg.Term(); termErr != nil {
			w.logger.Error("Failed to terminate message after metadata error", zap.Error(termErr))
		}
		return
	}

	failure := DecodeFailure(w.cfg.Subject, msg.Subject, msg.Header, msg.Data, meta.Timestamp)
	w.persist(ctx, msg, meta.NumDelivered, failure)
}

// persist saves failure and settles the message. Storage errors, panics
// included, are retried with exponential delay until MaxDeliver, then the
// message is terminated.
func (w *Worker) persist(ctx context.Context, m ackable, numDelivered uint64, failure model.FailedOnboarding) {
	log := w.logger.With(
		zap.String("request_id", failure.RequestID),
		zap.String("step", failure.Step),
		zap.Uint64("num_delivered", numDelivered),
	)
	ctx = logger.WithLogger(ctx, log)

	save := utils.WrapWithContextRecovery(func(ctx context.Context) error {
		return w.store.SaveFailedOnboarding(ctx, failure)
	})
	err := save(ctx)
	switch {
	case err == nil:
		observer.IncFailurePersisted(resultSaved)
		w.ack(log, m)
	case errors.Is(err, apperrors.ErrDuplicate):
		log.Info("Failed onboarding already stored")
		observer.IncFailurePersisted(resultDuplicate)
		w.ack(log, m)
	case numDelivered >= uint64(w.cfg.MaxDeliver):
		log.Error("Giving up on failed onboarding after max deliveries", zap.Error(err))
		observer.IncFailurePersisted(resultDropped)
		if termErr := m.Term(); termErr != nil {
			log.Error("Failed to terminate message", zap.Error(termErr))
		}
	default:
		delay := utils.ExponentialDelay(numDelivered, w.cfg.BaseDelay, w.cfg.MaxDelay)
		log.Warn("Failed to store failed onboarding, retrying", zap.Duration("delay", delay), zap.Error(err))
		observer.IncFailurePersisted(resultRetry)
		if nakErr := m.NakWithDelay(delay); nakErr != nil {
			log.Error("Failed to NAK message with delay", zap.Error(nakErr))
		}
	}
}

func (w *Worker) ack(log *zap.Logger, m ackable) {
	if err := m.Ack(); err != nil {
		log.Error("Failed to ACK stored failure", zap.Error(err))
	}
}

// DecodeFailure builds the stored row from a failure-stream message. Headers
// win over the body; the step falls back to the subject suffix. A body that
// is not JSON is kept base64 encoded under "raw_b64".
func DecodeFailure(baseSubject, subject string, header nats.Header, data []byte, receivedAt time.Time) model.FailedOnboarding {
	failure := model.FailedOnboarding{
		RequestID:  header.Get(events.HeaderRequestID),
		Step:       header.Get(events.HeaderStep),
		Code:       header.Get(events.HeaderErrorCode),
		Kind:       header.Get(events.HeaderErrorKind),
		Subject:    subject,
		ReceivedAt: receivedAt.UTC(),
	}

	summary := header.Get(events.HeaderOnboardingError)
	if failure.Code != "" {
		summary = strings.TrimPrefix(summary, failure.Code+": ")
	}
	failure.ErrorMessage = summary

	if failure.Step == "" {
		failure.Step = strings.TrimPrefix(subject, baseSubject+".")
	}

	if json.Valid(data) {
		failure.Payload = datatypes.JSON(data)
		if failure.RequestID == "" {
			var body struct {
				RequestID string `json:"requestId"`
			}
			if err := json.Unmarshal(data, &body); err == nil {
				failure.RequestID = body.RequestID
			}
		}
	} else {
		wrapped, _ := json.Marshal(rawPayload{RawB64: base64.StdEncoding.EncodeToString(data)})
		failure.Payload = datatypes.JSON(wrapped)
	}
	return failure
}

type rawPayload struct {
	RawB64 string `json:"raw_b64"`
}
