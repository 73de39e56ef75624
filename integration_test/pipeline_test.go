//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"gitlab.com/timkado/api/identity-onboarding/internal/apperrors"
	"gitlab.com/timkado/api/identity-onboarding/internal/config"
	"gitlab.com/timkado/api/identity-onboarding/internal/dlqworker"
	"gitlab.com/timkado/api/identity-onboarding/internal/events"
	"gitlab.com/timkado/api/identity-onboarding/internal/extractor"
	"gitlab.com/timkado/api/identity-onboarding/internal/geocoding"
	"gitlab.com/timkado/api/identity-onboarding/internal/model"
	"gitlab.com/timkado/api/identity-onboarding/internal/notifier"
	"gitlab.com/timkado/api/identity-onboarding/internal/usecase"
	"gitlab.com/timkado/api/identity-onboarding/pkg/logger"
)

const amiens = "8 Boulevard du Port 80000 Amiens"

// cardAnalyzer serves fixed Textract form fields per object key.
type cardAnalyzer struct {
	mu    sync.Mutex
	cards map[string][]model.FormField
}

func (a *cardAnalyzer) AnalyzeForm(_ context.Context, _, key string) ([]model.FormField, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fields, ok := a.cards[key]
	if !ok {
		return nil, fmt.Errorf("no such object %q", key)
	}
	return fields, nil
}

func (a *cardAnalyzer) put(key string, fields []model.FormField) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cards[key] = fields
}

// PipelineSuite runs the consumer, workflow runner and failure worker
// against real NATS, Postgres and Redis. Textract is faked and the
// geocoding API is served by httptest.
type PipelineSuite struct {
	BaseIntegrationSuite

	cfg       *config.Config
	analyzer  *cardAnalyzer
	geocoder  *httptest.Server
	processor *usecase.Processor
	runner    *usecase.Runner
	dlqWorker *dlqworker.Worker
	registry  *notifier.RedisRegistry
	nc        *natsgo.Conn
	stopDLQ   context.CancelFunc
}

func testConfig(natsURL, geocoderURL string) *config.Config {
	cfg := &config.Config{}
	cfg.NATS.URL = natsURL
	cfg.NATS.Requests = config.ConsumerNatsConfig{
		MaxAge:       1,
		Stream:       "onboarding_requests",
		Consumer:     "onboarding_processor",
		QueueGroup:   "onboarding_processors",
		SubjectList:  []string{"v1.onboarding.requested"},
		MaxDeliver:   3,
		NakBaseDelay: 100 * time.Millisecond,
		NakMaxDelay:  time.Second,
	}
	cfg.NATS.EventsStream = "user_events"
	cfg.NATS.EventsSubject = "v1.users.created"
	cfg.NATS.NotifySubjectPrefix = "v1.connections"
	cfg.DLQ = config.DLQConfig{
		Stream:        "onboarding_failures",
		Subject:       "v1.onboarding.failed",
		Consumer:      "onboarding_failure_inspector",
		Workers:       2,
		MaxAgeDays:    1,
		MaxDeliver:    3,
		AckWait:       5 * time.Second,
		MaxAckPending: 64,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      time.Second,
		FetchBatch:    8,
	}
	cfg.Geocoding.BaseURL = geocoderURL
	cfg.Geocoding.Threshold = geocoding.DefaultThreshold
	cfg.Geocoding.Timeout = 2 * time.Second
	cfg.Geocoding.MaxAttempts = 2
	cfg.Uploads.Bucket = "id-cards"
	cfg.Workflow = config.WorkflowConfig{PoolSize: 4, QueueSize: 16, ExpiryTime: time.Minute}
	return cfg
}

// geocoderHandler scores the Amiens address high and anything else low.
func geocoderHandler(w http.ResponseWriter, r *http.Request) {
	score := 0.49
	if strings.Contains(strings.ToLower(r.URL.Query().Get("q")), "port") {
		score = 0.89
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"features":[{"properties":{"label":%q,"score":%v}}]}`, amiens, score)
}

func (s *PipelineSuite) SetupSuite() {
	s.BaseIntegrationSuite.SetupSuite()

	s.analyzer = &cardAnalyzer{cards: map[string][]model.FormField{}}
	s.geocoder = httptest.NewServer(http.HandlerFunc(geocoderHandler))
	s.cfg = testConfig(s.NATSURL, s.geocoder.URL)

	var err error
	s.nc, err = natsgo.Connect(s.NATSURL)
	s.Require().NoError(err)

	publisher := events.NewPublisher(s.JS, s.cfg.NATS.EventsStream, s.cfg.NATS.EventsSubject)
	s.Require().NoError(publisher.Setup(s.Ctx))
	failureQueue := events.NewFailureQueue(s.JS, s.cfg.DLQ)
	s.Require().NoError(failureQueue.Setup(s.Ctx))

	s.registry = notifier.NewRedisRegistry(s.RedisCli, time.Minute)
	orchestrator := usecase.NewOrchestrator(usecase.Dependencies{
		Extractor: extractor.NewService(s.analyzer, extractor.New(), s.cfg.Uploads.Bucket),
		Verifier: geocoding.NewVerifier(
			geocoding.NewClient(s.cfg.Geocoding.BaseURL, s.cfg.Geocoding.Timeout, s.cfg.Geocoding.MaxAttempts),
			s.cfg.Geocoding.Threshold,
		),
		Users:     s.Repo,
		Publisher: publisher,
		Router:    usecase.NewOutcomeRouter(failureQueue, notifier.New(s.JS, s.registry, s.cfg.NATS.NotifySubjectPrefix)),
	})

	s.runner, err = usecase.NewRunner(s.Ctx, s.cfg.Workflow, orchestrator, logger.Log)
	s.Require().NoError(err)

	s.processor = usecase.NewProcessor(s.JS, s.cfg, s.runner, failureQueue)
	s.Require().NoError(s.processor.Setup())
	s.Require().NoError(s.processor.Start())

	s.dlqWorker, err = dlqworker.NewWorker(s.cfg.DLQ, logger.Log, s.JS, s.Repo)
	s.Require().NoError(err)
	s.Require().NoError(s.dlqWorker.Setup(s.Ctx))
	var dlqCtx context.Context
	dlqCtx, s.stopDLQ = context.WithCancel(s.Ctx)
	go func() { _ = s.dlqWorker.Start(dlqCtx) }()
}

func (s *PipelineSuite) TearDownSuite() {
	if s.processor != nil {
		s.processor.Stop()
	}
	if s.runner != nil {
		s.runner.Stop(5 * time.Second)
	}
	if s.stopDLQ != nil {
		s.stopDLQ()
		s.dlqWorker.Stop()
	}
	if s.nc != nil {
		s.nc.Close()
	}
	if s.geocoder != nil {
		s.geocoder.Close()
	}
	s.BaseIntegrationSuite.TearDownSuite()
}

func (s *PipelineSuite) publishTrigger(req model.OnboardingRequest) {
	data, err := json.Marshal(req)
	s.Require().NoError(err)
	s.Require().NoError(s.JS.Publish(s.Ctx, s.cfg.NATS.Requests.SubjectList[0], data, map[string]string{
		events.HeaderMsgID: req.RequestID,
	}))
}

func (s *PipelineSuite) subscribeNotifications(connectionID string) *natsgo.Subscription {
	sub, err := s.nc.SubscribeSync(s.cfg.NATS.NotifySubjectPrefix + "." + connectionID)
	s.Require().NoError(err)
	s.Require().NoError(s.nc.Flush())
	return sub
}

func (s *PipelineSuite) nextNotification(sub *natsgo.Subscription) model.Notification {
	msg, err := sub.NextMsg(20 * time.Second)
	s.Require().NoError(err, "no notification received")
	var n model.Notification
	s.Require().NoError(json.Unmarshal(msg.Data, &n))
	return n
}

func berthier(requestID, street string) model.OnboardingRequest {
	return model.OnboardingRequest{
		RequestID: requestID,
		IDCardKey: requestID + ".jpg",
		User: model.NewDeclaredIdentity(func(d *model.DeclaredIdentity) {
			d.Firstname = "Corinne"
			d.Lastname = "Berthier"
			d.Birthdate = "1965-12-06"
			d.Street = street
			d.City = "Amiens"
			d.PostalCode = "80000"
		}),
	}
}

var berthierCard = []model.FormField{
	{Key: "Prénom", Value: "CORINNE"},
	{Key: "NOM", Value: "BERTHIER"},
	{Key: "DATE DE NAISS.", Value: "06.12.1965"},
}

func (s *PipelineSuite) TestOnboardingSucceeds() {
	req := berthier("req-ok", "8 bd du port")
	req.ConnectionID = "conn-ok"
	s.analyzer.put(req.IDCardKey, berthierCard)

	created, err := s.nc.SubscribeSync(s.cfg.NATS.EventsSubject)
	s.Require().NoError(err)
	defer func() { _ = created.Unsubscribe() }()
	notifications := s.subscribeNotifications(req.ConnectionID)
	defer func() { _ = notifications.Unsubscribe() }()

	s.publishTrigger(req)

	n := s.nextNotification(notifications)
	s.False(n.Error)
	s.Equal(model.SuccessNotificationMessage, n.Message)

	var user model.User
	s.Require().NoError(s.DB.Where("lastname = ? AND firstname = ?", "Berthier", "Corinne").First(&user).Error)
	s.Equal(amiens, user.Address)
	s.Len(user.ID, 16)

	msg, err := created.NextMsg(10 * time.Second)
	s.Require().NoError(err, "UserCreated not published")
	var event model.UserCreatedEvent
	s.Require().NoError(json.Unmarshal(msg.Data, &event))
	s.Equal(user.ID, event.UserID)
	s.Equal(req.RequestID, msg.Header.Get(events.HeaderMsgID))
}

func (s *PipelineSuite) TestRejectedAddressLandsInFailureTable() {
	req := berthier("req-bad-address", "rue inconnue")
	s.analyzer.put(req.IDCardKey, berthierCard)

	// No connection on the trigger: the registry provides it.
	s.Require().NoError(s.registry.Register(s.Ctx, model.ConnectionRegistration{
		RequestID:    req.RequestID,
		ConnectionID: "conn-bad-address",
	}))
	notifications := s.subscribeNotifications("conn-bad-address")
	defer func() { _ = notifications.Unsubscribe() }()

	s.publishTrigger(req)

	n := s.nextNotification(notifications)
	s.True(n.Error)
	s.Contains(n.Message, "Address is incorrect")

	var failure model.FailedOnboarding
	s.eventually(func() bool {
		return s.DB.Where("request_id = ?", req.RequestID).First(&failure).Error == nil
	}, "failure was not persisted")
	s.Equal(usecase.StepVerifyAddress, failure.Step)
	s.Equal("AddressUnverifiable", failure.Code)
	s.Equal("v1.onboarding.failed.VerifyAddress", failure.Subject)

	var users int64
	s.Require().NoError(s.DB.Model(&model.User{}).Count(&users).Error)
	s.Zero(users)
}

func (s *PipelineSuite) TestMalformedTriggerIsDeadLettered() {
	s.Require().NoError(s.JS.Publish(s.Ctx, s.cfg.NATS.Requests.SubjectList[0], []byte("not json"), map[string]string{
		events.HeaderMsgID: "malformed-1",
	}))

	var failure model.FailedOnboarding
	s.eventually(func() bool {
		return s.DB.Where("subject LIKE ?", "v1.onboarding.failed.%").First(&failure).Error == nil
	}, "malformed trigger was not dead-lettered")
	s.NotEmpty(failure.ErrorMessage)
	s.JSONEq(`{"raw_b64":"bm90IGpzb24="}`, string(failure.Payload))
}

func (s *PipelineSuite) TestResubmittedRequestIsRejected() {
	intake := usecase.NewIntakeService(nil, s.JS, s.registry, s.cfg.NATS.Requests.SubjectList[0])
	req := berthier("req-resubmitted", "rue inconnue")
	s.analyzer.put(req.IDCardKey, berthierCard)

	resp, err := intake.StartOnboarding(s.Ctx, req)
	s.Require().NoError(err)
	s.Equal(req.RequestID, resp.RequestID)

	req.User.Street = "8 bd du port"
	_, err = intake.StartOnboarding(s.Ctx, req)
	s.ErrorIs(err, apperrors.ErrConflict)
}
