package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/identity-onboarding/internal/config"
	"gitlab.com/timkado/api/identity-onboarding/internal/dlqworker"
	"gitlab.com/timkado/api/identity-onboarding/internal/events"
	"gitlab.com/timkado/api/identity-onboarding/internal/extractor"
	"gitlab.com/timkado/api/identity-onboarding/internal/geocoding"
	"gitlab.com/timkado/api/identity-onboarding/internal/httpapi"
	"gitlab.com/timkado/api/identity-onboarding/internal/jetstream"
	"gitlab.com/timkado/api/identity-onboarding/internal/notifier"
	"gitlab.com/timkado/api/identity-onboarding/internal/observer"
	"gitlab.com/timkado/api/identity-onboarding/internal/storage"
	"gitlab.com/timkado/api/identity-onboarding/internal/uploads"
	"gitlab.com/timkado/api/identity-onboarding/internal/usecase"
	"gitlab.com/timkado/api/identity-onboarding/pkg/logger"
	"gitlab.com/timkado/api/identity-onboarding/pkg/utils"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Set timezone to UTC
	time.Local = time.UTC

	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(cfg.Log.Level, cfg.Log.Encoding); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	observer.InitMetrics(cfg.Metrics.Enabled)

	logger.Log.Info("Starting identity onboarding service",
		zap.String("environment", cfg.Environment),
		zap.String("nats_url", cfg.NATS.URL),
		zap.String("upload_bucket", cfg.Uploads.Bucket),
	)

	// Parent of every workflow context; cancelled last during shutdown
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	postgresRepo, err := initPostgresRepo(cfg.Database.PostgresDSN, cfg.Database.PostgresAutoMigrate)
	if err != nil {
		logger.Log.Fatal("Failed to initialize Postgres repository", zap.Error(err))
	}

	jsClient, err := jetstream.NewClient(cfg.NATS.URL)
	if err != nil {
		logger.Log.Fatal("Failed to initialize JetStream client", zap.Error(err))
	}

	// The connection registry is optional: without it only triggers that carry
	// a connectionId can be notified.
	var (
		redisClient *redis.Client
		registry    *notifier.RedisRegistry
		resolver    notifier.ConnectionResolver
		connections usecase.ConnectionRegistry
	)
	if cfg.Redis.URL != "" {
		redisClient, err = notifier.NewRedisClient(rootCtx, cfg.Redis.URL)
		if err != nil {
			logger.Log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		registry = notifier.NewRedisRegistry(redisClient, cfg.Redis.ConnectionTTL)
		resolver, connections = registry, registry
		logger.Log.Info("Connection registry enabled", zap.Duration("ttl", cfg.Redis.ConnectionTTL))
	} else {
		logger.Log.Warn("Redis URL not set, connection registry disabled")
	}

	s3Client, textractClient, err := initAWSClients(rootCtx, cfg)
	if err != nil {
		logger.Log.Fatal("Failed to initialize AWS clients", zap.Error(err))
	}

	// Outbound streams
	publisher := events.NewPublisher(jsClient, cfg.NATS.EventsStream, cfg.NATS.EventsSubject)
	failureQueue := events.NewFailureQueue(jsClient, cfg.DLQ)
	if err := failureQueue.Setup(rootCtx); err != nil {
		logger.Log.Fatal("Failed to set up failure stream", zap.Error(err))
	}
	if err := publisher.Setup(rootCtx); err != nil {
		logger.Log.Fatal("Failed to set up events stream", zap.Error(err))
	}

	// Workflow
	orchestrator := usecase.NewOrchestrator(usecase.Dependencies{
		Extractor: extractor.NewService(extractor.NewTextractAnalyzer(textractClient), extractor.New(), cfg.Uploads.Bucket),
		Verifier: geocoding.NewVerifier(
			geocoding.NewClient(cfg.Geocoding.BaseURL, cfg.Geocoding.Timeout, cfg.Geocoding.MaxAttempts),
			cfg.Geocoding.Threshold,
		),
		Users:     postgresRepo,
		Publisher: publisher,
		Router:    usecase.NewOutcomeRouter(failureQueue, notifier.New(jsClient, resolver, cfg.NATS.NotifySubjectPrefix)),
	})

	runner, err := usecase.NewRunner(rootCtx, cfg.Workflow, orchestrator, logger.Log)
	if err != nil {
		logger.Log.Fatal("Failed to initialize workflow runner", zap.Error(err))
	}

	processor := usecase.NewProcessor(jsClient, cfg, runner, failureQueue)
	if err := processor.Setup(); err != nil {
		logger.Log.Fatal("Failed to set up processor", zap.Error(err))
	}

	dlqWorker, err := dlqworker.NewWorker(cfg.DLQ, logger.Log, jsClient, postgresRepo)
	if err != nil {
		logger.Log.Fatal("Failed to initialize DLQ Worker", zap.Error(err))
	}
	if err := dlqWorker.Setup(rootCtx); err != nil {
		logger.Log.Fatal("Failed to set up DLQ Worker", zap.Error(err))
	}

	// HTTP API
	intake := usecase.NewIntakeService(
		uploads.NewPresigner(s3.NewPresignClient(s3Client), cfg.Uploads.Bucket, cfg.Uploads.Expiration),
		jsClient,
		connections,
		cfg.NATS.Requests.SubjectList[0],
	)
	checks := []httpapi.Check{
		{Name: "nats", Probe: func(context.Context) error {
			if !jsClient.IsConnected() {
				return errors.New("nats disconnected")
			}
			return nil
		}},
		{Name: "postgres", Probe: postgresRepo.Ping},
	}
	if registry != nil {
		checks = append(checks, httpapi.Check{Name: "redis", Probe: registry.Ping})
	}
	server := httpapi.NewServer(cfg.Server.Port, cfg.Server.ReadTimeout, logger.Log, httpapi.NewHandler(intake), checks...)

	if cfg.Metrics.Enabled {
		server.RegisterMetricsHandler(promhttp.Handler())
	} else {
		logger.Log.Info("Metrics endpoint disabled for environment", zap.String("environment", cfg.Environment))
	}
	server.Start()

	if err := processor.Start(); err != nil {
		logger.Log.Fatal("Failed to start processor", zap.Error(err))
	}

	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()
	sigChan := make(chan os.Signal, 1)
	utils.SafeGo("dlq_worker", func() {
		if err := dlqWorker.Start(mainCtx); err != nil {
			logger.Log.Error("DLQ Worker failed to start, initiating shutdown...", zap.Error(err))
			select {
			case sigChan <- syscall.SIGTERM:
			default:
				logger.Log.Warn("Could not send SIGTERM to signal channel immediately")
			}
		}
	}, nil)

	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))
	mainCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", shutdownTimeout))

	// Stage 1: stop intake. No new triggers are accepted or consumed.
	shutdownStage(shutdownCtx,
		component{"HTTP server", func() error { return server.Stop(shutdownCtx) }},
		component{"event processor", func() error { processor.Stop(); return nil }},
	)

	// Stage 2: drain in-flight workflows, which still need NATS and Postgres.
	shutdownStage(shutdownCtx,
		component{"workflow runner", func() error { runner.Stop(cfg.Server.ShutdownTimeout); return nil }},
		component{"DLQ worker", func() error { dlqWorker.Stop(); return nil }},
	)
	rootCancel()

	// Stage 3: close connections.
	closers := []component{
		{"PostgreSQL connection", func() error { return postgresRepo.Close(shutdownCtx) }},
		{"JetStream connection", func() error { jsClient.Close(); return nil }},
	}
	if redisClient != nil {
		closers = append(closers, component{"Redis connection", redisClient.Close})
	}
	shutdownStage(shutdownCtx, closers...)

	logger.Log.Info("Identity onboarding service shutdown complete")
}

type component struct {
	name string
	stop func() error
}

// shutdownStage stops components concurrently and waits for all of them, or
// for ctx to expire.
func shutdownStage(ctx context.Context, components ...component) {
	var wg sync.WaitGroup
	wg.Add(len(components))
	for _, c := range components {
		c := c
		utils.SafeGo("shutdown:"+c.name, func() {
			defer wg.Done()
			logger.Log.Info("[shutdown] Stopping " + c.name)
			start := time.Now()
			if err := c.stop(); err != nil {
				logger.Log.Error("[shutdown] Error stopping "+c.name, zap.Error(err))
				return
			}
			logger.Log.Info("[shutdown] Stopped "+c.name, zap.Duration("duration", time.Since(start)))
		}, func(r interface{}, stack []byte) {
			logger.Log.Error("[shutdown] Panic while stopping "+c.name,
				zap.Any("panic", r),
				zap.ByteString("stack", stack),
			)
		})
	}

	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-ctx.Done():
		logger.Log.Warn("[shutdown] Graceful shutdown timed out, forcing exit")
	}
}

// Initialize PostgreSQL repository
func initPostgresRepo(dsn string, autoMigrate bool) (*storage.PostgresRepo, error) {
	repo, err := storage.NewPostgresRepo(dsn, autoMigrate)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres repository: %w", err)
	}
	logger.Log.Info("Initialized PostgreSQL repository")
	return repo, nil
}

// initAWSClients builds the S3 and Textract clients from the default
// credential chain. A configured endpoint overrides both, for localstack.
func initAWSClients(ctx context.Context, cfg *config.Config) (*s3.Client, *textract.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := cfg.AWS.Endpoint
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	textractClient := textract.NewFromConfig(awsCfg, func(o *textract.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return s3Client, textractClient, nil
}
