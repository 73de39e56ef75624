package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/identity-onboarding/internal/config"
	"gitlab.com/timkado/api/identity-onboarding/internal/events"
	"gitlab.com/timkado/api/identity-onboarding/internal/jetstream"
	"gitlab.com/timkado/api/identity-onboarding/internal/model"
	"gitlab.com/timkado/api/identity-onboarding/internal/observer"
	"gitlab.com/timkado/api/identity-onboarding/pkg/logger"
)

const (
	kindValid     = "valid"
	kindMalformed = "malformed"
	kindInvalid   = "invalid"
)

// triggerTask is one trigger handed to the publishing pool.
type triggerTask struct {
	kind    string
	subject string
}

type publisher interface {
	Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error
}

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	natsURL := flag.String("url", cfg.NATS.URL, "NATS server URL")
	subject := flag.String("subject", cfg.NATS.Requests.SubjectList[0], "Trigger subject")
	rate := flag.Int("rate", 20, "Target triggers per second")
	duration := flag.Duration("duration", time.Minute, "Load test duration")
	concurrency := flag.Int("concurrency", 10, "Number of concurrent publishers")
	malformedRatio := flag.Float64("malformed-ratio", 0.05, "Share of triggers sent as non-JSON bodies")
	invalidRatio := flag.Float64("invalid-ratio", 0.05, "Share of triggers missing the ID card key")
	metricsPort := flag.Int("metrics-port", 9091, "Port for Prometheus metrics endpoint")
	logLevel := flag.String("log-level", cfg.Log.Level, "Log level (debug, info, warn, error)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Onboarding trigger load generator\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Publishes fake onboarding triggers to JetStream.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *rate <= 0 {
		fmt.Println("Rate must be positive")
		os.Exit(1)
	}

	if err := logger.Initialize(*logLevel, cfg.Log.Encoding); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	observer.InitMetrics(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsServer := startMetricsServer(*metricsPort)
	var metricsWg sync.WaitGroup
	metricsWg.Add(1)
	go func() {
		defer metricsWg.Done()
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Log.Error("Metrics server shutdown error", zap.Error(err))
		}
	}()

	logger.Log.Info("Starting onboarding load generator",
		zap.String("nats_url", *natsURL),
		zap.String("subject", *subject),
		zap.Int("rate_per_sec", *rate),
		zap.Duration("duration", *duration),
		zap.Int("concurrency", *concurrency),
		zap.Float64("malformed_ratio", *malformedRatio),
		zap.Float64("invalid_ratio", *invalidRatio),
	)

	natsClient, err := jetstream.NewClient(*natsURL)
	if err != nil {
		logger.Log.Fatal("Failed to connect to NATS", zap.String("url", *natsURL), zap.Error(err))
	}
	defer natsClient.Close()

	var wg sync.WaitGroup
	pool, err := ants.NewPoolWithFunc(*concurrency, func(data interface{}) {
		defer wg.Done()
		publishTrigger(ctx, natsClient, data.(triggerTask))
	})
	if err != nil {
		logger.Log.Fatal("Failed to create worker pool", zap.Error(err))
	}
	defer pool.Release()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		runLoadLoop(ctx, *rate, *duration, *subject, *malformedRatio, *invalidRatio, pool, &wg)
	}()

	select {
	case sig := <-sigChan:
		logger.Log.Info("Received termination signal, shutting down...", zap.String("signal", sig.String()))
	case <-loopDone:
		logger.Log.Info("Load generation duration finished")
	}
	cancel()
	<-loopDone

	wg.Wait()
	metricsWg.Wait()
	logger.Log.Info("Load generator shutdown complete")
}

func startMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("Failed to start Prometheus metrics server", zap.Error(err))
		}
	}()
	return server
}

// runLoadLoop submits one trigger per tick until ctx is cancelled or duration elapses.
func runLoadLoop(ctx context.Context, rate int, duration time.Duration, subject string, malformedRatio, invalidRatio float64, pool *ants.PoolWithFunc, wg *sync.WaitGroup) {
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()
	timer := time.NewTimer(duration)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case <-ticker.C:
			task := triggerTask{kind: pickKind(rand.Float64(), malformedRatio, invalidRatio), subject: subject}
			wg.Add(1)
			if err := pool.Invoke(task); err != nil {
				wg.Done()
				observer.IncLoadgenTrigger(task.kind, "rejected")
				logger.Log.Warn("Failed to invoke worker pool", zap.Error(err))
			}
		}
	}
}

func pickKind(roll, malformedRatio, invalidRatio float64) string {
	switch {
	case roll < malformedRatio:
		return kindMalformed
	case roll < malformedRatio+invalidRatio:
		return kindInvalid
	default:
		return kindValid
	}
}

// buildTrigger returns the body and request ID for a trigger of the given kind.
func buildTrigger(kind string) ([]byte, string, error) {
	requestID := gofakeit.UUID()
	if kind == kindMalformed {
		return []byte("not-json:" + gofakeit.LetterN(16)), requestID, nil
	}

	req := model.OnboardingRequest{
		RequestID: requestID,
		IDCardKey: requestID + ".jpg",
		User:      model.NewDeclaredIdentity(),
	}
	if kind == kindInvalid {
		req.IDCardKey = ""
	}
	data, err := json.Marshal(req)
	return data, requestID, err
}

func publishTrigger(ctx context.Context, client publisher, task triggerTask) {
	data, requestID, err := buildTrigger(task.kind)
	if err != nil {
		observer.IncLoadgenTrigger(task.kind, "error")
		logger.Log.Error("Failed to build trigger", zap.Error(err))
		return
	}

	headers := map[string]string{events.HeaderMsgID: requestID}
	err = client.Publish(ctx, task.subject, data, headers)
	if errors.Is(err, jetstream.ErrDuplicateMessage) {
		observer.IncLoadgenTrigger(task.kind, "duplicate")
		return
	}
	if err != nil {
		observer.IncLoadgenTrigger(task.kind, "error")
		logger.Log.Error("Failed to publish trigger", zap.String("request_id", requestID), zap.Error(err))
		return
	}
	observer.IncLoadgenTrigger(task.kind, "published")
}
