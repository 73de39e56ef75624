package observer

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "onboarding"

var (
	metricsEnabled = true

	// --- Workflow ---
	workflowTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_transitions_total",
			Help:      "Total number of workflow state transitions, labeled by the state entered.",
		},
		[]string{"state"},
	)
	workflowOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_outcomes_total",
			Help:      "Terminal workflow outcomes, labeled by outcome, failing step and error code.",
		},
		[]string{"outcome", "step", "code"},
	)
	stepDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of workflow steps.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"step", "status"},
	)
	workflowTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_tasks_total",
			Help:      "Workflow instances handed to the runner pool, labeled by submission result.",
		},
		[]string{"result"},
	)
	workflowRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflow_running",
			Help:      "Number of workflow instances currently running.",
		},
	)

	// --- Side effects ---
	dlqEnqueueFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dlq_enqueue_failures_total",
			Help:      "Failed attempts that could not be sent to the failure stream.",
		},
		[]string{"step"},
	)
	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Client notifications, labeled by kind (success/failure) and delivery result.",
		},
		[]string{"kind", "result"},
	)
	eventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Integration events published, labeled by event type and status.",
		},
		[]string{"event_type", "status"},
	)
	geocodingRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocoding_requests_total",
			Help:      "Geocoding searches, labeled by result after retries.",
		},
		[]string{"result"},
	)

	// --- Ingestion ---
	eventLabels       = []string{"event_type", "consumer"}
	eventsReceived    = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "events_received_total", Help: "Messages received from JetStream."}, eventLabels)
	eventsProcessed   = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "events_processed_total", Help: "Messages processed and acknowledged."}, eventLabels)
	eventsFailed      = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "events_failed_total", Help: "Messages that failed processing."}, eventLabels)
	eventActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_processing_actions_total",
			Help:      "Ack/nak/term decisions taken for consumed messages.",
		},
		[]string{"event_type", "action", "error_type"},
	)
	eventProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_processing_duration_seconds",
			Help:      "Histogram of message handling durations.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		eventLabels,
	)

	// --- Storage ---
	databaseOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_operation_duration_seconds",
			Help:      "Duration of database operations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"operation", "entity", "status"},
	)

	// --- Failure inspection worker ---
	dlqFetchRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "dlq_fetch_requests_total", Help: "Fetch calls made against the failure stream."})
	dlqFetchErrorsTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "dlq_fetch_errors_total", Help: "Fetch calls that returned an error."})
	dlqWorkersActive      = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "dlq_workers_active", Help: "Busy failure inspection workers."})
	failuresPersisted     = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_persisted_total",
			Help:      "Failures drained from the failure stream, labeled by outcome (saved, retry, dropped).",
		},
		[]string{"result"},
	)

	// --- HTTP ---
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests, labeled by route and status code.",
		},
		[]string{"route", "code"},
	)

	// --- Load generator ---
	loadgenTriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loadgen_triggers_total",
			Help:      "Triggers emitted by the load generator, labeled by payload kind and publish result.",
		},
		[]string{"kind", "result"},
	)
)

// InitMetrics turns metric collection on or off. Collectors are always
// registered via promauto; disabling only stops updates.
func InitMetrics(enabled bool) {
	metricsEnabled = enabled
}

func IncWorkflowTransition(state string) {
	if !metricsEnabled {
		return
	}
	workflowTransitionsTotal.WithLabelValues(state).Inc()
}

// IncWorkflowOutcome counts a terminal outcome. step and code are empty on success.
func IncWorkflowOutcome(outcome, step, code string) {
	if !metricsEnabled {
		return
	}
	workflowOutcomesTotal.WithLabelValues(outcome, orNone(step), orNone(code)).Inc()
}

func ObserveStepDuration(step string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	stepDurationSeconds.WithLabelValues(step, status(err)).Observe(duration.Seconds())
}

func IncWorkflowTask(result string) {
	if !metricsEnabled {
		return
	}
	workflowTasksTotal.WithLabelValues(result).Inc()
}

func SetWorkflowRunning(n int) {
	if !metricsEnabled {
		return
	}
	workflowRunning.Set(float64(n))
}

// IncDLQEnqueueFailure counts a failure that never reached the failure stream.
func IncDLQEnqueueFailure(step string) {
	if !metricsEnabled {
		return
	}
	dlqEnqueueFailuresTotal.WithLabelValues(orNone(step)).Inc()
}

func IncNotification(kind, result string) {
	if !metricsEnabled {
		return
	}
	notificationsTotal.WithLabelValues(kind, result).Inc()
}

func IncEventPublished(eventType string, err error) {
	if !metricsEnabled {
		return
	}
	eventsPublishedTotal.WithLabelValues(eventType, status(err)).Inc()
}

func IncGeocodingRequest(result string) {
	if !metricsEnabled {
		return
	}
	geocodingRequestsTotal.WithLabelValues(result).Inc()
}

func IncEventsReceived(eventType, consumer string) {
	if !metricsEnabled {
		return
	}
	eventsReceived.WithLabelValues(eventType, consumer).Inc()
}

func IncEventsProcessed(eventType, consumer string) {
	if !metricsEnabled {
		return
	}
	eventsProcessed.WithLabelValues(eventType, consumer).Inc()
}

func IncEventsFailed(eventType, consumer string) {
	if !metricsEnabled {
		return
	}
	eventsFailed.WithLabelValues(eventType, consumer).Inc()
}

func ObserveEventProcessingDuration(eventType, consumer string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	eventProcessingDuration.WithLabelValues(eventType, consumer).Observe(duration.Seconds())
}

// IncEventProcessingAction counts an ack/nak/term decision.
func IncEventProcessingAction(eventType, action, errorType string) {
	if !metricsEnabled {
		return
	}
	eventActionsTotal.WithLabelValues(eventType, action, SanitizeErrorType(errorType)).Inc()
}

// ObserveDbOperationDuration records the duration for a database operation.
func ObserveDbOperationDuration(operation, entity string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	databaseOperationDuration.WithLabelValues(operation, entity, status(err)).Observe(duration.Seconds())
}

func IncDlqFetchRequest() {
	if metricsEnabled {
		dlqFetchRequestsTotal.Inc()
	}
}

func IncDlqFetchError() {
	if metricsEnabled {
		dlqFetchErrorsTotal.Inc()
	}
}

func SetDlqWorkersActive(n int) {
	if metricsEnabled {
		dlqWorkersActive.Set(float64(n))
	}
}

func IncFailurePersisted(result string) {
	if metricsEnabled {
		failuresPersisted.WithLabelValues(result).Inc()
	}
}

func IncHTTPRequest(route, code string) {
	if metricsEnabled {
		httpRequestsTotal.WithLabelValues(route, code).Inc()
	}
}

func IncLoadgenTrigger(kind, result string) {
	if metricsEnabled {
		loadgenTriggersTotal.WithLabelValues(kind, result).Inc()
	}
}

// SanitizeErrorType maps an error string onto a small set of categories to
// keep label cardinality bounded.
func SanitizeErrorType(errStr string) string {
	if errStr == "" || errStr == "none" {
		return "none"
	}

	switch {
	case strings.Contains(errStr, "database"), strings.Contains(errStr, "SQL"), strings.Contains(errStr, "constraint"):
		return "database"
	case strings.Contains(errStr, "validation failed"), strings.Contains(errStr, "bad request"), strings.Contains(errStr, "invalid"):
		return "validation"
	case strings.Contains(errStr, "nats"), strings.Contains(errStr, "jetstream"):
		return "nats"
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errStr, "unmarshal"), strings.Contains(errStr, "json"):
		return "unmarshal"
	case strings.Contains(errStr, "panic"):
		return "panic"
	default:
		return "unknown"
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
