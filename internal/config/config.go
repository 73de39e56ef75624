package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the onboarding service. It is built once
// at start-up by LoadConfig and passed explicitly to every component.
type Config struct {
	Environment string `mapstructure:"environment"`
	Server      struct {
		Port            int           `mapstructure:"port"`
		ReadTimeout     time.Duration `mapstructure:"readTimeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
	} `mapstructure:"server"`
	Log struct {
		Level    string `mapstructure:"level"`
		Encoding string `mapstructure:"encoding"`
	} `mapstructure:"log"`
	NATS struct {
		URL      string             `mapstructure:"url"`
		Requests ConsumerNatsConfig `mapstructure:"requests"`
		// Subject on which UserCreated integration events are published
		EventsStream  string `mapstructure:"eventsStream"`
		EventsSubject string `mapstructure:"eventsSubject"`
		// Prefix of the per-connection notification subjects
		NotifySubjectPrefix string `mapstructure:"notifySubjectPrefix"`
	} `mapstructure:"nats"`
	DLQ      DLQConfig `mapstructure:"dlq"`
	Database struct {
		PostgresDSN         string `mapstructure:"postgresDSN"`
		PostgresAutoMigrate bool   `mapstructure:"postgresAutoMigrate"`
	} `mapstructure:"database"`
	Redis struct {
		URL           string        `mapstructure:"url"`
		ConnectionTTL time.Duration `mapstructure:"connectionTTL"`
	} `mapstructure:"redis"`
	AWS struct {
		Region string `mapstructure:"region"`
		// Optional endpoint override, used against localstack
		Endpoint string `mapstructure:"endpoint"`
	} `mapstructure:"aws"`
	Uploads struct {
		Bucket     string        `mapstructure:"bucket"`
		Expiration time.Duration `mapstructure:"expiration"`
	} `mapstructure:"uploads"`
	Geocoding struct {
		BaseURL     string        `mapstructure:"baseURL"`
		Threshold   float64       `mapstructure:"threshold"`
		Timeout     time.Duration `mapstructure:"timeout"`
		MaxAttempts int           `mapstructure:"maxAttempts"`
	} `mapstructure:"geocoding"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`
}

// ConsumerNatsConfig holds configuration specific to a NATS consumer
type ConsumerNatsConfig struct {
	MaxAge       int64         `mapstructure:"maxAge"` // days
	Stream       string        `mapstructure:"stream"`
	Consumer     string        `mapstructure:"consumer"` // durable name
	QueueGroup   string        `mapstructure:"queueGroup"`
	SubjectList  []string      `mapstructure:"subjectList"`
	MaxDeliver   int           `mapstructure:"maxDeliver"`
	NakBaseDelay time.Duration `mapstructure:"nakBaseDelay"`
	NakMaxDelay  time.Duration `mapstructure:"nakMaxDelay"`
}

// WorkflowConfig sizes the pool running workflow instances.
type WorkflowConfig struct {
	PoolSize int `mapstructure:"poolSize"`
	// Submissions allowed to wait for a free worker before Submit fails
	QueueSize  int           `mapstructure:"queueSize"`
	ExpiryTime time.Duration `mapstructure:"expiryTime"`
}

// DLQConfig configures the failure stream and the inspection worker draining it.
type DLQConfig struct {
	Stream        string        `mapstructure:"stream"`
	Subject       string        `mapstructure:"subject"` // base subject, the step name is appended
	Consumer      string        `mapstructure:"consumer"`
	Workers       int           `mapstructure:"workers"`
	MaxAgeDays    int           `mapstructure:"maxAgeDays"`
	MaxDeliver    int           `mapstructure:"maxDeliver"`
	AckWait       time.Duration `mapstructure:"ackWait"`
	MaxAckPending int           `mapstructure:"maxAckPending"`
	BaseDelay     time.Duration `mapstructure:"baseDelay"`
	MaxDelay      time.Duration `mapstructure:"maxDelay"`
	FetchBatch    int           `mapstructure:"fetchBatch"`
}

// LoadConfig reads configuration from file or environment variables and validates it.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("default")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("/etc/identity-onboarding")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, Config{})

	// Conventional names used by the deployment manifests
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		v.Set("database.postgresDSN", dsn)
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		v.Set("nats.url", url)
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		v.Set("redis.url", url)
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		v.Set("log.level", lvl)
	}
	if bucket := os.Getenv("UPLOAD_BUCKET"); bucket != "" {
		v.Set("uploads.bucket", bucket)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 10*time.Second)
	v.SetDefault("server.shutdownTimeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("metrics.enabled", true)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.requests.stream", "onboarding_requests")
	v.SetDefault("nats.requests.consumer", "onboarding_processor")
	v.SetDefault("nats.requests.queueGroup", "onboarding_processors")
	v.SetDefault("nats.requests.subjectList", []string{"v1.onboarding.requested"})
	v.SetDefault("nats.requests.maxAge", 7)
	v.SetDefault("nats.requests.maxDeliver", 5)
	v.SetDefault("nats.requests.nakBaseDelay", time.Second)
	v.SetDefault("nats.requests.nakMaxDelay", time.Minute)
	v.SetDefault("nats.eventsStream", "user_events")
	v.SetDefault("nats.eventsSubject", "v1.users.created")
	v.SetDefault("nats.notifySubjectPrefix", "v1.connections")

	v.SetDefault("dlq.stream", "onboarding_failures")
	v.SetDefault("dlq.subject", "v1.onboarding.failed")
	v.SetDefault("dlq.consumer", "onboarding_failure_inspector")
	v.SetDefault("dlq.workers", 4)
	v.SetDefault("dlq.maxAgeDays", 14)
	v.SetDefault("dlq.maxDeliver", 10)
	v.SetDefault("dlq.ackWait", 30*time.Second)
	v.SetDefault("dlq.maxAckPending", 256)
	v.SetDefault("dlq.baseDelay", 5*time.Second)
	v.SetDefault("dlq.maxDelay", 5*time.Minute)
	v.SetDefault("dlq.fetchBatch", 16)

	v.SetDefault("database.postgresAutoMigrate", true)
	v.SetDefault("redis.connectionTTL", time.Hour)

	v.SetDefault("aws.region", "eu-west-3")
	v.SetDefault("uploads.expiration", 300*time.Second)

	v.SetDefault("geocoding.baseURL", "https://api-adresse.data.gouv.fr")
	v.SetDefault("geocoding.threshold", 0.82)
	v.SetDefault("geocoding.timeout", 5*time.Second)
	v.SetDefault("geocoding.maxAttempts", 3)

	v.SetDefault("workflow.poolSize", 32)
	v.SetDefault("workflow.queueSize", 256)
	v.SetDefault("workflow.expiryTime", time.Minute)
}

// Validate rejects configurations that would only fail on first use.
func (c *Config) Validate() error {
	var errs []error
	if c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required"))
	}
	if c.Database.PostgresDSN == "" {
		errs = append(errs, errors.New("database.postgresDSN is required"))
	}
	if c.Uploads.Bucket == "" {
		errs = append(errs, errors.New("uploads.bucket is required"))
	}
	if c.Uploads.Expiration <= 0 {
		errs = append(errs, errors.New("uploads.expiration must be positive"))
	}
	if c.Geocoding.BaseURL == "" {
		errs = append(errs, errors.New("geocoding.baseURL is required"))
	}
	if t := c.Geocoding.Threshold; !(t >= 0 && t <= 1) {
		errs = append(errs, fmt.Errorf("geocoding.threshold must be within [0,1], got %v", c.Geocoding.Threshold))
	}
	if c.Geocoding.MaxAttempts < 1 {
		errs = append(errs, errors.New("geocoding.maxAttempts must be at least 1"))
	}
	if c.Workflow.PoolSize <= 0 {
		errs = append(errs, errors.New("workflow.poolSize must be positive"))
	}
	if c.DLQ.Workers <= 0 {
		errs = append(errs, errors.New("dlq.workers must be positive"))
	}
	if len(c.NATS.Requests.SubjectList) == 0 {
		errs = append(errs, errors.New("nats.requests.subjectList must not be empty"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// bindEnvs recursively binds environment variables to config struct fields
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		fieldVal := ifv.Field(i)
		fieldType := ift.Field(i)

		tag := fieldType.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		path := append(append([]string{}, parts...), tag)
		key := strings.Join(path, ".")

		if fieldType.Type.Kind() == reflect.Struct {
			bindEnvs(v, fieldVal.Interface(), path...)
			continue
		}

		_ = v.BindEnv(key)
	}
}
