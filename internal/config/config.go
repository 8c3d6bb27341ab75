package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/recall-backend/internal/pkg/envutil"
)

// Config is resolved in three layers: defaults, then the optional YAML file,
// then environment variables.
type Config struct {
	LogMode string `yaml:"log_mode"`

	Postgres      PostgresConfig      `yaml:"postgres"`
	OpenAI        OpenAIConfig        `yaml:"openai"`
	Worker        WorkerConfig        `yaml:"worker"`
	Memory        MemoryConfig        `yaml:"memory"`
	Redis         RedisConfig         `yaml:"redis"`
	Neo4j         Neo4jConfig         `yaml:"neo4j"`
	Temporal      TemporalConfig      `yaml:"temporal"`
	HTTP          HTTPConfig          `yaml:"http"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

// ConnString returns DSN when set, otherwise assembles one from the parts.
func (p PostgresConfig) ConnString() string {
	if strings.TrimSpace(p.DSN) != "" {
		return p.DSN
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Name, p.SSLMode)
}

type OpenAIConfig struct {
	APIKey         string  `yaml:"api_key"`
	BaseURL        string  `yaml:"base_url"`
	Model          string  `yaml:"model"`
	EmbedModel     string  `yaml:"embed_model"`
	Temperature    float64 `yaml:"temperature"`
	MaxRetries     int     `yaml:"max_retries"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RPS            float64 `yaml:"rps"`
}

func (o OpenAIConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

type WorkerConfig struct {
	Concurrency         int `yaml:"concurrency"`
	PollIntervalMS      int `yaml:"poll_interval_ms"`
	MaxAttempts         int `yaml:"max_attempts"`
	BackoffBaseMS       int `yaml:"backoff_base_ms"`
	StaleRunningMinutes int `yaml:"stale_running_minutes"`
	BackfillBatchSize   int `yaml:"backfill_batch_size"`
	BackfillMaxRetries  int `yaml:"backfill_max_retries"`
	BackfillBackoffMS   int `yaml:"backfill_backoff_ms"`
	ScoringConcurrency  int `yaml:"scoring_concurrency"`
}

func (w WorkerConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMS) * time.Millisecond
}

func (w WorkerConfig) BackoffBase() time.Duration {
	return time.Duration(w.BackoffBaseMS) * time.Millisecond
}

func (w WorkerConfig) StaleRunning() time.Duration {
	return time.Duration(w.StaleRunningMinutes) * time.Minute
}

func (w WorkerConfig) BackfillBackoff() time.Duration {
	return time.Duration(w.BackfillBackoffMS) * time.Millisecond
}

type MemoryConfig struct {
	DistanceThreshold float64 `yaml:"distance_threshold"`
	ScoreThreshold    float64 `yaml:"score_threshold"`
	K                 int     `yaml:"k"`
}

type RedisConfig struct {
	Addr    string `yaml:"addr"`
	Channel string `yaml:"channel"`
}

type Neo4jConfig struct {
	URI            string `yaml:"uri"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	Database       string `yaml:"database"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxPoolSize    int    `yaml:"max_pool_size"`
}

type TemporalConfig struct {
	Address   string `yaml:"address"`
	Namespace string `yaml:"namespace"`
	TaskQueue string `yaml:"task_queue"`

	ClientCertPath        string `yaml:"client_cert_path"`
	ClientKeyPath         string `yaml:"client_key_path"`
	ClientCAPath          string `yaml:"client_ca_path"`
	AutoRegisterNamespace bool   `yaml:"auto_register_namespace"`
	DialMaxWaitSeconds    int    `yaml:"dial_max_wait_seconds"`
}

// Enabled reports whether jobs should run through Temporal instead of the
// polling worker.
func (t TemporalConfig) Enabled() bool { return strings.TrimSpace(t.Address) != "" }

type HTTPConfig struct {
	Addr             string   `yaml:"addr"`
	CronSecret       string   `yaml:"cron_secret"`
	CORSAllowOrigins []string `yaml:"cors_allow_origins"`
}

type ObservabilityConfig struct {
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	OTelEnabled    bool   `yaml:"otel_enabled"`
	ServiceName    string `yaml:"service_name"`
}

func Default() Config {
	return Config{
		LogMode: "development",
		Postgres: PostgresConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "postgres",
			Name:    "recall",
			SSLMode: "disable",
		},
		OpenAI: OpenAIConfig{
			BaseURL:        "https://api.openai.com",
			Model:          "gpt-4o-mini",
			EmbedModel:     "text-embedding-3-large",
			Temperature:    0.1,
			MaxRetries:     4,
			TimeoutSeconds: 60,
			RPS:            5,
		},
		Worker: WorkerConfig{
			Concurrency:         3,
			PollIntervalMS:      1000,
			MaxAttempts:         3,
			BackoffBaseMS:       2000,
			StaleRunningMinutes: 30,
			BackfillBatchSize:   10,
			BackfillMaxRetries:  3,
			BackfillBackoffMS:   1000,
			ScoringConcurrency:  4,
		},
		Memory: MemoryConfig{
			DistanceThreshold: 0.8,
			ScoreThreshold:    0.5,
			K:                 12,
		},
		Redis: RedisConfig{Channel: "recall:jobs"},
		Neo4j: Neo4jConfig{TimeoutSeconds: 10, MaxPoolSize: 50},
		Temporal: TemporalConfig{
			Namespace:          "recall",
			TaskQueue:          "recall",
			DialMaxWaitSeconds: 60,
		},
		HTTP: HTTPConfig{
			Addr:             ":8080",
			CORSAllowOrigins: []string{"http://localhost:3000"},
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: true,
			ServiceName:    "recall-backend",
		},
	}
}

// Load resolves the configuration. An empty path falls back to RECALL_CONFIG;
// a missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		path = strings.TrimSpace(os.Getenv("RECALL_CONFIG"))
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

func applyEnv(c *Config) {
	c.LogMode = envutil.String("LOG_MODE", c.LogMode)

	c.Postgres.DSN = envutil.String("POSTGRES_DSN", c.Postgres.DSN)
	c.Postgres.Host = envutil.String("POSTGRES_HOST", c.Postgres.Host)
	c.Postgres.Port = envutil.Int("POSTGRES_PORT", c.Postgres.Port)
	c.Postgres.User = envutil.String("POSTGRES_USER", c.Postgres.User)
	c.Postgres.Password = envutil.String("POSTGRES_PASSWORD", c.Postgres.Password)
	c.Postgres.Name = envutil.String("POSTGRES_NAME", c.Postgres.Name)
	c.Postgres.SSLMode = envutil.String("POSTGRES_SSLMODE", c.Postgres.SSLMode)

	c.OpenAI.APIKey = envutil.String("OPENAI_API_KEY", c.OpenAI.APIKey)
	c.OpenAI.BaseURL = strings.TrimRight(envutil.String("OPENAI_BASE_URL", c.OpenAI.BaseURL), "/")
	c.OpenAI.Model = envutil.String("OPENAI_MODEL", c.OpenAI.Model)
	c.OpenAI.EmbedModel = envutil.String("OPENAI_EMBED_MODEL", c.OpenAI.EmbedModel)
	c.OpenAI.Temperature = envutil.Float("OPENAI_TEMPERATURE", c.OpenAI.Temperature)
	c.OpenAI.MaxRetries = envutil.Int("OPENAI_MAX_RETRIES", c.OpenAI.MaxRetries)
	c.OpenAI.TimeoutSeconds = envutil.Int("OPENAI_TIMEOUT_SECONDS", c.OpenAI.TimeoutSeconds)
	c.OpenAI.RPS = envutil.Float("OPENAI_RPS", c.OpenAI.RPS)

	c.Worker.Concurrency = envutil.Int("WORKER_CONCURRENCY", c.Worker.Concurrency)
	c.Worker.PollIntervalMS = envutil.Int("WORKER_POLL_INTERVAL_MS", c.Worker.PollIntervalMS)
	c.Worker.MaxAttempts = envutil.Int("JOB_MAX_ATTEMPTS", c.Worker.MaxAttempts)
	c.Worker.BackoffBaseMS = envutil.Int("JOB_BACKOFF_BASE_MS", c.Worker.BackoffBaseMS)
	c.Worker.StaleRunningMinutes = envutil.Int("JOB_STALE_RUNNING_MINUTES", c.Worker.StaleRunningMinutes)
	c.Worker.BackfillBatchSize = envutil.Int("BACKFILL_BATCH_SIZE", c.Worker.BackfillBatchSize)
	c.Worker.BackfillMaxRetries = envutil.Int("BACKFILL_MAX_RETRIES", c.Worker.BackfillMaxRetries)
	c.Worker.BackfillBackoffMS = envutil.Int("BACKFILL_BACKOFF_MS", c.Worker.BackfillBackoffMS)
	c.Worker.ScoringConcurrency = envutil.Int("SCORING_CONCURRENCY", c.Worker.ScoringConcurrency)

	c.Memory.DistanceThreshold = envutil.Float("MEMORY_DISTANCE_THRESHOLD", c.Memory.DistanceThreshold)
	c.Memory.ScoreThreshold = envutil.Float("MEMORY_SCORE_THRESHOLD", c.Memory.ScoreThreshold)
	c.Memory.K = envutil.Int("MEMORY_K", c.Memory.K)

	c.Redis.Addr = envutil.String("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Channel = envutil.String("REDIS_CHANNEL", c.Redis.Channel)

	c.Neo4j.URI = envutil.String("NEO4J_URI", c.Neo4j.URI)
	c.Neo4j.User = envutil.String("NEO4J_USER", c.Neo4j.User)
	c.Neo4j.Password = envutil.String("NEO4J_PASSWORD", c.Neo4j.Password)
	c.Neo4j.Database = envutil.String("NEO4J_DATABASE", c.Neo4j.Database)
	c.Neo4j.TimeoutSeconds = envutil.Int("NEO4J_TIMEOUT_SECONDS", c.Neo4j.TimeoutSeconds)
	c.Neo4j.MaxPoolSize = envutil.Int("NEO4J_MAX_POOL_SIZE", c.Neo4j.MaxPoolSize)

	c.Temporal.Address = envutil.String("TEMPORAL_ADDRESS", c.Temporal.Address)
	c.Temporal.Namespace = envutil.String("TEMPORAL_NAMESPACE", c.Temporal.Namespace)
	c.Temporal.TaskQueue = envutil.String("TEMPORAL_TASK_QUEUE", c.Temporal.TaskQueue)
	c.Temporal.ClientCertPath = envutil.String("TEMPORAL_CLIENT_CERT_PATH", c.Temporal.ClientCertPath)
	c.Temporal.ClientKeyPath = envutil.String("TEMPORAL_CLIENT_KEY_PATH", c.Temporal.ClientKeyPath)
	c.Temporal.ClientCAPath = envutil.String("TEMPORAL_CLIENT_CA_PATH", c.Temporal.ClientCAPath)
	c.Temporal.AutoRegisterNamespace = envutil.Bool("TEMPORAL_AUTO_REGISTER_NAMESPACE", c.Temporal.AutoRegisterNamespace)
	c.Temporal.DialMaxWaitSeconds = envutil.Int("TEMPORAL_DIAL_MAX_WAIT_SECONDS", c.Temporal.DialMaxWaitSeconds)

	c.HTTP.Addr = envutil.String("HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.CronSecret = envutil.String("CRON_SECRET", c.HTTP.CronSecret)
	c.HTTP.CORSAllowOrigins = envutil.List("CORS_ALLOW_ORIGINS", c.HTTP.CORSAllowOrigins)

	c.Observability.MetricsEnabled = envutil.Bool("METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.OTelEnabled = envutil.Bool("OTEL_ENABLED", c.Observability.OTelEnabled)
	c.Observability.ServiceName = envutil.String("OTEL_SERVICE_NAME", c.Observability.ServiceName)
}

// Validate rejects values the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Worker.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("worker.concurrency must be >= 1, got %d", c.Worker.Concurrency))
	}
	if c.Worker.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("worker.max_attempts must be >= 1, got %d", c.Worker.MaxAttempts))
	}
	if c.Memory.K < 1 {
		errs = append(errs, fmt.Errorf("memory.k must be >= 1, got %d", c.Memory.K))
	}
	if c.Memory.DistanceThreshold <= 0 {
		errs = append(errs, fmt.Errorf("memory.distance_threshold must be > 0"))
	}
	if c.OpenAI.TimeoutSeconds < 1 {
		errs = append(errs, fmt.Errorf("openai.timeout_seconds must be >= 1"))
	}
	return errors.Join(errs...)
}
