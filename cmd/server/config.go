package main

import (
	"fmt"
	"os"
	"time"

	"algoforge/internal/common/cache"
	"algoforge/internal/common/db"
	"algoforge/internal/common/mq"
	"algoforge/internal/common/storage"
	"algoforge/internal/submit/service"
	"algoforge/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// CORSSettings configures cross-origin headers for browser clients.
type CORSSettings struct {
	Enabled          bool     `yaml:"enabled"`
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowedMethods   []string `yaml:"allowedMethods"`
	AllowedHeaders   []string `yaml:"allowedHeaders"`
	ExposedHeaders   []string `yaml:"exposedHeaders"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           string   `yaml:"maxAge"`
}

// AuthConfig holds token issuance settings.
type AuthConfig struct {
	JWTSecret       string        `yaml:"jwtSecret"`
	JWTIssuer       string        `yaml:"jwtIssuer"`
	AccessTokenTTL  time.Duration `yaml:"accessTokenTTL"`
	RefreshTokenTTL time.Duration `yaml:"refreshTokenTTL"`
	LoginFailTTL    time.Duration `yaml:"loginFailTTL"`
	LoginFailLimit  int           `yaml:"loginFailLimit"`
}

// TopicsConfig names the Kafka topics the platform moves work through.
type TopicsConfig struct {
	Judge           string `yaml:"judge"`
	JudgeDeadLetter string `yaml:"judgeDeadLetter"`
	Result          string `yaml:"result"`
	ProblemCleanup  string `yaml:"problemCleanup"`
}

// ProblemConfig holds catalog settings.
type ProblemConfig struct {
	DataBucket       string        `yaml:"dataBucket"`
	DataKeyPrefix    string        `yaml:"dataKeyPrefix"`
	CacheTTL         time.Duration `yaml:"cacheTTL"`
	CacheEmptyTTL    time.Duration `yaml:"cacheEmptyTTL"`
	CleanupGroup     string        `yaml:"cleanupGroup"`
	CleanupBatchSize int           `yaml:"cleanupBatchSize"`
}

// SubmitConfig holds submission intake settings.
type SubmitConfig struct {
	SourceBucket       string                  `yaml:"sourceBucket"`
	SourceKeyPrefix    string                  `yaml:"sourceKeyPrefix"`
	MaxCodeBytes       int                     `yaml:"maxCodeBytes"`
	IdempotencyTTL     time.Duration           `yaml:"idempotencyTTL"`
	StatusTTL          time.Duration           `yaml:"statusTTL"`
	SubmissionCacheTTL time.Duration           `yaml:"submissionCacheTTL"`
	SubmissionEmptyTTL time.Duration           `yaml:"submissionEmptyTTL"`
	ResultGroup        string                  `yaml:"resultGroup"`
	RateLimit          service.RateLimitConfig `yaml:"rateLimit"`
	Timeouts           service.TimeoutConfig   `yaml:"timeouts"`
}

// JudgeConfig holds judge worker settings.
type JudgeConfig struct {
	ExecutorURL      string        `yaml:"executorURL"`
	ExecutorTimeout  time.Duration `yaml:"executorTimeout"`
	JudgeTimeout     time.Duration `yaml:"judgeTimeout"`
	StorageTimeout   time.Duration `yaml:"storageTimeout"`
	StatusTimeout    time.Duration `yaml:"statusTimeout"`
	WorkerPoolSize   int           `yaml:"workerPoolSize"`
	PackCacheTTL     time.Duration `yaml:"packCacheTTL"`
	ConsumerGroup    string        `yaml:"consumerGroup"`
	Concurrency      int           `yaml:"concurrency"`
	PoolRetryMax     int           `yaml:"poolRetryMax"`
	PoolRetryBase    time.Duration `yaml:"poolRetryBase"`
	PoolRetryMaxWait time.Duration `yaml:"poolRetryMaxWait"`
}

// StatsConfig holds aggregation settings.
type StatsConfig struct {
	RecordedTTL time.Duration `yaml:"recordedTTL"`
}

// AIConfig holds feedback generation settings. Feedback falls back to
// canned hints when disabled.
type AIConfig struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"baseURL"`
	APIKey  string        `yaml:"apiKey"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// AppConfig holds the full server configuration.
type AppConfig struct {
	Server   ServerConfig        `yaml:"server"`
	CORS     CORSSettings        `yaml:"cors"`
	Logger   logger.Config       `yaml:"logger"`
	Database db.MySQLConfig      `yaml:"database"`
	Redis    cache.RedisConfig   `yaml:"redis"`
	Kafka    mq.KafkaConfig      `yaml:"kafka"`
	MinIO    storage.MinIOConfig `yaml:"minio"`
	Auth     AuthConfig          `yaml:"auth"`
	Topics   TopicsConfig        `yaml:"topics"`
	Problem  ProblemConfig       `yaml:"problem"`
	Submit   SubmitConfig        `yaml:"submit"`
	Judge    JudgeConfig         `yaml:"judge"`
	Stats    StatsConfig         `yaml:"stats"`
	AI       AIConfig            `yaml:"ai"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth jwt secret is required")
	}

	if cfg.Topics.Judge == "" {
		cfg.Topics.Judge = "judge.tasks"
	}
	if cfg.Topics.JudgeDeadLetter == "" {
		cfg.Topics.JudgeDeadLetter = "judge.tasks.dlq"
	}
	if cfg.Topics.Result == "" {
		cfg.Topics.Result = "judge.results"
	}
	if cfg.Topics.ProblemCleanup == "" {
		cfg.Topics.ProblemCleanup = "problem.cleanup"
	}

	if cfg.Problem.DataBucket == "" {
		cfg.Problem.DataBucket = cfg.MinIO.Bucket
	}
	if cfg.Problem.DataKeyPrefix == "" {
		cfg.Problem.DataKeyPrefix = "problems"
	}
	if cfg.Problem.CleanupGroup == "" {
		cfg.Problem.CleanupGroup = "algoforge-cleanup"
	}

	if cfg.Submit.SourceBucket == "" {
		cfg.Submit.SourceBucket = cfg.MinIO.Bucket
	}
	if cfg.Submit.MaxCodeBytes == 0 {
		cfg.Submit.MaxCodeBytes = 256 * 1024
	}
	if cfg.Submit.IdempotencyTTL == 0 {
		cfg.Submit.IdempotencyTTL = 10 * time.Minute
	}
	if cfg.Submit.StatusTTL == 0 {
		cfg.Submit.StatusTTL = 24 * time.Hour
	}
	if cfg.Submit.ResultGroup == "" {
		cfg.Submit.ResultGroup = "algoforge-results"
	}
	if cfg.Submit.RateLimit.Window == 0 {
		cfg.Submit.RateLimit.Window = time.Minute
	}
	if cfg.Submit.RateLimit.UserMax == 0 {
		cfg.Submit.RateLimit.UserMax = 30
	}
	if cfg.Submit.RateLimit.IPMax == 0 {
		cfg.Submit.RateLimit.IPMax = 60
	}
	if cfg.Submit.Timeouts.DB == 0 {
		cfg.Submit.Timeouts.DB = 3 * time.Second
	}
	if cfg.Submit.Timeouts.Cache == 0 {
		cfg.Submit.Timeouts.Cache = 1 * time.Second
	}
	if cfg.Submit.Timeouts.MQ == 0 {
		cfg.Submit.Timeouts.MQ = 3 * time.Second
	}
	if cfg.Submit.Timeouts.Storage == 0 {
		cfg.Submit.Timeouts.Storage = 5 * time.Second
	}
	if cfg.Submit.Timeouts.Status == 0 {
		cfg.Submit.Timeouts.Status = 2 * time.Second
	}

	if cfg.Judge.ExecutorURL == "" {
		cfg.Judge.ExecutorURL = "http://127.0.0.1:5050"
	}
	if cfg.Judge.ExecutorTimeout == 0 {
		cfg.Judge.ExecutorTimeout = 60 * time.Second
	}
	if cfg.Judge.JudgeTimeout == 0 {
		cfg.Judge.JudgeTimeout = 3 * time.Minute
	}
	if cfg.Judge.StorageTimeout == 0 {
		cfg.Judge.StorageTimeout = 10 * time.Second
	}
	if cfg.Judge.StatusTimeout == 0 {
		cfg.Judge.StatusTimeout = 2 * time.Second
	}
	if cfg.Judge.WorkerPoolSize == 0 {
		cfg.Judge.WorkerPoolSize = 4
	}
	if cfg.Judge.ConsumerGroup == "" {
		cfg.Judge.ConsumerGroup = "algoforge-judge"
	}
	if cfg.Judge.Concurrency == 0 {
		cfg.Judge.Concurrency = 4
	}
	if cfg.Judge.PoolRetryMax == 0 {
		cfg.Judge.PoolRetryMax = 5
	}
	if cfg.Judge.PoolRetryBase == 0 {
		cfg.Judge.PoolRetryBase = 500 * time.Millisecond
	}
	if cfg.Judge.PoolRetryMaxWait == 0 {
		cfg.Judge.PoolRetryMaxWait = 30 * time.Second
	}

	return &cfg, nil
}
