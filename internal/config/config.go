package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Environment constants
const (
	EnvProduction = "production"
)

// Registry backends.
const (
	RegistryBackendJSONBin  = "jsonbin"
	RegistryBackendFile     = "file"
	RegistryBackendS3       = "s3"
	RegistryBackendPostgres = "postgres"
)

// Judge ambiguous-output policies.
const (
	AmbiguousSecure = "secure"
	AmbiguousError  = "error"
)

// Eligibility dedup policies.
const (
	DedupKeepFirst  = "keep_first"
	DedupKeepLatest = "keep_latest"
)

// Key pool strategies.
const (
	KeyStrategyRandom     = "random"
	KeyStrategyRoundRobin = "round_robin"
)

// Config holds all application configuration.
type Config struct {
	App         AppConfig
	Log         LogConfig
	Server      ServerConfig
	Registry    RegistryConfig
	Probe       ProbeConfig
	Trap        TrapConfig
	Judge       JudgeConfig
	Eligibility EligibilityConfig
	Alert       AlertConfig
	SMTP        SMTPConfig
	Redis       RedisConfig
	Worker      WorkerConfig
	Scheduler   SchedulerConfig
	Public      PublicConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Name  string
	Env   string
	Debug bool
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string
	Format string
}

// ServerConfig holds the status HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	RateLimitRPS    float64
	RateLimitBurst  int
}

// RegistryConfig selects and configures the client registry store.
type RegistryConfig struct {
	Backend string

	// jsonbin
	JSONBinBaseURL   string
	JSONBinBinID     string
	JSONBinMasterKey string
	Timeout          time.Duration

	// file
	FilePath string

	// s3
	S3Bucket          string
	S3Key             string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3RoleARN         string

	// postgres
	DatabaseURL string
	TableName   string
	DocumentID  string
}

// ProbeConfig holds the agent prober configuration.
type ProbeConfig struct {
	Timeout             time.Duration
	MaxBodyBytes        int64
	MinReplyLength      int
	Concurrency         int
	AllowPrivateTargets bool
	UserAgent           string
}

// ProviderConfig configures one OpenAI-compatible or Anthropic endpoint.
type ProviderConfig struct {
	Type        string // groq, openai, openrouter, huggingface, custom, claude
	BaseURL     string
	Model       string
	APIKeys     []string
	KeyStrategy string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
	RateLimit   float64 // requests per second, 0 disables pacing
}

// IsConfigured returns true if the provider has a type and at least one key.
// Custom endpoints may run without authentication.
func (c *ProviderConfig) IsConfigured() bool {
	if c.Type == "custom" {
		return c.BaseURL != ""
	}
	return c.Type != "" && len(c.APIKeys) > 0
}

// TrapConfig holds trap generator configuration.
type TrapConfig struct {
	ListFile  string
	MaxLength int
	Generator ProviderConfig
}

// JudgeConfig holds the safety judge chain.
type JudgeConfig struct {
	// Providers are tried in order until one returns a parsable answer.
	Providers       []ProviderConfig
	AmbiguousPolicy string
}

// EligibilityConfig holds eligibility filter configuration.
type EligibilityConfig struct {
	DedupPolicy    string
	ValidityWindow time.Duration
	WindowInterval time.Duration
	WindowOpen     time.Duration
	AlwaysOnTag    string
	PruneExcluded  bool
}

// AlertConfig holds alert channel configuration.
type AlertConfig struct {
	TelegramBotToken string
	TelegramChatID   string
	TelegramAPIURL   string
	SlackWebhookURL  string
	WebhookURL       string
	WebhookSecret    string
	EmailTo          []string
	Timeout          time.Duration
	QueueEnabled     bool
	SuppressWindow   time.Duration
}

// HasChannel returns true if at least one delivery channel is configured.
func (c *AlertConfig) HasChannel() bool {
	return c.TelegramBotToken != "" || c.SlackWebhookURL != "" || c.WebhookURL != "" || len(c.EmailTo) > 0
}

// SMTPConfig holds SMTP configuration for email alerts.
type SMTPConfig struct {
	Host       string
	Port       int
	User       string
	Password   string
	From       string
	FromName   string
	TLS        bool
	SkipVerify bool
	Enabled    bool
	Timeout    time.Duration
}

// IsConfigured returns true if SMTP is properly configured.
func (c *SMTPConfig) IsConfigured() bool {
	return c.Enabled && c.Host != "" && c.Port > 0 && c.From != ""
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Enabled       bool
	Host          string
	Port          int
	Password      string
	DB            int
	PoolSize      int
	MinIdleConns  int
	DialTimeout   time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	TLSEnabled    bool
	TLSSkipVerify bool
	MaxRetries    int
	MinRetryDelay time.Duration
	MaxRetryDelay time.Duration
	LockTTL       time.Duration
}

// WorkerConfig holds alert queue worker configuration.
type WorkerConfig struct {
	Concurrency int
	Queue       string
	MaxRetry    int
}

// SchedulerConfig holds scan scheduler configuration.
type SchedulerConfig struct {
	// Cron takes precedence over Interval when set.
	Cron          string
	Interval      time.Duration
	RunOnStart    bool
	CycleTimeout  time.Duration
	CheckInterval time.Duration
	// PersistTimeout bounds the registry write and public view publish that
	// follow a cycle. It is not part of CycleTimeout.
	PersistTimeout time.Duration
}

// PublicConfig holds public status view configuration.
type PublicConfig struct {
	ViewPath  string
	S3Key     string
	MaskNames bool
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:  getEnv("APP_NAME", "vigilis"),
			Env:   getEnv("APP_ENV", "development"),
			Debug: getEnvBool("APP_DEBUG", false),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			RequestTimeout:  getEnvDuration("SERVER_REQUEST_TIMEOUT", 10*time.Second),
			RateLimitRPS:    getEnvFloat("SERVER_RATE_LIMIT_RPS", 10),
			RateLimitBurst:  getEnvInt("SERVER_RATE_LIMIT_BURST", 20),
		},
		Registry: RegistryConfig{
			Backend:           getEnv("REGISTRY_BACKEND", RegistryBackendJSONBin),
			JSONBinBaseURL:    getEnv("JSONBIN_BASE_URL", "https://api.jsonbin.io/v3"),
			JSONBinBinID:      getEnv("JSONBIN_BIN_ID", ""),
			JSONBinMasterKey:  getEnv("JSONBIN_MASTER_KEY", ""),
			Timeout:           getEnvDuration("REGISTRY_TIMEOUT", 15*time.Second),
			FilePath:          getEnv("REGISTRY_FILE_PATH", "registry.json"),
			S3Bucket:          getEnv("REGISTRY_S3_BUCKET", ""),
			S3Key:             getEnv("REGISTRY_S3_KEY", "registry.json"),
			S3Region:          getEnv("AWS_REGION", "us-east-1"),
			S3Endpoint:        getEnv("REGISTRY_S3_ENDPOINT", ""),
			S3AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			S3SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			S3RoleARN:         getEnv("REGISTRY_S3_ROLE_ARN", ""),
			DatabaseURL:       getEnv("DATABASE_URL", ""),
			TableName:         getEnv("REGISTRY_PG_TABLE", "vigilis_registry"),
			DocumentID:        getEnv("REGISTRY_PG_DOCUMENT", "default"),
		},
		Probe: ProbeConfig{
			Timeout:             getEnvDuration("PROBE_TIMEOUT", 12*time.Second),
			MaxBodyBytes:        getEnvInt64("PROBE_MAX_BODY_BYTES", 1<<20),
			MinReplyLength:      getEnvInt("PROBE_MIN_REPLY_LENGTH", 2),
			Concurrency:         getEnvInt("PROBE_CONCURRENCY", 32),
			AllowPrivateTargets: getEnvBool("PROBE_ALLOW_PRIVATE_TARGETS", false),
			UserAgent:           getEnv("PROBE_USER_AGENT", "Vigilis-Probe/1.0"),
		},
		Trap: TrapConfig{
			ListFile:  getEnv("TRAP_LIST_FILE", ""),
			MaxLength: getEnvInt("TRAP_MAX_LENGTH", 500),
			Generator: loadProvider("TRAP_GENERATOR", 120),
		},
		Judge: JudgeConfig{
			Providers:       loadJudgeChain(),
			AmbiguousPolicy: strings.ToLower(getEnv("JUDGE_AMBIGUOUS_POLICY", AmbiguousSecure)),
		},
		Eligibility: EligibilityConfig{
			DedupPolicy:    strings.ToLower(getEnv("ELIGIBILITY_DEDUP_POLICY", DedupKeepFirst)),
			ValidityWindow: getEnvDuration("ELIGIBILITY_VALIDITY_WINDOW", 30*24*time.Hour),
			WindowInterval: getEnvDuration("ELIGIBILITY_WINDOW_INTERVAL", 6*time.Hour),
			WindowOpen:     getEnvDuration("ELIGIBILITY_WINDOW_OPEN", time.Hour),
			AlwaysOnTag:    getEnv("ELIGIBILITY_ALWAYS_ON_TAG", "always_on"),
			PruneExcluded:  getEnvBool("ELIGIBILITY_PRUNE_EXCLUDED", false),
		},
		Alert: AlertConfig{
			TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
			TelegramAPIURL:   getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
			SlackWebhookURL:  getEnv("SLACK_WEBHOOK_URL", ""),
			WebhookURL:       getEnv("ALERT_WEBHOOK_URL", ""),
			WebhookSecret:    getEnv("ALERT_WEBHOOK_SECRET", ""),
			EmailTo:          getEnvSlice("ALERT_EMAIL_TO", nil),
			Timeout:          getEnvDuration("ALERT_TIMEOUT", 10*time.Second),
			QueueEnabled:     getEnvBool("ALERT_QUEUE_ENABLED", false),
			SuppressWindow:   getEnvDuration("ALERT_SUPPRESS_WINDOW", 0),
		},
		SMTP: SMTPConfig{
			Host:       getEnv("SMTP_HOST", ""),
			Port:       getEnvInt("SMTP_PORT", 587),
			User:       getEnv("SMTP_USER", ""),
			Password:   getEnv("SMTP_PASSWORD", ""),
			From:       getEnv("SMTP_FROM", ""),
			FromName:   getEnv("SMTP_FROM_NAME", "Vigilis"),
			TLS:        getEnvBool("SMTP_TLS", true),
			SkipVerify: getEnvBool("SMTP_SKIP_VERIFY", false),
			Enabled:    getEnvBool("SMTP_ENABLED", false),
			Timeout:    getEnvDuration("SMTP_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			Enabled:       getEnvBool("REDIS_ENABLED", false),
			Host:          getEnv("REDIS_HOST", "localhost"),
			Port:          getEnvInt("REDIS_PORT", 6379),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvInt("REDIS_DB", 0),
			PoolSize:      getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns:  getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:   getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:   getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout:  getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			TLSEnabled:    getEnvBool("REDIS_TLS_ENABLED", false),
			TLSSkipVerify: getEnvBool("REDIS_TLS_SKIP_VERIFY", false),
			MaxRetries:    getEnvInt("REDIS_MAX_RETRIES", 3),
			MinRetryDelay: getEnvDuration("REDIS_MIN_RETRY_DELAY", 100*time.Millisecond),
			MaxRetryDelay: getEnvDuration("REDIS_MAX_RETRY_DELAY", 3*time.Second),
			LockTTL:       getEnvDuration("REDIS_CYCLE_LOCK_TTL", 10*time.Minute),
		},
		Worker: WorkerConfig{
			Concurrency: getEnvInt("WORKER_CONCURRENCY", 5),
			Queue:       getEnv("WORKER_QUEUE", "alerts"),
			MaxRetry:    getEnvInt("WORKER_MAX_RETRY", 5),
		},
		Scheduler: SchedulerConfig{
			Cron:           getEnv("SCHEDULER_CRON", ""),
			Interval:       getEnvDuration("SCHEDULER_INTERVAL", time.Hour),
			RunOnStart:     getEnvBool("SCHEDULER_RUN_ON_START", true),
			CycleTimeout:   getEnvDuration("SCHEDULER_CYCLE_TIMEOUT", 5*time.Minute),
			PersistTimeout: getEnvDuration("SCHEDULER_PERSIST_TIMEOUT", time.Minute),
			CheckInterval:  getEnvDuration("SCHEDULER_CHECK_INTERVAL", time.Minute),
		},
		Public: PublicConfig{
			ViewPath:  getEnv("PUBLIC_VIEW_PATH", "public_status.json"),
			S3Key:     getEnv("PUBLIC_VIEW_S3_KEY", ""),
			MaskNames: getEnvBool("PUBLIC_MASK_NAMES", false),
		},
	}

	return cfg, nil
}

// loadProvider reads one provider block, e.g. JUDGE_1_TYPE, JUDGE_1_MODEL, JUDGE_1_API_KEYS.
func loadProvider(prefix string, defaultMaxTokens int) ProviderConfig {
	return ProviderConfig{
		Type:        strings.ToLower(getEnv(prefix+"_TYPE", "")),
		BaseURL:     getEnv(prefix+"_BASE_URL", ""),
		Model:       getEnv(prefix+"_MODEL", ""),
		APIKeys:     getEnvSlice(prefix+"_API_KEYS", nil),
		KeyStrategy: strings.ToLower(getEnv(prefix+"_KEY_STRATEGY", KeyStrategyRandom)),
		Timeout:     getEnvDuration(prefix+"_TIMEOUT", 20*time.Second),
		MaxTokens:   getEnvInt(prefix+"_MAX_TOKENS", defaultMaxTokens),
		Temperature: getEnvFloat(prefix+"_TEMPERATURE", 0),
		RateLimit:   getEnvFloat(prefix+"_RATE_LIMIT", 0),
	}
}

// loadJudgeChain reads JUDGE_1_* through JUDGE_9_*, stopping at the first gap.
func loadJudgeChain() []ProviderConfig {
	var chain []ProviderConfig
	for i := 1; i <= 9; i++ {
		p := loadProvider(fmt.Sprintf("JUDGE_%d", i), 10)
		if p.Type == "" {
			break
		}
		chain = append(chain, p)
	}
	return chain
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.validateBasic(); err != nil {
		return err
	}
	if c.App.Env == EnvProduction {
		return c.validateProduction()
	}
	return nil
}

// validateBasic validates basic configuration regardless of environment.
func (c *Config) validateBasic() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if err := c.validateLog(); err != nil {
		return err
	}
	if err := c.validateRegistry(); err != nil {
		return err
	}
	if err := c.validatePolicies(); err != nil {
		return err
	}
	if c.Probe.Concurrency < 1 {
		return fmt.Errorf("PROBE_CONCURRENCY must be positive, got %d", c.Probe.Concurrency)
	}
	if c.Probe.Timeout <= 0 {
		return fmt.Errorf("PROBE_TIMEOUT must be positive, got %v", c.Probe.Timeout)
	}
	if c.Alert.QueueEnabled && !c.Redis.Enabled {
		return fmt.Errorf("ALERT_QUEUE_ENABLED requires REDIS_ENABLED")
	}
	if c.Alert.SuppressWindow > 0 && !c.Redis.Enabled {
		return fmt.Errorf("ALERT_SUPPRESS_WINDOW requires REDIS_ENABLED")
	}
	return nil
}

// validateLog validates logging configuration.
func (c *Config) validateLog() error {
	validLevels := []string{"debug", "info", "warn", "error"}
	if c.Log.Level != "" && !slices.Contains(validLevels, strings.ToLower(c.Log.Level)) {
		return fmt.Errorf("invalid LOG_LEVEL: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid LOG_FORMAT: %s (must be json or text)", c.Log.Format)
	}
	return nil
}

// validateRegistry validates the selected registry backend.
func (c *Config) validateRegistry() error {
	r := c.Registry
	switch r.Backend {
	case RegistryBackendJSONBin:
		if r.JSONBinBinID == "" || r.JSONBinMasterKey == "" {
			return fmt.Errorf("JSONBIN_BIN_ID and JSONBIN_MASTER_KEY are required for the jsonbin backend")
		}
	case RegistryBackendFile:
		if r.FilePath == "" {
			return fmt.Errorf("REGISTRY_FILE_PATH is required for the file backend")
		}
	case RegistryBackendS3:
		if r.S3Bucket == "" || r.S3Key == "" {
			return fmt.Errorf("REGISTRY_S3_BUCKET and REGISTRY_S3_KEY are required for the s3 backend")
		}
	case RegistryBackendPostgres:
		if r.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("invalid REGISTRY_BACKEND: %s (must be jsonbin, file, s3, or postgres)", r.Backend)
	}
	return nil
}

// validatePolicies validates the enum knobs.
func (c *Config) validatePolicies() error {
	switch c.Judge.AmbiguousPolicy {
	case AmbiguousSecure, AmbiguousError:
	default:
		return fmt.Errorf("invalid JUDGE_AMBIGUOUS_POLICY: %s (must be secure or error)", c.Judge.AmbiguousPolicy)
	}

	switch c.Eligibility.DedupPolicy {
	case DedupKeepFirst, DedupKeepLatest:
	default:
		return fmt.Errorf("invalid ELIGIBILITY_DEDUP_POLICY: %s (must be keep_first or keep_latest)", c.Eligibility.DedupPolicy)
	}

	if c.Eligibility.WindowInterval <= 0 {
		return fmt.Errorf("ELIGIBILITY_WINDOW_INTERVAL must be positive, got %v", c.Eligibility.WindowInterval)
	}
	if c.Eligibility.WindowOpen < 0 || c.Eligibility.WindowOpen > c.Eligibility.WindowInterval {
		return fmt.Errorf("ELIGIBILITY_WINDOW_OPEN must be within [0, %v], got %v",
			c.Eligibility.WindowInterval, c.Eligibility.WindowOpen)
	}

	for i, p := range c.Judge.Providers {
		if !p.IsConfigured() {
			return fmt.Errorf("JUDGE_%d is incomplete for provider %s (API keys or base URL missing)", i+1, p.Type)
		}
		if p.KeyStrategy != KeyStrategyRandom && p.KeyStrategy != KeyStrategyRoundRobin {
			return fmt.Errorf("invalid JUDGE_%d_KEY_STRATEGY: %s", i+1, p.KeyStrategy)
		}
	}
	return nil
}

// validateProduction validates production-only requirements.
func (c *Config) validateProduction() error {
	if c.App.Debug {
		return fmt.Errorf("debug mode must be disabled in production")
	}
	if strings.EqualFold(c.Log.Level, "debug") {
		return fmt.Errorf("log level should not be 'debug' in production")
	}
	if c.Probe.AllowPrivateTargets {
		return fmt.Errorf("PROBE_ALLOW_PRIVATE_TARGETS must be false in production")
	}
	if len(c.Judge.Providers) == 0 {
		return fmt.Errorf("at least one judge provider (JUDGE_1_TYPE) is required in production")
	}
	if c.Redis.Enabled && c.Redis.TLSSkipVerify {
		return fmt.Errorf("redis TLS skip verify must be false in production")
	}
	return nil
}

// Addr returns the Redis address.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Addr returns the HTTP server address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDevelopment returns true if the application is in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction returns true if the application is in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Env == EnvProduction
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		result := splitAndTrim(value, ",")
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, sep) {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
