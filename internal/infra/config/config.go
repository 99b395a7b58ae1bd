package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// SMTPConfig holds the outgoing mail server settings. An empty Host means emails are only logged.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// GatewayConfig holds the messaging gateway settings. An empty URL means messages are only logged.
type GatewayConfig struct {
	URL    string
	Token  string
	Sender string
}

// AppConfig holds all configuration for the application
type AppConfig struct {
	StoreDriver string
	DatabaseURL string
	LogLevel    string
	Environment string
	Location    *time.Location

	CronEnabled      bool
	CronSpecWorkflow string // daily sweep
	CronSpecRetry    string // failed dispatch retry
	WorkflowTimeout  time.Duration

	DispatchConcurrency    int
	ScheduleConcurrency    int
	AudienceBatchSize      int
	ChannelTimeout         time.Duration
	EmailRatePerSecond     float64
	MessagingRatePerSecond float64
	MaxDispatchAttempts    int
	ClaimStaleAfter        time.Duration
	ExamTitle              string

	SMTP    SMTPConfig
	Gateway GatewayConfig

	HTTPAddr     string
	OpsAPIToken  string
	RedisURL     string
	KafkaBrokers []string
	KafkaTopic   string

	TelegramToken   string
	AdminTelegramID int64
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load does not override variables already set in the environment.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.StoreDriver = strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres))
	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is not set")
		}
	case StoreDriverMemory:
	default:
		return nil, fmt.Errorf("invalid STORE_DRIVER %q: want %s or %s", cfg.StoreDriver, StoreDriverPostgres, StoreDriverMemory)
	}

	cfg.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", "info"))
	cfg.Environment = strings.ToLower(getEnv("ENVIRONMENT", "development"))

	tz := getEnv("TIMEZONE", "Asia/Kolkata")
	if cfg.Location, err = time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	if cfg.CronEnabled, err = getBool("CRON_ENABLED", true); err != nil {
		return nil, err
	}
	cfg.CronSpecWorkflow = getEnv("CRON_SPEC_WORKFLOW", "0 8 * * *")
	cfg.CronSpecRetry = getEnv("CRON_SPEC_RETRY", "*/30 * * * *")
	if cfg.WorkflowTimeout, err = getDuration("WORKFLOW_TIMEOUT", 30*time.Minute); err != nil {
		return nil, err
	}

	if cfg.DispatchConcurrency, err = getPositiveInt("DISPATCH_CONCURRENCY", 8); err != nil {
		return nil, err
	}
	if cfg.ScheduleConcurrency, err = getPositiveInt("SCHEDULE_CONCURRENCY", 2); err != nil {
		return nil, err
	}
	if cfg.AudienceBatchSize, err = getPositiveInt("AUDIENCE_BATCH_SIZE", 500); err != nil {
		return nil, err
	}
	if cfg.ChannelTimeout, err = getDuration("CHANNEL_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.EmailRatePerSecond, err = getRate("EMAIL_RATE_PER_SECOND", 10); err != nil {
		return nil, err
	}
	if cfg.MessagingRatePerSecond, err = getRate("MESSAGING_RATE_PER_SECOND", 5); err != nil {
		return nil, err
	}
	if cfg.MaxDispatchAttempts, err = getPositiveInt("MAX_DISPATCH_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.ClaimStaleAfter, err = getDuration("CLAIM_STALE_AFTER", 10*time.Minute); err != nil {
		return nil, err
	}
	cfg.ExamTitle = getEnv("EXAM_TITLE", "GPHDM Scholarship Exam")

	cfg.SMTP = SMTPConfig{
		Host:     os.Getenv("SMTP_HOST"),
		Username: os.Getenv("SMTP_USERNAME"),
		Password: os.Getenv("SMTP_PASSWORD"),
		From:     os.Getenv("SMTP_FROM"),
	}
	if cfg.SMTP.Port, err = getPositiveInt("SMTP_PORT", 465); err != nil {
		return nil, err
	}
	if cfg.SMTP.Host != "" && cfg.SMTP.From == "" {
		cfg.SMTP.From = cfg.SMTP.Username
	}

	cfg.Gateway = GatewayConfig{
		URL:    os.Getenv("MESSAGING_GATEWAY_URL"),
		Token:  os.Getenv("MESSAGING_GATEWAY_TOKEN"),
		Sender: os.Getenv("MESSAGING_GATEWAY_SENDER"),
	}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")
	cfg.OpsAPIToken = os.Getenv("OPS_API_TOKEN")
	cfg.RedisURL = os.Getenv("REDIS_URL")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}
	cfg.KafkaTopic = getEnv("KAFKA_TOPIC", "exam.dispatch.events")

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if adminIDStr := os.Getenv("ADMIN_TELEGRAM_ID"); adminIDStr != "" {
		cfg.AdminTelegramID, err = strconv.ParseInt(adminIDStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
		}
	}
	if cfg.TelegramToken != "" && cfg.AdminTelegramID == 0 {
		return nil, fmt.Errorf("ADMIN_TELEGRAM_ID is not set")
	}

	return cfg, nil
}

// DryRunEmail reports whether emails are logged instead of sent.
func (c *AppConfig) DryRunEmail() bool { return c.SMTP.Host == "" }

// DryRunMessaging reports whether gateway messages are logged instead of sent.
func (c *AppConfig) DryRunMessaging() bool { return c.Gateway.URL == "" }

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getPositiveInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive, got %d", key, n)
	}
	return n, nil
}

func getRate(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if f < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return f, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func getBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
