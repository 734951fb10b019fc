package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App         AppConfig
	HTTP        ServerConfig
	MySQL       MySQLConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Log         LogConfig
	NowPayments NowPaymentsConfig
	MatrixSols  MatrixSolsConfig
	Dispatch    DispatchConfig
	Payments    PaymentsConfig
	Jobs        JobsConfig
}

type AppConfig struct {
	ServiceName     string
	CallbackBaseURL string
}

type ServerConfig struct {
	Host string
	Port string
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	DedupTTL time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type LogConfig struct {
	Level string
}

type NowPaymentsConfig struct {
	APIKey      string
	IPNSecret   string
	BaseURL     string
	HTTPTimeout time.Duration
}

type MatrixSolsConfig struct {
	APIKey        string
	WebhookSecret string
	BaseURL       string
	HTTPTimeout   time.Duration
}

type DispatchConfig struct {
	StorefrontCallbackURL string
	CallbackSecret        string
	HTTPTimeout           time.Duration
}

type PaymentsConfig struct {
	PendingTimeout time.Duration
	JobBatchSize   int32
}

type JobsConfig struct {
	SweepInterval time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	return &Config{
		App: AppConfig{
			ServiceName:     getEnv("APP_SERVICE_NAME", "storefront-payments"),
			CallbackBaseURL: getEnv("PAYMENTS_CALLBACK_BASE_URL", ""),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		MySQL: MySQLConfig{
			DSN:             mysqlDSN,
			MaxOpenConns:    getIntEnv("MYSQL_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("MYSQL_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("MYSQL_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
			DedupTTL: getMinutesEnv("REDIS_DEDUP_TTL_MINUTES", 24*time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(getEnv("KAFKA_BROKERS", "")),
			Topic:   getEnv("KAFKA_PAYMENT_TOPIC", "payment.confirmed"),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		NowPayments: NowPaymentsConfig{
			APIKey:      getEnv("NOWPAYMENTS_API_KEY", ""),
			IPNSecret:   getEnv("NOWPAYMENTS_IPN_SECRET", ""),
			BaseURL:     getEnv("NOWPAYMENTS_BASE_URL", "https://api.nowpayments.io"),
			HTTPTimeout: getSecondsEnv("NOWPAYMENTS_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		},
		MatrixSols: MatrixSolsConfig{
			APIKey:        getEnv("MATRIXSOLS_API_KEY", ""),
			WebhookSecret: getEnv("MATRIXSOLS_WEBHOOK_SECRET", ""),
			BaseURL:       getEnv("MATRIXSOLS_BASE_URL", ""),
			HTTPTimeout:   getSecondsEnv("MATRIXSOLS_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		},
		Dispatch: DispatchConfig{
			StorefrontCallbackURL: getEnv("STOREFRONT_CALLBACK_URL", ""),
			CallbackSecret:        getEnv("STOREFRONT_CALLBACK_SECRET", ""),
			HTTPTimeout:           getSecondsEnv("STOREFRONT_CALLBACK_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		},
		Payments: PaymentsConfig{
			PendingTimeout: getMinutesEnv("PAYMENTS_PENDING_TIMEOUT_MINUTES", 120*time.Minute),
			JobBatchSize:   int32(getIntEnv("PAYMENTS_JOB_BATCH_SIZE", 100)),
		},
		Jobs: JobsConfig{
			SweepInterval: getMinutesEnv("PAYMENTS_SWEEP_INTERVAL_MINUTES", 5*time.Minute),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	items := make([]string, 0)
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
