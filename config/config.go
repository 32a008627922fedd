package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App               AppConfig
	HTTP              ServerConfig
	MySQL             MySQLConfig
	Redis             RedisConfig
	Log               LogConfig
	InternalEndpoints InternalEndpointsConfig
	DebitRail         RailConfig
	ACHRail           RailConfig
	BalanceOracle     BalanceOracleConfig
	Collections       CollectionsConfig
	Jobs              JobsConfig
	Telemetry         TelemetryConfig
}

type AppConfig struct {
	ServiceName string
	APIKey      string
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
}

type LogConfig struct {
	Level string
}

type InternalEndpointsConfig struct {
	AuthGRPCAddr string
}

type RailConfig struct {
	BaseURL     string
	APIKey      string
	HTTPTimeout time.Duration
}

type BalanceOracleConfig struct {
	BaseURL        string
	APIKey         string
	RefreshTimeout time.Duration
}

type CollectionsConfig struct {
	JobBatchSize        int32
	OutboxMaxAttempts   int32
	OutboxRetryInterval time.Duration
	NotifyURL           string
	NotifyHTTPTimeout   time.Duration
	EventLockTTL        time.Duration
	EventLockMaxWait    time.Duration
	EventLockSleep      time.Duration
}

type JobsConfig struct {
	CollectInterval        time.Duration
	OutboxDispatchInterval time.Duration
}

type TelemetryConfig struct {
	OTLPEndpoint string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	return &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "collections-service"),
			APIKey:      getEnv("APP_API_KEY", ""),
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
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		InternalEndpoints: InternalEndpointsConfig{
			AuthGRPCAddr: getEnv("AUTH_SERVICE_GRPC_ADDR", "localhost:9090"),
		},
		DebitRail: RailConfig{
			BaseURL:     getEnv("DEBIT_RAIL_BASE_URL", ""),
			APIKey:      getEnv("DEBIT_RAIL_API_KEY", ""),
			HTTPTimeout: getSecondsEnv("DEBIT_RAIL_HTTP_TIMEOUT_SECONDS", 30*time.Second),
		},
		ACHRail: RailConfig{
			BaseURL:     getEnv("ACH_RAIL_BASE_URL", ""),
			APIKey:      getEnv("ACH_RAIL_API_KEY", ""),
			HTTPTimeout: getSecondsEnv("ACH_RAIL_HTTP_TIMEOUT_SECONDS", 30*time.Second),
		},
		BalanceOracle: BalanceOracleConfig{
			BaseURL:        getEnv("BALANCE_ORACLE_BASE_URL", ""),
			APIKey:         getEnv("BALANCE_ORACLE_API_KEY", ""),
			RefreshTimeout: getSecondsEnv("BALANCE_REFRESH_TIMEOUT_SECONDS", 240*time.Second),
		},
		Collections: CollectionsConfig{
			JobBatchSize:        int32(getIntEnv("COLLECTIONS_JOB_BATCH_SIZE", 100)),
			OutboxMaxAttempts:   int32(getIntEnv("COLLECTIONS_OUTBOX_MAX_ATTEMPTS", 5)),
			OutboxRetryInterval: getMinutesEnv("COLLECTIONS_OUTBOX_RETRY_INTERVAL_MINUTES", 15*time.Minute),
			NotifyURL:           getEnv("COLLECTIONS_NOTIFY_URL", ""),
			NotifyHTTPTimeout:   getSecondsEnv("COLLECTIONS_NOTIFY_HTTP_TIMEOUT_SECONDS", 10*time.Second),
			EventLockTTL:        getSecondsEnv("COLLECTIONS_EVENT_LOCK_TTL_SECONDS", 60*time.Second),
			EventLockMaxWait:    getSecondsEnv("COLLECTIONS_EVENT_LOCK_MAX_WAIT_SECONDS", 30*time.Second),
			EventLockSleep:      getSecondsEnv("COLLECTIONS_EVENT_LOCK_SLEEP_SECONDS", time.Second),
		},
		Jobs: JobsConfig{
			CollectInterval:        getMinutesEnv("COLLECTIONS_COLLECT_INTERVAL_MINUTES", 60*time.Minute),
			OutboxDispatchInterval: getMinutesEnv("COLLECTIONS_OUTBOX_DISPATCH_INTERVAL_MINUTES", time.Minute),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
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
