package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds shared runtime configuration for the API and worker services.
type Config struct {
	Env         string
	HTTPPort    string
	MetricsAddr string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AWSRegion        string
	SecretID         string
	KeyPassphrase    string
	CallbackService  string

	SnowflakeAccount   string
	SnowflakeUser      string
	SnowflakeWarehouse string
	SnowflakeDatabase  string
	SnowflakeSchema    string

	PollWait          time.Duration
	MaxPollAttempts   int
	ResultPageLimit   int
	VisibilityTimeout time.Duration

	RateLimitCapacity int
	RateLimitRefill   float64
}

// Load reads configuration from environment variables with sane defaults for local development.
func Load() Config {
	return Config{
		Env:         getEnv("APP_ENV", "dev"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		AWSRegion:       getEnv("API_REGION", "us-east-1"),
		SecretID:        getEnv("SNOWFLAKE_SECRET_ID", "snowflake/keypair"),
		KeyPassphrase:   getEnv("SNOWFLAKE_KEY_PASSPHRASE", ""),
		CallbackService: getEnv("CALLBACK_SIGNING_SERVICE", "execute-api"),

		SnowflakeAccount:   getEnv("SNOWFLAKE_ACCOUNT", ""),
		SnowflakeUser:      getEnv("SNOWFLAKE_USER", ""),
		SnowflakeWarehouse: getEnv("SNOWFLAKE_WAREHOUSE", ""),
		SnowflakeDatabase:  getEnv("SNOWFLAKE_DATABASE", ""),
		SnowflakeSchema:    getEnv("SNOWFLAKE_SCHEMA", ""),

		PollWait:          getEnvDuration("POLL_WAIT", 5*time.Second),
		MaxPollAttempts:   getEnvInt("MAX_POLL_ATTEMPTS", 240),
		ResultPageLimit:   getEnvInt("RESULT_PAGE_LIMIT", 100),
		VisibilityTimeout: getEnvDuration("VISIBILITY_TIMEOUT", 30*time.Second),

		RateLimitCapacity: getEnvInt("RATE_LIMIT_CAPACITY", 10),
		RateLimitRefill:   getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", 1),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
