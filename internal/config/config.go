package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	QuoteStore string // "sqlite" or "redis"
	QuoteTTL   time.Duration
	DBPath     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	UpstreamTimeout time.Duration

	BrokerBaseURL  string
	BrokerExchange string
	BrokerWorkers  int

	FallbackMirrors         []string
	FallbackSuffix          string
	FallbackBatchSize       int
	FallbackRPS             float64
	FallbackBurst           int
	FallbackBreakerFailures int
	FallbackBreakerCooldown time.Duration
}

func Load() Config {
	return Config{
		Port:      getEnv("PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		QuoteStore: strings.ToLower(getEnv("QUOTE_STORE", "sqlite")),
		QuoteTTL:   getEnvDuration("QUOTE_TTL", 60*time.Second),
		DBPath:     getEnv("DB_PATH", "quotecache.db"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		UpstreamTimeout: getEnvDuration("UPSTREAM_TIMEOUT", 5*time.Second),

		BrokerBaseURL:  getEnv("BROKER_BASE_URL", "https://api.broker.example.com/v3"),
		BrokerExchange: getEnv("BROKER_EXCHANGE", ""),
		BrokerWorkers:  getEnvInt("BROKER_WORKERS", 5),

		FallbackMirrors:         getEnvList("FALLBACK_MIRRORS", []string{"https://query1.finance.yahoo.com", "https://query2.finance.yahoo.com"}),
		FallbackSuffix:          getEnvRaw("FALLBACK_SUFFIX", ".NS"),
		FallbackBatchSize:       getEnvInt("FALLBACK_BATCH_SIZE", 5),
		FallbackRPS:             getEnvFloat("FALLBACK_RPS", 0),
		FallbackBurst:           getEnvInt("FALLBACK_BURST", 5),
		FallbackBreakerFailures: getEnvInt("FALLBACK_BREAKER_FAILURES", 5),
		FallbackBreakerCooldown: getEnvDuration("FALLBACK_BREAKER_COOLDOWN", 30*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvRaw is getEnv, except that a variable set to "" overrides fallback.
func getEnvRaw(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return fallback
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n := getEnvInt(key, -1); n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
