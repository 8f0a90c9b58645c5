package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every knob the services read from the environment.
type Config struct {
	KafkaBrokers []string
	KafkaTopic   string
	RedisAddr    string
	ScyllaHosts  []string
	Keyspace     string

	GatewayAddr string
	APIAddr     string

	JWTSecret     string
	AttachmentDir string

	TypingTTL         time.Duration
	SweepInterval     time.Duration
	PageSize          int
	CorrelationWindow time.Duration
}

// Load reads .env if present, then the environment, falling back to the
// defaults below. Missing .env is not an error.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "localhost:19092")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "conversation-events"),
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		ScyllaHosts:  splitList(getEnv("SCYLLA_HOSTS", "localhost:9042")),
		Keyspace:     getEnv("SCYLLA_KEYSPACE", "conversations"),

		GatewayAddr: getEnv("GATEWAY_ADDR", ":8080"),
		APIAddr:     getEnv("API_ADDR", ":8081"),

		JWTSecret:     getEnv("JWT_SECRET", "dev_secret_change_me"),
		AttachmentDir: getEnv("ATTACHMENT_DIR", "attachments"),

		TypingTTL:         getMillis("TYPING_TTL_MS", 8000),
		SweepInterval:     getMillis("SWEEP_INTERVAL_MS", 1000),
		PageSize:          getInt("PAGE_SIZE", 50),
		CorrelationWindow: getMillis("SEND_CORRELATION_WINDOW_MS", 5000),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func getMillis(key string, fallback int) time.Duration {
	return time.Duration(getInt(key, fallback)) * time.Millisecond
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
