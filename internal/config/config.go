package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	DatabaseURL   string
	StateStore    string // "redis", "dynamo", or "memory"
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	AWSRegion           string
	AWSEndpointOverride string
	ProtocolStateTable  string

	AdminJWTSecret string

	AssessmentCacheSize   int
	AssessmentCacheWindow time.Duration
	ThresholdCacheTTL     time.Duration
	ProtocolTTL           time.Duration
	AuditBufferSize       int

	EscalationParallelism    int
	EscalationEmailFrom      string
	EscalationTargetsJSON    string
	EscalationWebhookTimeout time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		StateStore:    strings.ToLower(strings.TrimSpace(getEnv("STATE_STORE", "memory"))),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		ProtocolStateTable:  getEnv("PROTOCOL_STATE_TABLE", "protocol-states"),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		AssessmentCacheSize:   getEnvAsInt("ASSESSMENT_CACHE_SIZE", 512),
		AssessmentCacheWindow: getEnvAsDuration("ASSESSMENT_CACHE_WINDOW", 5*time.Minute),
		ThresholdCacheTTL:     getEnvAsDuration("THRESHOLD_CACHE_TTL", 10*time.Minute),
		ProtocolTTL:           getEnvAsDuration("PROTOCOL_TTL", 24*time.Hour),
		AuditBufferSize:       getEnvAsInt("AUDIT_BUFFER_SIZE", 1024),

		EscalationParallelism:    getEnvAsInt("ESCALATION_PARALLELISM", 4),
		EscalationEmailFrom:      getEnv("ESCALATION_EMAIL_FROM", ""),
		EscalationTargetsJSON:    getEnv("ESCALATION_TARGETS_JSON", ""),
		EscalationWebhookTimeout: getEnvAsDuration("ESCALATION_WEBHOOK_TIMEOUT", 10*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
