// Package config loads authority-engine process configuration from the
// environment. Configuration-file handling is out of scope (spec.md §1);
// everything here reads from os.Getenv with documented defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnv returns the trimmed environment variable at key, or defaultValue
// if unset or empty.
func GetEnv(key, defaultValue string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultValue
}

// RequireEnv returns the trimmed environment variable at key, or an error
// if it is unset or empty.
func RequireEnv(key string) (string, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

// GetEnvInt returns the integer environment variable at key, or defaultValue
// if unset or unparseable.
func GetEnvInt(key string, defaultValue int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

// GetEnvBool returns the boolean environment variable at key, or defaultValue
// if unset or unparseable.
func GetEnvBool(key string, defaultValue bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}

// GetEnvDuration returns the duration environment variable at key (parsed
// with time.ParseDuration, e.g. "30s"), or defaultValue if unset/unparseable.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}

// GetEnvCSV returns a comma-separated environment variable at key split into
// trimmed, non-empty parts, or defaultValue if unset.
func GetEnvCSV(key string, defaultValue []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// Config is the fully assembled process configuration for the authority
// engine binary (cmd/authorityd).
type Config struct {
	// HTTP admin surface (§6; thin shell, outside the core budget).
	HTTPAddr string

	// Postgres mandate store (§4.B).
	PostgresDSN string

	// Redis distributed mandate cache + rate-limiter sorted sets (§4.C, §4.H).
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Kafka event bus (§4.F).
	KafkaBrokers       []string
	TopicIssued        string
	TopicValidatedOrDenied string
	TopicRevoked       string
	TopicPolicyChanged string
	TopicDLQ           string

	// Signing key source. The engine's own Ed25519 signing key (used to seal
	// Merkle roots) is loaded from this hex-encoded 32-byte seed.
	SystemSigningKeyHex string

	// Master key principals' encrypted private keys are derived from
	// (SPEC_FULL.md SUPPLEMENTED FEATURES #7), hex-encoded.
	PrincipalKeyMasterHex string

	// Resilience tuning (§4.H, §5).
	CircuitBreakerMaxFailures     int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout         time.Duration
	CircuitBreakerHalfOpenMax     int
	RetryMaxAttempts              int
	RetryInitialDelay             time.Duration
	RetryMaxDelay                 time.Duration

	// Rate limiting (§4.H).
	IssueRateLimitPerMinute int
	IssueRateLimitPerHour   int

	// Revocation cache staleness window (§9 Open Question #2).
	RevocationStaleness time.Duration

	// Ledger materializer (§4.G).
	MerkleBatchMaxEvents int
	MerkleBatchMaxAge    time.Duration
	SnapshotCron         string
	SnapshotRetention    time.Duration

	// Ledger partition maintenance (§4.B).
	PartitionCron string

	// Event bus consumer (§4.F). Drives the in-process cache invalidation
	// fan-out on policy changes; see internal/authority/engine.
	ConsumerGroupID string
	RequeueInterval time.Duration

	// Timeouts (§5).
	StoreTimeout        time.Duration
	CacheTimeout        time.Duration
	BusPublishTimeout   time.Duration
	BusConsumePollTimeout time.Duration
}

// Load assembles a Config from the environment, applying the defaults given
// throughout spec.md §4-§7.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr: GetEnv("AUTHORITY_HTTP_ADDR", ":8080"),

		PostgresDSN: GetEnv("AUTHORITY_POSTGRES_DSN", ""),

		RedisAddr:     GetEnv("AUTHORITY_REDIS_ADDR", "localhost:6379"),
		RedisPassword: GetEnv("AUTHORITY_REDIS_PASSWORD", ""),
		RedisDB:       GetEnvInt("AUTHORITY_REDIS_DB", 0),

		KafkaBrokers:           GetEnvCSV("AUTHORITY_KAFKA_BROKERS", []string{"localhost:9092"}),
		TopicIssued:            GetEnv("AUTHORITY_TOPIC_ISSUED", "authority.issued"),
		TopicValidatedOrDenied: GetEnv("AUTHORITY_TOPIC_VALIDATED_OR_DENIED", "authority.validated-or-denied"),
		TopicRevoked:           GetEnv("AUTHORITY_TOPIC_REVOKED", "authority.revoked"),
		TopicPolicyChanged:     GetEnv("AUTHORITY_TOPIC_POLICY_CHANGED", "authority.policy-changed"),
		TopicDLQ:               GetEnv("AUTHORITY_TOPIC_DLQ", "authority.dlq"),

		SystemSigningKeyHex: GetEnv("AUTHORITY_SYSTEM_SIGNING_KEY", ""),

		PrincipalKeyMasterHex: GetEnv("AUTHORITY_PRINCIPAL_KEY_MASTER", ""),

		CircuitBreakerMaxFailures:      GetEnvInt("AUTHORITY_CB_MAX_FAILURES", 5),
		CircuitBreakerSuccessThreshold: GetEnvInt("AUTHORITY_CB_SUCCESS_THRESHOLD", 2),
		CircuitBreakerTimeout:          GetEnvDuration("AUTHORITY_CB_TIMEOUT", 60*time.Second),
		CircuitBreakerHalfOpenMax:      GetEnvInt("AUTHORITY_CB_HALF_OPEN_MAX", 1),
		RetryMaxAttempts:               GetEnvInt("AUTHORITY_RETRY_MAX_ATTEMPTS", 3),
		RetryInitialDelay:              GetEnvDuration("AUTHORITY_RETRY_INITIAL_DELAY", 100*time.Millisecond),
		RetryMaxDelay:                  GetEnvDuration("AUTHORITY_RETRY_MAX_DELAY", 400*time.Millisecond),

		IssueRateLimitPerMinute: GetEnvInt("AUTHORITY_RATE_LIMIT_PER_MINUTE", 10),
		IssueRateLimitPerHour:   GetEnvInt("AUTHORITY_RATE_LIMIT_PER_HOUR", 100),

		RevocationStaleness: GetEnvDuration("AUTHORITY_REVOCATION_STALENESS", 1*time.Second),

		MerkleBatchMaxEvents: GetEnvInt("AUTHORITY_MERKLE_BATCH_MAX_EVENTS", 1000),
		MerkleBatchMaxAge:    GetEnvDuration("AUTHORITY_MERKLE_BATCH_MAX_AGE", 60*time.Second),
		SnapshotCron:         GetEnv("AUTHORITY_SNAPSHOT_CRON", "0 0 * * *"),
		SnapshotRetention:    GetEnvDuration("AUTHORITY_SNAPSHOT_RETENTION", 90*24*time.Hour),

		PartitionCron: GetEnv("AUTHORITY_PARTITION_CRON", "0 1 * * *"),

		ConsumerGroupID: GetEnv("AUTHORITY_CONSUMER_GROUP_ID", "authorityd"),
		RequeueInterval: GetEnvDuration("AUTHORITY_REQUEUE_INTERVAL", 5*time.Second),

		StoreTimeout:          GetEnvDuration("AUTHORITY_STORE_TIMEOUT", 5*time.Second),
		CacheTimeout:          GetEnvDuration("AUTHORITY_CACHE_TIMEOUT", 500*time.Millisecond),
		BusPublishTimeout:     GetEnvDuration("AUTHORITY_BUS_PUBLISH_TIMEOUT", 5*time.Second),
		BusConsumePollTimeout: GetEnvDuration("AUTHORITY_BUS_CONSUME_POLL_TIMEOUT", 1*time.Second),
	}

	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("AUTHORITY_POSTGRES_DSN is required")
	}

	return cfg, nil
}
