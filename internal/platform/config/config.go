package config

import (
	"os"
	"strings"
	"time"

	platformstrings "custodia/pkg/platform/strings"
)

// Config captures process-level configuration. Values come from the
// environment so main stays lean.
type Config struct {
	Addr            string
	DatabaseURL     string
	RedisURL        string
	KafkaBrokers    []string
	KafkaAuditTopic string
	JWTSigningKey   string
	ShutdownTimeout time.Duration
}

// SnapshotCacheTTL bounds staleness of the wallet read-view cache. Writers
// invalidate eagerly; the TTL is a backstop.
var SnapshotCacheTTL = 30 * time.Second

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	addr := os.Getenv("CUSTODIA_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	var brokers []string
	if raw := os.Getenv("CUSTODIA_KAFKA_BROKERS"); raw != "" {
		brokers = platformstrings.DedupeAndTrim(strings.Split(raw, ","))
	}

	topic := os.Getenv("CUSTODIA_KAFKA_AUDIT_TOPIC")
	if topic == "" {
		topic = "custodia.audit.events"
	}

	jwtSigningKey := os.Getenv("CUSTODIA_JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Development default - must be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	return Config{
		Addr:            addr,
		DatabaseURL:     os.Getenv("CUSTODIA_DATABASE_URL"),
		RedisURL:        os.Getenv("CUSTODIA_REDIS_URL"),
		KafkaBrokers:    brokers,
		KafkaAuditTopic: topic,
		JWTSigningKey:   jwtSigningKey,
		ShutdownTimeout: 10 * time.Second,
	}
}
