package config

import (
	"os"
	"strings"
)

// Server captures process-level configuration. Stores and collaborators are
// selected by presence: an empty DSN/URL means the in-memory implementation.
type Server struct {
	Addr           string
	PostgresDSN    string
	RedisURL       string
	KafkaBrokers   []string
	KafkaTopic     string
	CertSigningKey string
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("ENTPOOL_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	topic := os.Getenv("ENTPOOL_KAFKA_TOPIC")
	if topic == "" {
		topic = "entpool.events"
	}

	var brokers []string
	if raw := os.Getenv("ENTPOOL_KAFKA_BROKERS"); raw != "" {
		brokers = strings.Split(raw, ",")
	}

	signingKey := os.Getenv("ENTPOOL_CERT_SIGNING_KEY")
	if signingKey == "" {
		// Development default; override in production.
		signingKey = "dev-cert-signing-key"
	}

	return Server{
		Addr:           addr,
		PostgresDSN:    os.Getenv("ENTPOOL_POSTGRES_DSN"),
		RedisURL:       os.Getenv("ENTPOOL_REDIS_URL"),
		KafkaBrokers:   brokers,
		KafkaTopic:     topic,
		CertSigningKey: signingKey,
	}
}
