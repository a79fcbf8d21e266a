package config

import (
	"os"
	"strings"
	"time"

	pkgstrings "vanscontrol/pkg/platform/strings"
)

// Server captures process-level configuration. Values come from environment
// variables with development defaults so main stays lean.
type Server struct {
	Addr          string
	PostgresURL   string
	RedisURL      string
	KafkaBrokers  []string
	KafkaTopic    string
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string
}

// ChildCacheTTL bounds how long cached child directory records are trusted
// before falling back to the backing store.
var ChildCacheTTL = 5 * time.Minute

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	addr := os.Getenv("VANSCONTROL_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Development default - must be overridden in production.
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	kafkaTopic := os.Getenv("KAFKA_RIDE_EVENTS_TOPIC")
	if kafkaTopic == "" {
		kafkaTopic = "van.ride-events"
	}

	return Server{
		Addr:          addr,
		PostgresURL:   os.Getenv("POSTGRES_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		KafkaBrokers:  splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:    kafkaTopic,
		JWTSigningKey: jwtSigningKey,
		JWTIssuer:     "vanscontrol",
		JWTAudience:   "vanscontrol-clients",
	}
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return pkgstrings.DedupeAndTrim(strings.Split(raw, ","))
}
