package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process-level configuration.
type Server struct {
	Addr          string
	PostgresDSN   string
	RedisURL      string
	KafkaBrokers  []string
	AuditTopic    string
	JWTSigningKey string
	AdminToken    string

	Admission Admission
}

// Admission holds the policy constants for guest admission control.
// The historical call sites disagreed on the guest ceiling (3 vs 5); the
// configured value here is authoritative for every path.
type Admission struct {
	GuestUsageLimit   int
	DailyRequestLimit int
	DailyWindow       time.Duration
	BurstRequestLimit int
	BurstWindow       time.Duration
	BurstRiskSignal   int
	HighRiskThreshold int
	KnownIPCap        int

	// Per-IP pre-limiter, ahead of identity resolution.
	IPRequestLimit int
	IPWindow       time.Duration

	SweepInterval time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("FITGATE_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Development default - must be overridden in production.
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	auditTopic := os.Getenv("AUDIT_TOPIC")
	if auditTopic == "" {
		auditTopic = "fitgate.audit"
	}

	var brokers []string
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		for _, b := range strings.Split(raw, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
	}

	return Server{
		Addr:          addr,
		PostgresDSN:   os.Getenv("POSTGRES_DSN"),
		RedisURL:      os.Getenv("REDIS_URL"),
		KafkaBrokers:  brokers,
		AuditTopic:    auditTopic,
		JWTSigningKey: jwtSigningKey,
		AdminToken:    os.Getenv("ADMIN_TOKEN"),
		Admission:     AdmissionFromEnv(),
	}
}

// AdmissionFromEnv returns admission policy with env overrides applied.
func AdmissionFromEnv() Admission {
	a := DefaultAdmission()
	a.GuestUsageLimit = envInt("GUEST_USAGE_LIMIT", a.GuestUsageLimit)
	a.DailyRequestLimit = envInt("DAILY_REQUEST_LIMIT", a.DailyRequestLimit)
	a.BurstRequestLimit = envInt("BURST_REQUEST_LIMIT", a.BurstRequestLimit)
	a.HighRiskThreshold = envInt("HIGH_RISK_THRESHOLD", a.HighRiskThreshold)
	return a
}

// DefaultAdmission returns the authoritative policy defaults.
func DefaultAdmission() Admission {
	return Admission{
		GuestUsageLimit:   3,
		DailyRequestLimit: 50,
		DailyWindow:       24 * time.Hour,
		BurstRequestLimit: 10,
		BurstWindow:       time.Minute,
		BurstRiskSignal:   5,
		HighRiskThreshold: 70,
		KnownIPCap:        10,
		IPRequestLimit:    100,
		IPWindow:          time.Minute,
		SweepInterval:     5 * time.Minute,
	}
}

func envInt(key string, fallback int) int {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return fallback
}
