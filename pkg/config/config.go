// Package config loads kernel configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds kernel configuration.
type Config struct {
	SigningSecret string
	TokenTTL      time.Duration
	SandboxRoot   string
	RulesPath     string
	AuditDBPath   string
	RedisAddr     string
	OTLPEndpoint  string
	LogLevel      string
	RatePerMinute int
	RateBurst     int
}

// Load reads configuration from environment variables, applying
// development defaults for anything unset. The signing secret has no
// default; an empty value must be rejected by the caller before any
// token is minted.
func Load() *Config {
	ttl := 5 * time.Minute
	if raw := os.Getenv("WARDEN_TOKEN_TTL"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			ttl = parsed
		}
	}

	sandboxRoot := os.Getenv("WARDEN_SANDBOX_ROOT")
	if sandboxRoot == "" {
		sandboxRoot = "./sandbox"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	rpm := 120
	if raw := os.Getenv("WARDEN_RATE_PER_MINUTE"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			rpm = parsed
		}
	}
	burst := 20
	if raw := os.Getenv("WARDEN_RATE_BURST"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			burst = parsed
		}
	}

	return &Config{
		SigningSecret: os.Getenv("WARDEN_SECRET"),
		TokenTTL:      ttl,
		SandboxRoot:   sandboxRoot,
		RulesPath:     os.Getenv("WARDEN_RULES_PATH"),
		AuditDBPath:   os.Getenv("WARDEN_AUDIT_DB"),
		RedisAddr:     os.Getenv("WARDEN_REDIS_ADDR"),
		OTLPEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:      logLevel,
		RatePerMinute: rpm,
		RateBurst:     burst,
	}
}
