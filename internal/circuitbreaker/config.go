package circuitbreaker

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Services with their own breaker tuning.
const (
	ServiceLLM      = "llm"
	ServiceHTTP     = "http"
	ServiceRedis    = "redis"
	ServiceDatabase = "database"
)

var serviceDefaults = map[string]Config{
	// LLM calls are slow and expensive; open quickly, probe rarely.
	ServiceLLM: {
		MaxRequests:      1,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 1,
	},
	ServiceHTTP: {
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	},
	ServiceRedis: {
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	},
	ServiceDatabase: {
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	},
}

// ConfigFor returns the breaker configuration for service, applying
// CB_<SERVICE>_* environment overrides (e.g. CB_LLM_TIMEOUT=45s).
func ConfigFor(service string) Config {
	def, ok := serviceDefaults[service]
	if !ok {
		def = DefaultConfig()
	}
	prefix := "CB_" + strings.ToUpper(service) + "_"
	return Config{
		MaxRequests:      getEnvUint32(prefix+"MAX_REQUESTS", def.MaxRequests),
		Interval:         getEnvDuration(prefix+"INTERVAL", def.Interval),
		Timeout:          getEnvDuration(prefix+"TIMEOUT", def.Timeout),
		FailureThreshold: getEnvUint32(prefix+"FAILURE_THRESHOLD", def.FailureThreshold),
		SuccessThreshold: getEnvUint32(prefix+"SUCCESS_THRESHOLD", def.SuccessThreshold),
	}
}

func getEnvUint32(key string, defaultValue uint32) uint32 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseUint(value, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
