package support

import (
	"os"
	"strconv"
	"time"
)

func GetEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func GetEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// GetEnvDuration reads a Go duration such as "90m", or a bare number of
// seconds such as "2.5". Negative values fall back.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil && parsed >= 0 {
		return parsed
	}
	if parsed, err := strconv.ParseFloat(value, 64); err == nil && parsed >= 0 {
		return time.Duration(parsed * float64(time.Second))
	}
	return fallback
}
