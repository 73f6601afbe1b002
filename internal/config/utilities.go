package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/deepgram/chatrelay/pkg/logger"
)

// GetEnvOrDefault returns the value of an environment variable or a default value
func GetEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func parseEnvInt(key string, defaultValue int) int {
	val := GetEnvOrDefault(key, "")
	if val == "" {
		return defaultValue
	}

	parsed, err := strconv.Atoi(val)
	if err != nil {
		l := logger.For(logger.CONFIG)
		l.Warn().Str("key", key).Int("default", defaultValue).Msg("Invalid integer value, using default")
		return defaultValue
	}

	return parsed
}

func parseEnvBool(key string, defaultValue bool) bool {
	val := GetEnvOrDefault(key, "")
	if val == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseBool(val)
	if err != nil {
		l := logger.For(logger.CONFIG)
		l.Warn().Str("key", key).Bool("default", defaultValue).Msg("Invalid boolean value, using default")
		return defaultValue
	}

	return parsed
}

// parseEnvDuration is strict: a malformed duration is a configuration error
// rather than a silent fallback, since it bounds how long a stream may hang.
func parseEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	val := GetEnvOrDefault(key, "")
	if val == "" {
		return defaultValue, nil
	}
	return time.ParseDuration(val)
}

// splitList splits a comma-separated value and drops empty entries
func splitList(value string) []string {
	result := make([]string, 0)
	for _, s := range strings.Split(value, ",") {
		if s = strings.TrimSpace(s); s != "" {
			result = append(result, s)
		}
	}
	return result
}
