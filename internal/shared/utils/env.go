package utils

import (
	"os"
	"strconv"
	"time"
)

func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

// GetEnvInt returns fallback when the variable is unset or not an integer.
func GetEnvInt(key string, fallback int) int {
	value, err := strconv.Atoi(GetEnv(key, ""))
	if err != nil {
		return fallback
	}
	return value
}

func GetEnvInt64(key string, fallback int64) int64 {
	value, err := strconv.ParseInt(GetEnv(key, ""), 10, 64)
	if err != nil {
		return fallback
	}
	return value
}

func GetEnvFloat(key string, fallback float64) float64 {
	value, err := strconv.ParseFloat(GetEnv(key, ""), 64)
	if err != nil {
		return fallback
	}
	return value
}

func GetEnvBool(key string, fallback bool) bool {
	value, err := strconv.ParseBool(GetEnv(key, ""))
	if err != nil {
		return fallback
	}
	return value
}

// GetEnvMillis reads a duration expressed in milliseconds.
func GetEnvMillis(key string, fallback time.Duration) time.Duration {
	ms, err := strconv.ParseInt(GetEnv(key, ""), 10, 64)
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
