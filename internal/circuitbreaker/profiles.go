package circuitbreaker

import (
	"os"
	"strconv"
	"time"
)

// Breaker profiles per dependency. Each field can be overridden with
// <PREFIX>_MAX_REQUESTS, _INTERVAL, _TIMEOUT, _FAILURE_THRESHOLD and
// _SUCCESS_THRESHOLD.

// ReasoningProfile tunes the reasoning-service breaker (prefix CB_LLM).
// Calls are slow, so the window is wider than for the stores.
func ReasoningProfile() Config {
	return fromEnv("CB_LLM", Config{
		MaxRequests:      2,
		Interval:         120 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 1,
	})
}

// SQLProfile tunes the Postgres and SQLite store breaker (prefix CB_DB).
func SQLProfile() Config {
	return fromEnv("CB_DB", Config{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	})
}

// RedisProfile tunes the Redis store breaker (prefix CB_REDIS).
func RedisProfile() Config {
	return fromEnv("CB_REDIS", Config{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	})
}

func fromEnv(prefix string, c Config) Config {
	c.MaxRequests = envUint32(prefix+"_MAX_REQUESTS", c.MaxRequests)
	c.Interval = envDuration(prefix+"_INTERVAL", c.Interval)
	c.Timeout = envDuration(prefix+"_TIMEOUT", c.Timeout)
	c.FailureThreshold = envUint32(prefix+"_FAILURE_THRESHOLD", c.FailureThreshold)
	c.SuccessThreshold = envUint32(prefix+"_SUCCESS_THRESHOLD", c.SuccessThreshold)
	return c
}

func envUint32(key string, def uint32) uint32 {
	if v, err := strconv.ParseUint(os.Getenv(key), 10, 32); err == nil {
		return uint32(v)
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return def
}
