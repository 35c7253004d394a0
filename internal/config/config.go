package config

import (
	"os"
	"strconv"
	"time"
)

const (
	ServiceName    = "pharma-ledger"
	ServiceVersion = "0.1.0"
)

type Config struct {
	MySQLDSN        string
	RedisAddr       string
	HTTPAddr        string
	LockWaitTimeout time.Duration
	OTLPEndpoint    string
}

func Load() Config {
	return Config{
		MySQLDSN:        getEnvOrDefault("MYSQL_DSN", "root:root@tcp(localhost:3306)/pharma?parseTime=true"),
		RedisAddr:       getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		HTTPAddr:        getEnvOrDefault("HTTP_ADDR", ":8080"),
		LockWaitTimeout: time.Duration(getEnvIntOrDefault("LOCK_WAIT_TIMEOUT_SECONDS", 5)) * time.Second,
		OTLPEndpoint:    os.Getenv("OTLP_ENDPOINT"),
	}
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvIntOrDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
