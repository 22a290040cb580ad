// Package config collects the server's environment-driven settings. An
// optional .env file is loaded first; every value has a development
// default so the server runs with no configuration at all.
package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// Addr is the listen address for the websocket gateway + REST API.
	Addr string

	// DataDir is the Pebble database directory.
	DataDir string

	// RedisAddr enables the online-user mirror when non-empty.
	RedisAddr string

	// KafkaBrokers enables the persisted-event mirror when non-empty.
	KafkaBrokers []string
	KafkaTopic   string

	Debug bool
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Load reads .env (if present) and the process environment.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Addr:       getenv("RELAY_ADDR", ":8080"),
		DataDir:    getenv("RELAY_DATA_DIR", "relay-data"),
		RedisAddr:  os.Getenv("REDIS_ADDR"),
		KafkaTopic: getenv("KAFKA_TOPIC", "chat-events"),
		Debug:      os.Getenv("RELAY_DEBUG") == "true",
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	return cfg
}
