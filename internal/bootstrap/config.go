package bootstrap

import (
	"os"
	"time"

	"github.com/google/uuid"
)

type Config struct {
	ServerURL string
	Token     string
	DeviceID  string

	DebugAddr string

	HeartbeatInterval time.Duration
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration
	RequestTimeout    time.Duration
}

func LoadConfig() *Config {
	return &Config{
		ServerURL: getEnv("ASSISTANT_WS_URL", "ws://localhost:8000/assistant/v1/"),
		Token:     getEnv("ASSISTANT_TOKEN", ""),
		DeviceID:  getEnv("DEVICE_ID", uuid.NewString()),

		DebugAddr: getEnv("DEBUG_ADDR", ":9090"),

		HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL", 15*time.Second),
		ReconnectInitial:  getEnvDuration("RECONNECT_INITIAL_DELAY", 2*time.Second),
		ReconnectMax:      getEnvDuration("RECONNECT_MAX_DELAY", 10*time.Second),
		RequestTimeout:    getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
