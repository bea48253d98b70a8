package config

import (
	"os"
	"strconv"
	"time"
)

// AppConfig is the centralized configuration struct for the server.
// It is populated from environment variables; a .env file can be auto-loaded by
// importing: _ "github.com/joho/godotenv/autoload"
// LogLocation is the time zone used for the ts field of log lines.
type AppConfig struct {
	Port            string
	StaticRoot      string
	MetricsEnabled  bool
	SwaggerEnabled  bool
	ShutdownTimeout time.Duration
	LogLocation     *time.Location
}

// Load reads configuration from environment variables.
// Real environment variables take precedence over values from .env.
func Load() *AppConfig {
	return &AppConfig{
		Port:            getEnv("PORT", "3000"),
		StaticRoot:      getEnv("STATIC_ROOT", "public"),
		MetricsEnabled:  getEnvBool("METRICS_ENABLED", true),
		SwaggerEnabled:  getEnvBool("SWAGGER_ENABLED", false),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 5*time.Second),
		LogLocation:     getEnvLocation("LOG_TZ", time.UTC),
	}
}

// Addr returns the listen address for the configured port.
func (c *AppConfig) Addr() string {
	return ":" + c.Port
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

// getEnvDuration accepts Go duration strings ("5s") or plain integers as seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs := getEnvInt(key, -1); secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}

func getEnvLocation(key string, def *time.Location) *time.Location {
	if v := os.Getenv(key); v != "" {
		loc, err := time.LoadLocation(v)
		if err == nil {
			return loc
		}
	}
	return def
}
