package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the server binary.
type Config struct {
	Addr        string
	Env         string
	DatabaseURL string
	RedisAddr   string
	JWTSecret   string
}

// Load reads configuration from environment variables. In development it
// loads from a .env file if present. DatabaseURL and RedisAddr are optional:
// without them the server runs with in-memory storage and local fan-out.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:        getEnv("ADDR", ":8080"),
		Env:         getEnv("ENV", "development"),
		DatabaseURL: os.Getenv("DB_DSN"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
	}

	if cfg.Env == "production" {
		if cfg.JWTSecret == "" {
			panic("JWT_SECRET is required in production")
		}
		if cfg.DatabaseURL == "" {
			panic("DB_DSN is required in production")
		}
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
