package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port        string
	Env         string
	Mode        string // "PROXY" | "MOCK"
	FrontendURL string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Auth
	ServerPassword  string
	RequirePassword bool
	JWTSecret       string

	// Parallax inference backend
	ParallaxURL           string
	DefaultModel          string
	DefaultSystemPrompt   string
	RequestTimeoutSeconds int
	StreamTimeoutSeconds  int

	// Web search
	SearchProvider string // "duckduckgo" | "brave"
	BraveAPIKey    string

	// Workers
	WorkerCount int

	// Debugging
	DebugMode bool
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:        getEnvOrDefault("PORT", "8080"),
		Env:         getEnvOrDefault("ENV", "development"),
		Mode:        getEnvOrDefault("SERVER_MODE", "PROXY"),
		FrontendURL: getEnvOrDefault("FRONTEND_URL", ""),
		DatabaseURL: mustGetEnv("DATABASE_URL"),
		RedisURL:    mustGetEnv("REDIS_URL"),

		ServerPassword:  getEnvOrDefault("SERVER_PASSWORD", ""),
		RequirePassword: getEnvAsBoolOrDefault("REQUIRE_PASSWORD", false),
		JWTSecret:       mustGetEnv("JWT_SECRET"),

		ParallaxURL:           getEnvOrDefault("PARALLAX_URL", "http://localhost:3001"),
		DefaultModel:          getEnvOrDefault("PARALLAX_MODEL", "default"),
		DefaultSystemPrompt:   getEnvOrDefault("SYSTEM_PROMPT", "You are a helpful AI assistant."),
		RequestTimeoutSeconds: getEnvAsIntOrDefault("REQUEST_TIMEOUT_SECONDS", 120),
		StreamTimeoutSeconds:  getEnvAsIntOrDefault("STREAM_TIMEOUT_SECONDS", 300),

		SearchProvider: getEnvOrDefault("SEARCH_PROVIDER", "duckduckgo"),
		BraveAPIKey:    getEnvOrDefault("BRAVE_API_KEY", ""),

		WorkerCount: getEnvAsIntOrDefault("WORKER_COUNT", 2),

		DebugMode: getEnvAsBoolOrDefault("DEBUG_MODE", false),
	}

	return cfg
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsBoolOrDefault(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}
