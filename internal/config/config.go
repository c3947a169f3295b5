package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every setting the API reads from the environment.
type Config struct {
	Port       string `env:"PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	CORSOrigin string `env:"CORS_ORIGIN" envDefault:"http://localhost:5173"`

	// --- Database ---
	PrimaryDSN     string `env:"DB_DSN_PRIMARY,required,notEmpty"`
	ReadOnlyDSN    string `env:"DB_DSN_READONLY"`
	MigrateOnStart bool   `env:"MIGRATE_ON_START" envDefault:"true"`

	// --- Auth ---
	JWTSecret string        `env:"JWT_SECRET,required,notEmpty"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"72h"`

	// --- Optional infrastructure (empty = disabled) ---
	RedisAddr    string   `env:"REDIS_ADDR"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"zyra.orders"`
	GeminiAPIKey string   `env:"GEMINI_API_KEY"`
	GeminiModel  string   `env:"GEMINI_MODEL" envDefault:"gemini-1.5-flash"`

	// --- Uploads ---
	UploadDir string `env:"UPLOAD_DIR" envDefault:"./uploads"`

	// --- Logging ---
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`

	// --- Rate limiting ---
	RateLimitRPS   int `env:"RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst int `env:"RATE_LIMIT_BURST" envDefault:"20"`

	// --- Jobs ---
	StaleOrderAfter time.Duration `env:"STALE_ORDER_AFTER" envDefault:"48h"`
}

// Load reads an optional .env file and parses the environment into a Config.
// A missing .env file is not an error; the process environment is used as-is.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values env tags cannot express.
func (c *Config) Validate() error {
	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 characters")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.StaleOrderAfter < time.Hour {
		return fmt.Errorf("STALE_ORDER_AFTER must be at least 1h")
	}
	return nil
}

// AIEnabled reports whether the admin assistant can be started.
func (c *Config) AIEnabled() bool {
	return c.GeminiAPIKey != "" && c.ReadOnlyDSN != ""
}
