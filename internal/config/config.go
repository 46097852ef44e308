package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	AllowedOrigin   string        `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
	DatabaseURL     string        `envconfig:"DATABASE_URL"`
	RedisAddr       string        `envconfig:"REDIS_ADDR"`
	RedisPassword   string        `envconfig:"REDIS_PASSWORD"`
	RedisDB         int           `envconfig:"REDIS_DB" default:"0"`
	ProductCacheTTL time.Duration `envconfig:"PRODUCT_CACHE_TTL" default:"5m"`
	AuthSecret      string        `envconfig:"AUTH_SECRET"`
	AccessTokenTTL  time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`

	PersistenceTimeout   time.Duration `envconfig:"PERSISTENCE_TIMEOUT" default:"3s"`
	AllocatorMaxAttempts int           `envconfig:"ALLOCATOR_MAX_ATTEMPTS" default:"3"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile  string `envconfig:"LOG_FILE"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over .env entries.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process config: %w", err)
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)

	if cfg.PersistenceTimeout <= 0 {
		return Config{}, fmt.Errorf("PERSISTENCE_TIMEOUT must be positive, got %s", cfg.PersistenceTimeout)
	}
	if cfg.AllocatorMaxAttempts < 1 {
		return Config{}, fmt.Errorf("ALLOCATOR_MAX_ATTEMPTS must be at least 1, got %d", cfg.AllocatorMaxAttempts)
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = 8 * time.Hour
	}

	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
