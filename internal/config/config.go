package config

import (
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	DatabaseURL        string   `envconfig:"DATABASE_URL" required:"true"`
	JWTSecret          string   `envconfig:"JWT_SECRET" required:"true"`
	WebhookSecret      string   `envconfig:"WEBHOOK_SECRET" required:"true"`
	Port               string   `envconfig:"PORT" default:"8080"`
	Environment        string   `envconfig:"ENV" default:"development"`
	SignupBonusCredits int      `envconfig:"SIGNUP_BONUS_CREDITS" default:"20"`
	AllowedOrigins     []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

// Load reads .env if present (local development), then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
