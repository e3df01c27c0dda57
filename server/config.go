package server

import (
	"os"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Config holds the full service configuration, populated from the
// environment. A missing PaymentAddress does not fail loading: the
// payment middleware fails closed at request time instead, and the
// health endpoint reports why.
type Config struct {
	Port string `env:"PORT" envDefault:"4021"`

	// x402 payment gate
	PaymentAddress string `env:"PAYMENT_ADDRESS"`
	Network        string `env:"NETWORK" envDefault:"eip155:84532"`
	Asset          string `env:"ASSET_ADDRESS"`
	PriceUSD       string `env:"PRICE_USD" envDefault:"0.01"`

	// Facilitator; empty FacilitatorURL selects the in-process verifier
	FacilitatorURL   string `env:"FACILITATOR_URL"`
	FacilitatorToken string `env:"FACILITATOR_API_TOKEN"`
	VerifyOnly       bool   `env:"VERIFY_ONLY" envDefault:"false"`

	// Hosted checkout
	CommerceAPIKey   string `env:"COMMERCE_API_KEY"`
	CommerceBaseURL  string `env:"COMMERCE_BASE_URL" envDefault:"https://api.commerce.coinbase.com"`
	CommercePriceUSD string `env:"COMMERCE_PRICE_USD" envDefault:"0.10"`

	// Completion service (OpenAI-compatible)
	AIAPIKey  string `env:"AI_API_KEY"`
	AIBaseURL string `env:"AI_BASE_URL" envDefault:"https://api.deepseek.com"`
	AIModel   string `env:"AI_MODEL" envDefault:"deepseek-chat"`
}

// LoadConfig reads configuration from the environment, loading a local
// .env file first when GO_ENV=local
func LoadConfig() (*Config, error) {
	if os.Getenv("GO_ENV") == "local" {
		_ = godotenv.Load(".env")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
