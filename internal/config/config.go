package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     int
	DataPath string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	// Cost per 1K tokens, used to estimate per-message spend.
	InputCostPer1K  float64
	OutputCostPer1K float64

	// Spreadsheet mirror; disabled when SpreadsheetID is empty.
	SpreadsheetID          string
	ServiceAccountJSONPath string

	RateLimitRPS   float64
	RateLimitBurst int

	AllowOrigin string
}

func Load() (*Config, error) {
	// A local .env overrides nothing already exported.
	_ = godotenv.Load()

	port, err := getIntEnv("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	rps, err := getFloatEnv("RATE_LIMIT_RPS", 5.0)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
	}

	burst, err := getIntEnv("RATE_LIMIT_BURST", 10)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BURST: %w", err)
	}

	inputCost, err := getFloatEnv("OPENAI_INPUT_COST_PER_1K", 0.00015)
	if err != nil {
		return nil, fmt.Errorf("invalid OPENAI_INPUT_COST_PER_1K: %w", err)
	}

	outputCost, err := getFloatEnv("OPENAI_OUTPUT_COST_PER_1K", 0.0006)
	if err != nil {
		return nil, fmt.Errorf("invalid OPENAI_OUTPUT_COST_PER_1K: %w", err)
	}

	return &Config{
		Port:                   port,
		DataPath:               getEnv("DATA_PATH", "emailsim.db"),
		OpenAIAPIKey:           getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:          getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:            getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		InputCostPer1K:         inputCost,
		OutputCostPer1K:        outputCost,
		SpreadsheetID:          getEnv("SPREADSHEET_ID", ""),
		ServiceAccountJSONPath: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
		RateLimitRPS:           rps,
		RateLimitBurst:         burst,
		AllowOrigin:            getEnv("ALLOW_ORIGIN", "*"),
	}, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getIntEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getFloatEnv(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(v, 64)
}
