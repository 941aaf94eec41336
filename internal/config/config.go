package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// Provider (from .env)
	EthereumAPIEndpoint string
	InfuraProjectID     string
	AlchemyAPIKey       string
	WebhookURL          string
	APIKey              string
	CORSAllowOrigin     string
	APIPort             int

	// Database
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBMaxConns int

	// Scanning
	BlockBatchSize int
	ContextWorkers int
	LookbackBlocks int

	// Rate limiting / retry
	MaxRequestsPerMinute int
	RetryMaxAttempts     int
	RetryBaseDelayMS     int
	RetryMaxDelayMS      int

	// Scheduler
	ScanIntervalSeconds int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		// Provider
		EthereumAPIEndpoint: envStr("ETHEREUM_API_ENDPOINT", ""),
		InfuraProjectID:     envStr("INFURA_PROJECT_ID", ""),
		AlchemyAPIKey:       envStr("ALCHEMY_API_KEY", ""),
		WebhookURL:          envStr("WEBHOOK_URL", ""),
		APIKey:              envStr("API_KEY", ""),
		CORSAllowOrigin:     envStr("CORS_ALLOW_ORIGIN", "*"),
		APIPort:             envInt("API_PORT", 8080),

		// Database
		DBHost:     envStr("DB_HOST", "localhost"),
		DBPort:     envInt("DB_PORT", 5432),
		DBName:     envStr("DB_NAME", "defi_pipeline"),
		DBUser:     envStr("DB_USER", ""),
		DBPassword: envStr("DB_PASSWORD", ""),
		DBMaxConns: envInt("DB_MAX_CONNS", 10),

		// Scanning
		BlockBatchSize: envInt("BLOCK_BATCH_SIZE", 100),
		ContextWorkers: envInt("CONTEXT_WORKERS", 8),
		LookbackBlocks: envInt("LOOKBACK_BLOCKS", 100),

		// Rate limiting / retry
		MaxRequestsPerMinute: envInt("MAX_REQUESTS_PER_MINUTE", 100),
		RetryMaxAttempts:     envInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelayMS:     envInt("RETRY_BASE_DELAY_MS", 1000),
		RetryMaxDelayMS:      envInt("RETRY_MAX_DELAY_MS", 10000),

		// Scheduler
		ScanIntervalSeconds: envInt("SCAN_INTERVAL_SECONDS", 0),
	}

	return cfg, nil
}

// ProviderURL resolves the JSON-RPC endpoint. Explicit endpoint wins, then
// Infura, then Alchemy, then the public Cloudflare gateway.
func (c *Config) ProviderURL() string {
	if c.EthereumAPIEndpoint != "" {
		return c.EthereumAPIEndpoint
	}
	if c.InfuraProjectID != "" {
		return "https://mainnet.infura.io/v3/" + c.InfuraProjectID
	}
	if c.AlchemyAPIKey != "" {
		return "https://eth-mainnet.g.alchemy.com/v2/" + c.AlchemyAPIKey
	}
	return "https://cloudflare-eth.com"
}

func (c *Config) Validate() error {
	var errs []string

	if c.BlockBatchSize <= 0 {
		errs = append(errs, "BLOCK_BATCH_SIZE must be positive")
	}
	if c.ContextWorkers <= 0 {
		errs = append(errs, "CONTEXT_WORKERS must be positive")
	}
	if c.RetryMaxAttempts <= 0 {
		errs = append(errs, "RETRY_MAX_ATTEMPTS must be positive")
	}
	if c.EthereumAPIEndpoint == "" && c.InfuraProjectID == "" && c.AlchemyAPIKey == "" {
		fmt.Println("[WARN] no provider configured — falling back to the public Cloudflare gateway, expect aggressive rate limits")
	}
	if c.APIKey == "" {
		fmt.Println("[WARN] API_KEY not set — REST API has no authentication")
	}
	if c.WebhookURL == "" {
		fmt.Println("[WARN] WEBHOOK_URL not set — run summaries will not be delivered")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

func (c *Config) Print() {
	fmt.Println("=== DeFi Swap Pipeline Configuration ===")
	fmt.Printf("Provider: %s\n", truncEndpoint(c.ProviderURL()))
	fmt.Printf("Database: %s@%s:%d/%s\n", c.DBUser, c.DBHost, c.DBPort, c.DBName)
	fmt.Println("--------------------------------------")
	fmt.Println("Scan Configuration:")
	fmt.Printf("  Batch Size: %d blocks\n", c.BlockBatchSize)
	fmt.Printf("  Context Workers: %d\n", c.ContextWorkers)
	fmt.Printf("  Default Lookback: %d blocks\n", c.LookbackBlocks)
	fmt.Println("--------------------------------------")
	fmt.Println("Rate Limiting:")
	fmt.Printf("  Max Requests: %d/min\n", c.MaxRequestsPerMinute)
	fmt.Printf("  Retry: %d attempts, %d-%dms backoff\n", c.RetryMaxAttempts, c.RetryBaseDelayMS, c.RetryMaxDelayMS)
	if c.ScanIntervalSeconds > 0 {
		fmt.Printf("Scheduler: every %d seconds\n", c.ScanIntervalSeconds)
	}
	fmt.Printf("Webhook: %s\n", boolLabel(c.WebhookURL != "", "configured", "not set"))
	fmt.Println("======================================")
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// --- helpers ---

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(v)
		return v == "true" || v == "1" || v == "yes"
	}
	return fallback
}

// truncEndpoint hides the credential path segment most providers embed in
// the URL.
func truncEndpoint(url string) string {
	if i := strings.Index(url, "/v2/"); i >= 0 {
		return url[:i+4] + "..."
	}
	if i := strings.Index(url, "/v3/"); i >= 0 {
		return url[:i+4] + "..."
	}
	return url
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
