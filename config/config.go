package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"delivery-escrow-system/models"

	"github.com/joho/godotenv"
)

// Config is everything main needs to wire the service.
type Config struct {
	Port           string
	DBDriver       string // postgres | sqlite
	DatabaseURL    string
	GatewayToken   string
	AllowedOrigins []string
	LogLevel       string

	// Custody / privileged accounts
	EscrowAccount   string
	FaucetAccount   string
	OperatorAccount string

	// Faucet
	FaucetAmount    models.Amount
	FaucetCooldown  time.Duration
	FaucetTotalCap  models.Amount
	BootstrapFaucet bool

	BadgeMilestoneSize uint64

	OutboxPollInterval  time.Duration
	MaintenanceInterval time.Duration

	// Optional downstream receiver for dispatched events
	EventWebhookURL   string
	EventWebhookToken string

	R2 R2Config
}

// R2Config is optional; badge metadata publishing is off when Bucket is empty.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	CDNBaseURL      string
}

func (r R2Config) Enabled() bool {
	return r.Bucket != "" && r.AccountID != ""
}

// Default custody accounts used when none are configured (local deployments).
const (
	DefaultEscrowAccount   = "0x2D4aCA74bCb99ae8d56B6B639d3a483C37A8B136"
	DefaultFaucetAccount   = "0x7e1Dc330db3BA354C50FDBAC63415aeC2Bc6e107"
	DefaultOperatorAccount = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from an env lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		Port:     withDefault(getenv("PORT"), "5200"),
		DBDriver: strings.ToLower(withDefault(getenv("DB_DRIVER"), "postgres")),
		LogLevel: withDefault(getenv("LOG_LEVEL"), "info"),
		R2: R2Config{
			AccountID:       getenv("CLOUDFLARE_ACCOUNT_ID"),
			AccessKeyID:     getenv("R2_ACCESS_KEY_ID"),
			AccessKeySecret: getenv("R2_ACCESS_KEY_SECRET"),
			Bucket:          getenv("R2_BUCKET_NAME"),
			CDNBaseURL:      getenv("CDN_BASE_URL"),
		},
	}

	cfg.DatabaseURL = getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		if cfg.DBDriver != "sqlite" {
			return nil, fmt.Errorf("DATABASE_URL environment variable not set")
		}
		cfg.DatabaseURL = "file:delivery.db?_busy_timeout=5000"
	}
	if cfg.DBDriver != "postgres" && cfg.DBDriver != "sqlite" {
		return nil, fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", cfg.DBDriver)
	}

	cfg.GatewayToken = getenv("GATEWAY_SERVICE_TOKEN")
	if cfg.GatewayToken == "" {
		return nil, fmt.Errorf("GATEWAY_SERVICE_TOKEN environment variable not set")
	}

	origins := withDefault(getenv("ALLOWED_ORIGINS"), "http://localhost:3000")
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}

	var err error
	if cfg.EscrowAccount, err = account(getenv, "ESCROW_ACCOUNT", DefaultEscrowAccount); err != nil {
		return nil, err
	}
	if cfg.FaucetAccount, err = account(getenv, "FAUCET_ACCOUNT", DefaultFaucetAccount); err != nil {
		return nil, err
	}
	if cfg.OperatorAccount, err = account(getenv, "OPERATOR_ACCOUNT", DefaultOperatorAccount); err != nil {
		return nil, err
	}
	if cfg.EscrowAccount == cfg.FaucetAccount {
		return nil, fmt.Errorf("ESCROW_ACCOUNT and FAUCET_ACCOUNT must differ")
	}

	if cfg.FaucetAmount, err = tokens(getenv, "FAUCET_AMOUNT_TOKENS", 100); err != nil {
		return nil, err
	}
	if cfg.FaucetTotalCap, err = tokens(getenv, "FAUCET_TOTAL_CAP_TOKENS", 1_000_000); err != nil {
		return nil, err
	}
	if cfg.FaucetCooldown, err = duration(getenv, "FAUCET_COOLDOWN", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.OutboxPollInterval, err = duration(getenv, "OUTBOX_POLL_INTERVAL", time.Second); err != nil {
		return nil, err
	}
	if cfg.MaintenanceInterval, err = duration(getenv, "MAINTENANCE_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}

	cfg.BadgeMilestoneSize = models.DefaultMilestoneSize
	if v := getenv("BADGE_MILESTONE_SIZE"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("BADGE_MILESTONE_SIZE must be a positive integer, got %q", v)
		}
		cfg.BadgeMilestoneSize = n
	}

	cfg.BootstrapFaucet = strings.EqualFold(getenv("BOOTSTRAP_FAUCET"), "true")

	cfg.EventWebhookURL = strings.TrimSuffix(getenv("EVENT_WEBHOOK_URL"), "/")
	cfg.EventWebhookToken = getenv("EVENT_WEBHOOK_TOKEN")
	if cfg.EventWebhookURL != "" && cfg.EventWebhookToken == "" {
		return nil, fmt.Errorf("EVENT_WEBHOOK_TOKEN is required when EVENT_WEBHOOK_URL is set")
	}

	return cfg, nil
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func account(getenv func(string) string, key, def string) (string, error) {
	a, err := models.ParseAccount(withDefault(getenv(key), def))
	if err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	return a, nil
}

func tokens(getenv func(string) string, key string, def uint64) (models.Amount, error) {
	v := getenv(key)
	if v == "" {
		return models.Tokens(def), nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil || n == 0 {
		return models.Amount{}, fmt.Errorf("%s must be a positive whole token count, got %q", key, v)
	}
	return models.Tokens(n), nil
}

func duration(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, v)
	}
	return d, nil
}
