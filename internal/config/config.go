// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aristath/rebalancer/internal/modules/stoploss"
	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// DefaultBuyBudget is the cash committed to each new position
var DefaultBuyBudget = decimal.NewFromInt(100000)

// ScheduleParser accepts five-field cron specs, an optional leading seconds field and descriptors such as @daily
var ScheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Config holds application configuration
type Config struct {
	DataDir             string // Base directory for all databases and the run lock (always absolute)
	LogLevel            string
	CronSecretKey       string // Bearer secret for the trigger and ingestion endpoints
	RebalanceSchedule   string // Cron spec; empty disables the in-process schedule
	MaintenanceSchedule string // Cron spec for integrity checks and WAL checkpoints; empty disables
	StrategyFile        string
	Port                int
	DevMode             bool
	LockTimeout         time.Duration
	PriceRetention      time.Duration // Age after which daily bars are pruned; 0 keeps everything
	RunRetention        time.Duration // Age after which run history is pruned; 0 keeps everything
	BuyBudget           decimal.Decimal
	Strategy            *StrategyConfig
	Backup              *BackupConfig
}

// BackupConfig holds S3-compatible backup settings
type BackupConfig struct {
	Schedule  string
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string // Custom endpoint for S3-compatible stores (MinIO, R2)
	AccessKey string
	SecretKey string
	Retention int // Number of archives kept; 0 keeps everything
}

// Enabled reports whether backups have a destination
func (b *BackupConfig) Enabled() bool {
	return b != nil && b.Bucket != ""
}

// StrategyConfig is the optional TOML strategy file
type StrategyConfig struct {
	BuyBudget *float64       `toml:"buy_budget"`
	StopLoss  StopLossConfig `toml:"stop_loss"`
}

// StopLossConfig overrides the stop-loss tier table
type StopLossConfig struct {
	TrailingThreshold *float64     `toml:"trailing_threshold"`
	TrailingGap       *float64     `toml:"trailing_gap"`
	Tiers             []TierConfig `toml:"tiers"`
}

// TierConfig is one [[stop_loss.tiers]] entry
type TierConfig struct {
	Threshold float64 `toml:"threshold"`
	LockIn    float64 `toml:"lock_in"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "./data")

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:             absDataDir,
		Port:                getEnvAsInt("PORT", 8080),
		DevMode:             getEnvAsBool("DEV_MODE", false),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		CronSecretKey:       getEnv("CRON_SECRET_KEY", ""),
		RebalanceSchedule:   getEnv("REBALANCE_SCHEDULE", ""),
		MaintenanceSchedule: getEnv("MAINTENANCE_SCHEDULE", "0 3 * * *"),
		StrategyFile:        getEnv("STRATEGY_FILE", ""),
		BuyBudget:           getEnvAsDecimal("BUY_BUDGET", DefaultBuyBudget),
		LockTimeout:         time.Duration(getEnvAsInt("LOCK_TIMEOUT_SECONDS", 600)) * time.Second,
		PriceRetention:      time.Duration(getEnvAsInt("PRICE_RETENTION_DAYS", 730)) * 24 * time.Hour,
		RunRetention:        time.Duration(getEnvAsInt("RUN_RETENTION_DAYS", 90)) * 24 * time.Hour,
		Backup:              loadBackupConfig(),
	}

	if cfg.StrategyFile != "" {
		strategy, err := LoadStrategy(cfg.StrategyFile)
		if err != nil {
			return nil, err
		}
		cfg.Strategy = strategy
		if strategy.BuyBudget != nil {
			cfg.BuyBudget = decimal.NewFromFloat(*strategy.BuyBudget)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadBackupConfig() *BackupConfig {
	return &BackupConfig{
		Schedule:  getEnv("BACKUP_SCHEDULE", ""),
		Bucket:    getEnv("BACKUP_S3_BUCKET", ""),
		Prefix:    getEnv("BACKUP_S3_PREFIX", "rebalancer"),
		Region:    getEnv("BACKUP_S3_REGION", "auto"),
		Endpoint:  getEnv("BACKUP_S3_ENDPOINT", ""),
		AccessKey: getEnv("BACKUP_S3_ACCESS_KEY", ""),
		SecretKey: getEnv("BACKUP_S3_SECRET_KEY", ""),
		Retention: getEnvAsInt("BACKUP_RETENTION", 14),
	}
}

// LoadStrategy parses a TOML strategy file
func LoadStrategy(path string) (*StrategyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategy file %s: %w", path, err)
	}

	var strategy StrategyConfig
	if err := toml.Unmarshal(data, &strategy); err != nil {
		return nil, fmt.Errorf("failed to parse strategy file %s: %w", path, err)
	}

	return &strategy, nil
}

// StopLossPolicy builds the stop-loss policy, applying strategy overrides when present
func (c *Config) StopLossPolicy() (*stoploss.Policy, error) {
	if c.Strategy == nil {
		return stoploss.DefaultPolicy(), nil
	}

	sl := c.Strategy.StopLoss

	tiers := stoploss.DefaultTiers
	if len(sl.Tiers) > 0 {
		tiers = make([]stoploss.Tier, 0, len(sl.Tiers))
		for _, tc := range sl.Tiers {
			tiers = append(tiers, stoploss.Tier{
				Threshold: decimal.NewFromFloat(tc.Threshold),
				LockIn:    decimal.NewFromFloat(tc.LockIn),
			})
		}
	}

	trailingThreshold := stoploss.DefaultTrailingThreshold
	if sl.TrailingThreshold != nil {
		trailingThreshold = decimal.NewFromFloat(*sl.TrailingThreshold)
	}
	trailingGap := stoploss.DefaultTrailingGap
	if sl.TrailingGap != nil {
		trailingGap = decimal.NewFromFloat(*sl.TrailingGap)
	}

	policy, err := stoploss.NewPolicy(tiers, trailingThreshold, trailingGap)
	if err != nil {
		return nil, fmt.Errorf("invalid stop-loss strategy: %w", err)
	}
	return policy, nil
}

// Validate checks the configuration for values the service cannot run with
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if !c.BuyBudget.IsPositive() {
		return fmt.Errorf("buy budget must be positive, got %s", c.BuyBudget)
	}

	if c.LockTimeout <= 0 {
		return fmt.Errorf("lock timeout must be positive, got %s", c.LockTimeout)
	}

	if c.PriceRetention < 0 || c.RunRetention < 0 {
		return fmt.Errorf("retention must not be negative")
	}

	if _, err := c.StopLossPolicy(); err != nil {
		return err
	}

	if c.RebalanceSchedule != "" {
		if _, err := ScheduleParser.Parse(c.RebalanceSchedule); err != nil {
			return fmt.Errorf("invalid rebalance schedule %q: %w", c.RebalanceSchedule, err)
		}
	}
	if c.MaintenanceSchedule != "" {
		if _, err := ScheduleParser.Parse(c.MaintenanceSchedule); err != nil {
			return fmt.Errorf("invalid maintenance schedule %q: %w", c.MaintenanceSchedule, err)
		}
	}
	if c.Backup != nil && c.Backup.Schedule != "" {
		if _, err := ScheduleParser.Parse(c.Backup.Schedule); err != nil {
			return fmt.Errorf("invalid backup schedule %q: %w", c.Backup.Schedule, err)
		}
	}
	if c.Backup != nil && c.Backup.Retention < 0 {
		return fmt.Errorf("backup retention must not be negative, got %d", c.Backup.Retention)
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
