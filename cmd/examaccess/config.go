package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/examaccess/internal/logger"
)

const (
	defaultListenAddr       = "localhost:8000"
	defaultLoggingLevel     = logger.LevelInfo
	defaultEnvironment      = logger.EnvProduction
	defaultSweepInterval    = time.Hour
	defaultCleanupBatchSize = 1000
	defaultRedeemRateLimit  = 100
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the service will be run
	ListenAddr string

	// Database to connect to
	// If empty tokens are kept in memory and lost on restart
	DatabaseDSN string

	// Secret key to sign staff credentials
	SecretKey string

	// Environment
	Environment string

	// Issued tokens are posted to the URL. If empty notices are only logged
	NotifyWebhookURL string

	// Expired tokens are swept with the interval. Zero disables the sweeper
	SweepInterval time.Duration

	// Sweeper keeps tokens that expired less than this many days ago
	RetentionDays int

	CleanupBatchSize int

	// Replace the active token when a new one issued for the same exam and student
	ReplaceActive bool

	// Requests per hour from one IP to the public access endpoint
	RedeemRateLimit int
}

func NewConfig() *Config {
	return &Config{
		LogLevel:         defaultLoggingLevel,
		ListenAddr:       defaultListenAddr,
		Environment:      defaultEnvironment,
		SweepInterval:    defaultSweepInterval,
		CleanupBatchSize: defaultCleanupBatchSize,
		ReplaceActive:    true,
		RedeemRateLimit:  defaultRedeemRateLimit,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setInt := func(o *int) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			v, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			*o = v
			return nil
		}
	}
	setBool := func(o *bool) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			v, err := strconv.ParseBool(value)
			if err != nil {
				return err
			}
			*o = v
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			v, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = v
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":        setString(&c.ListenAddr),
		"DATABASE_URI":       setString(&c.DatabaseDSN),
		"SECRET_KEY":         setString(&c.SecretKey),
		"LOG_LEVEL":          setString(&c.LogLevel),
		"ENVIRONMENT":        setString(&c.Environment),
		"NOTIFY_WEBHOOK_URL": setString(&c.NotifyWebhookURL),
		"SWEEP_INTERVAL":     setDuration(&c.SweepInterval),
		"RETENTION_DAYS":     setInt(&c.RetentionDays),
		"CLEANUP_BATCH_SIZE": setInt(&c.CleanupBatchSize),
		"REPLACE_ACTIVE":     setBool(&c.ReplaceActive),
		"REDEEM_RATE_LIMIT":  setInt(&c.RedeemRateLimit),
	}

	var errs []error
	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("examaccess", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string. Tokens are kept in memory if empty")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.StringVar(&c.NotifyWebhookURL, "notify-webhook", c.NotifyWebhookURL, "URL to post issued tokens to")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", c.SweepInterval, "Interval between expired tokens sweeps, 0 disables sweeping")
	fs.IntVar(&c.RetentionDays, "retention-days", c.RetentionDays, "Keep tokens expired less than this many days ago")
	fs.IntVar(&c.CleanupBatchSize, "cleanup-batch-size", c.CleanupBatchSize, "Tokens deleted per cleanup batch")
	fs.BoolVar(&c.ReplaceActive, "replace-active", c.ReplaceActive, "Replace active token on repeat issue")
	fs.IntVar(&c.RedeemRateLimit, "redeem-rate-limit", c.RedeemRateLimit, "Access requests per hour allowed from one IP")

	return fs.Parse(args)
}

func (c *Config) Validate() error {
	var errs []error

	if c.SecretKey == "" {
		errs = append(errs, errors.New("secret key must be set"))
	}
	if c.SweepInterval < 0 {
		errs = append(errs, errors.New("sweep interval must not be negative"))
	}
	if c.RetentionDays < 0 {
		errs = append(errs, errors.New("retention days must not be negative"))
	}
	if c.CleanupBatchSize < 1 {
		errs = append(errs, errors.New("cleanup batch size must be positive"))
	}
	if c.RedeemRateLimit < 1 {
		errs = append(errs, errors.New("redeem rate limit must be positive"))
	}

	return errors.Join(errs...)
}
