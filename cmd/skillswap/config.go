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

	"github.com/nkiryanov/skillswap/internal/logger"
	"github.com/nkiryanov/skillswap/internal/service/ledger"
)

const (
	defaultListenAddr   = "localhost:8000"
	defaultLoggingLevel = logger.LevelInfo
	defaultEnvironment  = logger.EnvProduction
	defaultSignupGrant  = 100
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the skillswap service will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// Secret key
	// Some internal parts (like signing JWT tokens) uses symmetric encryption, so this key is used for that purpose
	SecretKey string

	// Environment
	Environment string

	// Redis to publish settlement and swap events to
	// If empty events are only logged
	RedisAddr string

	// Credits every registered user gets
	SignupGrant int64

	// Timeout of single ledger transaction attempt and count of retries after the first one
	TxTimeout time.Duration
	TxRetries uint64
}

func NewConfig() *Config {
	return &Config{
		LogLevel:    defaultLoggingLevel,
		ListenAddr:  defaultListenAddr,
		Environment: defaultEnvironment,
		SignupGrant: defaultSignupGrant,
		TxTimeout:   ledger.DefaultTxTimeout,
		TxRetries:   ledger.DefaultMaxRetries,
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
	// Parsers of not empty values
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			*o = value
			return nil
		}
	}
	setInt := func(o *int64) func(value string) (err error) {
		return func(value string) (err error) {
			*o, err = strconv.ParseInt(value, 10, 64)
			return err
		}
	}
	setUint := func(o *uint64) func(value string) (err error) {
		return func(value string) (err error) {
			*o, err = strconv.ParseUint(value, 10, 64)
			return err
		}
	}
	setDuration := func(o *time.Duration) func(value string) (err error) {
		return func(value string) (err error) {
			*o, err = time.ParseDuration(value)
			return err
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":  setString(&c.ListenAddr),
		"DATABASE_URI": setString(&c.DatabaseDSN),
		"SECRET_KEY":   setString(&c.SecretKey),
		"LOG_LEVEL":    setString(&c.LogLevel),
		"ENVIRONMENT":  setString(&c.Environment),
		"REDIS_ADDR":   setString(&c.RedisAddr),
		"SIGNUP_GRANT": setInt(&c.SignupGrant),
		"TX_TIMEOUT":   setDuration(&c.TxTimeout),
		"TX_RETRIES":   setUint(&c.TxRetries),
	}

	var errs []error
	for key, parseFn := range envMap {
		value := getenv(key)
		if value == "" {
			continue
		}
		if err := parseFn(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("skillswap", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.StringVarP(&c.RedisAddr, "redis", "r", c.RedisAddr, "Redis address to publish events to")
	fs.Int64Var(&c.SignupGrant, "signup-grant", c.SignupGrant, "Credits granted on registration")
	fs.DurationVar(&c.TxTimeout, "tx-timeout", c.TxTimeout, "Timeout of single ledger transaction attempt")
	fs.Uint64Var(&c.TxRetries, "tx-retries", c.TxRetries, "Ledger transaction retries on conflicts")

	return fs.Parse(args)
}

// Validate options that has no sensible defaults
func (c *Config) Validate() error {
	switch {
	case c.SecretKey == "":
		return errors.New("secret key must be set")
	case c.DatabaseDSN == "":
		return errors.New("database must be set")
	case c.SignupGrant < 0:
		return errors.New("signup grant must not be negative")
	case c.TxTimeout <= 0:
		return errors.New("tx timeout must be positive")
	}
	return nil
}
