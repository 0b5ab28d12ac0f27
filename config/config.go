package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	LedgerModeRPC       = "rpc"
	LedgerModeSimulated = "simulated"
)

// Config stores the service configuration.
type Config struct {
	ListenAddr  string
	DatabaseURL string
	StoreDriver string
	DBMaxConns  int32
	JWTSecret   string

	Ledger    Ledger
	Reconcile Reconcile

	// Path of the SQLite gateway audit log. Empty disables auditing.
	AuditDBPath string

	LogLevel string
	LogFile  string
}

type Ledger struct {
	Mode             string
	RPCURL           string
	RPCToken         string
	Timeout          time.Duration
	ReadRetryElapsed time.Duration
}

type Reconcile struct {
	Concurrency   int
	RatePerSecond float64
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	v.SetDefault("DB_MAX_CONNS", 16)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("LEDGER_MODE", LedgerModeRPC)
	v.SetDefault("LEDGER_RPC_URL", "")
	v.SetDefault("LEDGER_RPC_TOKEN", "")
	v.SetDefault("LEDGER_TIMEOUT", "30s")
	v.SetDefault("LEDGER_READ_RETRY_ELAPSED", "10s")
	v.SetDefault("AUDIT_DB_PATH", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("RECONCILE_CONCURRENCY", 4)
	v.SetDefault("RECONCILE_RPS", 5.0)
}

// Load reads an optional .env file, an optional config file and the environment,
// in increasing order of precedence.
func Load(envFile, configFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		ListenAddr:  v.GetString("LISTEN_ADDR"),
		DatabaseURL: v.GetString("DATABASE_URL"),
		StoreDriver: strings.ToLower(v.GetString("STORE_DRIVER")),
		DBMaxConns:  v.GetInt32("DB_MAX_CONNS"),
		JWTSecret:   v.GetString("JWT_SECRET"),
		Ledger: Ledger{
			Mode:             strings.ToLower(v.GetString("LEDGER_MODE")),
			RPCURL:           v.GetString("LEDGER_RPC_URL"),
			RPCToken:         v.GetString("LEDGER_RPC_TOKEN"),
			Timeout:          v.GetDuration("LEDGER_TIMEOUT"),
			ReadRetryElapsed: v.GetDuration("LEDGER_READ_RETRY_ELAPSED"),
		},
		Reconcile: Reconcile{
			Concurrency:   v.GetInt("RECONCILE_CONCURRENCY"),
			RatePerSecond: v.GetFloat64("RECONCILE_RPS"),
		},
		AuditDBPath: v.GetString("AUDIT_DB_PATH"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		LogFile:     v.GetString("LOG_FILE"),
	}
	return cfg, nil
}

// Validate checks the settings a serving process depends on.
func (c *Config) Validate() error {
	if err := c.ValidateStore(); err != nil {
		return err
	}

	switch c.Ledger.Mode {
	case LedgerModeRPC:
		if c.Ledger.RPCURL == "" {
			return fmt.Errorf("config: LEDGER_RPC_URL is required in rpc mode")
		}
	case LedgerModeSimulated:
	default:
		return fmt.Errorf("config: unknown LEDGER_MODE %q", c.Ledger.Mode)
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET is required")
	}
	if c.Reconcile.Concurrency <= 0 {
		return fmt.Errorf("config: RECONCILE_CONCURRENCY must be positive")
	}
	return nil
}

// ValidateStore checks only the storage settings, for commands that never
// reach the ledger.
func (c *Config) ValidateStore() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required for the postgres store")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.DBMaxConns < 0 {
		return fmt.Errorf("config: DB_MAX_CONNS must not be negative")
	}
	return nil
}
