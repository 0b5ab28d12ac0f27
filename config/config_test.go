package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", "")
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	require.Equal(t, LedgerModeRPC, cfg.Ledger.Mode)
	require.Equal(t, 30*time.Second, cfg.Ledger.Timeout)
	require.Equal(t, 4, cfg.Reconcile.Concurrency)
	require.EqualValues(t, 16, cfg.DBMaxConns)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("LEDGER_MODE", "simulated")
	t.Setenv("LEDGER_TIMEOUT", "5s")
	t.Setenv("RECONCILE_RPS", "2.5")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load("", "")
	require.NoError(t, err)
	require.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	require.Equal(t, LedgerModeSimulated, cfg.Ledger.Mode)
	require.Equal(t, 5*time.Second, cfg.Ledger.Timeout)
	require.InDelta(t, 2.5, cfg.Reconcile.RatePerSecond, 1e-9)
	require.NoError(t, cfg.Validate())
}

func TestLoadDotEnvAndConfigFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("GIGFLOW_TEST_ONLY=1\nLOG_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("GIGFLOW_TEST_ONLY")
		os.Unsetenv("LOG_LEVEL")
	})

	cfgFile := filepath.Join(dir, "gigflow.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("listen_addr: \":9090\"\naudit_db_path: /tmp/audit.db\n"), 0o600))

	cfg, err := Load(envFile, cfgFile)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, ":9090", cfg.ListenAddr)
	require.Equal(t, "/tmp/audit.db", cfg.AuditDBPath)
}

func TestLoadMissingDotEnvIsTolerated(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"), "")
	require.NoError(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			StoreDriver: StoreDriverPostgres,
			DatabaseURL: "postgres://localhost/gigflow",
			JWTSecret:   "x",
			Ledger:      Ledger{Mode: LedgerModeRPC, RPCURL: "http://ledger"},
			Reconcile:   Reconcile{Concurrency: 1},
		}
	}
	require.NoError(t, base().Validate())

	cfg := base()
	cfg.DatabaseURL = ""
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Ledger.RPCURL = ""
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.JWTSecret = ""
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.StoreDriver = "mysql"
	require.Error(t, cfg.Validate())
}

func TestValidateStoreIgnoresLedger(t *testing.T) {
	cfg := &Config{StoreDriver: StoreDriverMemory, Ledger: Ledger{Mode: LedgerModeRPC}}
	require.NoError(t, cfg.ValidateStore())
	require.Error(t, cfg.Validate())
}
