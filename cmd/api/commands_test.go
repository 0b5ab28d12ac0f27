package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gigflow/auth"
	"gigflow/escrow"
)

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--env-file", ""))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTokenCommandIssuesVerifiableToken(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("JWT_SECRET", "cli-secret")

	out, err := runRoot(t, "token", "Wallet42")
	require.NoError(t, err)

	svc := auth.NewService(auth.NewMemoryRepository(), "cli-secret")
	identity, role, err := svc.VerifyToken(strings.TrimSpace(out))
	require.NoError(t, err)
	require.Equal(t, "Wallet42", identity)
	require.Equal(t, auth.RoleHirer, role)
}

func TestGrantArbiterCommand(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")

	out, err := runRoot(t, "grant-arbiter", "judge-1")
	require.NoError(t, err)
	require.Contains(t, out, "judge-1 is now admin")

	_, err = runRoot(t, "grant-arbiter")
	require.Error(t, err)
}

func TestServeRequiresLedgerSettings(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("JWT_SECRET", "x")
	t.Setenv("LEDGER_MODE", "rpc")
	t.Setenv("LEDGER_RPC_URL", "")

	_, err := runRoot(t, "serve")
	require.ErrorContains(t, err, "LEDGER_RPC_URL")
}

func TestReconcileSweepInMemory(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("JWT_SECRET", "x")
	t.Setenv("LEDGER_MODE", "simulated")

	out, err := runRoot(t, "reconcile")
	require.NoError(t, err)
	require.Contains(t, out, "scanned=0 advanced=0 failed=0")
}

func TestMigrateRejectsMemoryStore(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	_, err := runRoot(t, "migrate")
	require.Error(t, err)
}

func TestAuditCommandListsFatalCalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("AUDIT_DB_PATH", path)

	auditLog, err := escrow.OpenAuditLog(path)
	require.NoError(t, err)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, auditLog.Insert(ctx, escrow.AuditEntry{OccurredAt: now, Op: escrow.OpRelease, JobID: "job-ok", Outcome: "ok"}))
	require.NoError(t, auditLog.Insert(ctx, escrow.AuditEntry{OccurredAt: now, Op: escrow.OpRefund, JobID: "job-bad", Account: "acct", Outcome: "fatal", Error: "signer mismatch"}))
	require.NoError(t, auditLog.Close())

	out, err := runRoot(t, "audit", "--outcome", "fatal")
	require.NoError(t, err)
	require.Contains(t, out, "op=refund outcome=fatal job=job-bad account=acct")
	require.Contains(t, out, `error="signer mismatch"`)
	require.NotContains(t, out, "job-ok")
}

func TestAuditCommandRequiresPath(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("AUDIT_DB_PATH", "")
	_, err := runRoot(t, "audit")
	require.ErrorContains(t, err, "AUDIT_DB_PATH")
}
