package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"gigflow/auth"
	"gigflow/config"
	"gigflow/escrow"
	"gigflow/job"
	"gigflow/logging"
	"gigflow/migrations"
)

type rootOptions struct {
	cfgFile string
	envFile string
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "gigflow",
		Short: "Escrow-backed job lifecycle service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.envFile, opts.cfgFile)
			if err != nil {
				return err
			}
			if err := logging.Init(logging.Config{Level: cfg.LogLevel, File: cfg.LogFile}); err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "configuration file path")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the environment")

	root.AddCommand(
		newServeCmd(opts),
		newReconcileCmd(opts),
		newMigrateCmd(opts),
		newGrantArbiterCmd(opts),
		newTokenCmd(opts),
		newAuditCmd(opts),
	)
	return root
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts.cfg, appOptions{withLedger: true})
			if err != nil {
				return err
			}
			defer a.Close()

			srv := &http.Server{
				Addr:              opts.cfg.ListenAddr,
				Handler:           a.server().Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				a.log.WithField("addr", srv.Addr).Info("http server listening")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return fmt.Errorf("serve: %w", err)
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("serve: shutdown: %w", err)
			}
			if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve: %w", err)
			}
			a.log.Info("http server stopped")
			return nil
		},
	}
}

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	var jobID string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Align lagging jobs with their on-chain escrow state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts.cfg, appOptions{withLedger: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if jobID != "" {
				j, err := a.coord.Reconcile(ctx, jobID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", j.ID, j.Status)
				return nil
			}

			sweeper := job.NewSweeper(a.coord, job.SweepConfig{
				Concurrency:   opts.cfg.Reconcile.Concurrency,
				RatePerSecond: opts.cfg.Reconcile.RatePerSecond,
			}, logging.NewSublogger("sweep"))
			report, err := sweeper.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d advanced=%d failed=%d\n", report.Scanned, report.Advanced, report.Failed)
			if report.Failed > 0 {
				return fmt.Errorf("reconcile: %d jobs failed", report.Failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "reconcile a single job instead of sweeping")
	return cmd
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply embedded database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.cfg.StoreDriver != config.StoreDriverPostgres {
				return fmt.Errorf("migrate: STORE_DRIVER must be %s", config.StoreDriverPostgres)
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, opts.cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			applied, err := migrations.Apply(ctx, a.pool)
			if err != nil {
				return err
			}
			for _, name := range applied {
				fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			}
			return nil
		},
	}
}

func newGrantArbiterCmd(opts *rootOptions) *cobra.Command {
	var revoke bool
	cmd := &cobra.Command{
		Use:   "grant-arbiter <identity>",
		Short: "Give an identity the admin (arbiter) role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts.cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			role := auth.RoleAdmin
			if revoke {
				role = auth.RoleHirer
			}
			user, err := a.authService.GrantRole(ctx, args[0], role)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", user.Identity, user.Role)
			return nil
		},
	}
	cmd.Flags().BoolVar(&revoke, "revoke", false, "demote the identity back to hirer")
	return cmd
}

// newTokenCmd mints a session token for an identity, for wallets bridged by
// an external signer and for local testing.
func newTokenCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "token <identity>",
		Short: "Issue a session token for an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.cfg.JWTSecret == "" {
				return fmt.Errorf("token: JWT_SECRET is required")
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, opts.cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			user, err := a.authService.EnsureUser(ctx, args[0])
			if err != nil {
				return err
			}
			token, err := a.authService.IssueToken(user.Identity, user.Role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}

func newAuditCmd(opts *rootOptions) *cobra.Command {
	var (
		outcome string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent escrow gateway calls from the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.cfg.AuditDBPath == "" {
				return fmt.Errorf("audit: AUDIT_DB_PATH is not set")
			}
			auditLog, err := escrow.OpenAuditLog(opts.cfg.AuditDBPath)
			if err != nil {
				return err
			}
			defer auditLog.Close()

			entries, err := auditLog.Recent(cmd.Context(), outcome, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				fmt.Fprintf(out, "%s op=%s outcome=%s job=%s account=%s duration_ms=%d",
					e.OccurredAt.UTC().Format(time.RFC3339), e.Op, e.Outcome, e.JobID, e.Account, e.DurationMS)
				if e.Error != "" {
					fmt.Fprintf(out, " error=%q", e.Error)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outcome, "outcome", "", "only show calls with this outcome (ok, transient, fatal)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of entries")
	return cmd
}
