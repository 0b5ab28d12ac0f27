package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"gigflow/auth"
	"gigflow/config"
	"gigflow/db"
	"gigflow/dispute"
	"gigflow/escrow"
	"gigflow/gig"
	"gigflow/job"
	"gigflow/logging"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg      *config.Config
	log      *logrus.Entry
	registry *prometheus.Registry

	pool  *pgxpool.Pool
	audit *escrow.AuditLog

	coord       *job.Coordinator
	authService *auth.Service
	gigService  *gig.Service
	disputes    *dispute.Service
}

type appOptions struct {
	// withLedger wires the escrow gateway; commands that only touch
	// users or the schema leave it off.
	withLedger bool
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	validate := cfg.ValidateStore
	if opts.withLedger {
		validate = cfg.Validate
	}
	if err := validate(); err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		log:      logging.NewSublogger("app"),
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var (
		store    job.Store
		users    auth.Repository
		verifier job.HireVerifier
	)
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns})
		if err != nil {
			return nil, err
		}
		a.pool = pool
		store = job.NewPGRepository(pool)
		users = auth.NewRepository(pool)
		a.gigService = gig.NewService(gig.NewRepository(pool))
		verifier = a.gigService
	default:
		a.log.Warn("using in-memory store; state is lost on exit")
		store = job.NewMemoryStore()
		users = auth.NewMemoryRepository()
	}
	a.authService = auth.NewService(users, cfg.JWTSecret)

	var gateway escrow.Gateway
	if opts.withLedger {
		var err error
		gateway, err = a.buildGateway()
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	a.coord = job.NewCoordinator(job.Deps{
		Store:    store,
		Gateway:  gateway,
		Roles:    a.authService,
		Verifier: verifier,
		Metrics:  job.NewMetrics(a.registry),
		Log:      logging.NewSublogger("job"),
	})
	a.disputes = dispute.NewService(a.coord)
	return a, nil
}

// buildGateway picks the ledger backend and layers the audit log and
// instrumentation on top of it.
func (a *app) buildGateway() (escrow.Gateway, error) {
	var gateway escrow.Gateway
	switch a.cfg.Ledger.Mode {
	case config.LedgerModeSimulated:
		a.log.Warn("using simulated escrow ledger")
		gateway = escrow.NewSimulatedLedger()
	default:
		rpc, err := escrow.NewRPCGateway(escrow.RPCConfig{
			Endpoint:         a.cfg.Ledger.RPCURL,
			AuthToken:        a.cfg.Ledger.RPCToken,
			Timeout:          a.cfg.Ledger.Timeout,
			ReadRetryElapsed: a.cfg.Ledger.ReadRetryElapsed,
		})
		if err != nil {
			return nil, err
		}
		gateway = rpc
	}

	if a.cfg.AuditDBPath != "" {
		audit, err := escrow.OpenAuditLog(a.cfg.AuditDBPath)
		if err != nil {
			return nil, fmt.Errorf("open gateway audit log: %w", err)
		}
		a.audit = audit
		gateway = escrow.NewAuditedGateway(gateway, audit, logging.NewSublogger("escrow"))
	}
	return escrow.NewInstrumentedGateway(gateway, escrow.NewMetrics(a.registry)), nil
}

func (a *app) server() *Server {
	return &Server{
		coord:       a.coord,
		disputes:    a.disputes,
		authService: a.authService,
		gigService:  a.gigService,
		gatherer:    a.registry,
		log:         logging.NewSublogger("http"),
	}
}

func (a *app) Close() {
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.log.WithError(err).Warn("close audit log")
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
