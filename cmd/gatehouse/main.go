package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/openfortress/gatehouse/pkg/async"
	"github.com/openfortress/gatehouse/pkg/audit"
	"github.com/openfortress/gatehouse/pkg/authz"
	"github.com/openfortress/gatehouse/pkg/bulk"
	"github.com/openfortress/gatehouse/pkg/config"
	"github.com/openfortress/gatehouse/pkg/httputil"
	"github.com/openfortress/gatehouse/pkg/observability"
	"github.com/openfortress/gatehouse/pkg/roles"
	"github.com/openfortress/gatehouse/pkg/sessions"
	"github.com/openfortress/gatehouse/pkg/storage/postgres"
	"github.com/openfortress/gatehouse/pkg/tenancy"
	"github.com/openfortress/gatehouse/pkg/workflow"
)

const version = "0.1.0"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithField("version", version).Info("starting gatehouse")

	db, err := postgres.Connect(postgres.ConnectionConfig{
		URL:      cfg.Storage.PostgresURL,
		MaxConns: cfg.Storage.PostgresMaxConns,
		MinConns: cfg.Storage.PostgresMinConns,
		Timeout:  cfg.Storage.PostgresTimeout,
	})
	if err != nil {
		logger.WithError(err).Error("failed to connect to postgres")
		os.Exit(1)
	}
	defer db.Close()

	redisClient, err := postgres.NewRedisClient(cfg.Storage.RedisURL, cfg.Storage.RedisPassword, cfg.Storage.RedisDB)
	if err != nil {
		logger.WithError(err).Error("failed to connect to redis")
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	ctx := context.Background()
	runner := postgres.NewRunner(db, logger)
	for _, set := range []struct {
		name       string
		migrations []postgres.Migration
	}{
		{"roles", roles.Migrations()},
		{"tenancy", tenancy.Migrations()},
		{"sessions", sessions.Migrations()},
		{"workflow", workflow.Migrations()},
		{"bulk", bulk.Migrations()},
		{"audit", audit.Migrations()},
	} {
		if err := runner.Apply(ctx, set.name, set.migrations); err != nil {
			logger.WithError(err).WithField("set", set.name).Error("migration failed")
			os.Exit(1)
		}
	}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.DefaultRegisterer)
	}

	auditLog, err := buildAuditLogger(db, metrics)
	if err != nil {
		logger.WithError(err).Error("failed to build audit logger")
		os.Exit(1)
	}
	defer auditLog.Close()

	// Role registry with its two-level cache.
	roleCache := roles.NewCache(cfg.Authz.RoleCacheSize, cfg.Authz.RoleCacheTTL, redisClient)
	if metrics != nil {
		roleCache.OnHit = metrics.RoleCacheHitsTotal.Inc
		roleCache.OnMiss = metrics.RoleCacheMissesTotal.Inc
	}
	roleStore := roles.NewStore(db)
	registry := roles.NewRegistry(roleStore, roleCache, cfg.Authz.MaxHierarchyDepth)

	taxonomy, err := loadTaxonomy(cfg.Authz.TaxonomyPath)
	if err != nil {
		logger.WithError(err).Error("failed to load resource taxonomy")
		os.Exit(1)
	}

	tenantStore := tenancy.NewPGStore(db)
	resolver := authz.NewResolver(tenantStore, registry, taxonomy, auditLog, logger)
	if metrics != nil {
		resolver.WithMetrics(metrics)
	}

	sessionStore := sessions.NewPGStore(db)
	sessionMgr := sessions.NewManager(sessionStore, &roleSnapshotter{tenants: tenantStore, registry: registry},
		auditLog, logger, cfg.Sessions.MaxConcurrent, cfg.Sessions.TTL)

	mutator := tenancy.NewMutator(tenantStore, registry, auditLog, sessionMgr, logger)
	mutator.WithConditionValidator(authz.ValidateConditions)

	workflowSvc := workflow.NewService(workflow.NewPGStore(db), resolver, mutator, auditLog, logger, cfg.Workflow.RequestTTL)

	coordinator := bulk.NewCoordinator(bulk.NewPGStore(db), mutator, auditLog, logger, cfg.Bulk.Workers, cfg.Bulk.ItemTimeout)
	if metrics != nil {
		coordinator.WithMetrics(metrics)
	}
	// Operations left RUNNING by a previous process cannot resume.
	if _, err := coordinator.FailOrphans(ctx); err != nil {
		logger.WithError(err).Error("failed to fail orphaned bulk operations")
		os.Exit(1)
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Sessions.SweepSchedule, func() {
		async.SafeGo(ctx, logger, time.Minute, "session sweep", func(ctx context.Context) error {
			_, err := sessionMgr.SweepExpired(ctx)
			return err
		})
	}); err != nil {
		logger.WithError(err).Error("invalid session sweep schedule")
		os.Exit(1)
	}
	if _, err := scheduler.AddFunc(cfg.Workflow.SweepSchedule, func() {
		async.SafeGo(ctx, logger, time.Minute, "access request sweep", func(ctx context.Context) error {
			_, err := workflowSvc.SweepExpired(ctx)
			return err
		})
	}); err != nil {
		logger.WithError(err).Error("invalid request sweep schedule")
		os.Exit(1)
	}
	if metrics != nil {
		if _, err := scheduler.AddFunc("@every 15s", func() { metrics.CollectDBStats(db) }); err != nil {
			logger.WithError(err).Error("invalid db stats schedule")
			os.Exit(1)
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	health := observability.NewHealthChecker(db, redisClient, version)
	router := mux.NewRouter()
	router.Use(httputil.RequestID, httputil.Logging(logger), httputil.Recovery(logger))
	router.HandleFunc("/healthz", health.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/readyz", health.Readiness).Methods(http.MethodGet)
	if cfg.Observability.MetricsEnabled {
		router.Handle("/metrics", observability.Handler()).Methods(http.MethodGet)
	}

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", server.Addr).Info("health server listening")
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	case sig := <-stop:
		logger.WithField("signal", sig.String()).Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("health server shutdown failed")
	}
	logger.Info("gatehouse stopped")
}

// buildAuditLogger fans audit events out to stdout and the database.
func buildAuditLogger(db *sql.DB, metrics *observability.Metrics) (audit.Logger, error) {
	opts := audit.DBLoggerOptions{}
	if metrics != nil {
		opts.OnDrop = metrics.AuditDroppedTotal.Inc
	}
	dbLogger, err := audit.NewDBLogger(db, opts)
	if err != nil {
		return nil, err
	}
	return audit.NewMultiLogger(audit.NewWriterLogger(os.Stdout), dbLogger), nil
}

func loadTaxonomy(path string) (*authz.Taxonomy, error) {
	if path == "" {
		return authz.DefaultTaxonomy(), nil
	}
	return authz.LoadTaxonomy(path)
}

// roleSnapshotter resolves a pair's live role assignments into the
// snapshot a new session carries.
type roleSnapshotter struct {
	tenants  tenancy.Store
	registry *roles.Registry
}

func (s *roleSnapshotter) Snapshot(ctx context.Context, userID, orgID int64) ([]sessions.RoleRef, error) {
	assignments, err := s.tenants.ListUserRoles(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	refs := make([]sessions.RoleRef, 0, len(assignments))
	for _, assignment := range assignments {
		if !assignment.Live(now) {
			continue
		}
		role, err := s.registry.Get(ctx, assignment.RoleID)
		if err != nil {
			return nil, err
		}
		refs = append(refs, sessions.RoleRef{ID: role.ID, Name: role.Name})
	}
	return refs, nil
}
