// Package main is the entry point for the crudadmin server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/crudadmin/internal/acl"
	"github.com/pitabwire/crudadmin/internal/admin"
	"github.com/pitabwire/crudadmin/internal/audit"
	"github.com/pitabwire/crudadmin/internal/capability"
	"github.com/pitabwire/crudadmin/internal/config"
	"github.com/pitabwire/crudadmin/internal/crud"
	"github.com/pitabwire/crudadmin/internal/datagrid"
	"github.com/pitabwire/crudadmin/internal/definition"
	"github.com/pitabwire/crudadmin/internal/export"
	"github.com/pitabwire/crudadmin/internal/observability"
	"github.com/pitabwire/crudadmin/internal/security"
	"github.com/pitabwire/crudadmin/internal/session"
	"github.com/pitabwire/crudadmin/internal/store"
	"github.com/pitabwire/crudadmin/internal/transport"
	"github.com/pitabwire/crudadmin/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

// stores groups the persistence backends selected by store.driver.
type stores struct {
	objects   store.ModelManager
	revisions audit.Store
	acls      acl.Store
	close     func()
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	envFile := flag.String("env-file", ".env", "optional dotenv file loaded before the configuration")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "env file error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "crudadmin", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Definitions.
	filters := datagrid.DefaultRegistry()
	exporter := export.NewExporter()
	loader := definition.NewLoader()
	validator := definition.NewValidator(filters, exporter.Formats())

	files, err := loadDefinitions(loader, validator, cfg.Admin.Directories, logger)
	if err != nil {
		logger.Error("definition loading failed", zap.Error(err))
		return 1
	}
	registry := definition.NewRegistry(files)

	// Persistence.
	st, err := buildStores(ctx, cfg.Store, filters, logger)
	if err != nil {
		logger.Error("store initialization failed", zap.Error(err))
		return 1
	}
	objects := store.NewInstrumented(st.objects, metrics)

	flashes, flashCloser, err := buildFlashBag(ctx, cfg.Session, logger)
	if err != nil {
		logger.Error("session store initialization failed", zap.Error(err))
		return 1
	}

	csrf, err := buildCSRF(cfg.CSRF, logger)
	if err != nil {
		logger.Error("csrf initialization failed", zap.Error(err))
		return 1
	}

	// Authorization.
	policy, err := capability.NewStaticPolicyEvaluator(cfg.Capability.StaticPolicyFile)
	if err != nil {
		logger.Error("capability policy load failed", zap.Error(err))
		return 1
	}
	capResolver := capability.NewResolver(policy, cfg.Capability.Cache.TTL, cfg.Capability.Cache.MaxEntries, metrics)

	pool, err := admin.NewPool(admin.Dependencies{
		ModelManager: objects,
		Security:     capability.NewSecurityHandler(capResolver, st.acls),
		Filters:      filters,
		Recorder:     audit.NewRecorder(st.revisions),
		PerPage:      cfg.Admin.PerPage,
		Logger:       logger,
		Metrics:      metrics,
	}, registry.AllAdmins())
	if err != nil {
		logger.Error("admin pool build failed", zap.Error(err))
		return 1
	}
	metrics.SetAdminsLoaded(pool.Len())

	audits := audit.NewManager()
	registerAuditedClasses(audits, registry.AllAdmins(), st.revisions)

	dispatcher := crud.New(pool,
		crud.WithAuditManager(audits),
		crud.WithCSRF(csrf),
		crud.WithExporter(exporter),
		crud.WithACL(acl.NewManipulator(st.acls, policy)),
		crud.WithFlashBag(flashes),
		crud.WithLogger(logger),
		crud.WithObserver(crud.NewLogObserver(logger)),
		crud.WithMetrics(metrics),
		crud.WithDebug(cfg.Admin.Debug),
	)

	readiness := observability.ReadinessChecks{
		AdminsLoaded: pool.Len,
		ObjectStore:  objects,
	}
	if hc, ok := flashes.(observability.HealthChecker); ok {
		readiness.SessionStore = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Dispatcher:   dispatcher,
		Admins:       pool,
		Flashes:      flashes,
		Metrics:      metrics,
		Readiness:    readiness,
		Authenticate: transport.Authenticator(cfg.Identity, logger),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	go watchReload(bgCtx, reloader{
		cfg:       cfg,
		loader:    loader,
		validator: validator,
		registry:  registry,
		pool:      pool,
		audits:    audits,
		revisions: st.revisions,
		policy:    policy,
		resolver:  capResolver,
		metrics:   metrics,
		logger:    logger,
	})

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("admins", pool.Len()),
		zap.String("definitions_checksum", registry.Checksum()),
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("session_driver", cfg.Session.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	bgCancel()

	if flashCloser != nil {
		flashCloser()
	}
	if st.close != nil {
		st.close()
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// loadDefinitions loads and validates every definition file.
func loadDefinitions(loader *definition.Loader, validator *definition.Validator, dirs []string, logger *zap.Logger) ([]model.DefinitionFile, error) {
	files, err := loader.LoadAll(dirs)
	if err != nil {
		return nil, err
	}
	if verrs := validator.Validate(files); len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("definition validation error", zap.String("error", ve.Error()))
		}
		return nil, fmt.Errorf("%d definition validation errors", len(verrs))
	}
	return files, nil
}

// registerAuditedClasses points every audited class at the revision store.
func registerAuditedClasses(m *audit.Manager, defs []model.AdminDefinition, revisions audit.Store) {
	for _, d := range defs {
		if d.Audited && !m.HasReader(d.Class) {
			m.Register(d.Class, revisions)
		}
	}
}

// buildStores creates the object, revision and ACL stores for the driver.
func buildStores(ctx context.Context, cfg config.StoreConfig, filters *datagrid.Registry, logger *zap.Logger) (*stores, error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory stores")
		return &stores{
			objects:   store.NewMemoryModelManager(filters),
			revisions: audit.NewMemoryStore(),
			acls:      acl.NewMemoryStore(),
		}, nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, fmt.Errorf("store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, fmt.Errorf("store: parse DSN: %w", err)
		}
		if cfg.MaxOpenConns > 0 {
			poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
		}

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("store: ping: %w", err)
		}
		if err := store.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("store: migrate: %w", err)
		}

		return &stores{
			objects:   store.NewPgModelManager(pool, filters),
			revisions: audit.NewPgStore(pool),
			acls:      acl.NewPgStore(pool),
			close:     pool.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}
}

// buildFlashBag creates the flash message store for the session driver.
func buildFlashBag(ctx context.Context, cfg config.SessionConfig, logger *zap.Logger) (session.FlashBag, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory flash bag")
		return session.NewMemoryFlashBag(cfg.TTL), nil, nil
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("session: %s environment variable not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("session: ping redis: %w", err)
		}
		return session.NewRedisFlashBag(client, cfg.TTL), func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported session driver: %q", cfg.Driver)
	}
}

// buildCSRF creates the token manager. Without a configured secret a random
// one is generated, so tokens do not survive a restart.
func buildCSRF(cfg config.CSRFConfig, logger *zap.Logger) (*security.CSRFManager, error) {
	secret := []byte(os.Getenv(cfg.SecretEnv))
	if len(secret) == 0 {
		logger.Warn("csrf secret not configured, generating an ephemeral one",
			zap.String("env", cfg.SecretEnv))
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
	}
	return security.NewCSRFManager(secret, cfg.TTL)
}

// reloader re-reads definitions and the capability policy on SIGHUP.
type reloader struct {
	cfg       *config.Config
	loader    *definition.Loader
	validator *definition.Validator
	registry  *definition.Registry
	pool      *admin.Pool
	audits    *audit.Manager
	revisions audit.Store
	policy    *capability.StaticPolicyEvaluator
	resolver  *capability.Resolver
	metrics   *observability.Metrics
	logger    *zap.Logger
}

func watchReload(ctx context.Context, r reloader) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			r.reload()
		}
	}
}

// reload swaps in the new definitions only if they all load and validate;
// otherwise the running admins stay.
func (r reloader) reload() {
	files, err := loadDefinitions(r.loader, r.validator, r.cfg.Admin.Directories, r.logger)
	if err != nil {
		r.metrics.RecordDefinitionReload("error")
		r.logger.Error("definition reload failed", zap.Error(err))
		return
	}
	defs := definition.NewRegistry(files).AllAdmins()
	if err := r.pool.Replace(defs); err != nil {
		r.metrics.RecordDefinitionReload("error")
		r.logger.Error("admin pool rebuild failed", zap.Error(err))
		return
	}
	previous := r.registry.Checksum()
	r.registry.Replace(files)
	registerAuditedClasses(r.audits, defs, r.revisions)
	r.metrics.SetAdminsLoaded(r.pool.Len())

	if err := r.policy.Sync(); err != nil {
		r.logger.Warn("capability policy reload failed, keeping previous policy", zap.Error(err))
	} else {
		r.resolver.InvalidateAll()
	}

	r.metrics.RecordDefinitionReload("ok")
	r.logger.Info("definitions reloaded",
		zap.Int("admins", r.pool.Len()),
		zap.String("previous_checksum", previous),
		zap.String("checksum", r.registry.Checksum()),
	)
}
