// Package bootstrap wires configuration into the running services.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"expense-backend/internal/documents"
	"expense-backend/internal/extraction"
	"expense-backend/internal/ingest"
	"expense-backend/internal/intake"
	"expense-backend/internal/queue"
	"expense-backend/internal/retention"
	"expense-backend/internal/services/health"
	"expense-backend/internal/shared/config"
	"expense-backend/internal/shared/server"
	"expense-backend/internal/shared/storage/db"
	"expense-backend/internal/shared/storage/object"
	localstore "expense-backend/internal/shared/storage/object/local"
	s3store "expense-backend/internal/shared/storage/object/s3"
	"expense-backend/internal/shared/telemetry"
	"expense-backend/internal/statements"
)

// App holds the API process dependencies.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB
	Store  object.ObjectStore
	Queue  queue.Client
	// Pool is set when documents are processed in-process.
	Pool *ingest.Pool

	DocumentsRepo    documents.DocumentsRepo
	TransactionsRepo statements.TransactionsRepo
	Extraction       *extraction.Client
	Orchestrator     *ingest.Orchestrator
	DocumentsService *documents.Service
	Importer         *statements.Importer
	Collector        *retention.Collector
	Reconciler       *ingest.Reconciler
	Health           *health.Service
}

// Build prepares every dependency and the router. Background schedules are
// not started until Start.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg, db.DefaultServerOptions())
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		closeDB(sqlDB)
		return nil, err
	}

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		Store:  store,
	}
	if sqlDB != nil {
		app.DocumentsRepo = &documents.PGRepo{DB: sqlDB}
		app.TransactionsRepo = &statements.PGRepo{DB: sqlDB}
	} else {
		app.DocumentsRepo = documents.NewMemoryRepo()
		app.TransactionsRepo = statements.NewMemoryRepo()
	}

	app.Extraction = buildExtraction(cfg)
	app.Orchestrator = buildOrchestrator(cfg, app.DocumentsRepo, store, app.Extraction)

	if err := buildDispatch(ctx, app); err != nil {
		closeDB(sqlDB)
		return nil, err
	}

	if err := buildServices(app); err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	return app, nil
}

func buildDispatch(ctx context.Context, app *App) error {
	cfg := app.Config
	if cfg.DispatchMode == "sqs" {
		if app.DB == nil {
			telemetry.Warn("bootstrap.sqs_without_database", map[string]any{
				"detail": "a separate worker cannot see in-memory documents",
			})
		}
		q, err := queue.NewSQSClient(ctx, cfg.SQSQueueURL, cfg.AWSRegion)
		if err != nil {
			return fmt.Errorf("build sqs client: %w", err)
		}
		app.Queue = q
		return nil
	}
	app.Pool = ingest.NewPool(app.Orchestrator,
		ingest.WithWorkers(cfg.WorkerConcurrency),
		ingest.WithQueueSize(cfg.WorkerQueueSize),
		ingest.WithJobTimeout(cfg.JobTimeout),
	)
	app.Queue = app.Pool
	return nil
}

func buildServices(app *App) error {
	cfg := app.Config

	docIntake := intake.New(app.Store, intake.DocumentPolicy(cfg.MaxUploadBytes, cfg.MaxFilesPerRequest))
	app.DocumentsService = documents.NewService(app.DocumentsRepo, docIntake, app.Queue)

	classifier, err := statements.ClassifierFromFile(cfg.CategoryRulesFile)
	if err != nil {
		return fmt.Errorf("load category rules: %w", err)
	}
	stmtIntake := intake.New(app.Store, intake.StatementPolicy(cfg.MaxUploadBytes))
	app.Importer = statements.NewImporter(stmtIntake, app.Extraction, app.TransactionsRepo, classifier)

	app.Collector = retention.NewCollector(app.Store, app.DocumentsRepo, retention.Options{
		Interval:       cfg.RetentionInterval,
		MaxAge:         cfg.RetentionMaxAge,
		OrphanGrace:    cfg.RetentionOrphanGrace,
		DocumentPrefix: intake.PrefixReceipt,
	})
	app.Reconciler = ingest.NewReconciler(app.DocumentsRepo, app.Queue, app.Store, ingest.ReconcileOptions{
		Interval:    cfg.ReconcileInterval,
		StaleAfter:  cfg.ReconcileStaleAfter,
		MaxAttempts: cfg.ReconcileMaxAttempts,
	})
	app.Health = health.NewService(app.DB, app.Extraction)

	app.Router = server.NewRouter(server.RouterDeps{
		Config:           cfg,
		Health:           app.Health,
		DocumentHandler:  documents.NewHandler(app.DocumentsService, cfg.MaxUploadBytes, cfg.MaxFilesPerRequest),
		StatementHandler: statements.NewHandler(app.Importer, cfg.MaxUploadBytes),
		RetentionHandler: retention.NewHandler(app.Collector),
		ReconcileHandler: ingest.NewReconcileHandler(app.Reconciler),
	})
	if app.Router == nil {
		return errors.New("failed to initialize router")
	}
	return nil
}

// Start launches the retention and reconcile schedules.
func (a *App) Start() error {
	if err := a.Collector.Start(); err != nil {
		return fmt.Errorf("start retention: %w", err)
	}
	if err := a.Reconciler.Start(); err != nil {
		return fmt.Errorf("start reconcile: %w", err)
	}
	return nil
}

// Close stops the schedules, drains the pool and closes the database.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Reconciler != nil {
		errs = append(errs, a.Reconciler.Stop(ctx))
	}
	if a.Collector != nil {
		errs = append(errs, a.Collector.Stop(ctx))
	}
	if a.Pool != nil {
		errs = append(errs, a.Pool.Shutdown(ctx))
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}

func buildDB(ctx context.Context, cfg config.Config, defaults db.Options) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if config.IsDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.memory_repositories", map[string]any{"reason": "DATABASE_URL empty"})
			return nil, nil
		}
		return nil, errors.New("DATABASE_URL is required")
	}

	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(defaults))
	if err != nil {
		if config.IsDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.memory_repositories", telemetry.WithError(map[string]any{
				"reason": "database connect failed",
			}, err))
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

func closeDB(sqlDB *sql.DB) {
	if sqlDB != nil {
		_ = sqlDB.Close()
	}
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, errors.New("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.UploadDir), nil
	}
}

func buildExtraction(cfg config.Config) *extraction.Client {
	opts := extraction.Options{
		BaseURL:     cfg.ExtractionBaseURL,
		Timeout:     cfg.ExtractionTimeout,
		MaxAttempts: cfg.ExtractionMaxAttempts,
		RatePerSec:  cfg.ExtractionRatePerSec,
		Burst:       cfg.ExtractionBurst,
	}
	if cfg.ExtractionTokenURL != "" {
		opts.Auth = &extraction.AuthConfig{
			TokenURL:     cfg.ExtractionTokenURL,
			ClientID:     cfg.ExtractionClientID,
			ClientSecret: cfg.ExtractionClientSecret,
			Scopes:       cfg.ExtractionScopes,
		}
	}
	return extraction.NewClient(opts)
}

func buildOrchestrator(cfg config.Config, repo documents.DocumentsRepo, store object.ObjectStore, ex ingest.Extractor) *ingest.Orchestrator {
	return ingest.NewOrchestrator(repo, store, ex, ingest.Options{
		ExtractTimeout: cfg.ExtractionTimeout,
	})
}
