package bootstrap

import (
	"context"
	"database/sql"
	"errors"

	"expense-backend/internal/documents"
	"expense-backend/internal/ingest"
	"expense-backend/internal/shared/config"
	"expense-backend/internal/shared/storage/db"
	"expense-backend/internal/shared/storage/object"
)

// Worker holds the dependencies of the queue consumer.
type Worker struct {
	Config       config.Config
	DB           *sql.DB
	Store        object.ObjectStore
	Orchestrator *ingest.Orchestrator
}

// BuildWorker prepares an orchestrator for cmd/worker. The worker shares
// records with the API, so a database is required.
func BuildWorker(ctx context.Context, cfg config.Config) (*Worker, error) {
	sqlDB, err := buildDB(ctx, cfg, db.DefaultWorkerOptions(cfg.WorkerConcurrency))
	if err != nil {
		return nil, err
	}
	if sqlDB == nil {
		return nil, errors.New("worker requires DATABASE_URL")
	}
	store, err := buildStore(ctx, cfg)
	if err != nil {
		closeDB(sqlDB)
		return nil, err
	}
	repo := &documents.PGRepo{DB: sqlDB}
	return &Worker{
		Config:       cfg,
		DB:           sqlDB,
		Store:        store,
		Orchestrator: buildOrchestrator(cfg, repo, store, buildExtraction(cfg)),
	}, nil
}

// Close releases the database.
func (w *Worker) Close() error {
	if w.DB == nil {
		return nil
	}
	return w.DB.Close()
}
