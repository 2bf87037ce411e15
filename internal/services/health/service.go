// Package health reports whether the API's dependencies are reachable.
package health

import (
	"context"
	"database/sql"
	"time"

	"expense-backend/internal/extraction"
	"expense-backend/internal/shared/storage/db"
)

const checkTimeout = 3 * time.Second

// Dependency states.
const (
	StateUp     = "up"
	StateDown   = "down"
	StateMemory = "memory"
)

// ExtractionChecker queries the extraction service health endpoint.
type ExtractionChecker interface {
	Health(ctx context.Context) (extraction.HealthStatus, error)
}

// Report is the payload of GET /health.
type Report struct {
	OK         bool              `json:"ok"`
	Database   string            `json:"database"`
	Extraction string            `json:"extraction"`
	Errors     map[string]string `json:"errors,omitempty"`
}

// Service encapsulates health-related checks.
type Service struct {
	DB         *sql.DB
	Extraction ExtractionChecker
}

// NewService constructs a new health service. A nil db reports the in-memory
// repositories.
func NewService(sqlDB *sql.DB, ex ExtractionChecker) *Service {
	return &Service{DB: sqlDB, Extraction: ex}
}

// Check pings the database and the extraction service.
func (s *Service) Check(ctx context.Context) Report {
	rep := Report{OK: true, Database: StateMemory, Extraction: StateDown}
	fail := func(dep string, err error) {
		rep.OK = false
		if rep.Errors == nil {
			rep.Errors = make(map[string]string)
		}
		rep.Errors[dep] = err.Error()
	}

	if s.DB != nil {
		if err := db.Ping(ctx, s.DB, checkTimeout); err != nil {
			rep.Database = StateDown
			fail("database", err)
		} else {
			rep.Database = StateUp
		}
	}

	if s.Extraction == nil {
		rep.OK = false
		return rep
	}
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if _, err := s.Extraction.Health(checkCtx); err != nil {
		fail("extraction", err)
	} else {
		rep.Extraction = StateUp
	}
	return rep
}
