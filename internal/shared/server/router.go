package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"expense-backend/internal/documents"
	"expense-backend/internal/ingest"
	"expense-backend/internal/retention"
	"expense-backend/internal/services/health"
	"expense-backend/internal/shared/config"
	"expense-backend/internal/shared/metrics"
	"expense-backend/internal/shared/server/middleware"
	"expense-backend/internal/shared/server/respond"
	"expense-backend/internal/statements"
)

const (
	apiPrefix   = "/api/v1"
	healthPath  = apiPrefix + "/health"
	metricsPath = "/metrics"

	rateGroupUpload = "UPLOAD"
)

// RouterDeps carries the handlers mounted by NewRouter. Nil handlers are
// skipped.
type RouterDeps struct {
	Config           config.Config
	Health           *health.Service
	DocumentHandler  *documents.Handler
	StatementHandler *statements.Handler
	RetentionHandler *retention.Handler
	ReconcileHandler *ingest.ReconcileHandler
	// Limiter is shared across rebuilds in tests; nil creates one.
	Limiter *middleware.RateLimiter
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.Identity(healthPath, metricsPath),
	)

	uploadLimit := middleware.RateLimit(middleware.RateLimitConfig{
		DefaultGroup: rateGroupUpload,
		Limiter:      deps.Limiter,
		Rules: map[string]middleware.RateLimitRule{
			rateGroupUpload: {Rate: 2, Burst: 10},
		},
	})

	r.GET(metricsPath, metrics.Handler())

	api := r.Group(apiPrefix)
	api.GET("/health", func(c *gin.Context) {
		if deps.Health == nil {
			respond.OK(c, gin.H{"ok": true})
			return
		}
		rep := deps.Health.Check(c.Request.Context())
		status := http.StatusOK
		if !rep.OK {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, rep)
	})

	if deps.DocumentHandler != nil {
		deps.DocumentHandler.RegisterRoutes(api, uploadLimit)
	}
	if deps.StatementHandler != nil {
		deps.StatementHandler.RegisterRoutes(api, uploadLimit)
	}
	if deps.RetentionHandler != nil {
		deps.RetentionHandler.RegisterRoutes(api)
	}
	if deps.ReconcileHandler != nil {
		deps.ReconcileHandler.RegisterRoutes(api)
	}

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
