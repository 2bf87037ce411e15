package config

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	Port            string
	CORSAllowOrigin []string
	Env             string
	DatabaseURL     string

	ObjectStoreType string
	UploadDir       string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string

	MaxUploadBytes     int64
	MaxFilesPerRequest int

	ExtractionBaseURL      string
	ExtractionTimeout      time.Duration
	ExtractionMaxAttempts  int
	ExtractionRatePerSec   float64
	ExtractionBurst        int
	ExtractionTokenURL     string
	ExtractionClientID     string
	ExtractionClientSecret string
	ExtractionScopes       []string

	DispatchMode      string
	SQSQueueURL       string
	WorkerConcurrency int
	WorkerQueueSize   int
	JobTimeout        time.Duration

	RetentionInterval    time.Duration
	RetentionMaxAge      time.Duration
	RetentionOrphanGrace time.Duration

	ReconcileInterval    time.Duration
	ReconcileStaleAfter  time.Duration
	ReconcileMaxAttempts int

	CategoryRulesFile string
	ShutdownTimeout   time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	return Config{
		Port:            getEnv("PORT", "8080"),
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		Env:             env,
		DatabaseURL:     dbURL,

		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		UploadDir:       getEnv("UPLOAD_DIR", "./uploads"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:     getEnv("SSE_KMS_KEY_ID", ""),

		MaxUploadBytes:     int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20)),
		MaxFilesPerRequest: getEnvInt("MAX_FILES_PER_REQUEST", 10),

		ExtractionBaseURL:      strings.TrimRight(getEnv("EXTRACTION_BASE_URL", "http://localhost:8000"), "/"),
		ExtractionTimeout:      getEnvDuration("EXTRACTION_TIMEOUT", 30*time.Second),
		ExtractionMaxAttempts:  getEnvInt("EXTRACTION_MAX_ATTEMPTS", 2),
		ExtractionRatePerSec:   getEnvFloat("EXTRACTION_RATE_PER_SEC", 5),
		ExtractionBurst:        getEnvInt("EXTRACTION_BURST", 5),
		ExtractionTokenURL:     getEnv("EXTRACTION_TOKEN_URL", ""),
		ExtractionClientID:     getEnv("EXTRACTION_CLIENT_ID", ""),
		ExtractionClientSecret: getEnv("EXTRACTION_CLIENT_SECRET", ""),
		ExtractionScopes:       splitAndTrim(getEnv("EXTRACTION_SCOPES", "")),

		DispatchMode:      normalizeDispatchMode(getEnv("DISPATCH_MODE", "pool")),
		SQSQueueURL:       getEnv("SQS_QUEUE_URL", ""),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),
		WorkerQueueSize:   getEnvInt("WORKER_QUEUE_SIZE", 64),
		JobTimeout:        getEnvDuration("JOB_TIMEOUT", 2*time.Minute),

		RetentionInterval:    getEnvDuration("RETENTION_INTERVAL", time.Hour),
		RetentionMaxAge:      getEnvDuration("RETENTION_MAX_AGE", 24*time.Hour),
		RetentionOrphanGrace: getEnvDuration("RETENTION_ORPHAN_GRACE", 15*time.Minute),

		ReconcileInterval:    getEnvDuration("RECONCILE_INTERVAL", 5*time.Minute),
		ReconcileStaleAfter:  getEnvDuration("RECONCILE_STALE_AFTER", 10*time.Minute),
		ReconcileMaxAttempts: getEnvInt("RECONCILE_MAX_ATTEMPTS", 3),

		CategoryRulesFile: getEnv("CATEGORY_RULES_FILE", ""),
		ShutdownTimeout:   getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// loadEnvFiles loads KEY=VALUE files if they exist. Variables already present
// in the process environment are left untouched.
func loadEnvFiles(paths ...string) {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Printf("config: skip env file %s: %v", path, err)
		}
	}
}

func getEnv(key, def string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		log.Printf("config: %s invalid int %q, using %d", key, raw, def)
		return def
	}
	return val
}

func getEnvFloat(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil || val <= 0 {
		log.Printf("config: %s invalid number %q, using %v", key, raw, def)
		return def
	}
	return val
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := time.ParseDuration(raw)
	if err != nil || val <= 0 {
		log.Printf("config: %s invalid duration %q, using %s", key, raw, def)
		return def
	}
	return val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}

func normalizeDispatchMode(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sqs":
		return "sqs"
	default:
		return "pool"
	}
}

// IsDevLike reports whether env allows in-memory fallbacks.
func IsDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
