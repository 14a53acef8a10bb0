// Package config implements process configuration: parsing environment
// variables into a Config and validating the result before anything else
// boots.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"
)

// Config holds all configuration for the ingestd control-plane process.
// Every field has a documented environment variable and, where sensible,
// a default applied by Load.
type Config struct {
	DatabaseURL string // DATABASE_URL

	DBMaxConns        int32         // DB_MAX_CONNS
	DBMinConns        int32         // DB_MIN_CONNS
	DBAcquireTimeout  time.Duration // DB_ACQUIRE_TIMEOUT
	DBIdleTimeout     time.Duration // DB_IDLE_TIMEOUT
	DBMaxConnLifetime time.Duration // DB_MAX_CONN_LIFETIME

	UploadPath   string // UPLOAD_PATH
	WatchBaseDir string // WATCH_BASE_DIR

	OCRWorkerCount      int           // OCR_WORKER_COUNT
	OCRConcurrencyLimit int           // OCR_CONCURRENCY_LIMIT
	OCRJobTimeout       time.Duration // OCR_JOB_TIMEOUT
	OCRStuckThreshold   time.Duration // OCR_STUCK_THRESHOLD
	OCRMinConfidence    float64       // OCR_MIN_CONFIDENCE
	OCRCommand          string        // OCR_COMMAND

	SyncSchedulerInterval    time.Duration // SYNC_SCHEDULER_INTERVAL
	SyncMaxConcurrentSources int           // SYNC_MAX_CONCURRENT_SOURCES
	SyncPerDirConcurrency    int           // SYNC_PER_DIR_CONCURRENCY

	WSHeartbeatInterval time.Duration // WS_HEARTBEAT_INTERVAL

	JWTSecret string // JWT_SECRET

	ListenAddr string // LISTEN_ADDR
}

// Load reads configuration from the environment, applying defaults for any
// unset optional variable, and returns it unvalidated. Call Validate before
// using it.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),

		DBMaxConns:        int32(envInt("DB_MAX_CONNS", 50)),
		DBMinConns:        int32(envInt("DB_MIN_CONNS", 5)),
		DBAcquireTimeout:  envDuration("DB_ACQUIRE_TIMEOUT", 15*time.Second),
		DBIdleTimeout:     envDuration("DB_IDLE_TIMEOUT", 10*time.Minute),
		DBMaxConnLifetime: envDuration("DB_MAX_CONN_LIFETIME", time.Hour),

		UploadPath:   os.Getenv("UPLOAD_PATH"),
		WatchBaseDir: os.Getenv("WATCH_BASE_DIR"),

		OCRWorkerCount:      envInt("OCR_WORKER_COUNT", runtime.NumCPU()),
		OCRConcurrencyLimit: envInt("OCR_CONCURRENCY_LIMIT", 4),
		OCRJobTimeout:       envDuration("OCR_JOB_TIMEOUT", 5*time.Minute),
		OCRStuckThreshold:   envDuration("OCR_STUCK_THRESHOLD", 30*time.Minute),
		OCRMinConfidence:    envFloat("OCR_MIN_CONFIDENCE", 50),
		OCRCommand:          envString("OCR_COMMAND", "tesseract"),

		SyncSchedulerInterval:    envDuration("SYNC_SCHEDULER_INTERVAL", time.Minute),
		SyncMaxConcurrentSources: envInt("SYNC_MAX_CONCURRENT_SOURCES", 4),
		SyncPerDirConcurrency:    envInt("SYNC_PER_DIR_CONCURRENCY", 5),

		WSHeartbeatInterval: envDuration("WS_HEARTBEAT_INTERVAL", time.Second),

		JWTSecret: os.Getenv("JWT_SECRET"),

		ListenAddr: envString("LISTEN_ADDR", ":8080"),
	}

	return cfg, nil
}

// Validate ensures all required fields are present and have sane values,
// mirroring the fail-fast validation the teacher applies to CLI flags.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.UploadPath == "" {
		return fmt.Errorf("UPLOAD_PATH is required")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be at least 1")
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS")
	}
	if c.OCRWorkerCount < 1 {
		return fmt.Errorf("OCR_WORKER_COUNT must be at least 1")
	}
	if c.OCRConcurrencyLimit < 1 {
		return fmt.Errorf("OCR_CONCURRENCY_LIMIT must be at least 1")
	}
	if c.OCRConcurrencyLimit > int(c.DBMaxConns) {
		return fmt.Errorf("OCR_CONCURRENCY_LIMIT must not exceed DB_MAX_CONNS (throttle must preserve pool headroom)")
	}
	if c.OCRJobTimeout < time.Second {
		return fmt.Errorf("OCR_JOB_TIMEOUT must be at least 1s")
	}
	if c.OCRStuckThreshold < c.OCRJobTimeout {
		return fmt.Errorf("OCR_STUCK_THRESHOLD must be at least OCR_JOB_TIMEOUT")
	}
	if c.SyncSchedulerInterval < time.Second {
		return fmt.Errorf("SYNC_SCHEDULER_INTERVAL must be at least 1s")
	}
	if c.SyncPerDirConcurrency < 1 {
		return fmt.Errorf("SYNC_PER_DIR_CONCURRENCY must be at least 1")
	}
	if c.WSHeartbeatInterval < 100*time.Millisecond {
		return fmt.Errorf("WS_HEARTBEAT_INTERVAL must be at least 100ms")
	}
	return nil
}

// StuckThresholdFor implements Open Question 2: the sweep threshold used
// for a specific user's jobs is never shorter than twice their configured
// OCR job timeout, so a legitimately slow run is not reclaimed out from
// under the worker still processing it.
func (c *Config) StuckThresholdFor(userJobTimeout time.Duration) time.Duration {
	if userJobTimeout <= 0 {
		return c.OCRStuckThreshold
	}
	if d := 2 * userJobTimeout; d > c.OCRStuckThreshold {
		return d
	}
	return c.OCRStuckThreshold
}

// MinConfidenceFor implements Open Question 3: a per-user minimum
// confidence, when set, overrides the global floor.
func (c *Config) MinConfidenceFor(userMinConfidence *float64) float64 {
	if userMinConfidence != nil {
		return *userMinConfidence
	}
	return c.OCRMinConfidence
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
