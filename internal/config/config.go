package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr      = ":8080"
	defaultDBPath          = "loom.db"
	defaultRuntimesDir     = "runtimes"
	defaultWorkerScript    = "worker.py"
	defaultExecTimeout     = 30 * time.Second
	defaultInstallTimeout  = 10 * time.Minute
	defaultCacheCapacity   = 4
	defaultCacheTTL        = 30 * time.Minute
	defaultTaskRetention   = time.Hour
	defaultWorkflowWorkers = 4
	defaultWorkflowQueue   = 64

	envListenAddr      = "LOOM_LISTEN_ADDR"
	envDBPath          = "LOOM_DB_PATH"
	envLogLevel        = "LOOM_LOG_LEVEL"
	envRuntimesDir     = "LOOM_RUNTIMES_DIR"
	envWorkerScript    = "LOOM_WORKER_SCRIPT"
	envExecTimeoutS    = "LOOM_EXEC_TIMEOUT_S"
	envInstallTimeoutS = "LOOM_INSTALL_TIMEOUT_S"
	envCacheCapacity   = "LOOM_CACHE_CAPACITY"
	envCacheTTLS       = "LOOM_CACHE_TTL_S"
	envTaskRetentionS  = "LOOM_TASK_RETENTION_S"
	envWorkflowWorkers = "LOOM_WORKFLOW_WORKERS"
	envWorkflowQueue   = "LOOM_WORKFLOW_QUEUE"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	// RuntimesDir is the base directory under which each isolated runtime
	// (a self-contained interpreter plus dependency set) lives.
	RuntimesDir string
	// WorkerScript is the request-loop script invoked inside a runtime.
	WorkerScript string

	ExecTimeout    time.Duration
	InstallTimeout time.Duration

	CacheCapacity int
	CacheTTL      time.Duration

	TaskRetention time.Duration

	WorkflowWorkers int
	WorkflowQueue   int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:      defaultListenAddr,
		DBPath:          defaultDBPath,
		LogLevel:        slog.LevelInfo,
		RuntimesDir:     defaultRuntimesDir,
		WorkerScript:    defaultWorkerScript,
		ExecTimeout:     defaultExecTimeout,
		InstallTimeout:  defaultInstallTimeout,
		CacheCapacity:   defaultCacheCapacity,
		CacheTTL:        defaultCacheTTL,
		TaskRetention:   defaultTaskRetention,
		WorkflowWorkers: defaultWorkflowWorkers,
		WorkflowQueue:   defaultWorkflowQueue,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envRuntimesDir); v != "" {
		cfg.RuntimesDir = v
	}
	if v := os.Getenv(envWorkerScript); v != "" {
		cfg.WorkerScript = v
	}
	cfg.ExecTimeout = parseSeconds(envExecTimeoutS, cfg.ExecTimeout)
	cfg.InstallTimeout = parseSeconds(envInstallTimeoutS, cfg.InstallTimeout)
	cfg.CacheCapacity = parsePositiveInt(envCacheCapacity, cfg.CacheCapacity)
	cfg.CacheTTL = parseSeconds(envCacheTTLS, cfg.CacheTTL)
	cfg.TaskRetention = parseSeconds(envTaskRetentionS, cfg.TaskRetention)
	cfg.WorkflowWorkers = parsePositiveInt(envWorkflowWorkers, cfg.WorkflowWorkers)
	cfg.WorkflowQueue = parsePositiveInt(envWorkflowQueue, cfg.WorkflowQueue)

	return cfg
}

// parseSeconds reads an integer-seconds env var, keeping the fallback for
// absent, malformed, or non-positive values.
func parseSeconds(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}

func parsePositiveInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
