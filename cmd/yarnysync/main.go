// Command yarnysync is the local persistence daemon: it owns the durable
// save queue, drains it into the remote document store, maintains the
// on-device mirror, and serves the editor's HTTP surface plus the worker
// websocket bridge.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/LindsayB610/yarny-app-sub005/internal/bridge"
	"github.com/LindsayB610/yarny-app-sub005/internal/conflict"
	"github.com/LindsayB610/yarny-app-sub005/internal/contentstore"
	"github.com/LindsayB610/yarny-app-sub005/internal/drive"
	"github.com/LindsayB610/yarny-app-sub005/internal/httpapi"
	"github.com/LindsayB610/yarny-app-sub005/internal/kv"
	"github.com/LindsayB610/yarny-app-sub005/internal/mirror"
	"github.com/LindsayB610/yarny-app-sub005/internal/syncqueue"
)

func main() {
	_ = godotenv.Load()

	logger, err := buildLogger()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	addr := envOrDefault("YARNYSYNC_ADDR", "127.0.0.1:8787")

	queueKV, err := buildQueueStoreFromEnv()
	if err != nil {
		logger.Fatal("failed to initialize queue backend", zap.Error(err))
	}
	defer kv.CloseStore(queueKV)

	driveToken := strings.TrimSpace(os.Getenv("YARNYSYNC_DRIVE_TOKEN"))
	if driveToken == "" {
		logger.Fatal("YARNYSYNC_DRIVE_TOKEN is required")
	}
	driveClient := drive.NewHTTPClient(drive.HTTPClientOptions{
		BaseURL: envOrDefault("YARNYSYNC_DRIVE_BASE_URL", "http://127.0.0.1:8080"),
		TokenProvider: func(ctx context.Context) (string, error) {
			return driveToken, nil
		},
		MaxRetries: intEnv("YARNYSYNC_DRIVE_MAX_RETRIES", 0),
		Logger:     logger.Named("drive"),
	})

	cacheKV, err := buildCacheStoreFromEnv()
	if err != nil {
		logger.Fatal("failed to initialize lookup cache backend", zap.Error(err))
	}
	defer kv.CloseStore(cacheKV)

	content, err := contentstore.New(contentstore.Options{
		Client:   driveClient,
		CacheKV:  cacheKV,
		CacheTTL: durationEnv("YARNYSYNC_CACHE_TTL", 0),
		Logger:   logger.Named("content"),
	})
	if err != nil {
		logger.Fatal("failed to initialize content store", zap.Error(err))
	}

	repo := mirror.Initialize(strings.TrimSpace(os.Getenv("YARNYSYNC_MIRROR_DIR")), logger.Named("mirror"))

	store := syncqueue.NewSyncStore(queueKV, logger.Named("queue"))
	bridgeServer := bridge.NewServer(store, nil, logger.Named("bridge"))

	processor, err := syncqueue.NewProcessor(syncqueue.ProcessorOptions{
		Store:     store,
		Content:   content,
		Drive:     driveClient,
		Mirror:    repo,
		Registrar: &bridgeNotifier{bridge: bridgeServer},
		Logger:    logger.Named("processor"),
	})
	if err != nil {
		logger.Fatal("failed to initialize save processor", zap.Error(err))
	}

	detector, err := conflict.NewDetector(content, driveClient, logger.Named("conflict"))
	if err != nil {
		logger.Fatal("failed to initialize conflict detector", zap.Error(err))
	}

	apiServer, err := httpapi.NewServer(httpapi.ServerOptions{
		Store:     store,
		Processor: processor,
		Content:   content,
		Detector:  detector,
		Mirror:    repo,
		Bridge:    bridgeServer,
		Config: httpapi.ServerConfig{
			AuthToken:       strings.TrimSpace(os.Getenv("YARNYSYNC_AUTH_TOKEN")),
			RateLimitMax:    intEnv("YARNYSYNC_RATE_LIMIT_MAX", 0),
			RateLimitWindow: durationEnv("YARNYSYNC_RATE_LIMIT_WINDOW", time.Minute),
			MaxBodyBytes:    int64Env("YARNYSYNC_MAX_BODY_BYTES", 0),
		},
		Logger: logger.Named("http"),
	})
	if err != nil {
		logger.Fatal("failed to initialize http server", zap.Error(err))
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	drain := func() {
		ctx, cancel := context.WithTimeout(rootCtx, durationEnv("YARNYSYNC_DRAIN_TIMEOUT", time.Minute))
		defer cancel()
		if err := processor.Drain(ctx); err != nil {
			logger.Warn("drain stopped early", zap.Error(err))
		}
	}

	// The editor appends saves out-of-process when the queue backend is a
	// file, so watch the log and drain on change.
	if fileStore, ok := queueKV.(*kv.FileStore); ok {
		logPath, err := fileStore.Path(syncqueue.SavesLogKey)
		if err != nil {
			logger.Fatal("failed to resolve save log path", zap.Error(err))
		}
		watcher, err := syncqueue.NewWatcher(logPath, durationEnv("YARNYSYNC_WATCH_DEBOUNCE", 0), drain, logger.Named("watcher"))
		if err != nil {
			logger.Warn("save log watcher unavailable", zap.Error(err))
		} else {
			defer watcher.Close()
			go watcher.Run(rootCtx)
		}
	}

	// Drain anything left over from the previous run.
	go drain()

	httpServer := &http.Server{Addr: addr, Handler: apiServer}
	go func() {
		logger.Info("yarnysync listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	processor.WaitMirror()
}

// bridgeNotifier satisfies syncqueue.RetryRegistrar by pushing a sync
// trigger to connected workers; a worker that is awake retries sooner than
// any platform alarm would.
type bridgeNotifier struct {
	bridge *bridge.Server
}

func (n *bridgeNotifier) RegisterRetry(ctx context.Context) error {
	n.bridge.NotifySync(ctx)
	return nil
}

func buildLogger() (*zap.Logger, error) {
	if strings.EqualFold(os.Getenv("YARNYSYNC_LOG_MODE"), "development") {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func buildQueueStoreFromEnv() (kv.Store, error) {
	if dsn := strings.TrimSpace(os.Getenv("YARNYSYNC_QUEUE_DSN")); dsn != "" {
		return kv.BuildStoreFromDSN(dsn)
	}
	dsn, err := profileDefaultDSN()
	if err != nil {
		return nil, err
	}
	return kv.BuildStoreFromDSN(dsn)
}

func buildCacheStoreFromEnv() (kv.Store, error) {
	if dsn := strings.TrimSpace(os.Getenv("YARNYSYNC_CACHE_DSN")); dsn != "" {
		return kv.BuildStoreFromDSN(dsn)
	}
	return kv.NewMemoryStore(), nil
}

func profileDefaultDSN() (string, error) {
	profile := strings.ToLower(strings.TrimSpace(os.Getenv("YARNYSYNC_BACKEND_PROFILE")))
	dataDir := strings.TrimSpace(os.Getenv("YARNYSYNC_DATA_DIR"))
	if dataDir == "" {
		dataDir = ".yarnysync"
	}
	switch profile {
	case "", "durable-local", "local-durable":
		return "file://" + filepath.Join(dataDir, "queues"), nil
	case "memory", "inmemory":
		return "memory://", nil
	case "production", "prod":
		dsn := strings.TrimSpace(os.Getenv("YARNYSYNC_PRODUCTION_DSN"))
		if dsn == "" {
			dsn = strings.TrimSpace(os.Getenv("YARNYSYNC_POSTGRES_DSN"))
		}
		if dsn == "" {
			return "", fmt.Errorf("YARNYSYNC_PRODUCTION_DSN or YARNYSYNC_POSTGRES_DSN is required when YARNYSYNC_BACKEND_PROFILE=%s", profile)
		}
		return dsn, nil
	default:
		return "", fmt.Errorf("unsupported YARNYSYNC_BACKEND_PROFILE: %s", profile)
	}
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
