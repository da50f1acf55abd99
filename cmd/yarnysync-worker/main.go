// Command yarnysync-worker is the background reconciler: it attaches to
// the daemon's websocket bridge, fetches queued sync jobs, pushes each
// snippet's content into its externally-editable document, and clears the
// finished jobs. It runs on an interval and also wakes on pushed sync
// triggers.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/LindsayB610/yarny-app-sub005/internal/bridge"
	"github.com/LindsayB610/yarny-app-sub005/internal/drive"
	"github.com/LindsayB610/yarny-app-sub005/internal/syncqueue"
)

func main() {
	_ = godotenv.Load()

	daemonURL := flag.String("daemon-url", envOrDefault("YARNYSYNC_DAEMON_URL", "http://127.0.0.1:8787/v1/sync/ws"), "daemon bridge endpoint")
	driveBaseURL := flag.String("drive-base-url", envOrDefault("YARNYSYNC_DRIVE_BASE_URL", "http://127.0.0.1:8080"), "remote document service base URL")
	driveToken := flag.String("drive-token", strings.TrimSpace(os.Getenv("YARNYSYNC_DRIVE_TOKEN")), "remote document service token")
	interval := flag.Duration("interval", durationEnv("YARNYSYNC_WORKER_INTERVAL", 30*time.Second), "reconcile interval")
	timeout := flag.Duration("timeout", durationEnv("YARNYSYNC_WORKER_TIMEOUT", 30*time.Second), "per-cycle timeout")
	once := flag.Bool("once", false, "run one reconcile cycle and exit")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if strings.TrimSpace(*driveToken) == "" {
		logger.Fatal("drive token is required (--drive-token or YARNYSYNC_DRIVE_TOKEN)")
	}

	driveClient := drive.NewHTTPClient(drive.HTTPClientOptions{
		BaseURL: *driveBaseURL,
		TokenProvider: func(ctx context.Context) (string, error) {
			return strings.TrimSpace(*driveToken), nil
		},
		Logger: logger.Named("drive"),
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, dialCancel := context.WithTimeout(rootCtx, 15*time.Second)
	client, err := bridge.Dial(dialCtx, *daemonURL, bridge.ClientOptions{Logger: logger.Named("bridge")})
	dialCancel()
	if err != nil {
		logger.Fatal("failed to reach daemon", zap.Error(err))
	}
	defer client.Close()

	wake := make(chan struct{}, 1)
	client.OnSyncTrigger = func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	}
	go func() {
		if err := client.Run(rootCtx); err != nil && rootCtx.Err() == nil {
			logger.Error("bridge connection lost", zap.Error(err))
			stop()
		}
	}()

	cycle := func() {
		ctx, cancel := context.WithTimeout(rootCtx, *timeout)
		defer cancel()
		if err := reconcile(ctx, client, driveClient, logger); err != nil {
			logger.Warn("reconcile cycle failed", zap.Error(err))
		}
	}

	cycle()
	if *once {
		return
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-rootCtx.Done():
			logger.Info("worker stopping", zap.Error(rootCtx.Err()))
			return
		case <-wake:
			cycle()
		case <-ticker.C:
			cycle()
		}
	}
}

// reconcile pushes every queued sync into its document and clears the ones
// that landed. A failing job stays queued for the next cycle.
func reconcile(ctx context.Context, client *bridge.Client, driveClient drive.Client, logger *zap.Logger) error {
	jobs, err := client.QueuedSyncs(ctx)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return nil
	}
	done := make([]string, 0, len(jobs))
	for _, job := range jobs {
		if err := pushJob(ctx, driveClient, job); err != nil {
			logger.Warn("sync job failed; keeping it queued",
				zap.String("snippetId", job.SnippetID),
				zap.String("gdocFileId", job.GdocFileID),
				zap.Error(err))
			continue
		}
		done = append(done, job.Timestamp)
	}
	logger.Info("reconcile cycle finished",
		zap.Int("jobs", len(jobs)),
		zap.Int("completed", len(done)))
	if len(done) == 0 {
		return nil
	}
	return client.ClearSyncs(ctx, done)
}

func pushJob(ctx context.Context, driveClient drive.Client, job syncqueue.QueuedSync) error {
	_, err := driveClient.UpdateDoc(ctx, job.GdocFileID, job.Content)
	return err
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
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
