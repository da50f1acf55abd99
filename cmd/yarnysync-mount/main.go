// Command yarnysync-mount serves the daemon's mirror tree as a read-only
// FUSE filesystem so backed-up stories can be browsed with ordinary file
// tools.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/LindsayB610/yarny-app-sub005/internal/mirror"
	"github.com/LindsayB610/yarny-app-sub005/internal/mirrorfs"
)

func main() {
	_ = godotenv.Load()

	mirrorDir := flag.String("mirror-dir", strings.TrimSpace(os.Getenv("YARNYSYNC_MIRROR_DIR")), "mirror root directory")
	mountpoint := flag.String("mountpoint", strings.TrimSpace(os.Getenv("YARNYSYNC_MOUNTPOINT")), "where to mount the mirror")
	debug := flag.Bool("debug", false, "log FUSE traffic")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if *mirrorDir == "" {
		logger.Fatal("mirror-dir is required (--mirror-dir or YARNYSYNC_MIRROR_DIR)")
	}
	if *mountpoint == "" {
		logger.Fatal("mountpoint is required (--mountpoint or YARNYSYNC_MOUNTPOINT)")
	}

	repo := mirror.Initialize(*mirrorDir, logger.Named("mirror"))
	if repo == nil {
		logger.Fatal("mirror directory is not usable", zap.String("dir", *mirrorDir))
	}

	mount, err := mirrorfs.New(repo, mirrorfs.MountOptions{
		Mountpoint: *mountpoint,
		Debug:      *debug,
		Logger:     logger.Named("fuse"),
	})
	if err != nil {
		logger.Fatal("failed to mount mirror", zap.Error(err))
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-rootCtx.Done()
		if err := mount.Close(); err != nil {
			logger.Warn("unmount failed", zap.Error(err))
		}
	}()

	mount.Wait()
}
