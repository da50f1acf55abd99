//go:build linux

package mirror

import (
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// lowSpaceThresholdBytes is the free-space floor below which the mirror
// warns at init. Writes still proceed; the mirror is best-effort either
// way.
const lowSpaceThresholdBytes = 64 << 20

func checkFreeSpace(root string, logger *zap.Logger) {
	var stat unix.Statfs_t
	if err := unix.Statfs(root, &stat); err != nil {
		logger.Warn("mirror free-space probe failed", zap.String("root", root), zap.Error(err))
		return
	}
	free := stat.Bavail * uint64(stat.Bsize)
	if free < lowSpaceThresholdBytes {
		logger.Warn("mirror root is low on disk space",
			zap.String("root", root),
			zap.Uint64("freeBytes", free))
	}
}
