//go:build !linux

package mirror

import "go.uber.org/zap"

func checkFreeSpace(root string, logger *zap.Logger) {}
