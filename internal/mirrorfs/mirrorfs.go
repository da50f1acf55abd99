// Package mirrorfs exposes the mirror tree as a read-only FUSE mount so a
// writer can browse their backed-up stories with ordinary file tools. The
// mount never writes: the mirror stays daemon-owned and the filesystem
// refuses anything that is not a read.
package mirrorfs

import (
	"fmt"
	"strings"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"

	"github.com/LindsayB610/yarny-app-sub005/internal/mirror"
)

type Mount struct {
	server *fuse.Server
	logger *zap.Logger
	point  string
}

type MountOptions struct {
	Mountpoint string
	Debug      bool
	Logger     *zap.Logger
}

// New mounts the repository's root at the given mountpoint. The repository
// must be enabled; a daemon running without a mirror has nothing to serve.
func New(repo *mirror.Repository, opts MountOptions) (*Mount, error) {
	root := repo.Root()
	if root == "" {
		return nil, fmt.Errorf("mirror is disabled; nothing to mount")
	}
	point := strings.TrimSpace(opts.Mountpoint)
	if point == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	loopback, err := fs.NewLoopbackRoot(root)
	if err != nil {
		return nil, fmt.Errorf("prepare mirror root: %w", err)
	}
	server, err := fs.Mount(point, loopback, &fs.Options{
		MountOptions: fuse.MountOptions{
			FsName:  "yarnymirror",
			Name:    "yarnymirror",
			Debug:   opts.Debug,
			Options: []string{"ro"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mount mirror: %w", err)
	}
	logger.Info("mirror mounted", zap.String("root", root), zap.String("mountpoint", point))
	return &Mount{server: server, logger: logger, point: point}, nil
}

// Wait blocks until the mount is unmounted.
func (m *Mount) Wait() {
	m.server.Wait()
}

// Close unmounts the filesystem.
func (m *Mount) Close() error {
	if err := m.server.Unmount(); err != nil {
		return fmt.Errorf("unmount %s: %w", m.point, err)
	}
	return nil
}
