package mirrorfs

import (
	"testing"

	"go.uber.org/zap"

	"github.com/LindsayB610/yarny-app-sub005/internal/mirror"
)

func TestNewRejectsDisabledMirror(t *testing.T) {
	var repo *mirror.Repository
	if _, err := New(repo, MountOptions{Mountpoint: t.TempDir()}); err == nil {
		t.Fatalf("expected error for disabled mirror")
	}
}

func TestNewRejectsEmptyMountpoint(t *testing.T) {
	repo := mirror.Initialize(t.TempDir(), zap.NewNop())
	if repo == nil {
		t.Skip("mirror root not writable")
	}
	if _, err := New(repo, MountOptions{}); err == nil {
		t.Fatalf("expected error for missing mountpoint")
	}
}
