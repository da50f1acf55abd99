package mirror

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestInitializeCreatesTopLevelDirectories(t *testing.T) {
	root := t.TempDir()
	repo := Initialize(root, zap.NewNop())
	if repo == nil {
		t.Fatalf("expected repository for writable root")
	}
	for _, dir := range []string{"stories", "index", "exports"} {
		info, err := os.Stat(filepath.Join(root, dir))
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
}

func TestInitializeDeniedReturnsNil(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores permission bits")
	}
	root := filepath.Join(t.TempDir(), "locked")
	if err := os.Mkdir(root, 0o500); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	repo := Initialize(root, zap.NewNop())
	if repo != nil {
		t.Fatalf("expected nil repository for read-only root")
	}
	// A nil repository must swallow every call.
	if err := repo.WriteSnippet("st1", "s1", "content"); err != nil {
		t.Fatalf("nil repository write returned error: %v", err)
	}
	if err := repo.EnsureStoryStructure("st1"); err != nil {
		t.Fatalf("nil repository ensure returned error: %v", err)
	}
}

func TestEnsureStoryStructureIdempotent(t *testing.T) {
	repo := Initialize(t.TempDir(), zap.NewNop())
	if err := repo.EnsureStoryStructure("st1"); err != nil {
		t.Fatalf("first ensure failed: %v", err)
	}
	if err := repo.EnsureStoryStructure("st1"); err != nil {
		t.Fatalf("second ensure failed: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(repo.Root(), "stories", "st1"))
	if err != nil {
		t.Fatalf("read story dir: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 category directories, got %d", len(entries))
	}
}

func TestWriteSnippetCreatesIntermediateDirectories(t *testing.T) {
	repo := Initialize(t.TempDir(), zap.NewNop())
	if err := repo.WriteSnippet("st1", "s1", "Hello world"); err != nil {
		t.Fatalf("write snippet failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(repo.Root(), "stories", "st1", "snippets", "s1.txt"))
	if err != nil {
		t.Fatalf("read back snippet: %v", err)
	}
	if string(data) != "Hello world" {
		t.Fatalf("unexpected snippet content %q", data)
	}
}

func TestWriteLeavesNoTempFile(t *testing.T) {
	repo := Initialize(t.TempDir(), zap.NewNop())
	if err := repo.WriteNoteOrder("st1", []byte(`["n1","n2"]`)); err != nil {
		t.Fatalf("write note order failed: %v", err)
	}
	dir := filepath.Join(repo.Root(), "stories", "st1", "metadata")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read metadata dir: %v", err)
	}
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == ".tmp" {
			t.Fatalf("temp file left behind: %s", entry.Name())
		}
	}
}

func TestDeleteEntryToleratesAbsence(t *testing.T) {
	repo := Initialize(t.TempDir(), zap.NewNop())
	if err := repo.DeleteEntry([]string{"stories", "st1", "snippets", "gone.txt"}, false); err != nil {
		t.Fatalf("expected missing delete target to be swallowed, got %v", err)
	}
	if err := repo.DeleteEntry([]string{"stories", "st-gone"}, true); err != nil {
		t.Fatalf("expected missing recursive delete to be swallowed, got %v", err)
	}
}

func TestDeleteEntryRemovesFile(t *testing.T) {
	repo := Initialize(t.TempDir(), zap.NewNop())
	if err := repo.WriteNote("st1", "n1", "note text"); err != nil {
		t.Fatalf("write note failed: %v", err)
	}
	if err := repo.DeleteEntry([]string{"stories", "st1", "notes", "n1.txt"}, false); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(repo.Root(), "stories", "st1", "notes", "n1.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected note to be removed")
	}
}

func TestPathTraversalRejected(t *testing.T) {
	repo := Initialize(t.TempDir(), zap.NewNop())
	if err := repo.WriteSnippet("../escape", "s1", "x"); err == nil {
		t.Fatalf("expected traversal story id to be rejected")
	}
	if err := repo.WriteAttachment("st1", "../../evil", []byte("x")); err == nil {
		t.Fatalf("expected traversal attachment name to be rejected")
	}
	if err := repo.DeleteEntry([]string{".."}, true); err == nil {
		t.Fatalf("expected traversal delete to be rejected")
	}
}
