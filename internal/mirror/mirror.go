// Package mirror maintains the on-device backup tree: one subtree per
// story with the story document, per-snippet and per-note text, ordering
// indexes, and attachments. The mirror is a best-effort shadow of the
// remote store. It is never authoritative and is never read back by the
// daemon; a failed mirror write must not disturb the save path.
package mirror

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const (
	storiesDir = "stories"
	indexDir   = "index"
	exportsDir = "exports"

	metadataDir    = "metadata"
	notesDir       = "notes"
	snippetsDir    = "snippets"
	attachmentsDir = "attachments"
)

var ErrInvalidInput = errors.New("invalid input")

// Repository writes mirror artifacts under a granted root directory. A nil
// Repository is valid and ignores every call, which is how a denied or
// revoked storage grant degrades.
type Repository struct {
	root   string
	logger *zap.Logger
	mu     sync.Mutex
}

// Initialize prepares the mirror root, creating the three top-level
// directories. It returns nil when the platform denies access; the denial
// is logged once and all subsequent mirror calls become no-ops.
func Initialize(root string, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	root = strings.TrimSpace(root)
	if root == "" {
		logger.Warn("mirror disabled: no root directory configured")
		return nil
	}
	for _, dir := range []string{storiesDir, indexDir, exportsDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			logger.Warn("mirror disabled: cannot prepare root",
				zap.String("root", root),
				zap.Error(err))
			return nil
		}
	}
	checkFreeSpace(root, logger)
	return &Repository{root: root, logger: logger}
}

// Root returns the mirror root directory, or "" for a disabled repository.
func (r *Repository) Root() string {
	if r == nil {
		return ""
	}
	return r.root
}

// EnsureStoryStructure idempotently creates the per-story subtree.
func (r *Repository) EnsureStoryStructure(storyID string) error {
	if r == nil {
		return nil
	}
	storyID, err := cleanSegment(storyID)
	if err != nil {
		return err
	}
	for _, dir := range []string{metadataDir, notesDir, snippetsDir, attachmentsDir} {
		if err := os.MkdirAll(filepath.Join(r.root, storiesDir, storyID, dir), 0o755); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) WriteSnippet(storyID, snippetID, content string) error {
	return r.writeStoryFile(storyID, snippetsDir, snippetID+".txt", []byte(content))
}

func (r *Repository) WriteNote(storyID, noteID, content string) error {
	return r.writeStoryFile(storyID, notesDir, noteID+".txt", []byte(content))
}

func (r *Repository) WriteStoryDocument(storyID, content string) error {
	return r.writeStoryFile(storyID, metadataDir, "story.json", []byte(content))
}

func (r *Repository) WriteDataJSON(storyID string, data []byte) error {
	return r.writeStoryFile(storyID, metadataDir, "data.json", data)
}

func (r *Repository) WriteProjectJSON(storyID string, data []byte) error {
	return r.writeStoryFile(storyID, metadataDir, "project.json", data)
}

func (r *Repository) WriteGoalJSON(storyID string, data []byte) error {
	return r.writeStoryFile(storyID, metadataDir, "goal.json", data)
}

func (r *Repository) WriteNoteOrder(storyID string, data []byte) error {
	return r.writeStoryFile(storyID, metadataDir, "note-order.json", data)
}

func (r *Repository) WriteAttachment(storyID, name string, data []byte) error {
	return r.writeStoryFile(storyID, attachmentsDir, name, data)
}

func (r *Repository) WriteIndex(name string, data []byte) error {
	if r == nil {
		return nil
	}
	name, err := cleanSegment(name)
	if err != nil {
		return err
	}
	return r.writeAtomic(filepath.Join(r.root, indexDir, name), data)
}

func (r *Repository) WriteExportFile(name string, data []byte) error {
	if r == nil {
		return nil
	}
	name, err := cleanSegment(name)
	if err != nil {
		return err
	}
	return r.writeAtomic(filepath.Join(r.root, exportsDir, name), data)
}

// DeleteEntry removes a file or directory under the mirror root. A missing
// target is already-satisfied: logged at warn level, not an error.
func (r *Repository) DeleteEntry(pathSegments []string, recursive bool) error {
	if r == nil {
		return nil
	}
	if len(pathSegments) == 0 {
		return ErrInvalidInput
	}
	cleaned := make([]string, 0, len(pathSegments)+1)
	cleaned = append(cleaned, r.root)
	for _, segment := range pathSegments {
		segment, err := cleanSegment(segment)
		if err != nil {
			return err
		}
		cleaned = append(cleaned, segment)
	}
	target := filepath.Join(cleaned...)
	var err error
	if recursive {
		err = os.RemoveAll(target)
	} else {
		err = os.Remove(target)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("mirror delete target already absent",
				zap.String("path", target))
			return nil
		}
		return err
	}
	return nil
}

func (r *Repository) writeStoryFile(storyID, category, name string, data []byte) error {
	if r == nil {
		return nil
	}
	storyID, err := cleanSegment(storyID)
	if err != nil {
		return err
	}
	name, err = cleanSegment(name)
	if err != nil {
		return err
	}
	return r.writeAtomic(filepath.Join(r.root, storiesDir, storyID, category, name), data)
}

// writeAtomic writes the full payload to a temp file and renames it into
// place, creating intermediate directories on demand. A crash mid-write
// leaves either the old file or nothing, never a torn file.
func (r *Repository) writeAtomic(path string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func cleanSegment(segment string) (string, error) {
	segment = strings.TrimSpace(segment)
	if segment == "" || segment == "." || segment == ".." || strings.ContainsAny(segment, `/\`) {
		return "", ErrInvalidInput
	}
	return segment, nil
}
