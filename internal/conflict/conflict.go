// Package conflict decides whether an externally-editable document has
// diverged from the snippet's sidecar baseline, and applies the writer's
// resolution. The baseline is the document revision recorded in the
// sidecar at the last reconciliation; the document is in conflict when its
// current revision is strictly newer than that baseline and its text
// actually differs.
package conflict

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/LindsayB610/yarny-app-sub005/internal/contentstore"
	"github.com/LindsayB610/yarny-app-sub005/internal/drive"
)

// Resolution is the writer's decision for a detected conflict.
type Resolution int

const (
	// Cancel leaves both sides untouched.
	Cancel Resolution = iota
	// KeepLocal overwrites the document with the snippet's content.
	KeepLocal
	// UseRemote adopts the document's content into the sidecar.
	UseRemote
)

// Conflict carries both sides so the editor can present a choice.
type Conflict struct {
	SnippetID            string
	ParentFolderID       string
	ExternalDocID        string
	LocalContent         string
	RemoteContent        string
	BaselineModifiedTime string
	RemoteModifiedTime   string
}

type Detector struct {
	content *contentstore.Store
	drive   drive.Client
	logger  *zap.Logger
}

func NewDetector(content *contentstore.Store, client drive.Client, logger *zap.Logger) (*Detector, error) {
	if content == nil {
		return nil, fmt.Errorf("content store is required")
	}
	if client == nil {
		return nil, fmt.Errorf("drive client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{content: content, drive: client, logger: logger}, nil
}

// Check inspects one snippet's externally-editable document. It returns
// nil when the snippet has no linked document, when the document revision
// is at or behind the recorded baseline, or when the texts match under
// normalization.
func (d *Detector) Check(ctx context.Context, snippetID, parentFolderID string) (*Conflict, error) {
	unit, ok, err := d.content.Read(ctx, snippetID, parentFolderID)
	if err != nil {
		return nil, fmt.Errorf("read snippet: %w", err)
	}
	if !ok || unit.ExternalDocID == "" {
		return nil, nil
	}
	doc, err := d.drive.ReadDoc(ctx, unit.ExternalDocID)
	if err != nil {
		if errors.Is(err, drive.ErrNotFound) {
			// The document was deleted remotely; nothing to reconcile.
			return nil, nil
		}
		return nil, fmt.Errorf("read document: %w", err)
	}
	if !remoteIsNewer(unit.ExternalDocModifiedTime, doc.ModifiedTime, d.logger) {
		return nil, nil
	}
	if !d.content.ContentDiffers(unit.Content, doc.Content) {
		return nil, nil
	}
	return &Conflict{
		SnippetID:            snippetID,
		ParentFolderID:       parentFolderID,
		ExternalDocID:        unit.ExternalDocID,
		LocalContent:         unit.Content,
		RemoteContent:        doc.Content,
		BaselineModifiedTime: unit.ExternalDocModifiedTime,
		RemoteModifiedTime:   doc.ModifiedTime,
	}, nil
}

// Resolve applies the writer's decision. KeepLocal pushes the snippet text
// into the document and records the resulting revision as the new
// baseline; UseRemote adopts the document text and revision into the
// sidecar; Cancel does nothing.
func (d *Detector) Resolve(ctx context.Context, c *Conflict, choice Resolution) error {
	if c == nil {
		return fmt.Errorf("no conflict to resolve")
	}
	switch choice {
	case Cancel:
		return nil
	case KeepLocal:
		modified, err := d.drive.UpdateDoc(ctx, c.ExternalDocID, c.LocalContent)
		if err != nil {
			return fmt.Errorf("overwrite document: %w", err)
		}
		_, err = d.content.Write(ctx, c.SnippetID, c.LocalContent, c.ParentFolderID, c.ExternalDocID, modified)
		if err != nil {
			return fmt.Errorf("advance baseline: %w", err)
		}
		return nil
	case UseRemote:
		_, err := d.content.Write(ctx, c.SnippetID, c.RemoteContent, c.ParentFolderID, c.ExternalDocID, c.RemoteModifiedTime)
		if err != nil {
			return fmt.Errorf("adopt remote content: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown resolution %d", choice)
	}
}

// remoteIsNewer compares the document revision against the baseline.
// Equal revisions are not a conflict. A revision that cannot be parsed is
// treated as newer: an unreadable timestamp must surface the conflict
// rather than silently overwrite someone's edits.
func remoteIsNewer(baseline, remote string, logger *zap.Logger) bool {
	remote = strings.TrimSpace(remote)
	if remote == "" {
		return false
	}
	remoteTime, err := time.Parse(time.RFC3339, remote)
	if err != nil {
		logger.Warn("unparseable document revision; assuming conflict",
			zap.String("modifiedTime", remote),
			zap.Error(err))
		return true
	}
	baseline = strings.TrimSpace(baseline)
	if baseline == "" {
		return true
	}
	baselineTime, err := time.Parse(time.RFC3339, baseline)
	if err != nil {
		logger.Warn("unparseable baseline revision; assuming conflict",
			zap.String("modifiedTime", baseline),
			zap.Error(err))
		return true
	}
	return remoteTime.After(baselineTime)
}
