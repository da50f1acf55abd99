// Package contentstore owns the fast-path JSON sidecar files in the remote
// document service. Each snippet or note has one hidden sidecar holding its
// current text plus the identity and baseline revision of its
// externally-editable document. Sidecars are the app's source of truth for
// content; the externally-editable representation is reconciled separately.
package contentstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/LindsayB610/yarny-app-sub005/internal/drive"
	"github.com/LindsayB610/yarny-app-sub005/internal/kv"
	"github.com/LindsayB610/yarny-app-sub005/internal/textnorm"
)

// sidecarVersion is the current sidecar content-format version.
const sidecarVersion = 2

var ErrInvalidInput = errors.New("invalid input")

// ContentUnit is one snippet or note as the editor sees it.
type ContentUnit struct {
	ID                      string `json:"id"`
	ParentFolderID          string `json:"parentFolderId"`
	Content                 string `json:"content"`
	UpdatedAt               string `json:"updatedAt"`
	Version                 int    `json:"version"`
	ExternalDocID           string `json:"externalDocId,omitempty"`
	ExternalDocModifiedTime string `json:"externalDocModifiedTime,omitempty"`
}

// sidecarPayload is the JSON persisted inside the sidecar file. Content is
// a pointer so a sidecar missing the field entirely can be told apart from
// an empty snippet.
type sidecarPayload struct {
	Content                 *string `json:"content"`
	ModifiedTime            string  `json:"modifiedTime"`
	Version                 int     `json:"version"`
	ExternalDocID           string  `json:"externalDocId,omitempty"`
	ExternalDocModifiedTime string  `json:"externalDocModifiedTime,omitempty"`
}

// WriteResult reports where the sidecar landed.
type WriteResult struct {
	FileID       string
	ModifiedTime string
}

type Options struct {
	Client   drive.Client
	CacheKV  kv.Store
	CacheTTL time.Duration
	Logger   *zap.Logger
}

type Store struct {
	client drive.Client
	cache  *lookupCache
	logger *zap.Logger
}

func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("drive client is required")
	}
	cacheKV := opts.CacheKV
	if cacheKV == nil {
		cacheKV = kv.NewMemoryStore()
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		client: opts.Client,
		cache:  newLookupCache(cacheKV, ttl),
		logger: logger,
	}, nil
}

// SidecarName derives the hidden file name for a content unit. The leading
// dot keeps sidecars out of folder listings shown to the writer.
func SidecarName(contentID string) string {
	return "." + contentID + ".json"
}

// LocateSidecarFile resolves the sidecar's file id inside its parent
// folder, serving from the TTL cache when possible. ok is false when no
// sidecar exists.
func (s *Store) LocateSidecarFile(ctx context.Context, contentID, parentFolderID string) (fileID string, ok bool, err error) {
	contentID = strings.TrimSpace(contentID)
	parentFolderID = strings.TrimSpace(parentFolderID)
	if contentID == "" || parentFolderID == "" {
		return "", false, ErrInvalidInput
	}
	if cached, hit := s.cache.get(contentID, parentFolderID); hit {
		return cached, true, nil
	}
	files, err := s.client.ListFolder(ctx, parentFolderID)
	if err != nil {
		return "", false, err
	}
	want := SidecarName(contentID)
	for _, file := range files {
		if file.Trashed || file.Name != want {
			continue
		}
		s.cache.put(contentID, parentFolderID, file.ID)
		return file.ID, true, nil
	}
	return "", false, nil
}

// Invalidate drops the cached sidecar id for a content unit. Callers must
// invoke it whenever a sidecar is created, renamed, or deleted outside
// Write.
func (s *Store) Invalidate(contentID, parentFolderID string) {
	s.cache.invalidate(contentID, parentFolderID)
}

// Read loads a content unit from its sidecar. A missing sidecar or a
// corrupt payload returns ok=false without error: a damaged sidecar must
// never block the editor from opening. Remote failures propagate.
func (s *Store) Read(ctx context.Context, contentID, parentFolderID string) (ContentUnit, bool, error) {
	fileID, ok, err := s.LocateSidecarFile(ctx, contentID, parentFolderID)
	if err != nil {
		return ContentUnit{}, false, fmt.Errorf("locate sidecar: %w", err)
	}
	if !ok {
		return ContentUnit{}, false, nil
	}
	file, err := s.client.Read(ctx, fileID)
	if err != nil {
		if errors.Is(err, drive.ErrNotFound) {
			// Stale cache entry; the sidecar was removed out from under us.
			s.cache.invalidate(contentID, parentFolderID)
			return ContentUnit{}, false, nil
		}
		return ContentUnit{}, false, fmt.Errorf("read sidecar: %w", err)
	}
	var payload sidecarPayload
	if err := json.Unmarshal([]byte(file.Content), &payload); err != nil {
		s.logger.Warn("sidecar payload is not valid JSON; treating as absent",
			zap.String("contentId", contentID),
			zap.String("fileId", fileID),
			zap.Error(err))
		return ContentUnit{}, false, nil
	}
	if payload.Content == nil {
		s.logger.Warn("sidecar payload missing content field; treating as absent",
			zap.String("contentId", contentID),
			zap.String("fileId", fileID))
		return ContentUnit{}, false, nil
	}
	return ContentUnit{
		ID:                      contentID,
		ParentFolderID:          parentFolderID,
		Content:                 *payload.Content,
		UpdatedAt:               firstNonEmpty(payload.ModifiedTime, file.ModifiedTime),
		Version:                 payload.Version,
		ExternalDocID:           payload.ExternalDocID,
		ExternalDocModifiedTime: payload.ExternalDocModifiedTime,
	}, true, nil
}

// Write normalizes content and persists it to the content unit's sidecar,
// updating in place when one already exists. Empty external fields keep
// whatever the existing sidecar records, so an ordinary local save never
// clears the linked-document baseline; callers that pass both fields move
// it explicitly. On success the lookup cache points at the written file id.
func (s *Store) Write(ctx context.Context, contentID, content, parentFolderID, externalDocID, externalDocModifiedTime string) (WriteResult, error) {
	contentID = strings.TrimSpace(contentID)
	parentFolderID = strings.TrimSpace(parentFolderID)
	if contentID == "" || parentFolderID == "" {
		return WriteResult{}, ErrInvalidInput
	}
	normalized := textnorm.Normalize(content)
	existingID, _, err := s.LocateSidecarFile(ctx, contentID, parentFolderID)
	if err != nil {
		return WriteResult{}, fmt.Errorf("locate sidecar: %w", err)
	}
	externalDocID = strings.TrimSpace(externalDocID)
	externalDocModifiedTime = strings.TrimSpace(externalDocModifiedTime)
	if existingID != "" && (externalDocID == "" || externalDocModifiedTime == "") {
		if existing, ok := s.readSidecarPayload(ctx, existingID); ok {
			if externalDocID == "" {
				externalDocID = existing.ExternalDocID
			}
			if externalDocModifiedTime == "" {
				externalDocModifiedTime = existing.ExternalDocModifiedTime
			}
		}
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	payload := sidecarPayload{
		Content:                 &normalized,
		ModifiedTime:            now,
		Version:                 sidecarVersion,
		ExternalDocID:           externalDocID,
		ExternalDocModifiedTime: externalDocModifiedTime,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return WriteResult{}, err
	}
	req := drive.WriteRequest{
		FileID:         existingID,
		FileName:       SidecarName(contentID),
		Content:        string(body),
		ParentFolderID: parentFolderID,
		MimeType:       "application/json",
	}
	result, err := s.client.Write(ctx, req)
	if existingID != "" && errors.Is(err, drive.ErrNotFound) {
		// The cached sidecar id points at a file that no longer exists.
		s.cache.invalidate(contentID, parentFolderID)
		req.FileID = ""
		result, err = s.client.Write(ctx, req)
	}
	if err != nil {
		return WriteResult{}, fmt.Errorf("write sidecar: %w", err)
	}
	s.cache.put(contentID, parentFolderID, result.ID)
	return WriteResult{FileID: result.ID, ModifiedTime: result.ModifiedTime}, nil
}

// readSidecarPayload fetches and decodes an existing sidecar. A missing or
// unparseable file reports false; there is nothing to carry forward then.
func (s *Store) readSidecarPayload(ctx context.Context, fileID string) (sidecarPayload, bool) {
	file, err := s.client.Read(ctx, fileID)
	if err != nil {
		return sidecarPayload{}, false
	}
	var payload sidecarPayload
	if err := json.Unmarshal([]byte(file.Content), &payload); err != nil {
		return sidecarPayload{}, false
	}
	return payload, true
}

// ContentDiffers compares two content strings under normalization. This is
// the sanctioned comparison for conflict and no-op-save decisions.
func (s *Store) ContentDiffers(a, b string) bool {
	return textnorm.ContentDiffers(a, b)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
