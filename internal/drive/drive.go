// Package drive talks to the remote document service that holds the
// canonical copies of every story: hidden JSON sidecar files on the fast
// path and externally-editable documents for rich text. The service is an
// opaque file store addressed by file id inside folder id; this package
// only knows its HTTP surface.
package drive

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// HTTPError carries the remote service's structured error payload so
// callers can branch on status.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// FileInfo is one entry of a folder listing.
type FileInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MimeType     string `json:"mimeType"`
	Trashed      bool   `json:"trashed"`
	ModifiedTime string `json:"modifiedTime"`
}

// ListPage is a single page of a folder listing.
type ListPage struct {
	Files         []FileInfo `json:"files"`
	NextPageToken string     `json:"nextPageToken,omitempty"`
}

// FileContent is the payload of a plain file read.
type FileContent struct {
	Content      string `json:"content"`
	ModifiedTime string `json:"modifiedTime"`
}

// WriteRequest creates a file when FileID is empty and updates it
// otherwise.
type WriteRequest struct {
	FileID         string `json:"fileId,omitempty"`
	FileName       string `json:"fileName"`
	Content        string `json:"content"`
	ParentFolderID string `json:"parentFolderId,omitempty"`
	MimeType       string `json:"mimeType,omitempty"`
}

// WriteResult reports the id and revision time assigned by the service.
type WriteResult struct {
	ID           string `json:"id"`
	ModifiedTime string `json:"modifiedTime"`
}

// DocContent is the text projection of an externally-editable document plus
// its revision time, the baseline for conflict checks.
type DocContent struct {
	Content      string `json:"content"`
	ModifiedTime string `json:"modifiedTime"`
}

// Client is the remote document service contract. ListFolder follows
// pagination to completion, bounded by a hard page ceiling.
type Client interface {
	ListFolder(ctx context.Context, folderID string) ([]FileInfo, error)
	Read(ctx context.Context, fileID string) (FileContent, error)
	Write(ctx context.Context, req WriteRequest) (WriteResult, error)
	Delete(ctx context.Context, fileID string) error
	Rename(ctx context.Context, fileID, newName string) error
	ReadDoc(ctx context.Context, docID string) (DocContent, error)
	UpdateDoc(ctx context.Context, docID, content string) (string, error)
}
