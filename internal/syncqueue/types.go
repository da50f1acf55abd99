// Package syncqueue holds the durable write queue and its save processor:
// the part of the sync core that guarantees an edit, once queued, is
// eventually persisted to the remote store or kept pending. The queued-sync
// fan-out toward externally-editable documents lives here too, since the
// processor is its only producer and the bridge its only consumer.
package syncqueue

// QueuedSave is one pending persistence request. A snippet save carries
// snippetId, storyId, and parentFolderId and routes to the fast-path
// sidecar store; a whole-document save carries a non-empty fileId and
// routes straight to the remote service. For snippet saves, fileId holds
// the id of the snippet's externally-editable document when one exists.
type QueuedSave struct {
	FileID         string `json:"fileId"`
	Content        string `json:"content"`
	Timestamp      string `json:"timestamp"`
	StoryID        string `json:"storyId,omitempty"`
	SnippetID      string `json:"snippetId,omitempty"`
	FileName       string `json:"fileName,omitempty"`
	MimeType       string `json:"mimeType,omitempty"`
	ParentFolderID string `json:"parentFolderId,omitempty"`
}

// QueuedSync is one pending reconciliation of fast-path content into its
// externally-editable document. Deduplicated by (snippetId, gdocFileId),
// newest timestamp wins.
type QueuedSync struct {
	SnippetID      string `json:"snippetId"`
	Content        string `json:"content"`
	GdocFileID     string `json:"gdocFileId"`
	ParentFolderID string `json:"parentFolderId"`
	Timestamp      string `json:"timestamp"`
}

// dedupeKey groups snippet saves for latest-wins collapsing. Entries
// missing either component are never grouped.
func (e QueuedSave) dedupeKey() (string, bool) {
	if e.StoryID == "" || e.SnippetID == "" {
		return "", false
	}
	return e.StoryID + "\x00" + e.SnippetID, true
}

// actionable reports whether a save names anything to persist.
func (e QueuedSave) actionable() bool {
	return e.SnippetID != "" || e.FileID != ""
}

// isSnippetSave reports whether the entry routes to the sidecar store.
func (e QueuedSave) isSnippetSave() bool {
	return e.SnippetID != "" && e.StoryID != "" && e.ParentFolderID != ""
}
