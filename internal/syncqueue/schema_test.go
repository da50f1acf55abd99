package syncqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSavesValidBatch(t *testing.T) {
	raw := []byte(`[
		{"fileId": "doc-1", "content": "alpha", "timestamp": "2024-03-01T10:00:00.000Z"},
		{"fileId": "", "content": "beta", "timestamp": "2024-03-01T10:00:01.000Z",
		 "storyId": "st1", "snippetId": "s1", "parentFolderId": "f1"}
	]`)
	saves, issues := decodeSaves(raw)
	require.Empty(t, issues)
	require.Len(t, saves, 2)
	assert.Equal(t, "doc-1", saves[0].FileID)
	assert.Equal(t, "s1", saves[1].SnippetID)
	assert.Equal(t, "f1", saves[1].ParentFolderID)
}

func TestDecodeSavesDropsMalformedEntries(t *testing.T) {
	raw := []byte(`[
		{"fileId": "doc-1", "content": "alpha", "timestamp": "2024-03-01T10:00:00.000Z"},
		{"content": "no file id", "timestamp": "2024-03-01T10:00:01.000Z"},
		{"fileId": "doc-2", "content": 42, "timestamp": "2024-03-01T10:00:02.000Z"},
		{"fileId": "doc-3", "content": "ok", "timestamp": ""}
	]`)
	saves, issues := decodeSaves(raw)
	require.Len(t, saves, 1)
	assert.Equal(t, "doc-1", saves[0].FileID)
	require.Len(t, issues, 3)
	assert.Equal(t, 1, issues[0].Index)
	assert.Equal(t, 2, issues[1].Index)
	assert.Equal(t, 3, issues[2].Index)
	for _, issue := range issues {
		assert.NotEmpty(t, issue.Reason)
	}
}

func TestDecodeSavesRejectsPartialSnippetKey(t *testing.T) {
	raw := []byte(`[
		{"snippetId": "s1", "fileId": "", "content": "a",
		 "timestamp": "2024-03-01T10:00:00.000Z"},
		{"snippetId": "s2", "storyId": "st1", "fileId": "", "content": "b",
		 "timestamp": "2024-03-01T10:00:01.000Z"},
		{"snippetId": "s3", "storyId": "st1", "parentFolderId": "f1",
		 "fileId": "", "content": "c", "timestamp": "2024-03-01T10:00:02.000Z"}
	]`)
	saves, issues := decodeSaves(raw)
	require.Len(t, saves, 1)
	assert.Equal(t, "s3", saves[0].SnippetID)
	require.Len(t, issues, 2)
	assert.Equal(t, 0, issues[0].Index)
	assert.Equal(t, 1, issues[1].Index)
}

func TestDecodeSavesCorruptTopLevel(t *testing.T) {
	for _, raw := range []string{`{"a": 1}`, `"string"`, `not json at all`} {
		saves, issues := decodeSaves([]byte(raw))
		assert.Empty(t, saves, "input %q", raw)
		assert.Empty(t, issues, "input %q", raw)
	}
}

func TestDecodeSavesEmptyInput(t *testing.T) {
	saves, issues := decodeSaves(nil)
	assert.Empty(t, saves)
	assert.Empty(t, issues)

	saves, issues = decodeSaves([]byte("  "))
	assert.Empty(t, saves)
	assert.Empty(t, issues)
}

func TestDecodeSyncsRejectsEmptyTarget(t *testing.T) {
	raw := []byte(`[
		{"snippetId": "s1", "content": "a", "gdocFileId": "g1",
		 "parentFolderId": "f1", "timestamp": "2024-03-01T10:00:00.000Z"},
		{"snippetId": "s2", "content": "b", "gdocFileId": "",
		 "parentFolderId": "f1", "timestamp": "2024-03-01T10:00:01.000Z"},
		{"snippetId": "", "content": "c", "gdocFileId": "g3",
		 "parentFolderId": "f1", "timestamp": "2024-03-01T10:00:02.000Z"}
	]`)
	syncs, issues := decodeSyncs(raw)
	require.Len(t, syncs, 1)
	assert.Equal(t, "s1", syncs[0].SnippetID)
	require.Len(t, issues, 2)
}

func TestDecodeSyncsRequiresAllFields(t *testing.T) {
	raw := []byte(`[{"snippetId": "s1", "content": "a", "gdocFileId": "g1"}]`)
	syncs, issues := decodeSyncs(raw)
	assert.Empty(t, syncs)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0].Reason, "timestamp")
}
