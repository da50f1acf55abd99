package syncqueue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Queue entries cross a serialization boundary (the editor appends them,
// possibly from an older build), so their shape is checked with explicit
// JSON Schemas instead of ad hoc field sniffing. Invalid entries are
// reported per entry and never abort the batch.

// A save must either carry the full snippet key (snippetId, storyId,
// parentFolderId) or name a standalone file; anything else has no route
// through the drain and would wedge everything queued behind it.
const queuedSaveSchemaJSON = `{
	"type": "object",
	"required": ["fileId", "content", "timestamp"],
	"properties": {
		"fileId": {"type": "string"},
		"content": {"type": "string"},
		"timestamp": {"type": "string", "minLength": 1},
		"storyId": {"type": "string"},
		"snippetId": {"type": "string"},
		"fileName": {"type": "string"},
		"mimeType": {"type": "string"},
		"parentFolderId": {"type": "string"}
	},
	"anyOf": [
		{
			"required": ["snippetId", "storyId", "parentFolderId"],
			"properties": {
				"snippetId": {"minLength": 1},
				"storyId": {"minLength": 1},
				"parentFolderId": {"minLength": 1}
			}
		},
		{
			"properties": {"fileId": {"minLength": 1}}
		}
	]
}`

const queuedSyncSchemaJSON = `{
	"type": "object",
	"required": ["snippetId", "content", "gdocFileId", "parentFolderId", "timestamp"],
	"properties": {
		"snippetId": {"type": "string", "minLength": 1},
		"content": {"type": "string"},
		"gdocFileId": {"type": "string", "minLength": 1},
		"parentFolderId": {"type": "string"},
		"timestamp": {"type": "string", "minLength": 1}
	}
}`

var (
	queuedSaveSchema = mustCompileSchema("queued_save.json", queuedSaveSchemaJSON)
	queuedSyncSchema = mustCompileSchema("queued_sync.json", queuedSyncSchemaJSON)
)

func mustCompileSchema(name, doc string) *jsonschema.Schema {
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(doc))
	if err != nil {
		panic(fmt.Sprintf("parse schema %s: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, parsed); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", name, err))
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return schema
}

// ValidationIssue describes one rejected queue entry.
type ValidationIssue struct {
	Index  int
	Reason string
}

// decodeSaves parses the durable save log. A corrupt or non-array
// top-level value yields an empty batch; individual entries failing the
// schema are returned as issues alongside the valid remainder.
func decodeSaves(raw []byte) ([]QueuedSave, []ValidationIssue) {
	elements, ok := splitLogArray(raw)
	if !ok {
		return nil, nil
	}
	valid := make([]QueuedSave, 0, len(elements))
	var issues []ValidationIssue
	for i, element := range elements {
		if reason := validateAgainst(queuedSaveSchema, element); reason != "" {
			issues = append(issues, ValidationIssue{Index: i, Reason: reason})
			continue
		}
		var entry QueuedSave
		if err := json.Unmarshal(element, &entry); err != nil {
			issues = append(issues, ValidationIssue{Index: i, Reason: err.Error()})
			continue
		}
		valid = append(valid, entry)
	}
	return valid, issues
}

// decodeSyncs parses the durable sync log under the same rules; entries
// with an empty gdocFileId fail the schema and are purged by the caller's
// rewrite.
func decodeSyncs(raw []byte) ([]QueuedSync, []ValidationIssue) {
	elements, ok := splitLogArray(raw)
	if !ok {
		return nil, nil
	}
	valid := make([]QueuedSync, 0, len(elements))
	var issues []ValidationIssue
	for i, element := range elements {
		if reason := validateAgainst(queuedSyncSchema, element); reason != "" {
			issues = append(issues, ValidationIssue{Index: i, Reason: reason})
			continue
		}
		var entry QueuedSync
		if err := json.Unmarshal(element, &entry); err != nil {
			issues = append(issues, ValidationIssue{Index: i, Reason: err.Error()})
			continue
		}
		valid = append(valid, entry)
	}
	return valid, issues
}

func splitLogArray(raw []byte) ([]json.RawMessage, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, true
	}
	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil, false
	}
	return elements, true
}

func validateAgainst(schema *jsonschema.Schema, element json.RawMessage) string {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(element))
	if err != nil {
		return err.Error()
	}
	if err := schema.Validate(instance); err != nil {
		return err.Error()
	}
	return ""
}
