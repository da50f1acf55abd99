package syncqueue

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/LindsayB610/yarny-app-sub005/internal/kv"
)

const (
	// SavesLogKey is the durable-store key holding the save log. The
	// daemon's file watcher resolves it to a path.
	SavesLogKey = "yarny_saves"

	syncsLogKey = "yarny_syncs"
)

var ErrInvalidEntry = errors.New("invalid queue entry")

// SyncStore owns both durable logs. It is constructed once at startup and
// passed by reference to the processor, the bridge, and the HTTP surface;
// it is the sole writer of both logs.
type SyncStore struct {
	kv     kv.Store
	logger *zap.Logger
	mu     sync.Mutex
}

func NewSyncStore(store kv.Store, logger *zap.Logger) *SyncStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncStore{kv: store, logger: logger}
}

// AppendSave validates a save request and appends it to the durable log,
// persisting immediately so it survives a reload or crash.
func (s *SyncStore) AppendSave(entry QueuedSave) error {
	if strings.TrimSpace(entry.Timestamp) == "" {
		return ErrInvalidEntry
	}
	if !entry.actionable() {
		return ErrInvalidEntry
	}
	if entry.SnippetID != "" && (entry.StoryID == "" || entry.ParentFolderID == "") {
		return ErrInvalidEntry
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	saves := s.loadSavesLocked()
	saves = append(saves, entry)
	return s.persistSavesLocked(saves)
}

// SnapshotSaves returns the current valid save entries in log order.
func (s *SyncStore) SnapshotSaves() []QueuedSave {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadSavesLocked()
}

// SaveDepth reports how many save entries are pending.
func (s *SyncStore) SaveDepth() int {
	return len(s.SnapshotSaves())
}

// rewriteSaves replaces the save log with keep plus whatever was appended
// after the snapshot was taken. Appends only ever extend the log, so
// anything past the snapshot length is a mid-drain arrival that must not
// be lost.
func (s *SyncStore) rewriteSaves(snapshotLen int, keep []QueuedSave) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.loadSavesLocked()
	merged := append([]QueuedSave{}, keep...)
	if len(current) > snapshotLen {
		merged = append(merged, current[snapshotLen:]...)
	}
	return s.persistSavesLocked(merged)
}

// QueuedSyncs returns the validated pending sync jobs. Entries failing the
// shape check (including an empty gdocFileId) are purged from the log.
func (s *SyncStore) QueuedSyncs() []QueuedSync {
	s.mu.Lock()
	defer s.mu.Unlock()
	syncs, purged := s.loadSyncsLocked()
	if purged {
		if err := s.persistSyncsLocked(syncs); err != nil {
			s.logger.Warn("failed to persist purged sync queue", zap.Error(err))
		}
	}
	return syncs
}

// UpsertSync merges a sync job into the queue, deduplicating by
// (snippetId, gdocFileId) and keeping the newer timestamp.
func (s *SyncStore) UpsertSync(job QueuedSync) error {
	if job.SnippetID == "" || strings.TrimSpace(job.GdocFileID) == "" {
		return ErrInvalidEntry
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	syncs, _ := s.loadSyncsLocked()
	replaced := false
	for i, existing := range syncs {
		if existing.SnippetID != job.SnippetID || existing.GdocFileID != job.GdocFileID {
			continue
		}
		if job.Timestamp >= existing.Timestamp {
			syncs[i] = job
		}
		replaced = true
		break
	}
	if !replaced {
		syncs = append(syncs, job)
	}
	return s.persistSyncsLocked(syncs)
}

// ClearSyncs removes sync entries whose timestamp matches one of ids and
// persists the remainder. Unknown ids are ignored.
func (s *SyncStore) ClearSyncs(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	clear := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		clear[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	syncs, _ := s.loadSyncsLocked()
	kept := syncs[:0]
	for _, entry := range syncs {
		if _, drop := clear[entry.Timestamp]; drop {
			continue
		}
		kept = append(kept, entry)
	}
	return s.persistSyncsLocked(kept)
}

// SyncDepth reports how many sync jobs are pending.
func (s *SyncStore) SyncDepth() int {
	return len(s.QueuedSyncs())
}

func (s *SyncStore) loadSavesLocked() []QueuedSave {
	raw, err := s.kv.Get(SavesLogKey)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			s.logger.Warn("failed to read save log; treating as empty", zap.Error(err))
		}
		return nil
	}
	saves, issues := decodeSaves(raw)
	for _, issue := range issues {
		s.logger.Warn("dropping malformed save entry",
			zap.Int("index", issue.Index),
			zap.String("reason", issue.Reason))
	}
	return saves
}

func (s *SyncStore) persistSavesLocked(saves []QueuedSave) error {
	if len(saves) == 0 {
		return s.kv.Delete(SavesLogKey)
	}
	data, err := json.Marshal(saves)
	if err != nil {
		return err
	}
	return s.kv.Put(SavesLogKey, data)
}

func (s *SyncStore) loadSyncsLocked() (syncs []QueuedSync, purged bool) {
	raw, err := s.kv.Get(syncsLogKey)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			s.logger.Warn("failed to read sync log; treating as empty", zap.Error(err))
		}
		return nil, false
	}
	syncs, issues := decodeSyncs(raw)
	for _, issue := range issues {
		s.logger.Warn("purging malformed sync entry",
			zap.Int("index", issue.Index),
			zap.String("reason", issue.Reason))
	}
	return syncs, len(issues) > 0
}

func (s *SyncStore) persistSyncsLocked(syncs []QueuedSync) error {
	if len(syncs) == 0 {
		return s.kv.Delete(syncsLogKey)
	}
	data, err := json.Marshal(syncs)
	if err != nil {
		return err
	}
	return s.kv.Put(syncsLogKey, data)
}
