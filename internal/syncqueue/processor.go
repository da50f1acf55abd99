package syncqueue

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/LindsayB610/yarny-app-sub005/internal/contentstore"
	"github.com/LindsayB610/yarny-app-sub005/internal/drive"
	"github.com/LindsayB610/yarny-app-sub005/internal/mirror"
)

// RetryRegistrar asks the platform to wake the background context when
// connectivity allows. Registration is best effort; a deployment without
// one degrades to drain-on-next-load.
type RetryRegistrar interface {
	RegisterRetry(ctx context.Context) error
}

type ProcessorOptions struct {
	Store     *SyncStore
	Content   *contentstore.Store
	Drive     drive.Client
	Mirror    *mirror.Repository
	Registrar RetryRegistrar
	Logger    *zap.Logger
}

// Processor drains the durable save log: per-key latest-wins dedup, then
// strictly serial persistence. One in-flight write at a time keeps the
// lookup cache coherent and failure attribution unambiguous.
type Processor struct {
	store     *SyncStore
	content   *contentstore.Store
	drive     drive.Client
	mirror    *mirror.Repository
	registrar RetryRegistrar
	logger    *zap.Logger

	drainMu  sync.Mutex
	mirrorWG sync.WaitGroup
}

func NewProcessor(opts ProcessorOptions) (*Processor, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("sync store is required")
	}
	if opts.Content == nil {
		return nil, fmt.Errorf("content store is required")
	}
	if opts.Drive == nil {
		return nil, fmt.Errorf("drive client is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		store:     opts.Store,
		content:   opts.Content,
		drive:     opts.Drive,
		mirror:    opts.Mirror,
		registrar: opts.Registrar,
		logger:    logger,
	}, nil
}

// Drain processes every entry queued at the time of the call. Entries
// appended while a drain is in flight stay queued for the next drain. On
// the first persist failure the failed entry and everything after it stay
// in the log; entries that already succeeded are not resurrected.
func (p *Processor) Drain(ctx context.Context) error {
	p.drainMu.Lock()
	defer p.drainMu.Unlock()

	snapshot := p.store.SnapshotSaves()
	if len(snapshot) == 0 {
		return nil
	}
	batch := p.prepareBatch(snapshot)
	if len(batch) == 0 {
		// Nothing actionable survived dedup and validation.
		return p.store.rewriteSaves(len(snapshot), nil)
	}

	for i, entry := range batch {
		if err := p.processEntry(ctx, entry); err != nil {
			if rewriteErr := p.store.rewriteSaves(len(snapshot), batch[i:]); rewriteErr != nil {
				p.logger.Error("failed to persist remaining save log after drain failure",
					zap.Error(rewriteErr))
			}
			return fmt.Errorf("persist queued save (snippet=%s file=%s): %w", entry.SnippetID, entry.FileID, err)
		}
	}
	return p.store.rewriteSaves(len(snapshot), nil)
}

// prepareBatch collapses snippet saves to the entry with the latest
// timestamp per (storyId, snippetId) and drops entries that name nothing
// to persist. Timestamps are ISO-8601, so lexicographic order is
// chronological order. Survivors keep their original log order.
func (p *Processor) prepareBatch(snapshot []QueuedSave) []QueuedSave {
	type winner struct {
		timestamp string
		index     int
	}
	winners := map[string]winner{}
	for i, entry := range snapshot {
		key, keyed := entry.dedupeKey()
		if !keyed {
			continue
		}
		best, seen := winners[key]
		if !seen || entry.Timestamp >= best.timestamp {
			winners[key] = winner{timestamp: entry.Timestamp, index: i}
		}
	}

	batch := make([]QueuedSave, 0, len(snapshot))
	for i, entry := range snapshot {
		if key, keyed := entry.dedupeKey(); keyed {
			if winners[key].index != i {
				continue
			}
		}
		if !entry.isSnippetSave() && entry.FileID == "" {
			// Schema validation rejects these at decode time; this guards
			// snapshots assembled any other way. Processing one would fail
			// every drain and wedge the entries queued behind it.
			p.logger.Warn("dropping queued save with no usable target",
				zap.String("storyId", entry.StoryID),
				zap.String("snippetId", entry.SnippetID),
				zap.String("timestamp", entry.Timestamp))
			continue
		}
		batch = append(batch, entry)
	}
	return batch
}

func (p *Processor) processEntry(ctx context.Context, entry QueuedSave) error {
	if entry.isSnippetSave() {
		return p.processSnippetSave(ctx, entry)
	}
	return p.processDocumentSave(ctx, entry)
}

func (p *Processor) processSnippetSave(ctx context.Context, entry QueuedSave) error {
	if _, err := p.content.Write(ctx, entry.SnippetID, entry.Content, entry.ParentFolderID, entry.FileID, ""); err != nil {
		return err
	}

	if entry.FileID != "" {
		job := QueuedSync{
			SnippetID:      entry.SnippetID,
			Content:        entry.Content,
			GdocFileID:     entry.FileID,
			ParentFolderID: entry.ParentFolderID,
			Timestamp:      entry.Timestamp,
		}
		if err := p.store.UpsertSync(job); err != nil {
			return fmt.Errorf("queue sync job: %w", err)
		}
		p.requestRetryRegistration(ctx)
	}

	p.mirrorAsync(func() error {
		if err := p.mirror.EnsureStoryStructure(entry.StoryID); err != nil {
			return err
		}
		return p.mirror.WriteSnippet(entry.StoryID, entry.SnippetID, entry.Content)
	}, entry)
	return nil
}

func (p *Processor) processDocumentSave(ctx context.Context, entry QueuedSave) error {
	fileName := entry.FileName
	if fileName == "" {
		fileName = entry.FileID
	}
	_, err := p.drive.Write(ctx, drive.WriteRequest{
		FileID:         entry.FileID,
		FileName:       fileName,
		Content:        entry.Content,
		ParentFolderID: entry.ParentFolderID,
		MimeType:       entry.MimeType,
	})
	if err != nil {
		return err
	}

	if entry.StoryID != "" {
		p.mirrorAsync(func() error {
			if err := p.mirror.EnsureStoryStructure(entry.StoryID); err != nil {
				return err
			}
			return p.mirror.WriteStoryDocument(entry.StoryID, entry.Content)
		}, entry)
	}
	return nil
}

// mirrorAsync runs a mirror write without blocking or failing the save
// path. The mirror is a convenience copy; a revoked storage grant must
// never stall the authoritative persist.
func (p *Processor) mirrorAsync(write func() error, entry QueuedSave) {
	if p.mirror == nil {
		return
	}
	p.mirrorWG.Add(1)
	go func() {
		defer p.mirrorWG.Done()
		if err := write(); err != nil {
			p.logger.Warn("mirror write failed",
				zap.String("storyId", entry.StoryID),
				zap.String("snippetId", entry.SnippetID),
				zap.Error(err))
		}
	}()
}

func (p *Processor) requestRetryRegistration(ctx context.Context) {
	if p.registrar == nil {
		return
	}
	if err := p.registrar.RegisterRetry(ctx); err != nil {
		p.logger.Warn("background retry registration failed", zap.Error(err))
	}
}

// WaitMirror blocks until in-flight mirror writes settle. Tests and
// shutdown use it; the save path never does.
func (p *Processor) WaitMirror() {
	p.mirrorWG.Wait()
}
