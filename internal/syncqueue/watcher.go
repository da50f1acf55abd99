package syncqueue

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher triggers a drain when the save log file changes on disk. The
// editor process appends saves out-of-process, so the daemon cannot rely
// on its own AppendSave calls alone. Events are debounced: a burst of
// appends during fast typing collapses into one drain.
type Watcher struct {
	logPath  string
	debounce time.Duration
	trigger  func()
	logger   *zap.Logger
	fsw      *fsnotify.Watcher
}

func NewWatcher(logPath string, debounce time.Duration, trigger func(), logger *zap.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: the log is replaced by rename, and
	// a rename drops a file-level watch.
	if err := fsw.Add(filepath.Dir(logPath)); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return &Watcher{
		logPath:  logPath,
		debounce: debounce,
		trigger:  trigger,
		logger:   logger,
		fsw:      fsw,
	}, nil
}

// Run blocks until ctx is done, firing the trigger after each debounced
// burst of log changes.
func (w *Watcher) Run(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.logPath) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("save log watcher error", zap.Error(err))
		case <-timerC:
			timer = nil
			timerC = nil
			w.trigger()
		}
	}
}

func (w *Watcher) Close() error {
	return w.fsw.Close()
}
