// Package watch detects out-of-band edits to library documents and
// marks the affected topics stale. Writes performed by the orchestrator
// itself are suppressed by content hash so a publish doesn't invalidate
// its own documents.
package watch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/c360studio/speccorpus/corpus"
)

const eventChannelBuffer = 128

// Op indicates the type of file operation observed.
type Op string

const (
	OpModify Op = "modify"
	OpRemove Op = "remove"
)

// Event is an out-of-band change to a library document.
type Event struct {
	// FileName is the document file name without extension.
	FileName string
	// Path is the absolute file path.
	Path string
	// Op is the kind of change.
	Op Op
}

// TopicResolver maps a document file name back to its topic.
type TopicResolver interface {
	TopicByFileName(name string) (*corpus.Topic, bool)
}

// StatusStore transitions topic lifecycle status.
type StatusStore interface {
	SetStatus(ctx context.Context, id string, status corpus.Status) error
}

// Config configures the document watcher.
type Config struct {
	// DebounceDelay is how long to wait for more changes before
	// processing. Zero uses 500ms.
	DebounceDelay time.Duration
}

func (c Config) debounce() time.Duration {
	if c.DebounceDelay <= 0 {
		return 500 * time.Millisecond
	}
	return c.DebounceDelay
}

// Watcher observes the library specs directory and emits debounced
// events for edited documents.
type Watcher struct {
	config   Config
	specsDir string
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	// Debouncing: collect changes before processing
	pendingMu sync.Mutex
	pending   map[string]Op

	// Known content hashes, used to ignore the orchestrator's own writes.
	hashMu sync.RWMutex
	hashes map[string]string

	events chan Event
}

// NewWatcher creates a watcher over the given specs directory.
func NewWatcher(config Config, specsDir string, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		config:   config,
		specsDir: specsDir,
		watcher:  fsw,
		logger:   logger,
		pending:  make(map[string]Op),
		hashes:   make(map[string]string),
		events:   make(chan Event, eventChannelBuffer),
	}, nil
}

// Events returns the channel of debounced document events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// SetHash records the expected content hash for a file. Subsequent
// modify events whose content matches are treated as the orchestrator's
// own writes and dropped.
func (w *Watcher) SetHash(fileName, hash string) {
	w.hashMu.Lock()
	defer w.hashMu.Unlock()
	w.hashes[fileName] = hash
}

// HashContent returns the hash of rendered document content, the form
// SetHash expects.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Start begins watching the specs directory. The events channel is
// closed when the context is cancelled or the watcher is stopped.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.specsDir, 0755); err != nil {
		return err
	}
	if err := w.watcher.Add(w.specsDir); err != nil {
		return err
	}

	go w.processEvents(ctx)

	w.logger.Info("document watcher started",
		slog.String("specs_dir", w.specsDir),
		slog.Duration("debounce", w.config.debounce()))
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.events)
	ticker := time.NewTicker(w.config.debounce())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			w.flushPending()
		}
	}
}

func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	if strings.ToLower(filepath.Ext(event.Name)) != ".md" {
		return
	}

	var op Op
	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		op = OpRemove
	case event.Has(fsnotify.Write) || event.Has(fsnotify.Create):
		op = OpModify
	default:
		return
	}

	w.pendingMu.Lock()
	// Remove wins over modify within one debounce window.
	if existing, ok := w.pending[event.Name]; !ok || existing != OpRemove {
		w.pending[event.Name] = op
	}
	w.pendingMu.Unlock()
}

func (w *Watcher) flushPending() {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	batch := w.pending
	w.pending = make(map[string]Op)
	w.pendingMu.Unlock()

	for path, op := range batch {
		name := strings.TrimSuffix(filepath.Base(path), ".md")

		if op == OpModify && w.isOwnWrite(name, path) {
			continue
		}

		ev := Event{FileName: name, Path: path, Op: op}
		select {
		case w.events <- ev:
		default:
			w.logger.Warn("event channel full, dropping event",
				slog.String("file", name))
		}
	}
}

// isOwnWrite reports whether the file's current content matches the
// hash the orchestrator recorded when it last wrote the document.
func (w *Watcher) isOwnWrite(name, path string) bool {
	w.hashMu.RLock()
	want, ok := w.hashes[name]
	w.hashMu.RUnlock()
	if !ok {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return HashContent(data) == want
}

// MarkStale consumes watcher events and transitions the affected topics
// to stale. It returns when the events channel closes or the context is
// cancelled. Topics already stale, or not in a published or validated
// state, are left alone.
func MarkStale(ctx context.Context, events <-chan Event, resolver TopicResolver, statuses StatusStore, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			topic, found := resolver.TopicByFileName(ev.FileName)
			if !found {
				logger.Debug("edited file has no registered topic",
					slog.String("file", ev.FileName))
				continue
			}
			if !corpus.CanTransition(topic.Status, corpus.StatusStale) {
				continue
			}
			if err := statuses.SetStatus(ctx, topic.ID, corpus.StatusStale); err != nil {
				logger.Warn("failed to mark topic stale",
					slog.String("topic_id", topic.ID),
					slog.String("error", err.Error()))
				continue
			}
			logger.Info("topic marked stale after out-of-band edit",
				slog.String("topic_id", topic.ID),
				slog.String("op", string(ev.Op)))
		}
	}
}
