package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/liker0704/telegram-signals-parisng/pkg/domain"
	"github.com/liker0704/telegram-signals-parisng/pkg/domain/signal"
)

// ---------------------------------------------------------------------------
// Generic JSON file store
// ---------------------------------------------------------------------------

// JSONStore provides generic JSON file-based persistence for any serializable type.
// It keeps an in-memory cache and persists to disk on every Put. With an
// empty base directory it is memory-only.
type JSONStore[T any] struct {
	baseDir string
	items   map[domain.EntityID]*T
	mu      sync.RWMutex
}

// NewJSONStore creates a new store rooted at baseDir.
func NewJSONStore[T any](baseDir string) (*JSONStore[T], error) {
	if baseDir != "" {
		if err := os.MkdirAll(baseDir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", baseDir, err)
		}
	}
	return &JSONStore[T]{
		baseDir: baseDir,
		items:   make(map[domain.EntityID]*T),
	}, nil
}

// Load reads all JSON files from the base directory into memory.
func (s *JSONStore[T]) Load() error {
	if s.baseDir == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.baseDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read %s: %w", entry.Name(), err)
		}

		var item T
		if err := json.Unmarshal(data, &item); err != nil {
			return fmt.Errorf("decode %s: %w", entry.Name(), err)
		}

		// Use filename (without .json) as ID
		id := domain.EntityID(entry.Name()[:len(entry.Name())-5])
		s.items[id] = &item
	}

	return nil
}

// Get retrieves a copy of an item by ID.
func (s *JSONStore[T]) Get(id domain.EntityID) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		var zero T
		return zero, false
	}
	return *item, true
}

// Put saves an item to memory and disk. The file is written to a temp name
// and renamed so a crash never leaves a half-written record.
func (s *JSONStore[T]) Put(id domain.EntityID, item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.baseDir != "" {
		data, err := json.MarshalIndent(item, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		path := filepath.Join(s.baseDir, string(id)+".json")
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", tmp, err)
		}
		if err := os.Rename(tmp, path); err != nil {
			return fmt.Errorf("rename %s: %w", tmp, err)
		}
	}

	s.items[id] = &item
	return nil
}

// All returns copies of all items.
func (s *JSONStore[T]) All() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]T, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, *item)
	}
	return out
}

// Count returns the number of stored items.
func (s *JSONStore[T]) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// ---------------------------------------------------------------------------
// FileStore: signal.Store over two JSON stores
// ---------------------------------------------------------------------------

// FileStore implements signal.Store with one JSON file per record. The
// uniqueness indexes are rebuilt from disk on open; every write goes through
// a single mutex so check-and-insert is atomic.
type FileStore struct {
	mu      sync.Mutex
	signals *JSONStore[record]
	updates *JSONStore[record]
	index   map[signal.Kind]map[signal.ThreadID]domain.EntityID
	now     func() time.Time
}

// NewFileStore opens a store under dir. An empty dir keeps everything in memory.
func NewFileStore(dir string) (*FileStore, error) {
	sigDir, updDir := "", ""
	if dir != "" {
		sigDir = filepath.Join(dir, "signals")
		updDir = filepath.Join(dir, "updates")
	}

	signals, err := NewJSONStore[record](sigDir)
	if err != nil {
		return nil, err
	}
	updates, err := NewJSONStore[record](updDir)
	if err != nil {
		return nil, err
	}
	if err := signals.Load(); err != nil {
		return nil, fmt.Errorf("load signals: %w", err)
	}
	if err := updates.Load(); err != nil {
		return nil, fmt.Errorf("load updates: %w", err)
	}

	s := &FileStore{
		signals: signals,
		updates: updates,
		index: map[signal.Kind]map[signal.ThreadID]domain.EntityID{
			signal.KindSignal: {},
			signal.KindUpdate: {},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, r := range signals.All() {
		s.index[signal.KindSignal][r.thread()] = r.ID
	}
	for _, r := range updates.All() {
		s.index[signal.KindUpdate][r.thread()] = r.ID
	}
	return s, nil
}

func (s *FileStore) records(kind signal.Kind) *JSONStore[record] {
	if kind == signal.KindUpdate {
		return s.updates
	}
	return s.signals
}

func (s *FileStore) insert(r record) (domain.EntityID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.index[r.Kind][r.thread()]; dup {
		return "", fmt.Errorf("insert %s %s: %w", r.Kind, r.thread(), signal.ErrDuplicateKey)
	}
	if r.Kind == signal.KindUpdate {
		if _, ok := s.signals.Get(r.ParentID); !ok {
			return "", fmt.Errorf("insert update %s: parent %s: %w", r.thread(), r.ParentID, signal.ErrNotFound)
		}
	}
	if err := s.records(r.Kind).Put(r.ID, r); err != nil {
		return "", fmt.Errorf("insert %s %s: %w", r.Kind, r.thread(), err)
	}
	s.index[r.Kind][r.thread()] = r.ID
	return r.ID, nil
}

// InsertSignal implements signal.Store.
func (s *FileStore) InsertSignal(_ context.Context, sig *signal.Signal) (domain.EntityID, error) {
	defer observe("insert_signal")()
	return s.insert(signalRecord(sig))
}

// InsertUpdate implements signal.Store.
func (s *FileStore) InsertUpdate(_ context.Context, u *signal.Update) (domain.EntityID, error) {
	defer observe("insert_update")()
	return s.insert(updateRecord(u))
}

// FindSignalBySource implements signal.Store.
func (s *FileStore) FindSignalBySource(_ context.Context, chatID, messageID int64) (*signal.Signal, error) {
	defer observe("find_signal")()

	s.mu.Lock()
	id, ok := s.index[signal.KindSignal][signal.ThreadID{ChatID: chatID, MessageID: messageID}]
	s.mu.Unlock()
	if !ok {
		return nil, signal.ErrNotFound
	}
	r, ok := s.signals.Get(id)
	if !ok {
		return nil, signal.ErrNotFound
	}
	return r.toSignal(), nil
}

// Exists implements signal.Store.
func (s *FileStore) Exists(_ context.Context, kind signal.Kind, chatID, messageID int64) (bool, error) {
	if err := validKind(kind); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[kind][signal.ThreadID{ChatID: chatID, MessageID: messageID}]
	return ok, nil
}

// UpdateStatus implements signal.Store.
func (s *FileStore) UpdateStatus(_ context.Context, kind signal.Kind, id domain.EntityID, change signal.StatusChange) error {
	defer observe("update_status")()
	if err := validKind(kind); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	store := s.records(kind)
	r, ok := store.Get(id)
	if !ok {
		return fmt.Errorf("update %s %s: %w", kind, id, signal.ErrNotFound)
	}
	r.apply(change, s.now())
	return store.Put(id, r)
}

// MarkStale implements signal.Store.
func (s *FileStore) MarkStale(_ context.Context, olderThan time.Time, reason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, kind := range []signal.Kind{signal.KindSignal, signal.KindUpdate} {
		store := s.records(kind)
		for _, r := range store.All() {
			if !r.isStale(olderThan) {
				continue
			}
			r.apply(signal.StatusChange{Status: signal.StatusError, FailureReason: reason}, s.now())
			if err := store.Put(r.ID, r); err != nil {
				return n, fmt.Errorf("mark stale %s %s: %w", kind, r.ID, err)
			}
			n++
		}
	}
	return n, nil
}

// Ping implements signal.Store.
func (s *FileStore) Ping(context.Context) error { return nil }

// Close implements signal.Store.
func (s *FileStore) Close() error { return nil }

// Verify interface compliance at compile time.
var _ signal.Store = (*FileStore)(nil)
