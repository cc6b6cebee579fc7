package docindex

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/maruel/mdfolio/internal/metrics"
)

// BuildFunc produces a fresh index, typically by walking the asset root.
type BuildFunc func() (*Index, error)

// Store holds the current index. Readers never block; Rebuild replaces the
// index wholesale.
type Store struct {
	build   BuildFunc
	metrics *metrics.Metrics
	current atomic.Pointer[Index]

	// rebuildMu serializes rebuilds so an older scan never replaces a newer.
	rebuildMu sync.Mutex

	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

// NewStore builds the initial index and returns the store.
func NewStore(build BuildFunc, m *metrics.Metrics) (*Store, error) {
	s := &Store{build: build, metrics: m, subs: make(map[chan struct{}]struct{})}
	if err := s.Rebuild(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Current returns the latest index snapshot.
func (s *Store) Current() *Index {
	return s.current.Load()
}

// Rebuild recomputes the index from scratch and notifies subscribers. On
// error the previous index stays current.
func (s *Store) Rebuild(ctx context.Context) error {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()
	idx, err := s.build()
	if err != nil {
		return err
	}
	s.current.Store(idx)
	s.metrics.IndexRebuilt(idx.Len())
	slog.DebugContext(ctx, "Index rebuilt", "folders", len(idx.Folders()), "documents", idx.Len())

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		// Coalesce: a pending notification is enough.
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel signaled after each rebuild and a function to
// unsubscribe.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
	}
}
