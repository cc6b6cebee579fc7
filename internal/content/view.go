package content

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/maruel/mdfolio/internal/metrics"
)

// Resolver loads the document for a selection.
type Resolver interface {
	Load(ctx context.Context, sel Selection) (*Document, error)
}

// Buffer is what the content area of a session shows.
type Buffer struct {
	Selection Selection
	// Document is set when Found is true.
	Document *Document
	Found    bool
}

// Text returns the markdown shown for the buffer.
func (b Buffer) Text() string {
	switch {
	case b.Selection.IsZero():
		return PlaceholderMessage
	case !b.Found || b.Document == nil:
		return NotFoundMessage
	default:
		return string(b.Document.Body)
	}
}

// View holds the buffer of one session. Selections resolve asynchronously;
// only the result of the latest selection is ever applied, whatever order the
// loads complete in.
type View struct {
	resolver Resolver
	metrics  *metrics.Metrics
	onChange func(Buffer)

	mu       sync.Mutex
	gen      uint64
	selected Selection
	cancel   context.CancelFunc
	buf      Buffer
	closed   bool
	wg       sync.WaitGroup
}

// NewView returns a view showing the placeholder. onChange, when non-nil, is
// called with each applied buffer, in selection order. It must not call back
// into the view.
func NewView(r Resolver, m *metrics.Metrics, onChange func(Buffer)) *View {
	return &View{resolver: r, metrics: m, onChange: onChange}
}

// Select makes sel the current selection and starts resolving it. A pending
// load of a previous selection is canceled and its result discarded.
//
// The zero Selection applies the placeholder immediately without loading.
func (v *View) Select(sel Selection) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.gen++
	gen := v.gen
	v.selected = sel
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	if sel.IsZero() {
		v.applyLocked(Buffer{})
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	v.cancel = cancel
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		defer cancel()
		doc, err := v.resolver.Load(ctx, sel)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Debug("Document not resolved", "sel", sel.Key(), "err", err)
		}
		v.complete(gen, Buffer{Selection: sel, Document: doc, Found: err == nil && doc != nil})
	}()
}

// Reload resolves the latest selection again.
func (v *View) Reload() {
	v.mu.Lock()
	sel := v.selected
	v.mu.Unlock()
	v.Select(sel)
}

// Selected returns the latest selection, which may still be loading.
func (v *View) Selected() Selection {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.selected
}

// Current returns the buffer currently shown.
func (v *View) Current() Buffer {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.buf
}

// Close cancels any pending load and waits for it to return. Later calls to
// Select are ignored.
func (v *View) Close() {
	v.mu.Lock()
	v.closed = true
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	v.mu.Unlock()
	v.wg.Wait()
}

func (v *View) complete(gen uint64, b Buffer) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen || v.closed {
		v.metrics.StaleLoadDiscarded()
		return
	}
	v.cancel = nil
	v.applyLocked(b)
}

func (v *View) applyLocked(b Buffer) {
	v.buf = b
	if v.onChange != nil {
		v.onChange(b)
	}
}
