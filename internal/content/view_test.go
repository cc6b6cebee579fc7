package content

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/goleak"

	"github.com/maruel/mdfolio/internal/metrics"
)

// gatedResolver blocks each load until its selection is released. It ignores
// cancellation so that completion order is fully controlled by the test.
type gatedResolver struct {
	mu      sync.Mutex
	gates   map[string]chan struct{}
	started chan string
}

func newGatedResolver(keys ...string) *gatedResolver {
	g := &gatedResolver{gates: make(map[string]chan struct{}), started: make(chan string, 16)}
	for _, k := range keys {
		g.gates[k] = make(chan struct{})
	}
	return g
}

func (g *gatedResolver) Load(ctx context.Context, sel Selection) (*Document, error) {
	g.mu.Lock()
	gate := g.gates[sel.Key()]
	g.mu.Unlock()
	g.started <- sel.Key()
	if gate != nil {
		<-gate
	}
	if sel.Name == "missing" {
		return nil, ErrNotFound
	}
	return &Document{Selection: sel, Body: []byte("# " + sel.Key())}, nil
}

func (g *gatedResolver) release(key string) {
	close(g.gates[key])
}

func (g *gatedResolver) waitStarted(t *testing.T, n int) {
	t.Helper()
	for range n {
		select {
		case <-g.started:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for load to start")
		}
	}
}

// recorder collects buffers passed to onChange.
type recorder struct {
	mu   sync.Mutex
	bufs []Buffer
	ch   chan Buffer
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Buffer, 16)}
}

func (r *recorder) onChange(b Buffer) {
	r.mu.Lock()
	r.bufs = append(r.bufs, b)
	r.mu.Unlock()
	r.ch <- b
}

func (r *recorder) next(t *testing.T) Buffer {
	t.Helper()
	select {
	case b := <-r.ch:
		return b
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for buffer")
		return Buffer{}
	}
}

func (r *recorder) all() []Buffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Buffer(nil), r.bufs...)
}

func TestViewLatestSelectionWins(t *testing.T) {
	defer goleak.VerifyNone(t)
	for _, order := range [][]string{{"a/x", "b/y"}, {"b/y", "a/x"}} {
		t.Run(order[0]+" first", func(t *testing.T) {
			reg := prometheus.NewRegistry()
			m, err := metrics.New(reg)
			if err != nil {
				t.Fatal(err)
			}
			g := newGatedResolver("a/x", "b/y")
			rec := newRecorder()
			v := NewView(g, m, rec.onChange)

			v.Select(Selection{"a", "x"})
			v.Select(Selection{"b", "y"})
			g.waitStarted(t, 2)
			for _, k := range order {
				g.release(k)
			}
			if b := rec.next(t); b.Selection != (Selection{"b", "y"}) {
				t.Fatalf("applied %s, want b/y", b.Selection.Key())
			}
			// Close waits for the a/x load, which must be discarded.
			v.Close()

			got := v.Current()
			if got.Selection != (Selection{"b", "y"}) || !got.Found {
				t.Fatalf("Current() = %+v, want b/y found", got)
			}
			if got.Text() != "# b/y" {
				t.Errorf("Text() = %q", got.Text())
			}
			bufs := rec.all()
			if len(bufs) != 1 || bufs[0].Selection.Key() != "b/y" {
				t.Errorf("onChange calls = %+v, want only b/y", bufs)
			}
			if n := counterValue(t, reg, "mdfolio_stale_loads_discarded_total", ""); n != 1 {
				t.Errorf("stale loads discarded = %v, want 1", n)
			}
		})
	}
}

func TestViewNotFoundReplacesContent(t *testing.T) {
	defer goleak.VerifyNone(t)
	g := newGatedResolver()
	rec := newRecorder()
	v := NewView(g, nil, rec.onChange)
	defer v.Close()

	v.Select(Selection{"go", "intro"})
	if b := rec.next(t); !b.Found || b.Text() != "# go/intro" {
		t.Fatalf("first buffer = %+v", b)
	}
	v.Select(Selection{"go", "missing"})
	b := rec.next(t)
	if b.Found || b.Document != nil {
		t.Errorf("buffer = %+v, want not found", b)
	}
	if b.Text() != NotFoundMessage {
		t.Errorf("Text() = %q, want %q", b.Text(), NotFoundMessage)
	}
}

func TestViewPlaceholder(t *testing.T) {
	defer goleak.VerifyNone(t)
	g := newGatedResolver("go/intro")
	rec := newRecorder()
	v := NewView(g, nil, rec.onChange)

	if got := v.Current().Text(); got != PlaceholderMessage {
		t.Errorf("initial Text() = %q, want placeholder", got)
	}
	v.Select(Selection{"go", "intro"})
	g.waitStarted(t, 1)
	// Going home while the load is pending shows the placeholder at once and
	// drops the pending load.
	v.Select(Selection{})
	if b := rec.next(t); !b.Selection.IsZero() || b.Text() != PlaceholderMessage {
		t.Errorf("buffer = %+v, want placeholder", b)
	}
	g.release("go/intro")
	v.Close()
	if got := v.Current(); !got.Selection.IsZero() {
		t.Errorf("Current() = %+v, want placeholder", got)
	}
	select {
	case k := <-g.started:
		t.Errorf("unexpected load of %s", k)
	default:
	}
}

func TestViewReload(t *testing.T) {
	defer goleak.VerifyNone(t)
	g := newGatedResolver()
	rec := newRecorder()
	v := NewView(g, nil, rec.onChange)
	defer v.Close()

	v.Select(Selection{"go", "intro"})
	rec.next(t)
	v.Reload()
	if b := rec.next(t); b.Selection != (Selection{"go", "intro"}) {
		t.Errorf("reloaded buffer = %+v", b)
	}
	if got := v.Selected(); got != (Selection{"go", "intro"}) {
		t.Errorf("Selected() = %+v", got)
	}
}

func TestViewCloseCancelsPending(t *testing.T) {
	defer goleak.VerifyNone(t)
	started := make(chan struct{})
	r := resolverFunc(func(ctx context.Context, sel Selection) (*Document, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	rec := newRecorder()
	v := NewView(r, nil, rec.onChange)
	v.Select(Selection{"go", "slow"})
	<-started
	v.Close()
	v.Select(Selection{"go", "after"})
	if bufs := rec.all(); len(bufs) != 0 {
		t.Errorf("onChange called after close: %+v", bufs)
	}
}

type resolverFunc func(ctx context.Context, sel Selection) (*Document, error)

func (f resolverFunc) Load(ctx context.Context, sel Selection) (*Document, error) {
	return f(ctx, sel)
}
