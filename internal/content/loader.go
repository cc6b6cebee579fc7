package content

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/adrg/frontmatter"

	"github.com/maruel/mdfolio/internal/docindex"
	"github.com/maruel/mdfolio/internal/metrics"
)

// Document is a resolved markdown document.
type Document struct {
	Selection Selection
	// Source is the file content as stored.
	Source []byte
	// Body is Source without front matter.
	Body []byte
	// Title comes from front matter or the first level one heading.
	Title   string
	ModTime time.Time
}

type frontMatter struct {
	Title string `yaml:"title" toml:"title" json:"title"`
}

// IndexFunc returns the current document index. It may return nil.
type IndexFunc func() *docindex.Index

// Loader reads documents from an asset root.
type Loader struct {
	fsys    fs.FS
	index   IndexFunc
	metrics *metrics.Metrics
}

// NewLoader returns a loader reading from fsys. When index is non-nil,
// documents are resolved through it so files nested deeper than one folder
// level stay reachable.
func NewLoader(fsys fs.FS, index IndexFunc, m *metrics.Metrics) *Loader {
	return &Loader{fsys: fsys, index: index, metrics: m}
}

// Load resolves sel to a document. Every failure wraps ErrNotFound.
func (l *Loader) Load(ctx context.Context, sel Selection) (*Document, error) {
	start := time.Now()
	doc, err := l.load(ctx, sel)
	l.metrics.DocumentLoaded(err == nil, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotFound, sel.Key(), err)
	}
	return doc, nil
}

func (l *Loader) load(ctx context.Context, sel Selection) (*Document, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := l.assetPath(sel)
	fi, err := fs.Stat(l.fsys, p)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%s is a directory", p)
	}
	src, err := fs.ReadFile(l.fsys, p)
	if err != nil {
		return nil, err
	}
	// The reader may have been superseded while blocked on I/O.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc := &Document{Selection: sel, Source: src, Body: src, ModTime: fi.ModTime()}
	var meta frontMatter
	body, err := frontmatter.Parse(bytes.NewReader(src), &meta)
	if err != nil {
		slog.WarnContext(ctx, "Ignoring malformed front matter", "path", p, "err", err)
	} else {
		doc.Body = body
	}
	doc.Title = meta.Title
	if doc.Title == "" {
		doc.Title = firstHeading(doc.Body)
	}
	if doc.Title == "" {
		doc.Title = sel.Name
	}
	return doc, nil
}

func (l *Loader) assetPath(sel Selection) string {
	if l.index != nil {
		if p, ok := l.index().Lookup(sel.Folder, sel.Name); ok {
			return p
		}
	}
	return path.Join(sel.Folder, sel.Name+docindex.Ext)
}

// firstHeading returns the text of the first ATX level one heading outside a
// code fence.
func firstHeading(body []byte) string {
	inFence := false
	for line := range strings.Lines(string(body)) {
		line = strings.TrimRight(line, "\r\n")
		trimmed := strings.TrimLeft(line, " ")
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if rest, ok := strings.CutPrefix(trimmed, "# "); ok {
			return strings.TrimSpace(strings.TrimRight(rest, "#"))
		}
	}
	return ""
}
