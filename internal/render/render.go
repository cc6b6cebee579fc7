// Package render converts markdown documents to HTML fragments.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"strconv"
	"time"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/styles"
	mathjax "github.com/litao91/goldmark-mathjax"
	"github.com/patrickmn/go-cache"
	"github.com/yuin/goldmark"
	emoji "github.com/yuin/goldmark-emoji"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	"github.com/maruel/mdfolio/internal/content"
	"github.com/maruel/mdfolio/internal/metrics"
)

// Style is the chroma style used for code blocks.
const Style = "monokai"

// Cache durations.
const (
	DefaultTTL      = 10 * time.Minute
	cleanupInterval = 20 * time.Minute
)

func formatOptions() []chromahtml.Option {
	return []chromahtml.Option{
		chromahtml.WithClasses(true),
		chromahtml.WithLineNumbers(true),
	}
}

// NewMarkdown returns the goldmark converter: GFM, footnotes, emoji, math and
// highlighted code fences. Raw HTML in the source is not passed through.
func NewMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Footnote,
			emoji.Emoji,
			mathjax.MathJax,
			escapedMath,
			highlighting.NewHighlighting(
				highlighting.WithStyle(Style),
				highlighting.WithFormatOptions(formatOptions()...),
			),
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
}

// Renderer renders documents and caches the result.
type Renderer struct {
	md      goldmark.Markdown
	cache   *cache.Cache
	metrics *metrics.Metrics
}

// New returns a renderer whose cache entries expire after ttl. A zero ttl
// uses DefaultTTL.
func New(ttl time.Duration, m *metrics.Metrics) *Renderer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Renderer{
		md:      NewMarkdown(),
		cache:   cache.New(ttl, cleanupInterval),
		metrics: m,
	}
}

// Render returns the HTML of doc's body. Results are cached per document
// and modification time.
func (r *Renderer) Render(doc *content.Document) (template.HTML, error) {
	key := cacheKey(doc)
	if v, ok := r.cache.Get(key); ok {
		r.metrics.RenderCache(true)
		return v.(template.HTML), nil
	}
	r.metrics.RenderCache(false)
	out, err := r.convert(doc.Body)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", doc.Selection.Key(), err)
	}
	r.cache.SetDefault(key, out)
	return out, nil
}

// RenderBuffer renders what a content area shows: the document, or the
// placeholder and not found texts.
func (r *Renderer) RenderBuffer(b content.Buffer) (template.HTML, error) {
	if b.Found && b.Document != nil {
		return r.Render(b.Document)
	}
	return r.convert([]byte(b.Text()))
}

func (r *Renderer) convert(src []byte) (template.HTML, error) {
	var buf bytes.Buffer
	if err := r.md.Convert(src, &buf); err != nil {
		return "", err
	}
	// Raw HTML is disabled and math is escaped, so the output is safe to embed.
	return template.HTML(buf.String()), nil
}

func cacheKey(doc *content.Document) string {
	return doc.Selection.Key() + "@" + strconv.FormatInt(doc.ModTime.UnixNano(), 10) + "#" + strconv.Itoa(len(doc.Source))
}

// WriteCSS writes the style sheet matching the classes emitted for code
// blocks.
func WriteCSS(w io.Writer) error {
	style := styles.Get(Style)
	return chromahtml.New(formatOptions()...).WriteCSS(w, style)
}
