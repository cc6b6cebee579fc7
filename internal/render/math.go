package render

import (
	"bytes"

	mathjax "github.com/litao91/goldmark-mathjax"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

// mathRenderer renders math nodes with the TeX source HTML escaped. The
// browser decodes the entities before MathJax reads the text.
type mathRenderer struct{}

// escapedMath replaces the math node renderers of mathjax.MathJax.
var escapedMath goldmark.Extender = &mathRenderer{}

func (m *mathRenderer) Extend(md goldmark.Markdown) {
	// Lower values register last and win over the extension's 501 and 502.
	md.Renderer().AddOptions(renderer.WithNodeRenderers(
		util.Prioritized(m, 500),
	))
}

func (m *mathRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(mathjax.KindInlineMath, m.renderInline)
	reg.Register(mathjax.KindMathBlock, m.renderBlock)
}

func (m *mathRenderer) renderInline(w util.BufWriter, source []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		_, _ = w.WriteString(`\)</span>`)
		return ast.WalkContinue, nil
	}
	_, _ = w.WriteString(`<span class="math inline">\(`)
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		t, ok := c.(*ast.Text)
		if !ok {
			continue
		}
		value := t.Segment.Value(source)
		if v, found := bytes.CutSuffix(value, []byte("\n")); found {
			_, _ = w.Write(util.EscapeHTML(v))
			if c != n.LastChild() {
				_ = w.WriteByte(' ')
			}
			continue
		}
		_, _ = w.Write(util.EscapeHTML(value))
	}
	return ast.WalkSkipChildren, nil
}

func (m *mathRenderer) renderBlock(w util.BufWriter, source []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		_, _ = w.WriteString("\\]</span></p>\n")
		return ast.WalkContinue, nil
	}
	_, _ = w.WriteString(`<p><span class="math display">\[`)
	lines := n.Lines()
	for i := range lines.Len() {
		line := lines.At(i)
		_, _ = w.Write(util.EscapeHTML(line.Value(source)))
	}
	return ast.WalkContinue, nil
}
