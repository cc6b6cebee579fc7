package render

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/maruel/mdfolio/internal/content"
	"github.com/maruel/mdfolio/internal/metrics"
)

func doc(folder, name, body string) *content.Document {
	return &content.Document{
		Selection: content.Selection{Folder: folder, Name: name},
		Source:    []byte(body),
		Body:      []byte(body),
		ModTime:   time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
	}
}

func TestRender(t *testing.T) {
	t.Parallel()
	r := New(0, nil)
	tests := []struct {
		name    string
		body    string
		want    []string
		notWant []string
	}{
		{
			name: "heading",
			body: "# Hello",
			want: []string{`<h1 id="hello">Hello</h1>`},
		},
		{
			name: "highlighted fence",
			body: "```go\nfunc main() {}\n```\n",
			want: []string{`class="chroma"`, `class="ln"`, "func"},
		},
		{
			name:    "untagged fence",
			body:    "```\nplain <text>\n```\n",
			want:    []string{"<pre><code>plain &lt;text&gt;\n</code></pre>"},
			notWant: []string{"chroma"},
		},
		{
			name:    "unknown language",
			body:    "```nosuchlang\nx\n```\n",
			want:    []string{"<pre><code"},
			notWant: []string{"chroma"},
		},
		{
			name: "table",
			body: "| a | b |\n|---|---|\n| 1 | 2 |\n",
			want: []string{"<table>", "<td>1</td>"},
		},
		{
			name: "strikethrough and task list",
			body: "~~gone~~\n\n- [x] done\n",
			want: []string{"<del>gone</del>", `type="checkbox"`},
		},
		{
			name: "inline math",
			body: "Euler: $e^{i\\pi}+1=0$\n",
			want: []string{`class="math inline"`},
		},
		{
			name: "display math",
			body: "$$\nx^2\n$$\n",
			want: []string{`class="math display"`},
		},
		{
			name:    "math comparison",
			body:    "inline $a<b$ end\n",
			want:    []string{`<span class="math inline">\(a&lt;b\)</span>`},
			notWant: []string{"a<b"},
		},
		{
			name:    "markup in inline math",
			body:    "x $<img src=x onerror=alert(1)>$ y\n",
			want:    []string{"&lt;img src=x onerror=alert(1)&gt;"},
			notWant: []string{"<img"},
		},
		{
			name:    "markup in display math",
			body:    "$$\n<script>alert(1)</script>\n$$\n",
			want:    []string{`class="math display"`, "&lt;script&gt;"},
			notWant: []string{"<script>"},
		},
		{
			name:    "emoji",
			body:    "ship it :rocket:\n",
			notWant: []string{":rocket:"},
		},
		{
			name: "footnote",
			body: "text[^1]\n\n[^1]: note\n",
			want: []string{`class="footnotes"`},
		},
		{
			name:    "raw html is dropped",
			body:    "<script>alert(1)</script>\n",
			notWant: []string{"<script>"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := r.Render(doc("t", strings.ReplaceAll(tt.name, " ", "-"), tt.body))
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(string(out), w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(string(out), w) {
					t.Errorf("output unexpectedly contains %q:\n%s", w, out)
				}
			}
		})
	}
}

func TestRenderCache(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		t.Fatal(err)
	}
	r := New(time.Minute, m)
	d := doc("go", "intro", "# Hello")
	first, err := r.Render(d)
	if err != nil {
		t.Fatal(err)
	}
	// Same key and modification time: served from cache even though the body
	// differs.
	stale := doc("go", "intro", "# Other")
	got, err := r.Render(stale)
	if err != nil {
		t.Fatal(err)
	}
	if got != first {
		t.Errorf("expected cached output, got %s", got)
	}
	// A newer modification time misses the cache.
	stale.ModTime = stale.ModTime.Add(time.Second)
	got, err = r.Render(stale)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(got), "Other") {
		t.Errorf("expected fresh render, got %s", got)
	}
	if err := testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP mdfolio_render_cache_total Rendered HTML cache lookups
# TYPE mdfolio_render_cache_total counter
mdfolio_render_cache_total{result="hit"} 1
mdfolio_render_cache_total{result="miss"} 2
`), "mdfolio_render_cache_total"); err != nil {
		t.Error(err)
	}
}

func TestRenderBuffer(t *testing.T) {
	t.Parallel()
	r := New(0, nil)
	tests := []struct {
		name string
		buf  content.Buffer
		want string
	}{
		{"placeholder", content.Buffer{}, content.PlaceholderMessage},
		{"not found", content.Buffer{Selection: content.Selection{Folder: "go", Name: "missing"}}, content.NotFoundMessage},
		{
			"document",
			content.Buffer{Selection: content.Selection{Folder: "go", Name: "intro"}, Document: doc("go", "intro", "# Hello"), Found: true},
			"<h1",
		},
	}
	for _, tt := range tests {
		out, err := r.RenderBuffer(tt.buf)
		if err != nil {
			t.Fatalf("%s: RenderBuffer() error = %v", tt.name, err)
		}
		if !strings.Contains(string(out), tt.want) {
			t.Errorf("%s: RenderBuffer() = %s, want it to contain %q", tt.name, out, tt.want)
		}
	}
}

func TestWriteCSS(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if err := WriteCSS(&buf); err != nil {
		t.Fatalf("WriteCSS() error = %v", err)
	}
	for _, want := range []string{".chroma", ".ln"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("CSS missing %q", want)
		}
	}
}
