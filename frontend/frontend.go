// Package frontend embeds the HTML templates, style sheets and script of the
// web UI.
//
// Static assets are minified once at startup and served from memory.
package frontend

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/js"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Templates parses the page templates. The "layout" template renders a full
// page, "sidebar" the folder list alone.
//
// pathEscape escapes one path segment of a link.
func Templates() (*template.Template, error) {
	return template.New("root").Funcs(template.FuncMap{
		"pathEscape": url.PathEscape,
	}).ParseFS(templateFS, "templates/*.html")
}

// Assets holds minified static files keyed by file name.
type Assets struct {
	files map[string][]byte
}

// NewAssets minifies the embedded static files plus extra, which may add
// generated files or override embedded ones.
func NewAssets(extra map[string][]byte) (*Assets, error) {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	m.AddFunc("application/javascript", js.Minify)

	a := &Assets{files: make(map[string][]byte)}
	err := fs.WalkDir(staticFS, "static", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		raw, err := staticFS.ReadFile(p)
		if err != nil {
			return err
		}
		a.files[path.Base(p)] = minifyFile(m, path.Base(p), raw)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load static files: %w", err)
	}
	for name, raw := range extra {
		a.files[name] = minifyFile(m, name, raw)
	}
	return a, nil
}

func minifyFile(m *minify.M, name string, raw []byte) []byte {
	var mediatype string
	switch strings.ToLower(path.Ext(name)) {
	case ".css":
		mediatype = "text/css"
	case ".js":
		mediatype = "application/javascript"
	default:
		return raw
	}
	out, err := m.Bytes(mediatype, raw)
	if err != nil {
		slog.Warn("Serving unminified asset", "file", name, "err", err)
		return raw
	}
	return out
}

func (a *Assets) get(name string) ([]byte, bool) {
	b, ok := a.files[name]
	return b, ok
}

// ServeHTTP serves the file named by the "file" path value.
func (a *Assets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("file")
	data, ok := a.get(name)
	if !ok {
		http.NotFound(w, r)
		return
	}
	ct := mime.TypeByExtension(path.Ext(name))
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(data)
}
