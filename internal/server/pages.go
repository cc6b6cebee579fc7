package server

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/maruel/mdfolio/internal/content"
	"github.com/maruel/mdfolio/internal/docindex"
)

// PageNotFoundMessage is shown for paths that match no route.
const PageNotFoundMessage = "Page not found"

// pageData is the data of the "layout" and "sidebar" templates.
type pageData struct {
	Title    string
	BasePath string
	Version  string
	Folders  []docindex.Folder
	// Active is the folder/name key of the selected document.
	Active   string
	DocTitle string
	Content  template.HTML
}

func (s *Server) newPageData(active string) *pageData {
	d := &pageData{
		Title:    s.cfg.Title,
		BasePath: s.cfg.BasePath,
		Version:  s.cfg.Version,
		Active:   active,
	}
	if idx := s.store.Current(); idx != nil {
		d.Folders = idx.Folders()
	}
	return d
}

func (s *Server) serveHome(w http.ResponseWriter, r *http.Request) {
	s.writeBuffer(w, r, content.Buffer{}, http.StatusOK)
}

func (s *Server) serveDoc(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sel := content.Selection{Folder: r.PathValue("folder"), Name: r.PathValue("file")}
	doc, err := s.resolver.Load(ctx, sel)
	if err != nil {
		if !errors.Is(err, content.ErrNotFound) {
			slog.ErrorContext(ctx, "Failed to load document", "key", sel.Key(), "err", err)
		}
		s.writeBuffer(w, r, content.Buffer{Selection: sel}, http.StatusNotFound)
		return
	}
	s.writeBuffer(w, r, content.Buffer{Selection: sel, Document: doc, Found: true}, http.StatusOK)
}

func (s *Server) serveNotFound(w http.ResponseWriter, r *http.Request) {
	d := s.newPageData("")
	d.Content = template.HTML("<p>" + PageNotFoundMessage + "</p>")
	d.DocTitle = PageNotFoundMessage
	s.writePage(r.Context(), w, d, http.StatusNotFound)
}

func (s *Server) writeBuffer(w http.ResponseWriter, r *http.Request, b content.Buffer, status int) {
	ctx := r.Context()
	d := s.newPageData("")
	if !b.Selection.IsZero() {
		d.Active = b.Selection.Key()
	}
	html, err := s.renderer.RenderBuffer(b)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to render document", "key", b.Selection.Key(), "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	d.Content = html
	if b.Found {
		d.DocTitle = b.Document.Title
	}
	s.writePage(ctx, w, d, status)
}

// writePage renders the layout into a buffer first; a template error yields
// a 500.
func (s *Server) writePage(ctx context.Context, w http.ResponseWriter, d *pageData, status int) {
	var buf bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&buf, "layout", d); err != nil {
		slog.ErrorContext(ctx, "Failed to execute template", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// renderSidebar renders the sidebar alone for live index updates.
func (s *Server) renderSidebar(active string) (string, error) {
	var buf bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&buf, "sidebar", s.newPageData(active)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// reservedFolders are first path segments taken by other routes.
var reservedFolders = map[string]bool{"api": true, "static": true}

// parsePath maps an escaped URL path under the base path to a selection. ok
// is false for paths that are not a page route.
func (s *Server) parsePath(p string) (content.Selection, bool) {
	bp := s.cfg.BasePath
	if bp != "" {
		if p == bp {
			return content.Selection{}, true
		}
		rest, found := strings.CutPrefix(p, bp+"/")
		if !found {
			return content.Selection{}, false
		}
		p = "/" + rest
	}
	sel, ok := content.ParseSelection(p)
	if !ok || sel.IsZero() {
		return sel, ok
	}
	if reservedFolders[sel.Folder] {
		return content.Selection{}, false
	}
	var err error
	if sel.Folder, err = url.PathUnescape(sel.Folder); err != nil {
		return content.Selection{}, false
	}
	if sel.Name, err = url.PathUnescape(sel.Name); err != nil {
		return content.Selection{}, false
	}
	return sel, true
}
