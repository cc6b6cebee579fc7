// Package handlers implements the JSON API endpoints.
package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/maruel/mdfolio/internal/content"
	"github.com/maruel/mdfolio/internal/docindex"
	apierrors "github.com/maruel/mdfolio/internal/errors"
	"github.com/maruel/mdfolio/internal/render"
	"github.com/maruel/mdfolio/internal/server/dto"
)

// IndexSource returns the current document index.
type IndexSource interface {
	Current() *docindex.Index
}

// DocsHandler serves the index and rendered documents.
type DocsHandler struct {
	index    IndexSource
	resolver content.Resolver
	renderer *render.Renderer
}

// NewDocsHandler creates a new documents handler.
func NewDocsHandler(index IndexSource, resolver content.Resolver, renderer *render.Renderer) *DocsHandler {
	return &DocsHandler{index: index, resolver: resolver, renderer: renderer}
}

// GetIndex returns the folders and their documents.
func (h *DocsHandler) GetIndex(ctx context.Context, req *dto.IndexRequest) (*dto.IndexResponse, error) {
	folders := []docindex.Folder{}
	if idx := h.index.Current(); idx != nil {
		folders = append(folders, idx.Folders()...)
	}
	return &dto.IndexResponse{Folders: folders}, nil
}

// GetDoc returns one rendered document.
func (h *DocsHandler) GetDoc(ctx context.Context, req *dto.DocRequest) (*dto.DocResponse, error) {
	sel := req.Selection()
	doc, err := h.resolver.Load(ctx, sel)
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			return nil, apierrors.DocumentNotFound(sel.Folder, sel.Name).Wrap(err)
		}
		return nil, apierrors.InternalWithError("Failed to load document", err)
	}
	out, err := h.renderer.Render(doc)
	if err != nil {
		return nil, apierrors.InternalWithError("Failed to render document", err)
	}
	resp := &dto.DocResponse{
		Folder: sel.Folder,
		Name:   sel.Name,
		Title:  doc.Title,
		HTML:   string(out),
	}
	if !doc.ModTime.IsZero() {
		resp.Modified = doc.ModTime.UTC().Format(time.RFC3339)
	}
	return resp, nil
}
