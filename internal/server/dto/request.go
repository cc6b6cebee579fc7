package dto

import (
	"github.com/maruel/mdfolio/internal/content"
	apierrors "github.com/maruel/mdfolio/internal/errors"
)

// HealthRequest is a request to check server health.
type HealthRequest struct{}

// Validate validates the health request.
func (r *HealthRequest) Validate() error {
	return nil
}

// IndexRequest is a request for the document index.
type IndexRequest struct{}

// Validate validates the index request.
func (r *IndexRequest) Validate() error {
	return nil
}

// DocRequest is a request for one rendered document.
type DocRequest struct {
	Folder string `path:"folder"`
	File   string `path:"file"`
}

// Validate checks both segments.
func (r *DocRequest) Validate() error {
	if r.Folder == "" {
		return apierrors.MissingField("folder")
	}
	if r.File == "" {
		return apierrors.MissingField("file")
	}
	if err := r.Selection().Validate(); err != nil {
		return apierrors.BadRequest(err.Error()).Wrap(err)
	}
	return nil
}

// Selection returns the requested (folder, file) pair.
func (r *DocRequest) Selection() content.Selection {
	return content.Selection{Folder: r.Folder, Name: r.File}
}
