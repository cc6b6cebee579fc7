package dto

import (
	"github.com/maruel/mdfolio/internal/docindex"
	apierrors "github.com/maruel/mdfolio/internal/errors"
)

// HealthResponse is the response to a health check.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// IndexResponse lists folders and their documents in sidebar order.
type IndexResponse struct {
	Folders []docindex.Folder `json:"folders"`
}

// DocResponse is a rendered document.
type DocResponse struct {
	Folder string `json:"folder"`
	Name   string `json:"name"`
	Title  string `json:"title"`
	HTML   string `json:"html"`
	// Modified is RFC3339, empty when unknown.
	Modified string `json:"modified,omitempty"`
}

// ErrorDetails is the error object of an error response.
type ErrorDetails struct {
	Code    apierrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
}

// ErrorResponse is the body of every API error.
type ErrorResponse struct {
	Error   ErrorDetails   `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}
