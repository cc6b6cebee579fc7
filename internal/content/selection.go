// Package content resolves a (folder, file) selection to a markdown document
// and tracks the document shown by a live session.
package content

import (
	"errors"
	"fmt"
	"strings"
)

// Fixed texts shown in the content area.
const (
	NotFoundMessage    = "Markdown file not found"
	PlaceholderMessage = "Select a markdown file from the sidebar"
)

var (
	// ErrNotFound is wrapped by every resolution failure.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidSegment is returned for a folder or file name that cannot be
	// a document route.
	ErrInvalidSegment = errors.New("invalid path segment")
)

// Selection is the (folder, file) pair extracted from a route. The zero value
// means nothing is selected.
type Selection struct {
	Folder string
	Name   string
}

// Key returns "folder/name".
func (s Selection) Key() string {
	return s.Folder + "/" + s.Name
}

// IsZero reports whether nothing is selected.
func (s Selection) IsZero() bool {
	return s.Folder == "" && s.Name == ""
}

// Path returns the route path of the selection, "/" for the zero value.
func (s Selection) Path() string {
	if s.IsZero() {
		return "/"
	}
	return "/" + s.Key()
}

// Validate checks both segments.
func (s Selection) Validate() error {
	if err := ValidateSegment(s.Folder); err != nil {
		return fmt.Errorf("folder: %w", err)
	}
	if err := ValidateSegment(s.Name); err != nil {
		return fmt.Errorf("file: %w", err)
	}
	return nil
}

// ValidateSegment rejects names that are empty, hidden, or would escape the
// folder they are joined into.
func ValidateSegment(seg string) error {
	switch {
	case seg == "":
		return fmt.Errorf("%w: empty", ErrInvalidSegment)
	case strings.HasPrefix(seg, "."):
		return fmt.Errorf("%w: %q", ErrInvalidSegment, seg)
	case strings.ContainsAny(seg, "/\\\x00"):
		return fmt.Errorf("%w: %q", ErrInvalidSegment, seg)
	}
	return nil
}

// ParseSelection extracts the selection from a route path relative to the
// base path. "/" returns the zero Selection. ok is false when the path is
// neither "/" nor exactly two segments.
func ParseSelection(p string) (sel Selection, ok bool) {
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return Selection{}, true
	}
	folder, name, found := strings.Cut(p, "/")
	if !found || folder == "" || name == "" || strings.Contains(name, "/") {
		return Selection{}, false
	}
	return Selection{Folder: folder, Name: name}, true
}
