// Package dto defines the JSON API request and response types.
//
// Request types bind path and query parameters through struct tags, see
// server.Wrap. Response types are what the browser shell and API clients
// decode.
package dto

// Validatable is implemented by request types that can validate their fields.
// Wrap uses this interface as a type constraint so every request type
// provides validation.
type Validatable interface {
	Validate() error
}
