// Package client implements the note-taking session core: the category
// forest with cycle-safe mutations and the note lifecycle (provisional ids,
// dirty tracking, lazy hydration, autosave-on-switch) against the HTTP API.
package client

import "fmt"

// ValidationError reports bad input (empty name, missing id). No retry will
// help until the input changes.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NotFoundError reports a missing or not-owned entity.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// AuthError reports a missing, invalid, or expired token. The API client
// discards its token when one occurs, forcing re-authentication.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth failed (%d): %s", e.StatusCode, e.Message)
}

// ConflictError reports a duplicate unique key.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// ServerError reports an unexpected server-side failure.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
}
