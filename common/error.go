// Package common holds the error envelope shared by the queue ops API's
// handlers and middleware.
package common

import "fmt"

// APIError is the wire shape of every failed request: an HTTP status, a
// message, and optional structured fields (validation failures, the
// queue/key pair behind an enqueue conflict).
type APIError struct {
	Status  int            `json:"-"`
	Message string         `json:"error"`
	Fields  map[string]any `json:"fields,omitempty"`
}

func (e APIError) Error() string {
	return e.Message
}

// Errf builds an APIError with a formatted message and no fields.
func Errf(status int, format string, args ...any) APIError {
	return APIError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// NewAPIError builds an APIError carrying structured fields alongside the
// message.
func NewAPIError(status int, message string, fields map[string]any) APIError {
	return APIError{Status: status, Message: message, Fields: fields}
}
