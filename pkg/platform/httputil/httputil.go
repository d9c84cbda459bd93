// Package httputil writes JSON responses and maps errors onto HTTP status
// codes and stable error codes.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"datachange/pkg/platform/sentinel"
)

// Error codes returned in the "error" field.
const (
	CodeBadRequest   = "bad_request"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeUnavailable  = "service_unavailable"
	CodeInternal     = "internal_error"
)

// Error is an HTTP-facing error with an explicit status and code.
type Error struct {
	Status      int
	Code        string
	Description string
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

func (e *Error) Unwrap() error { return e.Err }

// NewError creates an Error without an underlying cause.
func NewError(status int, code, description string) *Error {
	return &Error{Status: status, Code: code, Description: description}
}

// Wrap attaches status and code to err.
func Wrap(err error, status int, code, description string) *Error {
	return &Error{Status: status, Code: code, Description: description, Err: err}
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteError writes err as {"error", "error_description"}. Internal errors
// never expose a description.
func WriteError(w http.ResponseWriter, err error) {
	status, code, description := classify(err)
	resp := errorResponse{Error: code}
	if status != http.StatusInternalServerError {
		resp.ErrorDescription = description
	}
	WriteJSON(w, status, resp)
}

// StatusOf returns the HTTP status WriteError would use for err.
func StatusOf(err error) int {
	status, _, _ := classify(err)
	return status
}

func classify(err error) (int, string, string) {
	var httpErr *Error
	if errors.As(err, &httpErr) {
		return httpErr.Status, httpErr.Code, httpErr.Description
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return http.StatusNotFound, CodeNotFound, "resource not found"
	case errors.Is(err, sentinel.ErrConflict):
		return http.StatusConflict, CodeConflict, "resource already exists"
	case errors.Is(err, sentinel.ErrUnavailable):
		return http.StatusServiceUnavailable, CodeUnavailable, "dependency unavailable"
	default:
		return http.StatusInternalServerError, CodeInternal, ""
	}
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
