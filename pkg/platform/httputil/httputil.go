package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Error is an API error with the status and code it is rendered with.
type Error struct {
	Status      int
	Code        string
	Description string
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

func BadRequest(description string) *Error {
	return &Error{Status: http.StatusBadRequest, Code: "bad_request", Description: description}
}

func Conflict(code, description string) *Error {
	return &Error{Status: http.StatusConflict, Code: code, Description: description}
}

func BadGateway(description string) *Error {
	return &Error{Status: http.StatusBadGateway, Code: "upstream_error", Description: description}
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders err as {"error": code, "error_description": ...}.
// Anything that is not an *Error is an internal error, and server-side
// errors never carry a description.
func WriteError(w http.ResponseWriter, err error) {
	apiErr := &Error{Status: http.StatusInternalServerError, Code: "internal_error"}
	var target *Error
	if errors.As(err, &target) {
		apiErr = target
	}

	body := map[string]string{"error": apiErr.Code}
	if apiErr.Status < http.StatusInternalServerError && apiErr.Description != "" {
		body["error_description"] = apiErr.Description
	}
	WriteJSON(w, apiErr.Status, body)
}
