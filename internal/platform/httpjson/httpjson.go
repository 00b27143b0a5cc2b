// Package httpjson provides JSON request decoding and response writing
// helpers shared by the HTTP handlers of all three services.
package httpjson

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/datarivers-io/alohomora/internal/platform/errors"
)

const maxBodyBytes = 1 << 20

// Decode reads a JSON request body into target.
func Decode(r *http.Request, target any) error {
	if r.Body == nil {
		return errors.New(errors.CodeValidation, "no JSON data provided")
	}
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		return errors.Newf(errors.CodeValidation, "invalid JSON body: %v", err)
	}
	return nil
}

// Write encodes payload as JSON with the given status code.
func Write(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("write json response: %v", err)
	}
}

// ErrorBody is the wire shape of every error response.
type ErrorBody struct {
	Error string      `json:"error"`
	Code  errors.Code `json:"code,omitempty"`
}

// WriteError maps a domain error onto its HTTP status and writes the error
// body. Uncoded errors become opaque 500s so internal details do not leak.
func WriteError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	message := err.Error()
	if code == errors.CodeUnknown {
		message = "internal error"
	}
	Write(w, code.HTTPStatus(), ErrorBody{Error: message, Code: code})
}

// MissingField returns the standard error for an absent required field.
func MissingField(name string) error {
	return errors.Newf(errors.CodeMissingField, "missing required field: %s", name)
}
