// Package httpkit contains small HTTP helpers shared by the API handlers.
package httpkit

import (
	"encoding/json"
	"net/http"

	"renderhub/internal/pkg/errors"
)

// ErrorEnvelope is the JSON shape of every error response.
type ErrorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details,omitempty"`
	} `json:"error"`
}

// DecodeJSON decodes a request body, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// WriteJSON writes a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteErr writes an error envelope with an explicit status and code.
func WriteErr(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	var env ErrorEnvelope
	env.Error.Code = code
	env.Error.Message = msg
	env.Error.Details = details
	WriteJSON(w, status, env)
}

// WriteError writes an error envelope derived from a coded error.
func WriteError(w http.ResponseWriter, err error) {
	WriteErr(w, errors.GetHTTPStatus(err), string(errors.GetCode(err)), err.Error(), errors.GetFields(err))
}
