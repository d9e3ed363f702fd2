// Package httputil provides JSON response helpers shared by HTTP handlers.
package httputil

import (
	"encoding/json"
	"net/http"

	pkgerrors "github.com/whatnewads/safeshift-sub018/pkg/errors"
)

// WriteJSON serializes v as the response body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps an application error to an HTTP status and JSON body.
// Internal errors omit the description so infrastructure details never
// leak to the client.
func WriteError(w http.ResponseWriter, err error) {
	code := pkgerrors.CodeOf(err)
	status := pkgerrors.ToHTTPStatus(code)

	body := map[string]string{"error": string(code)}
	if code != pkgerrors.CodeInternal {
		if appErr := pkgerrors.AsAppError(err); appErr != nil && appErr.Message != "" {
			body["error_description"] = appErr.Message
		}
	}
	WriteJSON(w, status, body)
}
