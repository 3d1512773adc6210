// Package responders writes the server's JSON responses.
package responders

import (
	"encoding/json"
	"net/http"
)

const contentTypeJSON = "application/json; charset=utf-8"

// JSON encodes payload with status. Object keys and titles are written without
// HTML escaping. A nil payload writes headers only.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

// NoStore is JSON for responses that carry payment client secrets or session
// state; shared caches and the browser must not keep them.
func NoStore(w http.ResponseWriter, status int, payload any) {
	h := w.Header()
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
	JSON(w, status, payload)
}
