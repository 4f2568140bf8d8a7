package main

import (
	"encoding/json"
	"net/http"

	"github.com/garudex-labs/caracal/internal/authority/apperr"
)

// writeJSON encodes v as the response body at status, matching the
// teacher's handler style of one small helper rather than a response
// middleware.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError translates err into a structured JSON body and the HTTP
// status apperr.Error carries, defaulting to 500 for anything else.
func writeError(w http.ResponseWriter, err error) {
	if appErr, ok := err.(*apperr.Error); ok {
		writeJSON(w, appErr.HTTPStatus, appErr)
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"code":    "internal_error",
		"message": err.Error(),
	})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Wrap(apperr.CodeValidation, "invalid request body", err)
	}
	return nil
}
