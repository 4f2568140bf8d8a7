package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/garudex-labs/caracal/internal/authority/apperr"
)

func TestWriteJSONSetsContentTypeAndEncodesBody(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusCreated, map[string]string{"id": "abc"})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["id"] != "abc" {
		t.Fatalf("body[id] = %q, want abc", body["id"])
	}
}

func TestWriteErrorUsesAppErrHTTPStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, apperr.New(apperr.CodeValidation, "bad request"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestWriteErrorDefaultsToInternalServerError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, errPlain("boom"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", bytes.NewBufferString(`{"name":"a","bogus":1}`))
	var dst struct {
		Name string `json:"name"`
	}
	err := decodeJSON(req, &dst)
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	if !strings.Contains(err.Error(), "invalid request body") {
		t.Fatalf("error = %v, want wrapped validation error", err)
	}
}

func TestDecodeJSONPopulatesDestination(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", bytes.NewBufferString(`{"name":"a"}`))
	var dst struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(req, &dst); err != nil {
		t.Fatalf("decodeJSON: %v", err)
	}
	if dst.Name != "a" {
		t.Fatalf("dst.Name = %q, want a", dst.Name)
	}
}

type errPlain string

func (e errPlain) Error() string { return string(e) }
