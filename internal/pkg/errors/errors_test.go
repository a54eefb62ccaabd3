package errors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
)

func TestWriteError(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, http.StatusBadRequest, ErrCodeInvalidInput, "url is invalid", FieldDetails("url", "must be an absolute http or https URL"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body struct {
		Error   string            `json:"error"`
		Message string            `json:"message"`
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error != "Bad Request" || body.Code != ErrCodeInvalidInput {
		t.Errorf("unexpected envelope: %+v", body)
	}
	if body.Details["field"] != "url" {
		t.Errorf("details.field = %q, want url", body.Details["field"])
	}
}

func TestWriteError_OmitsEmptyDetails(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, http.StatusNotFound, ErrCodeNotFound, "webhook not found", nil)

	var raw map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if _, ok := raw["details"]; ok {
		t.Error("details should be omitted when nil")
	}
}
