package validator

import (
	"errors"
	"testing"
)

type sample struct {
	Name   string   `json:"name" validate:"required,min=1,max=10"`
	URL    string   `json:"url" validate:"required,http_url"`
	Events []string `json:"events" validate:"required,min=1,dive,oneof=a b"`
}

func TestStruct(t *testing.T) {
	tests := []struct {
		name      string
		in        sample
		wantField string
	}{
		{"valid", sample{Name: "ok", URL: "https://example.com/hook", Events: []string{"a"}}, ""},
		{"missing name", sample{URL: "https://example.com", Events: []string{"a"}}, "name"},
		{"long name", sample{Name: "abcdefghijkl", URL: "https://example.com", Events: []string{"a"}}, "name"},
		{"relative url", sample{Name: "ok", URL: "/hook", Events: []string{"a"}}, "url"},
		{"ftp url", sample{Name: "ok", URL: "ftp://example.com", Events: []string{"a"}}, "url"},
		{"empty events", sample{Name: "ok", URL: "https://example.com", Events: []string{}}, "events"},
		{"unknown event", sample{Name: "ok", URL: "https://example.com", Events: []string{"a", "c"}}, "events[1]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(tt.in)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Struct() error = %v, want nil", err)
				}
				return
			}

			var fe *FieldError
			if !errors.As(err, &fe) {
				t.Fatalf("Struct() error = %v, want *FieldError", err)
			}
			if fe.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", fe.Field, tt.wantField)
			}
			if fe.Reason == "" {
				t.Error("Reason should not be empty")
			}
		})
	}
}

func TestVar(t *testing.T) {
	if err := Var("hostname", "links.example.com", "required,fqdn"); err != nil {
		t.Errorf("Var() valid hostname error = %v", err)
	}

	err := Var("hostname", "not a host", "required,fqdn")
	var fe *FieldError
	if !errors.As(err, &fe) || fe.Field != "hostname" {
		t.Errorf("Var() error = %v, want FieldError on hostname", err)
	}
}
