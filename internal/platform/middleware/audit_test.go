package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/caseflow/caseflow/internal/platform/auth"
)

func TestHTTPMethodToAction(t *testing.T) {
	for method, want := range map[string]string{
		http.MethodGet:    "read",
		http.MethodHead:   "read",
		http.MethodPost:   "create",
		http.MethodPut:    "update",
		http.MethodPatch:  "update",
		http.MethodDelete: "delete",
		"OPTIONS":         "read",
	} {
		if got := httpMethodToAction(method); got != want {
			t.Errorf("httpMethodToAction(%s) = %s, want %s", method, got, want)
		}
	}
}

func TestExtractCaseID(t *testing.T) {
	id := uuid.NewString()
	tests := []struct {
		path string
		want string
	}{
		{"/api/v1/cases/" + id, id},
		{"/api/v1/cases/" + id + "/assign", id},
		{"/api/v1/cases/" + id + "/documents/" + uuid.NewString(), id},
		{"/api/v1/cases", ""},
		{"/api/v1/cases/not-a-uuid/assign", ""},
		{"/api/v1/users/" + id, ""},
	}
	for _, tt := range tests {
		if got := extractCaseID(tt.path); got != tt.want {
			t.Errorf("extractCaseID(%s) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestAuditRecordsEntry(t *testing.T) {
	e := echo.New()
	caseID := uuid.NewString()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cases/"+caseID+"/assign", nil)

	ctx := req.Context()
	ctx = context.WithValue(ctx, auth.UserIDKey, "user-1")
	ctx = context.WithValue(ctx, auth.UserRoleKey, "technician")
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("hospital_id", "mercy_general")
	c.Set("request_id", "req-1")

	var got AccessEntry
	recorder := AccessRecorderFunc(func(entry AccessEntry) error {
		got = entry
		return nil
	})

	h := Audit(zerolog.Nop(), recorder)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}

	if got.UserID != "user-1" || got.UserRole != "technician" {
		t.Errorf("user fields: %+v", got)
	}
	if got.CaseID != caseID {
		t.Errorf("case id = %q, want %q", got.CaseID, caseID)
	}
	if got.Action != "create" || got.HospitalID != "mercy_general" || got.RequestID != "req-1" {
		t.Errorf("entry: %+v", got)
	}
}

func TestAuditSkipsNonAPIPaths(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	called := false
	recorder := AccessRecorderFunc(func(entry AccessEntry) error {
		called = true
		return nil
	})
	h := Audit(zerolog.Nop(), recorder)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if called {
		t.Error("non-API path should not be audited")
	}
}

func TestRequestID(t *testing.T) {
	e := echo.New()

	// Generated when absent.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	h := RequestID()(func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	if err := h(c); err != nil {
		t.Fatal(err)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("request id not generated")
	}

	// Preserved when supplied.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "upstream-id")
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	if err := h(c); err != nil {
		t.Fatal(err)
	}
	if rec.Header().Get("X-Request-ID") != "upstream-id" {
		t.Error("inbound request id not preserved")
	}
}
