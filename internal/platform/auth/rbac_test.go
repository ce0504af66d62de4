package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextWithRole(role string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := context.WithValue(req.Context(), UserRoleKey, role)
	c := e.NewContext(req.WithContext(ctx), httptest.NewRecorder())
	return c
}

func TestRequireRole(t *testing.T) {
	ok := func(c echo.Context) error { return c.NoContent(http.StatusOK) }
	mw := RequireRole("technician", "scientist")

	tests := []struct {
		role    string
		allowed bool
	}{
		{"technician", true},
		{"scientist", true},
		{"doctor", false},
		{"admin", true},
		{"super", true},
		{"", false},
	}
	for _, tt := range tests {
		err := mw(ok)(contextWithRole(tt.role))
		if tt.allowed && err != nil {
			t.Errorf("role %q: unexpected error %v", tt.role, err)
		}
		if !tt.allowed {
			he, isHTTP := err.(*echo.HTTPError)
			if !isHTTP || he.Code != http.StatusForbidden {
				t.Errorf("role %q: err = %v, want 403", tt.role, err)
			}
		}
	}
}
