package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newSanitizeEcho(logs *bytes.Buffer) *echo.Echo {
	e := echo.New()
	e.Use(Sanitize(zerolog.New(logs)))
	ok := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	e.GET("/*", ok)
	e.POST("/*", ok)
	return e
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header map[string]string
		want   int
	}{
		{"clean request", "/api/v1/followups/123/history?limit=5", nil, http.StatusOK},
		{"negative number query", "/api/v1/followups?offset=-1", nil, http.StatusOK},
		{"path traversal", "/../../etc/passwd", nil, http.StatusBadRequest},
		{"encoded traversal", "/api/v1/%2e%2e/secret", nil, http.StatusBadRequest},
		{"null byte in query", "/api/v1/followups?mrn=12%00", nil, http.StatusBadRequest},
		{"script in query", "/api/v1/followups?mrn=%3Cscript%3E", nil, http.StatusBadRequest},
		{"formula in query", "/api/v1/followups?mrn=%3DHYPERLINK(1)", nil, http.StatusBadRequest},
		{"formula in path", "/api/v1/followups/%2BSUM(A1)", nil, http.StatusBadRequest},
		{"oversized header", "/api/v1/followups", map[string]string{"X-Big": strings.Repeat("a", maxHeaderValueSize+1)}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			e := newSanitizeEcho(&logs)
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d (%s)", tt.want, rec.Code, rec.Body.String())
			}
			if tt.want == http.StatusBadRequest && !strings.Contains(logs.String(), "request rejected") {
				t.Errorf("expected a warning log, got %q", logs.String())
			}
		})
	}
}

func TestIsFormula(t *testing.T) {
	tests := map[string]bool{
		"=1+1":    true,
		" +A1":    true,
		"@SUM(1)": true,
		"123":     false,
		"-5":      false,
		"":        false,
	}
	for in, want := range tests {
		if got := isFormula(in); got != want {
			t.Errorf("isFormula(%q) = %v, want %v", in, got, want)
		}
	}
}
