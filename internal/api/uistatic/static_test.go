package uistatic

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerServesFormForRoutes(t *testing.T) {
	h := Handler()
	for _, target := range []string{"/", "/index.html", "/history"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", target, rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "/v1/ask") {
			t.Fatalf("%s: body does not look like the form page", target)
		}
		if got := rr.Header().Get("Cache-Control"); got != "no-cache" {
			t.Fatalf("%s: Cache-Control = %q", target, got)
		}
	}
}

func TestHandlerReturnsNotFoundForMissingAssets(t *testing.T) {
	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/favicon.ico", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}
