package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMux_Healthz(t *testing.T) {
	mux := NewMux(Options{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if got, want := rr.Code, http.StatusOK; got != want {
		t.Fatalf("status = %d, want %d", got, want)
	}
	if got, want := rr.Body.String(), "ok\n"; got != want {
		t.Fatalf("body = %q, want %q", got, want)
	}
}

func TestMux_MergeRequiresPOST(t *testing.T) {
	mux := NewMux(Options{})
	req := httptest.NewRequest(http.MethodGet, "/api/merge", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if got, want := rr.Code, http.StatusMethodNotAllowed; got != want {
		t.Fatalf("status = %d, want %d", got, want)
	}
}
