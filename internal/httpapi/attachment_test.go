package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestOutputFileName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", "config.yaml"},
		{"my mihomo", "my mihomo.yaml"},
		{"home.yml", "home.yml"},
	}
	for _, tc := range cases {
		got, err := outputFileName(tc.in)
		if err != nil {
			t.Fatalf("outputFileName(%q): unexpected error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("outputFileName(%q)=%q, want=%q", tc.in, got, tc.want)
		}
	}
}

func TestOutputFileName_Rejects(t *testing.T) {
	for _, in := range []string{"a/b", `a\b`, "a\nb", strings.Repeat("x", 201)} {
		_, err := outputFileName(in)
		var ae *APIError
		if !errors.As(err, &ae) {
			t.Fatalf("outputFileName(%q): expected *APIError, got %T: %v", in, err, err)
		}
		if ae.Status != http.StatusBadRequest {
			t.Fatalf("status=%d, want=%d", ae.Status, http.StatusBadRequest)
		}
	}
}

func TestContentDispositionAttachment_UTF8(t *testing.T) {
	got := contentDispositionAttachment("配置 1.yaml")
	want := `attachment; filename="配置 1.yaml"; filename*=UTF-8''%E9%85%8D%E7%BD%AE%201.yaml`
	if got != want {
		t.Fatalf("got=%q, want=%q", got, want)
	}
}
