package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_LocalRelativeToBaseDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("proxies: []\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := Load(context.Background(), KindFragment, "a.yaml", dir, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "proxies: []\n" {
		t.Fatalf("got=%q", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(context.Background(), KindBase, "nope.yaml", t.TempDir(), Options{})
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %T: %v", err, err)
	}
	if fe.AppError.Code != "NOT_FOUND" {
		t.Fatalf("code=%q, want=%q", fe.AppError.Code, "NOT_FOUND")
	}
	if fe.AppError.Stage != "read_base" {
		t.Fatalf("stage=%q, want=%q", fe.AppError.Stage, "read_base")
	}
}

func TestLoad_URLSendsUserAgent(t *testing.T) {
	var ua string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("ok"))
	}))
	defer ts.Close()

	got, err := Load(context.Background(), KindFragment, ts.URL, "/ignored", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Fatalf("got=%q, want=%q", got, "ok")
	}
	if ua != DefaultUserAgent {
		t.Fatalf("user-agent=%q, want=%q", ua, DefaultUserAgent)
	}
}

func TestLoad_LocalTooLarge(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "big"), make([]byte, 64), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Load(context.Background(), KindNodes, "big", dir, Options{MaxBytes: 10})
	var fe *FetchError
	if !errors.As(err, &fe) || fe.AppError.Code != "TOO_LARGE" {
		t.Fatalf("expected TOO_LARGE, got %T: %v", err, err)
	}
}
