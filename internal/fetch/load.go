package fetch

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// IsURL reports whether ref names an http(s) resource rather than a file.
func IsURL(ref string) bool {
	ref = strings.ToLower(strings.TrimSpace(ref))
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// Load returns the text behind ref: fetched when it is an http(s) URL, read
// from disk otherwise. Relative paths are resolved against baseDir.
//
// Local reads apply the same size and UTF-8 limits as fetches.
func Load(ctx context.Context, kind Kind, ref, baseDir string, opt Options) (string, error) {
	if IsURL(ref) {
		return FetchTextWithOptions(ctx, kind, strings.TrimSpace(ref), opt)
	}
	return ReadFile(kind, ResolvePath(ref, baseDir), opt)
}

// ResolvePath joins a relative ref onto baseDir.
func ResolvePath(ref, baseDir string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || filepath.IsAbs(ref) || baseDir == "" {
		return ref
	}
	return filepath.Join(baseDir, ref)
}

// ReadFile reads a local document under the same limits as a fetch.
func ReadFile(kind Kind, path string, opt Options) (string, error) {
	opt = opt.withDefaults(kind)
	f := failer{stage: "read_" + kind.String(), url: path}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", f.fail(http.StatusBadRequest, "NOT_FOUND", "读取本地文件失败", err)
		}
		return "", f.fail(http.StatusBadGateway, "READ_FAILED", "读取本地文件失败", err)
	}
	defer file.Close()

	return readText(file, opt.MaxBytes, f, "本地文件")
}
