package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/John-Robertt/submerge/internal/compiler"
	"github.com/John-Robertt/submerge/internal/fetch"
	"github.com/John-Robertt/submerge/internal/model"
	"github.com/John-Robertt/submerge/internal/profile"
	"github.com/John-Robertt/submerge/internal/render"
)

type buildResult struct {
	manifest *profile.Manifest
	base     string
	doc      *model.Document
	out      []byte
}

// build runs the whole pipeline for the manifest at ref.
func build(ctx context.Context, ref string, fetchTimeout time.Duration) (*buildResult, error) {
	start := time.Now()
	opt := profile.LoadOptions{
		AllowLocalFiles: true,
		Fetch:           fetch.Options{Timeout: fetchTimeout},
	}
	m, base, err := profile.ReadManifest(ctx, ref, opt)
	if err != nil {
		return nil, err
	}
	if err := profile.ApplyEnvOverrides(m, os.Getenv); err != nil {
		return nil, err
	}
	loaded, err := profile.Load(ctx, m, base, opt)
	if err != nil {
		return nil, err
	}
	doc, err := compiler.Merge(loaded.Inputs, loaded.Options)
	if err != nil {
		return nil, err
	}
	out, err := render.Render(doc, loaded.Base)
	if err != nil {
		return nil, err
	}
	logger.Debug("merge done",
		zap.String("manifest", ref),
		zap.Int("sources", len(loaded.Inputs)),
		zap.Int("groups", len(doc.Groups)),
		zap.Duration("dur", time.Since(start)),
	)
	return &buildResult{manifest: m, base: base, doc: doc, out: out}, nil
}

// writeOutput writes data to path ("-" is stdout). Files are replaced
// atomically so a running proxy never reads a partial config.
func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
