package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/John-Robertt/submerge/internal/compiler"
	"github.com/John-Robertt/submerge/internal/fetch"
	"github.com/John-Robertt/submerge/internal/model"
	"github.com/John-Robertt/submerge/internal/profile"
	"github.com/John-Robertt/submerge/internal/render"
)

// handleMerge takes a manifest body and answers with the merged mihomo
// config. Sources must be inline or http(s); server-side files are never read.
func (s *server) handleMerge(w http.ResponseWriter, r *http.Request) {
	if err := setAttachmentHeaders(w, r.URL.Query().Get("fileName")); err != nil {
		s.writeErrorFromErr(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opt.MergeTimeout)
	defer cancel()

	out, n, err := s.merge(ctx, w, r)
	if err != nil {
		w.Header().Del("Content-Disposition")
		s.metrics.merges.WithLabelValues("error").Inc()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = apiError(http.StatusGatewayTimeout, model.AppError{
				Code:    "MERGE_TIMEOUT",
				Message: fmt.Sprintf("合并超时（>%s）", s.opt.MergeTimeout),
				Stage:   "merge",
			}, err)
		}
		s.opt.Logger.Warn("merge failed", zap.Error(err))
		s.writeErrorFromErr(w, err)
		return
	}
	s.metrics.merges.WithLabelValues("ok").Inc()
	s.metrics.namespaces.Observe(float64(n))
	WriteYAML(w, http.StatusOK, out)
}

func (s *server) merge(ctx context.Context, w http.ResponseWriter, r *http.Request) ([]byte, int, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opt.MaxBodyBytes))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, 0, apiError(http.StatusRequestEntityTooLarge, model.AppError{
				Code:    "TOO_LARGE",
				Message: fmt.Sprintf("请求体过大（>%d bytes）", mbe.Limit),
				Stage:   "validate_request",
			}, err)
		}
		return nil, 0, requestError("INVALID_ARGUMENT", "读取请求体失败", err.Error())
	}
	if strings.TrimSpace(string(body)) == "" {
		return nil, 0, requestError("INVALID_ARGUMENT", "请求体不能为空", "expected: manifest YAML")
	}

	m, err := profile.ParseManifestYAML("request", body)
	if err != nil {
		return nil, 0, err
	}
	if err := profile.ApplyEnvOverrides(m, s.opt.Getenv); err != nil {
		return nil, 0, err
	}

	loaded, err := profile.Load(ctx, m, "", profile.LoadOptions{
		AllowLocalFiles: false,
		Fetch:           fetch.Options{Timeout: s.opt.FetchTimeout},
	})
	if err != nil {
		return nil, 0, err
	}
	doc, err := compiler.Merge(loaded.Inputs, loaded.Options)
	if err != nil {
		return nil, 0, err
	}
	out, err := render.Render(doc, loaded.Base)
	if err != nil {
		return nil, 0, err
	}
	return out, len(loaded.Inputs), nil
}
