package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/submerge/internal/model"
)

func TestWriters_ContentType(t *testing.T) {
	tests := []struct {
		name  string
		write func(http.ResponseWriter)
		ctype string
		body  string
	}{
		{"yaml", func(w http.ResponseWriter) { WriteYAML(w, http.StatusOK, []byte("mixed-port: 7890\n")) }, "text/yaml; charset=utf-8", "mixed-port: 7890\n"},
		{"text", func(w http.ResponseWriter) { WriteText(w, http.StatusAccepted, "ok\n") }, "text/plain; charset=utf-8", "ok\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			tt.write(rr)
			assert.Equal(t, tt.ctype, rr.Header().Get("Content-Type"))
			assert.Equal(t, tt.body, rr.Body.String())
		})
	}
}

func TestWriteError_CollisionPayload(t *testing.T) {
	e := model.NewCollisionError(model.StageAssemble, "in-a", "listener in-a 已被 base 使用", "base", "a")
	rr := httptest.NewRecorder()
	WriteError(rr, http.StatusUnprocessableEntity, e.App())

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "application/json; charset=utf-8", rr.Header().Get("Content-Type"))

	var raw map[string]map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &raw), "body=%s", rr.Body.String())
	got := raw["error"]
	assert.Equal(t, "NAME_COLLISION", got["code"])
	assert.Equal(t, "in-a", got["identifier"])
	assert.Equal(t, model.StageAssemble, got["stage"])
	// Unset optional fields stay out of the payload.
	assert.NotContains(t, got, "line")
	assert.NotContains(t, got, "url")
}

func TestWriteError_LocatedFetchError(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, http.StatusBadGateway, model.AppError{
		Code:    "FETCH_FAILED",
		Message: "拉取远程资源失败",
		Stage:   "fetch_nodes",
		URL:     "https://sub.example.com/b",
		Line:    3,
		Snippet: "ss://broken",
	})

	var resp model.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "fetch_nodes", resp.Error.Stage)
	assert.Equal(t, "https://sub.example.com/b", resp.Error.URL)
	assert.Equal(t, 3, resp.Error.Line)
	assert.Equal(t, "ss://broken", resp.Error.Snippet)
}
