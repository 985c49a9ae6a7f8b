package render

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/submerge/internal/model"
)

type RenderError struct {
	AppError model.AppError
	Cause    error
}

func (e *RenderError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *RenderError) Unwrap() error { return e.Cause }
func (e *RenderError) App() model.AppError { return e.AppError }

// Render writes doc as a mihomo config on top of base. Base keys come first in
// their original order; the keys this package owns replace any base value.
func Render(doc *model.Document, base *Base) ([]byte, error) {
	if doc == nil {
		return nil, &RenderError{
			AppError: model.AppError{
				Code:    "INVALID_ARGUMENT",
				Message: "render input 不能为空",
				Stage:   "render",
			},
		}
	}
	if base == nil {
		base = DefaultBase()
	}

	root := buildMihomo(doc, base)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, &RenderError{
			AppError: model.AppError{Code: "RENDER_ERROR", Message: "YAML 编码失败", Stage: "render"},
			Cause:    err,
		}
	}
	if err := enc.Close(); err != nil {
		return nil, &RenderError{
			AppError: model.AppError{Code: "RENDER_ERROR", Message: "YAML 编码失败", Stage: "render"},
			Cause:    err,
		}
	}
	return buf.Bytes(), nil
}
