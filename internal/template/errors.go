package template

import (
	"fmt"

	"github.com/John-Robertt/submerge/internal/model"
)

type TemplateError struct {
	AppError model.AppError
	Cause    error
}

func (e *TemplateError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *TemplateError) Unwrap() error { return e.Cause }
func (e *TemplateError) App() model.AppError { return e.AppError }

func validateError(source, id, msg string, cause error) *TemplateError {
	return &TemplateError{
		AppError: model.AppError{
			Code:       "TEMPLATE_VALIDATE_ERROR",
			Message:    msg,
			Stage:      "parse_template",
			URL:        source,
			Identifier: id,
		},
		Cause: cause,
	}
}
