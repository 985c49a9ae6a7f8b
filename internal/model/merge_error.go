package model

import (
	"fmt"
	"strings"
)

const (
	CodeStructural  = "STRUCTURAL_ERROR"
	CodeCycle       = "GROUP_CYCLE"
	CodeCollision   = "NAME_COLLISION"
	CodeUnresolved  = "REFERENCE_NOT_FOUND"
	CodePlaceholder = "PLACEHOLDER_ERROR"
)

const (
	StageValidateFragment = "validate_fragment"
	StageNamespace        = "namespace"
	StageClassify         = "classify"
	StagePreserve         = "preserve"
	StageInstantiate      = "instantiate"
	StageRegister         = "register"
	StageAssemble         = "assemble"
)

func formatAppError(e AppError, cause error) string {
	var b strings.Builder
	b.WriteString(e.Code)
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Namespace != "" {
		b.WriteString(" (ns=")
		b.WriteString(e.Namespace)
		b.WriteByte(')')
	}
	if cause != nil {
		fmt.Fprintf(&b, ": %v", cause)
	}
	return b.String()
}

// StructuralError reports a fragment or template that is missing a required
// list or references an identifier not declared in its own scope.
type StructuralError struct {
	AppError AppError
	Cause    error
}

func (e *StructuralError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return formatAppError(e.AppError, e.Cause)
}

func (e *StructuralError) Unwrap() error { return e.Cause }
func (e *StructuralError) App() AppError { return e.AppError }

// CycleError reports a cycle in the group-reference graph. Path starts and
// ends with the same identifier.
type CycleError struct {
	AppError AppError
	Path     []string
}

func (e *CycleError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return formatAppError(e.AppError, nil) + ": " + strings.Join(e.Path, " → ")
}

func (e *CycleError) Unwrap() error { return nil }
func (e *CycleError) App() AppError { return e.AppError }

// CollisionError reports two declarations producing the same global
// identifier, or two listeners sharing a port.
type CollisionError struct {
	AppError AppError
	Owners   []string
}

func (e *CollisionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return formatAppError(e.AppError, nil)
}

func (e *CollisionError) Unwrap() error { return nil }
func (e *CollisionError) App() AppError { return e.AppError }

// UnresolvedReferenceError reports a rule target or member that names nothing
// declared in the assembled document.
type UnresolvedReferenceError struct {
	AppError  AppError
	Reference string
}

func (e *UnresolvedReferenceError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return formatAppError(e.AppError, nil)
}

func (e *UnresolvedReferenceError) Unwrap() error { return nil }
func (e *UnresolvedReferenceError) App() AppError { return e.AppError }

// PlaceholderError reports a LEAF placeholder that survived instantiation or
// could not be filled.
type PlaceholderError struct {
	AppError AppError
}

func (e *PlaceholderError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return formatAppError(e.AppError, nil)
}

func (e *PlaceholderError) Unwrap() error { return nil }
func (e *PlaceholderError) App() AppError { return e.AppError }

func NewStructuralError(stage, ns, id, msg string, cause error) *StructuralError {
	return &StructuralError{
		AppError: AppError{Code: CodeStructural, Message: msg, Stage: stage, Namespace: ns, Identifier: id},
		Cause:    cause,
	}
}

func NewCycleError(stage, ns string, path []string) *CycleError {
	id := ""
	if len(path) > 0 {
		id = path[0]
	}
	return &CycleError{
		AppError: AppError{
			Code:       CodeCycle,
			Message:    "策略组引用存在环",
			Stage:      stage,
			Namespace:  ns,
			Identifier: id,
			Snippet:    strings.Join(path, " → "),
		},
		Path: path,
	}
}

func NewCollisionError(stage, id, msg string, owners ...string) *CollisionError {
	ns := ""
	if len(owners) > 0 {
		ns = owners[0]
	}
	return &CollisionError{
		AppError: AppError{Code: CodeCollision, Message: msg, Stage: stage, Namespace: ns, Identifier: id},
		Owners:   owners,
	}
}

func NewUnresolvedReferenceError(stage, ns, ref, msg string) *UnresolvedReferenceError {
	return &UnresolvedReferenceError{
		AppError:  AppError{Code: CodeUnresolved, Message: msg, Stage: stage, Namespace: ns, Identifier: ref},
		Reference: ref,
	}
}

func NewPlaceholderError(stage, ns, id, msg string) *PlaceholderError {
	return &PlaceholderError{
		AppError: AppError{Code: CodePlaceholder, Message: msg, Stage: stage, Namespace: ns, Identifier: id},
	}
}
