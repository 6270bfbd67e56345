package schema

import (
	"errors"
	"fmt"

	"github.com/shinyes/yep_model/pkg/patch"
)

var (
	ErrValidation         = errors.New("schema: validation failed")
	ErrRequired           = errors.New("schema: required field missing")
	ErrNotFound           = errors.New("schema: location not declared")
	ErrSchemaIncompatible = errors.New("schema: incompatible document shape")
	ErrInvalidModel       = errors.New("schema: invalid model")
)

// ValidationError is a value that could not be coerced or failed a
// validator. It matches both ErrValidation and the underlying cause.
type ValidationError struct {
	Path    patch.Path
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Field != "" {
		return fmt.Sprintf("%v at %s (%s): %s", ErrValidation, e.Path, e.Field, msg)
	}
	return fmt.Sprintf("%v at %s: %s", ErrValidation, e.Path, msg)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Err}
}

// UnknownFieldError reports a path the model does not declare.
type UnknownFieldError struct {
	Path patch.Path
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("%v: %s", ErrNotFound, e.Path)
}

func (e *UnknownFieldError) Unwrap() error { return ErrNotFound }

// SchemaIncompatibilityError reports a declared field whose document
// value has the wrong structure.
type SchemaIncompatibilityError struct {
	Path     patch.Path
	Field    string
	Expected Shape
	Actual   Shape
}

func (e *SchemaIncompatibilityError) Error() string {
	return fmt.Sprintf("%v: field %q at %s expects %s, document has %s",
		ErrSchemaIncompatible, e.Field, e.Path, e.Expected, e.Actual)
}

func (e *SchemaIncompatibilityError) Unwrap() error { return ErrSchemaIncompatible }

func invalid(path patch.Path, f *Field, format string, args ...any) error {
	name := ""
	if f != nil {
		name = f.Name
	}
	return &ValidationError{Path: path, Field: name, Message: fmt.Sprintf(format, args...)}
}
