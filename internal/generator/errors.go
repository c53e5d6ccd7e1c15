package generator

import (
	"errors"
	"fmt"
)

// ErrGeneration matches every *Error via errors.Is.
var ErrGeneration = errors.New("generation failed")

var (
	ErrInvalidName    = errors.New("invalid model name")
	ErrDuplicateModel = errors.New("model already exists")
	ErrModelNotFound  = errors.New("model not found")
)

// Error is a failure to synthesize or publish artifacts.
type Error struct {
	Op    string
	Model string
	Path  string
	Err   error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Model, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Model, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrGeneration }
