// Package apperr defines the error kinds a pipeline run can fail with.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrDiscovery = errors.New("discovery failed")
	ErrParse     = errors.New("parse failed")
	ErrExtract   = errors.New("annotation extraction failed")
	ErrTransform = errors.New("transform failed")
	ErrWrite     = errors.New("write failed")
	ErrNotFound  = errors.New("not found")
)

// Phase names a pipeline step.
type Phase string

const (
	PhaseDiscover  Phase = "discover"
	PhaseAnnotate  Phase = "annotate"
	PhaseResolve   Phase = "resolve"
	PhaseTransform Phase = "transform"
	PhaseWrite     Phase = "write"
)

// PhaseError is a fatal pipeline failure tied to the phase and file that
// produced it. Kind is one of the sentinel errors above, so callers can
// classify with errors.Is.
type PhaseError struct {
	Phase Phase
	Kind  error
	Path  string
	Err   error
}

func (e *PhaseError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: %s", e.Phase, e.Kind)
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause.
func (e *PhaseError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// New builds a PhaseError.
func New(phase Phase, kind error, path string, err error) *PhaseError {
	return &PhaseError{Phase: phase, Kind: kind, Path: path, Err: err}
}
