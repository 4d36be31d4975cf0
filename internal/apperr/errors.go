// Package apperr classifies failures of the lifecycle manager so that the
// HTTP layer and CLI can react to them without string matching.
// Classes are built on containerd/errdefs; test them with errdefs.IsX or
// errors.Is against the sentinels below.
package apperr

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

var (
	// ErrProcessControl marks a failure to spawn or signal a collector process.
	ErrProcessControl = fmt.Errorf("process control failed: %w", errdefs.ErrUnavailable)

	// ErrIO marks a configuration or log artifact that could not be read or written.
	ErrIO = fmt.Errorf("artifact i/o failed: %w", errdefs.ErrInternal)
)

// Validation reports a malformed or incomplete machine profile.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errdefs.ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// NotFound reports a missing profile, artifact or process.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errdefs.ErrNotFound, fmt.Sprintf(format, args...))
}

// Conflict reports a removal of a running machine or a stale document revision.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errdefs.ErrConflict, fmt.Sprintf(format, args...))
}

// ProcessControl wraps an OS-level spawn or signal failure.
func ProcessControl(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrProcessControl, err)
}

// IO wraps a filesystem failure on a machine artifact.
func IO(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrIO, err)
}

// Kind returns a short label for the error class, used in logs and API bodies.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errdefs.IsInvalidArgument(err):
		return "validation"
	case errdefs.IsNotFound(err):
		return "not_found"
	case errdefs.IsConflict(err):
		return "conflict"
	case errors.Is(err, ErrProcessControl):
		return "process_control"
	case errors.Is(err, ErrIO):
		return "io"
	default:
		return "internal"
	}
}
