package undo

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrResourceExists is returned when creating a resource the workspace already knows.
	ErrResourceExists = errors.New("resource already exists")

	// ErrPathOccupied is returned when the storage location of a resource being
	// created is taken by something the workspace has not refreshed yet.
	ErrPathOccupied = errors.New("path is occupied")

	// ErrNotAccessible is returned for members of closed projects.
	ErrNotAccessible = errors.New("resource is not accessible")

	// ErrInvalidPath is returned for malformed paths or paths of the wrong kind.
	ErrInvalidPath = errors.New("invalid path")

	// ErrCanceled is returned when a context is canceled mid-operation.
	// The returned error also matches the context's own error.
	ErrCanceled = errors.New("operation canceled")
)

// ResourceError describes a failed workspace operation on one resource.
type ResourceError struct {
	Op   string
	Path Path
	Err  error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}

// checkCanceled returns an error if ctx is done.
func checkCanceled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	return nil
}
