package task

import "errors"

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrBatchNotFound     = errors.New("batch not found")
	ErrNoFiles           = errors.New("no files provided")
	ErrTooManyFiles      = errors.New("too many files")
	ErrUnsupportedFormat = errors.New("unsupported output format")
	ErrNotCompleted      = errors.New("conversion not completed")
	ErrOutputMissing     = errors.New("output file no longer exists")
	ErrNothingToArchive  = errors.New("nothing to archive")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrOwnedByBatch      = errors.New("task belongs to a batch")
	errServiceShutdown   = errors.New("service shutting down")
)
