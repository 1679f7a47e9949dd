package query

import "errors"

var (
	// ErrMixedPagination indicates a window carrying both forward and backward arguments.
	ErrMixedPagination = errors.New("query: forward and backward pagination mixed in one window")
	// ErrEmptyWindow indicates a window without any pagination argument.
	ErrEmptyWindow = errors.New("query: empty pagination window")
	// ErrNegativeWindow indicates a negative first or last.
	ErrNegativeWindow = errors.New("query: negative pagination size")
)
