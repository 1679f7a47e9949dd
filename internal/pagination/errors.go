package pagination

import "errors"

var (
	// ErrEnvelope indicates a value that is not a well-formed envelope for the plan.
	ErrEnvelope = errors.New("pagination: malformed envelope")
	// ErrUnknownWindow indicates a window the plan was not built from.
	ErrUnknownWindow = errors.New("pagination: window not in plan")
	// ErrNotWhole indicates a whole-list read from a plan that only covers windows.
	ErrNotWhole = errors.New("pagination: plan does not cover the whole list")
)
