package schema

import "errors"

var (
	// ErrCompile is returned when the CUE source or definition is unusable.
	ErrCompile = errors.New("schema: compile")
	// ErrInvalid is returned for values that do not match the definition.
	ErrInvalid = errors.New("schema: invalid value")
)
