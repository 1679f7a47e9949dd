package notes

import (
	_ "embed"

	"github.com/hanpama/notegraph/internal/schema"
)

//go:embed schema.cue
var schemaSource string

// Schemas compiles the note and user definitions.
func Schemas() (note, user *schema.Schema, err error) {
	if note, err = schema.Compile(schemaSource, "#Note"); err != nil {
		return nil, nil, err
	}
	if user, err = schema.Compile(schemaSource, "#User"); err != nil {
		return nil, nil, err
	}
	return note, user, nil
}
