// Package language reads GraphQL selection sets as queries.
//
// A selection maps field names to document keys. Nested selections become
// Objects, fields with arguments become Arrays: first, last, after and
// before form the pagination window, key renames the document key, and any
// other argument is kept as a "$"-prefixed parameter. Fragments are inlined
// without type conditions and @skip/@include are honoured.
package language

import (
	"errors"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

var (
	ErrOperation = errors.New("language: operation not found")
	ErrArgument  = errors.New("language: invalid argument")
	ErrConflict  = errors.New("language: conflicting fields")
)

func ParseQuery(source string) (*QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}
