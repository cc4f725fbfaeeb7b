package resources

import (
	"fmt"

	"github.com/validio/validio-go/pkg/api"
)

// UnresolvedReferenceError is returned when a resource names another
// resource that is neither loaded nor declared.
type UnresolvedReferenceError struct {
	Kind api.Kind
	Name string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// UnknownKindError is returned when the server reports a type that has no
// local implementation.
type UnknownKindError struct {
	// Category is the catalog that was searched, e.g. "credential" or "threshold".
	Category string
	Typename string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown %s type %q", e.Category, e.Typename)
}
