package planner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// ErrorKind classifies a planning failure.
type ErrorKind string

const (
	// KindInvalidOperation is returned for unparsable documents, missing operations and
	// selections that violate the shape of the composite schema.
	KindInvalidOperation ErrorKind = "INVALID_OPERATION"
	// KindInvalidFragment is returned for undefined or cyclic fragments and incompatible type conditions.
	KindInvalidFragment ErrorKind = "INVALID_FRAGMENT"
	// KindUnknownType is returned when a type referenced by the operation does not exist.
	KindUnknownType ErrorKind = "UNKNOWN_TYPE"
	// KindUnknownField is returned when a field is not defined on its parent type.
	KindUnknownField ErrorKind = "UNKNOWN_FIELD"
	// KindUnresolvableRequirement is returned when no subgraph can supply a field.
	KindUnresolvableRequirement ErrorKind = "UNRESOLVABLE_REQUIREMENT"
	// KindCyclicRequirement is returned when a requirement transitively requires itself.
	KindCyclicRequirement ErrorKind = "CYCLIC_REQUIREMENT"
)

// Sentinel errors for errors.Is matching against a *PlanningError.
var (
	ErrInvalidOperation        = errors.New("invalid operation")
	ErrInvalidFragment         = errors.New("invalid fragment")
	ErrUnknownType             = errors.New("unknown type")
	ErrUnknownField            = errors.New("unknown field")
	ErrUnresolvableRequirement = errors.New("unresolvable requirement")
	ErrCyclicRequirement       = errors.New("cyclic requirement")
)

var sentinels = map[ErrorKind]error{
	KindInvalidOperation:        ErrInvalidOperation,
	KindInvalidFragment:         ErrInvalidFragment,
	KindUnknownType:             ErrUnknownType,
	KindUnknownField:            ErrUnknownField,
	KindUnresolvableRequirement: ErrUnresolvableRequirement,
	KindCyclicRequirement:       ErrCyclicRequirement,
}

// Location is a position in the client document.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// PlanningError is the structured failure of a planning call. Planning errors are
// deterministic for a given (schema, operation) pair.
type PlanningError struct {
	Kind      ErrorKind
	Message   string
	Locations []Location
	Path      []string
}

func (e *PlanningError) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Kind))
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if len(e.Locations) > 0 {
		fmt.Fprintf(&sb, " (line %d, column %d)", e.Locations[0].Line, e.Locations[0].Column)
	}
	return sb.String()
}

// Is matches the sentinel error of the kind.
func (e *PlanningError) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// GQLError converts the error to its wire representation.
func (e *PlanningError) GQLError() *gqlerror.Error {
	gqlErr := &gqlerror.Error{
		Message:    e.Message,
		Extensions: map[string]any{"code": string(e.Kind)},
	}
	for _, loc := range e.Locations {
		gqlErr.Locations = append(gqlErr.Locations, gqlerror.Location{Line: loc.Line, Column: loc.Column})
	}
	for _, p := range e.Path {
		gqlErr.Path = append(gqlErr.Path, ast.PathName(p))
	}
	return gqlErr
}

func newPlanningError(kind ErrorKind, pos *ast.Position, format string, args ...any) *PlanningError {
	err := &PlanningError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
	if pos != nil && pos.Line > 0 {
		err.Locations = []Location{{Line: pos.Line, Column: pos.Column}}
	}
	return err
}

// withPath attaches the response path of the offending selection.
func (e *PlanningError) withPath(path []string) *PlanningError {
	if e.Path == nil && len(path) > 0 {
		e.Path = append([]string(nil), path...)
	}
	return e
}
