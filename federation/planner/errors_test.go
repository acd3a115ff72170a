package planner_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/n9te9/go-graphql-fusion-gateway/federation/planner"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

func TestPlanningError(t *testing.T) {
	err := &planner.PlanningError{
		Kind:      planner.KindUnknownField,
		Message:   `cannot query field "nope" on type "Product"`,
		Locations: []planner.Location{{Line: 1, Column: 26}},
		Path:      []string{"productById", "nope"},
	}

	if got, want := err.Error(), `UNKNOWN_FIELD: cannot query field "nope" on type "Product" (line 1, column 26)`; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, planner.ErrUnknownField) {
		t.Errorf("expected errors.Is to match ErrUnknownField")
	}
	if errors.Is(err, planner.ErrUnknownType) {
		t.Errorf("did not expect errors.Is to match ErrUnknownType")
	}

	gqlErr := err.GQLError()
	if gqlErr.Message != err.Message {
		t.Errorf("GQLError().Message = %q, want %q", gqlErr.Message, err.Message)
	}
	if diff := cmp.Diff([]gqlerror.Location{{Line: 1, Column: 26}}, gqlErr.Locations); diff != "" {
		t.Errorf("GQLError().Locations mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(ast.Path{ast.PathName("productById"), ast.PathName("nope")}, gqlErr.Path); diff != "" {
		t.Errorf("GQLError().Path mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]any{"code": "UNKNOWN_FIELD"}, gqlErr.Extensions); diff != "" {
		t.Errorf("GQLError().Extensions mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanningError_FromPlanner(t *testing.T) {
	p := newTestPlanner(t, storefrontSchema)

	_, err := p.PlanSource("{\n  productById(id: \"1\") {\n    secret\n  }\n}", "")

	var perr *planner.PlanningError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *PlanningError, got %v", err)
	}
	if perr.Kind != planner.KindUnresolvableRequirement {
		t.Errorf("expected kind %s, got %s", planner.KindUnresolvableRequirement, perr.Kind)
	}
	if diff := cmp.Diff([]planner.Location{{Line: 3, Column: 5}}, perr.Locations); diff != "" {
		t.Errorf("locations mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"productById", "secret"}, perr.Path); diff != "" {
		t.Errorf("path mismatch (-want +got):\n%s", diff)
	}
}
