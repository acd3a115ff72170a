package planner

import (
	"slices"

	"github.com/n9te9/go-graphql-fusion-gateway/federation/graph"
	"github.com/vektah/gqlparser/v2/ast"
)

const typenameField = graph.TypenameField

// normalizer rewrites one operation into the normalized selection tree. It owns the
// per-call state (fragment stack) and never mutates the input document.
type normalizer struct {
	schema    *graph.CompositeSchema
	doc       *ast.QueryDocument
	fragments []string // fragment spreads currently being expanded
}

// Normalize selects the operation and returns a normalized copy of it:
//   - fragment spreads are replaced by inline fragments,
//   - inline fragments that do not narrow the type and carry no directives are spliced,
//   - literal @skip/@include conditions are folded,
//   - equivalent selections are collapsed.
//
// Normalizing a normalized operation returns an equal tree.
func Normalize(schema *graph.CompositeSchema, doc *ast.QueryDocument, operationName string) (*ast.OperationDefinition, error) {
	op, err := selectOperation(doc, operationName)
	if err != nil {
		return nil, err
	}

	rootType, err := schema.RootTypeName(op.Operation)
	if err != nil {
		return nil, newPlanningError(KindUnknownType, op.Position, "%s", err.Error())
	}

	n := &normalizer{schema: schema, doc: doc}
	selections, err := n.normalizeSelectionSet(op.SelectionSet, rootType)
	if err != nil {
		return nil, err
	}

	normalized := &ast.OperationDefinition{
		Operation:           op.Operation,
		Name:                op.Name,
		VariableDefinitions: op.VariableDefinitions,
		Directives:          op.Directives,
		SelectionSet:        selections,
		Position:            op.Position,
	}

	if err := checkVariables(normalized); err != nil {
		return nil, err
	}

	return normalized, nil
}

// selectOperation picks the operation to plan. An empty name is only allowed when the
// document contains exactly one operation.
func selectOperation(doc *ast.QueryDocument, operationName string) (*ast.OperationDefinition, error) {
	if doc == nil || len(doc.Operations) == 0 {
		return nil, newPlanningError(KindInvalidOperation, nil, "document does not contain an operation")
	}

	if operationName == "" {
		if len(doc.Operations) > 1 {
			return nil, newPlanningError(KindInvalidOperation, nil, "operation name is required when the document contains multiple operations")
		}
		return doc.Operations[0], nil
	}

	for _, op := range doc.Operations {
		if op.Name == operationName {
			return op, nil
		}
	}
	return nil, newPlanningError(KindInvalidOperation, nil, "operation %q not found", operationName)
}

func (n *normalizer) normalizeSelectionSet(set ast.SelectionSet, typeName string) (ast.SelectionSet, error) {
	out := ast.SelectionSet{}
	for _, sel := range set {
		var err error
		switch s := sel.(type) {
		case *ast.Field:
			out, err = n.normalizeField(out, s, typeName)
		case *ast.InlineFragment:
			out, err = n.normalizeInlineFragment(out, s, typeName)
		case *ast.FragmentSpread:
			out, err = n.normalizeFragmentSpread(out, s, typeName)
		default:
			err = newPlanningError(KindInvalidOperation, sel.GetPosition(), "unsupported selection %T", sel)
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (n *normalizer) normalizeField(out ast.SelectionSet, f *ast.Field, typeName string) (ast.SelectionSet, error) {
	dirs, keep, err := foldDirectives(f.Directives)
	if err != nil {
		return nil, err
	}
	if !keep {
		return out, nil
	}

	field := &ast.Field{
		Alias:      f.Alias,
		Name:       f.Name,
		Arguments:  f.Arguments,
		Directives: dirs,
		Position:   f.Position,
	}
	if field.Alias == "" {
		field.Alias = field.Name
	}

	if f.Name == typenameField {
		if len(f.SelectionSet) > 0 || len(f.Arguments) > 0 {
			return nil, newPlanningError(KindInvalidOperation, f.Position, "field __typename cannot have arguments or a selection set")
		}
		return n.mergeChecked(out, field)
	}

	parent, ok := n.schema.Type(typeName)
	if !ok {
		return nil, newPlanningError(KindUnknownType, f.Position, "unknown type %s", typeName)
	}
	def, ok := parent.Field(f.Name)
	if !ok {
		return nil, newPlanningError(KindUnknownField, f.Position, "cannot query field %q on type %q", f.Name, typeName)
	}
	for _, arg := range f.Arguments {
		if def.Arguments.ForName(arg.Name) == nil {
			return nil, newPlanningError(KindInvalidOperation, arg.Position, "unknown argument %q on field %s.%s", arg.Name, typeName, f.Name)
		}
	}

	fieldType, ok := n.schema.Type(def.Type.Name())
	if !ok {
		return nil, newPlanningError(KindUnknownType, f.Position, "unknown type %s", def.Type.Name())
	}

	if !fieldType.IsComposite() {
		if len(f.SelectionSet) > 0 {
			return nil, newPlanningError(KindInvalidOperation, f.Position, "field %q of type %q must not have a selection set", f.Name, def.Type.String())
		}
		return n.mergeChecked(out, field)
	}

	if len(f.SelectionSet) == 0 {
		return nil, newPlanningError(KindInvalidOperation, f.Position, "field %q of type %q must have a selection of subfields", f.Name, def.Type.String())
	}

	children, err := n.normalizeSelectionSet(f.SelectionSet, fieldType.Name)
	if err != nil {
		return nil, err
	}
	if len(children) == 0 {
		children = ast.SelectionSet{newField(typenameField)}
	}
	field.SelectionSet = children

	return n.mergeChecked(out, field)
}

// mergeChecked merges a field and rejects selections that share a response key but
// cannot be merged.
func (n *normalizer) mergeChecked(out ast.SelectionSet, f *ast.Field) (ast.SelectionSet, error) {
	key := responseKey(f)
	for _, sel := range out {
		existing, ok := sel.(*ast.Field)
		if !ok || responseKey(existing) != key {
			continue
		}
		if existing.Name != f.Name || argumentsString(existing.Arguments) != argumentsString(f.Arguments) {
			return nil, newPlanningError(KindInvalidOperation, f.Position, "fields %q conflict because they select different fields or arguments", key)
		}
	}
	return mergeSelection(out, f), nil
}

func (n *normalizer) normalizeInlineFragment(out ast.SelectionSet, frag *ast.InlineFragment, typeName string) (ast.SelectionSet, error) {
	dirs, keep, err := foldDirectives(frag.Directives)
	if err != nil {
		return nil, err
	}
	if !keep {
		return out, nil
	}

	condition := frag.TypeCondition
	if condition == "" {
		condition = typeName
	}
	if err := n.checkTypeCondition(condition, typeName, frag.Position); err != nil {
		return nil, err
	}

	children, err := n.normalizeSelectionSet(frag.SelectionSet, condition)
	if err != nil {
		return nil, err
	}

	return n.appendFragment(out, typeName, condition, dirs, children, frag.Position)
}

func (n *normalizer) normalizeFragmentSpread(out ast.SelectionSet, spread *ast.FragmentSpread, typeName string) (ast.SelectionSet, error) {
	dirs, keep, err := foldDirectives(spread.Directives)
	if err != nil {
		return nil, err
	}
	if !keep {
		return out, nil
	}

	def := n.doc.Fragments.ForName(spread.Name)
	if def == nil {
		return nil, newPlanningError(KindInvalidFragment, spread.Position, "unknown fragment %q", spread.Name)
	}
	if slices.Contains(n.fragments, spread.Name) {
		return nil, newPlanningError(KindInvalidFragment, spread.Position, "fragment %q spreads itself", spread.Name)
	}
	if err := n.checkTypeCondition(def.TypeCondition, typeName, spread.Position); err != nil {
		return nil, err
	}

	n.fragments = append(n.fragments, spread.Name)
	children, err := n.normalizeSelectionSet(def.SelectionSet, def.TypeCondition)
	n.fragments = n.fragments[:len(n.fragments)-1]
	if err != nil {
		return nil, err
	}

	return n.appendFragment(out, typeName, def.TypeCondition, dirs, children, spread.Position)
}

func (n *normalizer) checkTypeCondition(condition, typeName string, pos *ast.Position) error {
	t, ok := n.schema.Type(condition)
	if !ok {
		return newPlanningError(KindUnknownType, pos, "unknown type %s", condition)
	}
	if !t.IsComposite() {
		return newPlanningError(KindInvalidFragment, pos, "fragment cannot condition on non composite type %q", condition)
	}
	if !n.schema.TypesOverlap(typeName, condition) {
		return newPlanningError(KindInvalidFragment, pos, "fragment on %q can never be spread within type %q", condition, typeName)
	}
	return nil
}

// appendFragment splices fragments that do not narrow the enclosing type and keeps the
// rest as inline fragments.
func (n *normalizer) appendFragment(out ast.SelectionSet, typeName, condition string, dirs ast.DirectiveList, children ast.SelectionSet, pos *ast.Position) (ast.SelectionSet, error) {
	if len(children) == 0 {
		return out, nil
	}

	enclosing, _ := n.schema.Type(typeName)
	// A fragment on an abstract type applied to a concrete type narrows nothing.
	if !enclosing.IsAbstract() && n.schema.IsPossibleType(condition, typeName) {
		condition = typeName
	}

	if condition == typeName && len(dirs) == 0 {
		var err error
		for _, child := range children {
			if f, ok := child.(*ast.Field); ok {
				out, err = n.mergeChecked(out, f)
				if err != nil {
					return nil, err
				}
				continue
			}
			out = mergeSelection(out, child)
		}
		return out, nil
	}

	return mergeSelection(out, &ast.InlineFragment{
		TypeCondition: condition,
		Directives:    dirs,
		SelectionSet:  children,
		Position:      pos,
	}), nil
}

// checkVariables rejects references to variables the operation does not define.
func checkVariables(op *ast.OperationDefinition) error {
	var missing *PlanningError
	walkValues(op.SelectionSet, func(v *ast.Value) {
		if missing != nil || v.Kind != ast.Variable {
			return
		}
		if op.VariableDefinitions.ForName(v.Raw) == nil {
			missing = newPlanningError(KindInvalidOperation, v.Position, "variable $%s is not defined", v.Raw)
		}
	})
	if missing != nil {
		return missing
	}
	return nil
}

// walkValues calls fn for every argument value, including nested list and object values,
// of the fields and directives in the selection set.
func walkValues(set ast.SelectionSet, fn func(*ast.Value)) {
	var visit func(v *ast.Value)
	visit = func(v *ast.Value) {
		if v == nil {
			return
		}
		fn(v)
		for _, child := range v.Children {
			visit(child.Value)
		}
	}
	visitDirectives := func(dirs ast.DirectiveList) {
		for _, d := range dirs {
			for _, arg := range d.Arguments {
				visit(arg.Value)
			}
		}
	}

	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			for _, arg := range s.Arguments {
				visit(arg.Value)
			}
			visitDirectives(s.Directives)
			walkValues(s.SelectionSet, fn)
		case *ast.InlineFragment:
			visitDirectives(s.Directives)
			walkValues(s.SelectionSet, fn)
		case *ast.FragmentSpread:
			visitDirectives(s.Directives)
		}
	}
}
