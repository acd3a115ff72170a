package planner

import (
	"github.com/vektah/gqlparser/v2/ast"
)

const (
	directiveSkip    = "skip"
	directiveInclude = "include"
)

// foldDirectives folds literal @skip/@include conditions. keep is false when the
// selection is statically excluded. Variable conditions are returned unchanged.
func foldDirectives(dirs ast.DirectiveList) (ast.DirectiveList, bool, error) {
	if len(dirs) == 0 {
		return dirs, true, nil
	}

	out := make(ast.DirectiveList, 0, len(dirs))
	for _, d := range dirs {
		if d.Name != directiveSkip && d.Name != directiveInclude {
			out = append(out, d)
			continue
		}

		arg := d.Arguments.ForName("if")
		if arg == nil || arg.Value == nil {
			return nil, false, newPlanningError(KindInvalidOperation, d.Position, "directive @%s requires the argument \"if\"", d.Name)
		}

		switch arg.Value.Kind {
		case ast.Variable:
			out = append(out, d)
		case ast.BooleanValue:
			value := arg.Value.Raw == "true"
			if (d.Name == directiveSkip) == value {
				return nil, false, nil
			}
		default:
			return nil, false, newPlanningError(KindInvalidOperation, arg.Value.Position, "argument \"if\" of @%s must be a Boolean", d.Name)
		}
	}

	if len(out) == 0 {
		return nil, true, nil
	}
	return out, true, nil
}

// conditionDirectives returns the variable-driven @skip/@include directives.
func conditionDirectives(dirs ast.DirectiveList) ast.DirectiveList {
	var out ast.DirectiveList
	for _, d := range dirs {
		if d.Name == directiveSkip || d.Name == directiveInclude {
			out = append(out, d)
		}
	}
	return out
}

// skipVariable returns the variable of a variable-driven @skip directive.
func skipVariable(dirs ast.DirectiveList) (string, bool) {
	d := dirs.ForName(directiveSkip)
	if d == nil {
		return "", false
	}
	arg := d.Arguments.ForName("if")
	if arg == nil || arg.Value == nil || arg.Value.Kind != ast.Variable {
		return "", false
	}
	return arg.Value.Raw, true
}

func withoutDirective(dirs ast.DirectiveList, name string) ast.DirectiveList {
	var out ast.DirectiveList
	for _, d := range dirs {
		if d.Name != name {
			out = append(out, d)
		}
	}
	return out
}

// liftSkipCondition moves a variable @skip to the node's skipIf when the conditional
// selection is the only thing the node fetches. It descends through unconditional
// single selections. @include is never lifted; when it sits next to a lifted @skip it
// stays in the operation so the subgraph still enforces it.
func liftSkipCondition(n *planNode, required []string) {
	set := n.selectionSet
	var path []string
	typeName := n.typeName

	for {
		candidates := n.meaningful(set)
		if len(candidates) != 1 {
			return
		}
		sel := candidates[0]

		switch s := sel.(type) {
		case *ast.Field:
			path = appendPath(path, responseKey(s))
		case *ast.InlineFragment:
			if s.TypeCondition != "" && s.TypeCondition != typeName {
				path = refinePath(path, s.TypeCondition)
				typeName = s.TypeCondition
			}
		default:
			return
		}

		dirs := directivesOf(sel)
		if variable, ok := skipVariable(dirs); ok {
			// Data other nodes depend on must stay reachable when the condition holds.
			prefix := pathString(path)
			for _, p := range required {
				if !hasPathPrefix(p, prefix) {
					return
				}
			}
			setDirectives(sel, withoutDirective(dirs, directiveSkip))
			n.skipIf = variable
			return
		}
		if len(conditionDirectives(dirs)) > 0 {
			return
		}

		set = selectionSetOf(sel)
		if len(set) == 0 {
			return
		}
		if f, ok := sel.(*ast.Field); ok {
			typeName = n.fieldTypes[f]
		}
	}
}

func setDirectives(sel ast.Selection, dirs ast.DirectiveList) {
	switch s := sel.(type) {
	case *ast.Field:
		s.Directives = dirs
	case *ast.InlineFragment:
		s.Directives = dirs
	}
}
