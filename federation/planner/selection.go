package planner

import (
	"slices"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
)

// responseKey returns the key under which the field appears in the result.
func responseKey(f *ast.Field) string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

// newField creates an unaliased field selection.
func newField(name string) *ast.Field {
	return &ast.Field{Alias: name, Name: name}
}

// shallowField copies a field without its selection set.
func shallowField(f *ast.Field) *ast.Field {
	return &ast.Field{
		Alias:      f.Alias,
		Name:       f.Name,
		Arguments:  f.Arguments,
		Directives: f.Directives,
		Position:   f.Position,
	}
}

// selectionSetOf returns the children of a field or inline fragment.
func selectionSetOf(sel ast.Selection) ast.SelectionSet {
	switch s := sel.(type) {
	case *ast.Field:
		return s.SelectionSet
	case *ast.InlineFragment:
		return s.SelectionSet
	}
	return nil
}

// directivesOf returns the directives of a field or inline fragment.
func directivesOf(sel ast.Selection) ast.DirectiveList {
	switch s := sel.(type) {
	case *ast.Field:
		return s.Directives
	case *ast.InlineFragment:
		return s.Directives
	case *ast.FragmentSpread:
		return s.Directives
	}
	return nil
}

func argumentsString(args ast.ArgumentList) string {
	if len(args) == 0 {
		return ""
	}
	var sb strings.Builder
	writeArguments(&sb, args)
	return sb.String()
}

func directivesString(dirs ast.DirectiveList) string {
	if len(dirs) == 0 {
		return ""
	}
	var sb strings.Builder
	writeDirectives(&sb, dirs)
	return sb.String()
}

// sameField reports whether two fields collapse into one selection.
func sameField(a, b *ast.Field) bool {
	return responseKey(a) == responseKey(b) &&
		a.Name == b.Name &&
		argumentsString(a.Arguments) == argumentsString(b.Arguments) &&
		directivesString(a.Directives) == directivesString(b.Directives)
}

func findField(set ast.SelectionSet, f *ast.Field) *ast.Field {
	for _, sel := range set {
		if existing, ok := sel.(*ast.Field); ok && sameField(existing, f) {
			return existing
		}
	}
	return nil
}

func findFragment(set ast.SelectionSet, typeCondition string, dirs ast.DirectiveList) *ast.InlineFragment {
	key := directivesString(dirs)
	for _, sel := range set {
		if existing, ok := sel.(*ast.InlineFragment); ok &&
			existing.TypeCondition == typeCondition &&
			directivesString(existing.Directives) == key {
			return existing
		}
	}
	return nil
}

// mergeSelection adds sel to set, collapsing it into an equivalent selection when one
// exists. Children of collapsed selections are merged recursively.
func mergeSelection(set ast.SelectionSet, sel ast.Selection) ast.SelectionSet {
	switch s := sel.(type) {
	case *ast.Field:
		if existing := findField(set, s); existing != nil {
			for _, child := range s.SelectionSet {
				existing.SelectionSet = mergeSelection(existing.SelectionSet, child)
			}
			existing.SelectionSet = dropRedundantFiller(existing.SelectionSet)
			return set
		}
	case *ast.InlineFragment:
		if existing := findFragment(set, s.TypeCondition, s.Directives); existing != nil {
			for _, child := range s.SelectionSet {
				existing.SelectionSet = mergeSelection(existing.SelectionSet, child)
			}
			return set
		}
	}
	return append(set, sel)
}

// dropRedundantFiller removes a bare __typename once other selections exist next to it,
// unless the client asked for it explicitly with an alias or directives.
func dropRedundantFiller(set ast.SelectionSet) ast.SelectionSet {
	filler := func(sel ast.Selection) bool {
		f, ok := sel.(*ast.Field)
		return ok && isFiller(f)
	}
	if !slices.ContainsFunc(set, func(sel ast.Selection) bool { return !filler(sel) }) {
		return set
	}
	return slices.DeleteFunc(set, filler)
}

// isFiller reports whether the field is a synthesized __typename.
func isFiller(f *ast.Field) bool {
	return f.Name == typenameField && f.Position == nil && len(f.Directives) == 0 && responseKey(f) == typenameField
}

// pathString joins response path segments.
func pathString(path []string) string {
	return strings.Join(path, ".")
}

// refinePath marks the last path segment as narrowed to typeName.
func refinePath(path []string, typeName string) []string {
	if len(path) == 0 {
		return path
	}
	refined := append([]string(nil), path...)
	last := refined[len(refined)-1]
	if i := strings.IndexByte(last, '<'); i >= 0 {
		last = last[:i]
	}
	refined[len(refined)-1] = last + "<" + typeName + ">"
	return refined
}

// appendPath returns a copy of path with segment appended.
func appendPath(path []string, segment string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, segment)
}

// hasPathPrefix reports whether path lies inside the subtree rooted at prefix.
func hasPathPrefix(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+".") || strings.HasPrefix(path, prefix+"<")
}
