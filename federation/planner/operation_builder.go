package planner

import (
	"strconv"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
)

const indentUnit = "  "

// buildOperation renders the operation text of a plan node. Only the client variables
// referenced by the node are declared, followed by its requirement variables.
func buildOperation(n *planNode, op *ast.OperationDefinition) string {
	var sb strings.Builder

	operationType := ast.Query
	if n.root {
		operationType = op.Operation
	}
	sb.WriteString(string(operationType))
	if op.Name != "" {
		sb.WriteString(" ")
		sb.WriteString(op.Name)
		sb.WriteString("_")
		sb.WriteString(strconv.Itoa(n.id))
	}

	var definitions []string
	used := collectVariables(n.selectionSet)
	for _, def := range op.VariableDefinitions {
		if used[def.Variable] {
			definitions = append(definitions, variableDefinitionString(def))
		}
	}
	for _, r := range n.requirements {
		definitions = append(definitions, "$"+r.name+": "+r.typ)
	}
	if len(definitions) > 0 {
		sb.WriteString("(")
		sb.WriteString(strings.Join(definitions, ", "))
		sb.WriteString(")")
	}

	sb.WriteString(" {\n")
	writeSelections(&sb, n.selectionSet, indentUnit)
	sb.WriteString("}")

	return sb.String()
}

// collectVariables collects all variable names used in the selection set.
func collectVariables(set ast.SelectionSet) map[string]bool {
	vars := make(map[string]bool)
	walkValues(set, func(v *ast.Value) {
		if v.Kind == ast.Variable {
			vars[v.Raw] = true
		}
	})
	return vars
}

func variableDefinitionString(def *ast.VariableDefinition) string {
	var sb strings.Builder
	sb.WriteString("$")
	sb.WriteString(def.Variable)
	sb.WriteString(": ")
	sb.WriteString(def.Type.String())
	if def.DefaultValue != nil {
		sb.WriteString(" = ")
		writeValue(&sb, def.DefaultValue)
	}
	return sb.String()
}

// writeSelections writes one selection per line at the given indentation.
func writeSelections(sb *strings.Builder, set ast.SelectionSet, indent string) {
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			writeField(sb, s, indent)
		case *ast.InlineFragment:
			writeInlineFragment(sb, s, indent)
		case *ast.FragmentSpread:
			// Normalized trees never contain spreads; keep the text valid regardless.
			sb.WriteString(indent)
			sb.WriteString("...")
			sb.WriteString(s.Name)
			writeDirectives(sb, s.Directives)
			sb.WriteString("\n")
		}
	}
}

func writeField(sb *strings.Builder, f *ast.Field, indent string) {
	sb.WriteString(indent)
	if f.Alias != "" && f.Alias != f.Name {
		sb.WriteString(f.Alias)
		sb.WriteString(": ")
	}
	sb.WriteString(f.Name)
	writeArguments(sb, f.Arguments)
	writeDirectives(sb, f.Directives)

	if len(f.SelectionSet) > 0 {
		sb.WriteString(" {\n")
		writeSelections(sb, f.SelectionSet, indent+indentUnit)
		sb.WriteString(indent)
		sb.WriteString("}")
	}
	sb.WriteString("\n")
}

func writeInlineFragment(sb *strings.Builder, frag *ast.InlineFragment, indent string) {
	sb.WriteString(indent)
	sb.WriteString("...")
	if frag.TypeCondition != "" {
		sb.WriteString(" on ")
		sb.WriteString(frag.TypeCondition)
	}
	writeDirectives(sb, frag.Directives)
	sb.WriteString(" {\n")
	writeSelections(sb, frag.SelectionSet, indent+indentUnit)
	sb.WriteString(indent)
	sb.WriteString("}\n")
}

func writeArguments(sb *strings.Builder, args ast.ArgumentList) {
	if len(args) == 0 {
		return
	}
	sb.WriteString("(")
	for i, arg := range args {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(arg.Name)
		sb.WriteString(": ")
		writeValue(sb, arg.Value)
	}
	sb.WriteString(")")
}

func writeDirectives(sb *strings.Builder, dirs ast.DirectiveList) {
	for _, d := range dirs {
		sb.WriteString(" @")
		sb.WriteString(d.Name)
		writeArguments(sb, d.Arguments)
	}
}

// writeValue writes a GraphQL literal or variable reference.
func writeValue(sb *strings.Builder, v *ast.Value) {
	if v == nil {
		sb.WriteString("null")
		return
	}

	switch v.Kind {
	case ast.Variable:
		sb.WriteString("$")
		sb.WriteString(v.Raw)
	case ast.StringValue, ast.BlockValue:
		writeString(sb, v.Raw)
	case ast.NullValue:
		sb.WriteString("null")
	case ast.ListValue:
		sb.WriteString("[")
		for i, child := range v.Children {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeValue(sb, child.Value)
		}
		sb.WriteString("]")
	case ast.ObjectValue:
		sb.WriteString("{")
		for i, child := range v.Children {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(child.Name)
			sb.WriteString(": ")
			writeValue(sb, child.Value)
		}
		sb.WriteString("}")
	default:
		// Int, Float, Boolean and Enum values are written as-is.
		sb.WriteString(v.Raw)
	}
}

// writeString writes s as a GraphQL string literal.
func writeString(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		case '\b':
			sb.WriteString(`\b`)
		case '\f':
			sb.WriteString(`\f`)
		default:
			if r < 0x20 {
				sb.WriteString(`\u00`)
				sb.WriteString(strconv.FormatInt(int64(r>>4), 16))
				sb.WriteString(strconv.FormatInt(int64(r&0xf), 16))
				continue
			}
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
}
