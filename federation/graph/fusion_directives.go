package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

const (
	directiveFusionType     = "fusion__type"
	directiveFusionField    = "fusion__field"
	directiveFusionLookup   = "fusion__lookup"
	directiveFusionRequires = "fusion__requires"
)

// schemaNames collects the schema argument of every directive with the given name.
func schemaNames(directives ast.DirectiveList, name string) ([]string, error) {
	var names []string
	for _, d := range directives.ForNames(name) {
		sg, err := schemaArgument(d)
		if err != nil {
			return nil, err
		}
		names = appendUnique(names, sg)
	}
	return names, nil
}

// schemaArgument reads the schema argument, which may be an enum value or a string.
func schemaArgument(d *ast.Directive) (string, error) {
	v, err := requiredArgument(d, "schema")
	if err != nil {
		return "", err
	}
	switch v.Kind {
	case ast.EnumValue, ast.StringValue, ast.BlockValue:
		return v.Raw, nil
	default:
		return "", fmt.Errorf("@%s: schema must be an enum value or a string", d.Name)
	}
}

func requiredArgument(d *ast.Directive, name string) (*ast.Value, error) {
	arg := d.Arguments.ForName(name)
	if arg == nil || arg.Value == nil {
		return nil, fmt.Errorf("@%s: missing %s argument", d.Name, name)
	}
	return arg.Value, nil
}

func stringArgument(d *ast.Directive, name string) (string, error) {
	v, err := requiredArgument(d, name)
	if err != nil {
		return "", err
	}
	if v.Kind != ast.StringValue && v.Kind != ast.BlockValue {
		return "", fmt.Errorf("@%s: %s must be a string", d.Name, name)
	}
	return v.Raw, nil
}

// mapArgument reads a list of nullable strings. Null entries are returned as "".
// A missing argument yields nil.
func mapArgument(d *ast.Directive) ([]string, error) {
	arg := d.Arguments.ForName("map")
	if arg == nil || arg.Value == nil || arg.Value.Kind == ast.NullValue {
		return nil, nil
	}

	v := arg.Value
	if v.Kind != ast.ListValue {
		// A single value is coerced to a list of one.
		v = &ast.Value{Kind: ast.ListValue, Children: ast.ChildValueList{{Value: arg.Value}}}
	}

	entries := make([]string, 0, len(v.Children))
	for _, child := range v.Children {
		switch child.Value.Kind {
		case ast.NullValue:
			entries = append(entries, "")
		case ast.StringValue, ast.BlockValue:
			entry, err := parseMapEntry(child.Value.Raw)
			if err != nil {
				return nil, fmt.Errorf("@%s: %w", d.Name, err)
			}
			entries = append(entries, entry)
		default:
			return nil, fmt.Errorf("@%s: map entries must be strings or null", d.Name)
		}
	}
	return entries, nil
}

// parseMapEntry accepts "id" as well as the selection form "{ id }".
func parseMapEntry(raw string) (string, error) {
	fields, err := ParseKeyFields(raw)
	if err != nil {
		return "", err
	}
	if len(fields) != 1 {
		return "", fmt.Errorf("map entry %q must select exactly one field", raw)
	}
	return fields[0], nil
}

// ParseKeyFields parses a flat key selection such as "{ id }" or "sku upc".
func ParseKeyFields(key string) ([]string, error) {
	input := strings.TrimSpace(key)
	if !strings.HasPrefix(input, "{") {
		input = "{ " + input + " }"
	}

	doc, err := parser.ParseQuery(&ast.Source{Name: "key", Input: input})
	if err != nil {
		return nil, fmt.Errorf("invalid key %q: %w", key, err)
	}
	if len(doc.Operations) != 1 {
		return nil, fmt.Errorf("invalid key %q", key)
	}

	var fields []string
	for _, sel := range doc.Operations[0].SelectionSet {
		f, ok := sel.(*ast.Field)
		if !ok || f.Alias != f.Name || len(f.Arguments) > 0 || len(f.SelectionSet) > 0 {
			return nil, fmt.Errorf("key %q must only select scalar fields", key)
		}
		fields = append(fields, f.Name)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("key %q selects no fields", key)
	}
	return fields, nil
}

// parseRequirement reads @fusion__requires(schema:, field:, map:).
func parseRequirement(d *ast.Directive) (*FieldRequirement, error) {
	sg, err := schemaArgument(d)
	if err != nil {
		return nil, err
	}
	raw, err := stringArgument(d, "field")
	if err != nil {
		return nil, err
	}
	sig, err := ParseFieldSignature(raw)
	if err != nil {
		return nil, err
	}
	m, err := mapArgument(d)
	if err != nil {
		return nil, err
	}
	if len(m) != len(sig.Arguments) {
		return nil, fmt.Errorf("@%s: map has %d entries but %s declares %d arguments", d.Name, len(m), sig.Name, len(sig.Arguments))
	}

	return &FieldRequirement{
		Subgraph: sg,
		Field:    sig,
		Map:      m,
	}, nil
}

// parseLookup reads @fusion__lookup(schema:, key:, field:, map:) declared on type t.
func parseLookup(t *Type, d *ast.Directive) (*Lookup, error) {
	sg, err := schemaArgument(d)
	if err != nil {
		return nil, err
	}
	rawKey, err := stringArgument(d, "key")
	if err != nil {
		return nil, err
	}
	key, err := ParseKeyFields(rawKey)
	if err != nil {
		return nil, fmt.Errorf("@%s: %w", d.Name, err)
	}
	rawField, err := stringArgument(d, "field")
	if err != nil {
		return nil, err
	}
	sig, err := ParseFieldSignature(rawField)
	if err != nil {
		return nil, err
	}
	if len(sig.Arguments) == 0 {
		return nil, fmt.Errorf("@%s: lookup field %s declares no arguments", d.Name, sig.Name)
	}

	m, err := mapArgument(d)
	if err != nil {
		return nil, err
	}
	if m == nil {
		// Without a map, arguments bind to the key fields of the same name.
		for _, arg := range sig.Arguments {
			m = append(m, arg.Name)
		}
	}
	if len(m) != len(sig.Arguments) {
		return nil, fmt.Errorf("@%s: map has %d entries but %s declares %d arguments", d.Name, len(m), sig.Name, len(sig.Arguments))
	}

	lookup := &Lookup{
		Subgraph: sg,
		TypeName: t.Name,
		Key:      key,
		Field:    sig,
	}
	for i, arg := range sig.Arguments {
		keyField := m[i]
		if keyField == "" {
			return nil, fmt.Errorf("@%s: argument %s of %s is not mapped to a key field", d.Name, arg.Name, sig.Name)
		}
		if !slices.Contains(key, keyField) {
			return nil, fmt.Errorf("@%s: argument %s maps to %s which is not part of key %q", d.Name, arg.Name, keyField, rawKey)
		}
		if _, ok := t.Field(keyField); !ok {
			return nil, fmt.Errorf("@%s: key field %s is not defined on %s", d.Name, keyField, t.Name)
		}
		lookup.Arguments = append(lookup.Arguments, LookupArgument{
			Name:     arg.Name,
			KeyField: keyField,
			Type:     arg.Type,
		})
	}

	return lookup, nil
}
