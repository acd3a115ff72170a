package graph

import (
	"fmt"
	"slices"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

const (
	// TypenameField is the introspection field resolvable on every composite type in every subgraph.
	TypenameField = "__typename"
)

// builtinScalars are available in every composite schema without being declared.
var builtinScalars = []string{"Int", "Float", "String", "Boolean", "ID"}

// FieldSignature is a parsed field signature such as "productById(id: ID!): Product".
type FieldSignature struct {
	Name      string                     // Field name in the subgraph
	Arguments ast.ArgumentDefinitionList // Arguments in declaration order
	Type      *ast.Type                  // Return type
}

// FieldRequirement is the @fusion__requires information of a field in one subgraph.
type FieldRequirement struct {
	Subgraph string          // Subgraph that requires the data
	Field    *FieldSignature // Subgraph-side signature of the field
	// Map is aligned with Field.Arguments. An empty entry means the argument is
	// passed through from the client field; otherwise it names a sibling field.
	Map []string
}

// RequiredFields returns the sibling field names the requirement depends on, in argument order.
func (r *FieldRequirement) RequiredFields() []string {
	fields := make([]string, 0, len(r.Map))
	for _, m := range r.Map {
		if m != "" {
			fields = append(fields, m)
		}
	}
	return fields
}

// FieldSource describes one subgraph able to resolve a field.
type FieldSource struct {
	Subgraph    string
	Requirement *FieldRequirement // nil when the subgraph resolves the field without extra input
}

// Field is a field of a composite type together with the subgraphs exposing it.
type Field struct {
	Name      string
	Type      *ast.Type
	Arguments ast.ArgumentDefinitionList
	Sources   []*FieldSource // declaration order
}

// Source returns the source of the field in the given subgraph.
func (f *Field) Source(subgraph string) (*FieldSource, bool) {
	for _, s := range f.Sources {
		if s.Subgraph == subgraph {
			return s, true
		}
	}
	return nil, false
}

// IsLocal reports whether the subgraph resolves the field without any requirement.
func (f *Field) IsLocal(subgraph string) bool {
	src, ok := f.Source(subgraph)
	return ok && src.Requirement == nil
}

// Subgraphs returns the names of the subgraphs exposing the field.
func (f *Field) Subgraphs() []string {
	names := make([]string, 0, len(f.Sources))
	for _, s := range f.Sources {
		names = append(names, s.Subgraph)
	}
	return names
}

// LookupArgument binds one argument of a lookup field to a key field.
type LookupArgument struct {
	Name     string    // Argument name of the lookup field
	KeyField string    // Key field supplying the value
	Type     *ast.Type // Declared argument type
}

// Lookup is a subgraph entry point resolving an entity from its key fields.
type Lookup struct {
	Subgraph  string
	TypeName  string
	Key       []string // Key field names, e.g. ["id"] for "{ id }"
	Field     *FieldSignature
	Arguments []LookupArgument
}

// Type is a named type of the composite schema.
type Type struct {
	Name          string
	Kind          ast.DefinitionKind
	Fields        []*Field // declaration order
	Interfaces    []string
	PossibleTypes []string // concrete object types; an object type lists itself
	Sources       []string // @fusion__type subgraphs
	Lookups       []*Lookup

	fieldIndex map[string]*Field
}

// Field returns the field with the given name.
func (t *Type) Field(name string) (*Field, bool) {
	f, ok := t.fieldIndex[name]
	return f, ok
}

// IsAbstract reports whether the type is an interface or a union.
func (t *Type) IsAbstract() bool {
	return t.Kind == ast.Interface || t.Kind == ast.Union
}

// IsComposite reports whether selections can be made on the type.
func (t *Type) IsComposite() bool {
	return t.Kind == ast.Object || t.IsAbstract()
}

// LookupsFor returns the lookups the subgraph exposes for the type.
func (t *Type) LookupsFor(subgraph string) []*Lookup {
	var lookups []*Lookup
	for _, l := range t.Lookups {
		if l.Subgraph == subgraph {
			lookups = append(lookups, l)
		}
	}
	return lookups
}

// CompositeSchema is the gateway-visible schema annotated with fusion directives.
// It is read-only after NewCompositeSchema returns and safe for concurrent use.
type CompositeSchema struct {
	QueryType        string
	MutationType     string
	SubscriptionType string
	Types            map[string]*Type
	Subgraphs        []string // declaration order

	typeOrder []string
	distances map[string]map[string]int // NodeKey(subgraph, type) -> subgraph -> hops
}

// NewCompositeSchema parses a composite schema SDL and builds the field-to-subgraph mapping.
func NewCompositeSchema(src []byte) (*CompositeSchema, error) {
	doc, err := parser.ParseSchema(&ast.Source{Name: "composite.graphql", Input: string(src)})
	if err != nil {
		return nil, fmt.Errorf("failed to parse composite schema: %w", err)
	}

	return NewCompositeSchemaFromDocument(doc)
}

// NewCompositeSchemaFromDocument builds a composite schema from an already parsed SDL document.
func NewCompositeSchemaFromDocument(doc *ast.SchemaDocument) (*CompositeSchema, error) {
	s := &CompositeSchema{
		Types:     make(map[string]*Type),
		distances: make(map[string]map[string]int),
	}

	for _, name := range builtinScalars {
		s.addType(&Type{Name: name, Kind: ast.Scalar, fieldIndex: map[string]*Field{}})
	}

	definitions := make(ast.DefinitionList, 0, len(doc.Definitions)+len(doc.Extensions))
	definitions = append(definitions, doc.Definitions...)
	definitions = append(definitions, doc.Extensions...)

	// First pass: declare every type so that field types can be checked.
	for _, def := range definitions {
		t, exists := s.Types[def.Name]
		if !exists {
			t = &Type{Name: def.Name, Kind: def.Kind, fieldIndex: make(map[string]*Field)}
			s.addType(t)
		}
		sources, err := schemaNames(def.Directives, directiveFusionType)
		if err != nil {
			return nil, fmt.Errorf("type %s: %w", def.Name, err)
		}
		for _, sg := range sources {
			t.Sources = appendUnique(t.Sources, sg)
			s.Subgraphs = appendUnique(s.Subgraphs, sg)
		}
		t.Interfaces = append(t.Interfaces, def.Interfaces...)
		if def.Kind == ast.Union {
			t.PossibleTypes = append(t.PossibleTypes, def.Types...)
		}
	}

	// Second pass: fields, their sources and requirements.
	for _, def := range definitions {
		t := s.Types[def.Name]
		for _, fd := range def.Fields {
			if err := s.addField(t, fd); err != nil {
				return nil, fmt.Errorf("field %s.%s: %w", def.Name, fd.Name, err)
			}
		}
	}

	// Third pass: lookups, which refer to fields declared anywhere on the type.
	for _, def := range definitions {
		t := s.Types[def.Name]
		for _, d := range def.Directives.ForNames(directiveFusionLookup) {
			lookup, err := parseLookup(t, d)
			if err != nil {
				return nil, fmt.Errorf("type %s: %w", def.Name, err)
			}
			t.Lookups = append(t.Lookups, lookup)
			s.Subgraphs = appendUnique(s.Subgraphs, lookup.Subgraph)
		}
	}

	if err := s.resolveRootTypes(doc); err != nil {
		return nil, err
	}
	s.resolvePossibleTypes()

	if err := s.validate(); err != nil {
		return nil, err
	}

	s.computeDistances()

	return s, nil
}

func (s *CompositeSchema) addType(t *Type) {
	s.Types[t.Name] = t
	s.typeOrder = append(s.typeOrder, t.Name)
}

func (s *CompositeSchema) addField(t *Type, fd *ast.FieldDefinition) error {
	if _, exists := t.fieldIndex[fd.Name]; exists {
		return fmt.Errorf("field declared twice")
	}

	f := &Field{
		Name:      fd.Name,
		Type:      fd.Type,
		Arguments: fd.Arguments,
	}

	subgraphs, err := schemaNames(fd.Directives, directiveFusionField)
	if err != nil {
		return err
	}
	// Fields without any fusion annotation are resolvable wherever the type is.
	if len(subgraphs) == 0 && len(fd.Directives.ForNames(directiveFusionRequires)) == 0 {
		subgraphs = t.Sources
	}
	for _, sg := range subgraphs {
		f.Sources = append(f.Sources, &FieldSource{Subgraph: sg})
		s.Subgraphs = appendUnique(s.Subgraphs, sg)
	}

	for _, d := range fd.Directives.ForNames(directiveFusionRequires) {
		req, err := parseRequirement(d)
		if err != nil {
			return err
		}
		src, ok := f.Source(req.Subgraph)
		if !ok {
			src = &FieldSource{Subgraph: req.Subgraph}
			f.Sources = append(f.Sources, src)
			s.Subgraphs = appendUnique(s.Subgraphs, req.Subgraph)
		}
		src.Requirement = req
	}

	t.Fields = append(t.Fields, f)
	t.fieldIndex[f.Name] = f
	return nil
}

func (s *CompositeSchema) resolveRootTypes(doc *ast.SchemaDocument) error {
	var operationTypes ast.OperationTypeDefinitionList
	for _, def := range doc.Schema {
		operationTypes = append(operationTypes, def.OperationTypes...)
	}
	for _, def := range doc.SchemaExtension {
		operationTypes = append(operationTypes, def.OperationTypes...)
	}

	for _, ot := range operationTypes {
		if _, ok := s.Types[ot.Type]; !ok {
			return fmt.Errorf("root operation type %s is not defined", ot.Type)
		}
		switch ot.Operation {
		case ast.Query:
			s.QueryType = ot.Type
		case ast.Mutation:
			s.MutationType = ot.Type
		case ast.Subscription:
			s.SubscriptionType = ot.Type
		}
	}

	if s.QueryType == "" {
		if _, ok := s.Types["Query"]; ok {
			s.QueryType = "Query"
		}
	}
	if s.MutationType == "" {
		if _, ok := s.Types["Mutation"]; ok {
			s.MutationType = "Mutation"
		}
	}
	if s.SubscriptionType == "" {
		if _, ok := s.Types["Subscription"]; ok {
			s.SubscriptionType = "Subscription"
		}
	}

	if s.QueryType == "" {
		return fmt.Errorf("composite schema has no query type")
	}
	return nil
}

// resolvePossibleTypes fills PossibleTypes of interfaces from the implementing objects.
func (s *CompositeSchema) resolvePossibleTypes() {
	for _, name := range s.typeOrder {
		t := s.Types[name]
		if t.Kind != ast.Object {
			continue
		}
		t.PossibleTypes = []string{t.Name}
		for _, iface := range t.Interfaces {
			if it, ok := s.Types[iface]; ok && it.Kind == ast.Interface {
				it.PossibleTypes = appendUnique(it.PossibleTypes, t.Name)
			}
		}
	}
}

func (s *CompositeSchema) validate() error {
	for _, name := range s.typeOrder {
		t := s.Types[name]
		for _, f := range t.Fields {
			if _, ok := s.Types[f.Type.Name()]; !ok {
				return fmt.Errorf("field %s.%s: unknown type %s", t.Name, f.Name, f.Type.Name())
			}
			for _, src := range f.Sources {
				if src.Requirement == nil {
					continue
				}
				for _, sibling := range src.Requirement.RequiredFields() {
					if _, ok := t.Field(sibling); !ok {
						return fmt.Errorf("field %s.%s: required field %s is not defined on %s", t.Name, f.Name, sibling, t.Name)
					}
				}
			}
		}
		for _, pt := range t.PossibleTypes {
			if _, ok := s.Types[pt]; !ok {
				return fmt.Errorf("type %s: unknown possible type %s", t.Name, pt)
			}
		}
	}
	return nil
}

// Type returns the type with the given name.
func (s *CompositeSchema) Type(name string) (*Type, bool) {
	t, ok := s.Types[name]
	return t, ok
}

// RootTypeName returns the root type name for the operation kind.
func (s *CompositeSchema) RootTypeName(op ast.Operation) (string, error) {
	var name string
	switch op {
	case ast.Query, "":
		name = s.QueryType
	case ast.Mutation:
		name = s.MutationType
	case ast.Subscription:
		name = s.SubscriptionType
	default:
		return "", fmt.Errorf("unsupported operation type: %s", op)
	}
	if name == "" {
		return "", fmt.Errorf("composite schema does not define a %s root type", op)
	}
	return name, nil
}

// IsPossibleType reports whether the concrete type is a member of the (possibly abstract) type.
func (s *CompositeSchema) IsPossibleType(typeName, concrete string) bool {
	t, ok := s.Types[typeName]
	if !ok {
		return false
	}
	return slices.Contains(t.PossibleTypes, concrete)
}

// TypesOverlap reports whether a fragment on condition may apply to a value of parent type.
func (s *CompositeSchema) TypesOverlap(parent, condition string) bool {
	if parent == condition {
		return true
	}
	p, ok := s.Types[parent]
	if !ok {
		return false
	}
	c, ok := s.Types[condition]
	if !ok {
		return false
	}
	for _, pt := range p.PossibleTypes {
		if slices.Contains(c.PossibleTypes, pt) {
			return true
		}
	}
	return false
}

// Distance returns the number of lookup hops needed to reach the type in subgraph to when
// starting in subgraph from. ok is false when no lookup path exists.
func (s *CompositeSchema) Distance(typeName, from, to string) (int, bool) {
	if from == to {
		return 0, true
	}
	d, ok := s.distances[NodeKey(from, typeName)][to]
	return d, ok
}

// ParseFieldSignature parses a field signature such as "productById(id: ID!): Product".
func ParseFieldSignature(signature string) (*FieldSignature, error) {
	doc, err := parser.ParseSchema(&ast.Source{
		Name:  "signature",
		Input: "type FusionSignature { " + signature + " }",
	})
	if err != nil {
		return nil, fmt.Errorf("invalid field signature %q: %w", signature, err)
	}
	if len(doc.Definitions) != 1 || len(doc.Definitions[0].Fields) != 1 {
		return nil, fmt.Errorf("invalid field signature %q", signature)
	}

	fd := doc.Definitions[0].Fields[0]
	return &FieldSignature{
		Name:      fd.Name,
		Arguments: fd.Arguments,
		Type:      fd.Type,
	}, nil
}

func appendUnique(list []string, v string) []string {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}
