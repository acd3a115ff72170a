package graph_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/n9te9/go-graphql-fusion-gateway/federation/graph"
	"github.com/vektah/gqlparser/v2/ast"
)

const testCompositeSchema = `
	schema { query: Query mutation: Mutation }

	type Query @fusion__type(schema: PRODUCTS) @fusion__type(schema: ACCOUNTS) {
		productById(id: ID!): Product @fusion__field(schema: PRODUCTS)
		me: User @fusion__field(schema: ACCOUNTS)
		node(id: ID!): Node @fusion__field(schema: PRODUCTS)
		search(term: String!): [SearchResult!]! @fusion__field(schema: PRODUCTS)
	}

	type Mutation {
		rename(id: ID!, name: String!): Product @fusion__field(schema: PRODUCTS)
	}

	interface Node {
		id: ID! @fusion__field(schema: PRODUCTS)
	}

	union SearchResult = Product | User

	type Product implements Node
		@fusion__type(schema: PRODUCTS)
		@fusion__type(schema: INVENTORY)
		@fusion__type(schema: SHIPPING)
		@fusion__lookup(schema: PRODUCTS, key: "{ id }", field: "productById(id: ID!): Product", map: ["id"])
		@fusion__lookup(schema: INVENTORY, key: "{ id }", field: "inventoryProductById(id: ID!): Product", map: ["id"])
		@fusion__lookup(schema: SHIPPING, key: "id", field: "shippingProductById(id: ID!): Product") {
		id: ID! @fusion__field(schema: PRODUCTS) @fusion__field(schema: INVENTORY) @fusion__field(schema: SHIPPING)
		name: String! @fusion__field(schema: PRODUCTS)
		weight: Int! @fusion__field(schema: INVENTORY)
		deliveryEstimate(zip: String!): Int!
			@fusion__field(schema: SHIPPING)
			@fusion__requires(schema: SHIPPING, field: "deliveryEstimate(zip: String!, weight: Int!): Int!", map: [null, "weight"])
	}

	type User @fusion__type(schema: ACCOUNTS) {
		id: ID!
		name: String!
	}
`

func newTestSchema(t *testing.T, sdl string) *graph.CompositeSchema {
	t.Helper()

	s, err := graph.NewCompositeSchema([]byte(sdl))
	if err != nil {
		t.Fatalf("NewCompositeSchema failed: %v", err)
	}
	return s
}

func TestNewCompositeSchema_RootTypes(t *testing.T) {
	s := newTestSchema(t, testCompositeSchema)

	if s.QueryType != "Query" {
		t.Errorf("expected query type Query, got %q", s.QueryType)
	}
	if s.MutationType != "Mutation" {
		t.Errorf("expected mutation type Mutation, got %q", s.MutationType)
	}
	if s.SubscriptionType != "" {
		t.Errorf("expected no subscription type, got %q", s.SubscriptionType)
	}

	name, err := s.RootTypeName(ast.Subscription)
	if err == nil {
		t.Errorf("expected error for missing subscription root, got %q", name)
	}
}

func TestNewCompositeSchema_Subgraphs(t *testing.T) {
	s := newTestSchema(t, testCompositeSchema)

	want := []string{"PRODUCTS", "ACCOUNTS", "INVENTORY", "SHIPPING"}
	if diff := cmp.Diff(want, s.Subgraphs); diff != "" {
		t.Errorf("subgraphs mismatch (-want +got):\n%s", diff)
	}
}

func TestNewCompositeSchema_FieldSources(t *testing.T) {
	s := newTestSchema(t, testCompositeSchema)

	product, ok := s.Type("Product")
	if !ok {
		t.Fatal("Product not found")
	}

	tests := []struct {
		field string
		want  []string
	}{
		{field: "id", want: []string{"PRODUCTS", "INVENTORY", "SHIPPING"}},
		{field: "name", want: []string{"PRODUCTS"}},
		{field: "weight", want: []string{"INVENTORY"}},
		{field: "deliveryEstimate", want: []string{"SHIPPING"}},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			f, ok := product.Field(tt.field)
			if !ok {
				t.Fatalf("field %s not found", tt.field)
			}
			if diff := cmp.Diff(tt.want, f.Subgraphs()); diff != "" {
				t.Errorf("sources mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNewCompositeSchema_InheritsTypeSources(t *testing.T) {
	s := newTestSchema(t, testCompositeSchema)

	user, _ := s.Type("User")
	name, ok := user.Field("name")
	if !ok {
		t.Fatal("User.name not found")
	}
	if !name.IsLocal("ACCOUNTS") {
		t.Error("expected User.name to be local to ACCOUNTS")
	}
	if name.IsLocal("PRODUCTS") {
		t.Error("expected User.name not to be local to PRODUCTS")
	}
}

func TestNewCompositeSchema_Requirement(t *testing.T) {
	s := newTestSchema(t, testCompositeSchema)

	product, _ := s.Type("Product")
	f, _ := product.Field("deliveryEstimate")

	if f.IsLocal("SHIPPING") {
		t.Error("deliveryEstimate has a requirement and must not be local")
	}

	src, ok := f.Source("SHIPPING")
	if !ok || src.Requirement == nil {
		t.Fatal("expected SHIPPING requirement")
	}

	if src.Requirement.Field.Name != "deliveryEstimate" {
		t.Errorf("unexpected signature name %q", src.Requirement.Field.Name)
	}
	if diff := cmp.Diff([]string{"", "weight"}, src.Requirement.Map); diff != "" {
		t.Errorf("map mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"weight"}, src.Requirement.RequiredFields()); diff != "" {
		t.Errorf("required fields mismatch (-want +got):\n%s", diff)
	}
	if got := src.Requirement.Field.Arguments[1].Type.String(); got != "Int!" {
		t.Errorf("expected weight argument of type Int!, got %s", got)
	}
}

func TestNewCompositeSchema_Lookups(t *testing.T) {
	s := newTestSchema(t, testCompositeSchema)

	product, _ := s.Type("Product")
	if len(product.Lookups) != 3 {
		t.Fatalf("expected 3 lookups, got %d", len(product.Lookups))
	}

	shipping := product.LookupsFor("SHIPPING")
	if len(shipping) != 1 {
		t.Fatalf("expected 1 SHIPPING lookup, got %d", len(shipping))
	}

	l := shipping[0]
	if l.Field.Name != "shippingProductById" {
		t.Errorf("unexpected lookup field %q", l.Field.Name)
	}
	if diff := cmp.Diff([]string{"id"}, l.Key); diff != "" {
		t.Errorf("key mismatch (-want +got):\n%s", diff)
	}
	// Without a map the argument binds to the key field of the same name.
	if len(l.Arguments) != 1 || l.Arguments[0].Name != "id" || l.Arguments[0].KeyField != "id" {
		t.Errorf("unexpected lookup arguments: %+v", l.Arguments)
	}
	if l.Arguments[0].Type.String() != "ID!" {
		t.Errorf("expected argument type ID!, got %s", l.Arguments[0].Type.String())
	}
}

func TestNewCompositeSchema_PossibleTypes(t *testing.T) {
	s := newTestSchema(t, testCompositeSchema)

	tests := []struct {
		typeName string
		want     []string
	}{
		{typeName: "Node", want: []string{"Product"}},
		{typeName: "SearchResult", want: []string{"Product", "User"}},
		{typeName: "Product", want: []string{"Product"}},
	}

	for _, tt := range tests {
		t.Run(tt.typeName, func(t *testing.T) {
			typ, _ := s.Type(tt.typeName)
			if diff := cmp.Diff(tt.want, typ.PossibleTypes); diff != "" {
				t.Errorf("possible types mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if !s.TypesOverlap("SearchResult", "Node") {
		t.Error("SearchResult and Node share Product")
	}
	if s.TypesOverlap("User", "Node") {
		t.Error("User does not implement Node")
	}
	if !s.IsPossibleType("Node", "Product") {
		t.Error("Product implements Node")
	}
}

func TestNewCompositeSchema_Distance(t *testing.T) {
	s := newTestSchema(t, testCompositeSchema)

	if d, ok := s.Distance("Product", "PRODUCTS", "INVENTORY"); !ok || d != 1 {
		t.Errorf("PRODUCTS -> INVENTORY: got %d (%v), want 1", d, ok)
	}
	if d, ok := s.Distance("Product", "INVENTORY", "INVENTORY"); !ok || d != 0 {
		t.Errorf("INVENTORY -> INVENTORY: got %d (%v), want 0", d, ok)
	}
	if _, ok := s.Distance("User", "ACCOUNTS", "PRODUCTS"); ok {
		t.Error("User has no lookups, PRODUCTS must be unreachable")
	}
}

func TestNewCompositeSchema_Errors(t *testing.T) {
	tests := []struct {
		name    string
		sdl     string
		wantErr string
	}{
		{
			name:    "syntax error",
			sdl:     `type Query {`,
			wantErr: "failed to parse composite schema",
		},
		{
			name: "missing query type",
			sdl: `
				type Product @fusion__type(schema: A) { id: ID! }
			`,
			wantErr: "no query type",
		},
		{
			name: "unknown field type",
			sdl: `
				type Query @fusion__type(schema: A) { product: Product }
			`,
			wantErr: "unknown type Product",
		},
		{
			name: "lookup maps to field outside of key",
			sdl: `
				type Query @fusion__type(schema: A) { product(id: ID!): Product }
				type Product @fusion__type(schema: A)
					@fusion__lookup(schema: A, key: "{ id }", field: "product(sku: String!): Product", map: ["sku"]) {
					id: ID!
					sku: String!
				}
			`,
			wantErr: "not part of key",
		},
		{
			name: "requires map length mismatch",
			sdl: `
				type Query @fusion__type(schema: A) { product: Product }
				type Product @fusion__type(schema: A) {
					id: ID!
					price: Int! @fusion__requires(schema: A, field: "price(currency: String!): Int!", map: [])
				}
			`,
			wantErr: "map has 0 entries",
		},
		{
			name: "requires unknown sibling",
			sdl: `
				type Query @fusion__type(schema: A) { product: Product }
				type Product @fusion__type(schema: A) {
					id: ID!
					price: Int! @fusion__requires(schema: A, field: "price(currency: String!): Int!", map: ["currency"])
				}
			`,
			wantErr: "required field currency is not defined",
		},
		{
			name: "invalid signature",
			sdl: `
				type Query @fusion__type(schema: A) { product: Product }
				type Product @fusion__type(schema: A)
					@fusion__lookup(schema: A, key: "{ id }", field: "product(", map: ["id"]) {
					id: ID!
				}
			`,
			wantErr: "invalid field signature",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := graph.NewCompositeSchema([]byte(tt.sdl))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestParseKeyFields(t *testing.T) {
	tests := []struct {
		key     string
		want    []string
		wantErr bool
	}{
		{key: "{ id }", want: []string{"id"}},
		{key: "sku upc", want: []string{"sku", "upc"}},
		{key: "{ owner { id } }", wantErr: true},
		{key: "{ }", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := graph.ParseKeyFields(tt.key)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("key fields mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseFieldSignature(t *testing.T) {
	sig, err := graph.ParseFieldSignature("productById(id: ID!, locale: String = \"en\"): Product")
	if err != nil {
		t.Fatalf("ParseFieldSignature failed: %v", err)
	}

	if sig.Name != "productById" {
		t.Errorf("unexpected name %q", sig.Name)
	}
	if sig.Type.String() != "Product" {
		t.Errorf("unexpected type %q", sig.Type.String())
	}
	if len(sig.Arguments) != 2 {
		t.Fatalf("expected 2 arguments, got %d", len(sig.Arguments))
	}
	if sig.Arguments[1].DefaultValue == nil || sig.Arguments[1].DefaultValue.Raw != "en" {
		t.Errorf("expected default value en, got %+v", sig.Arguments[1].DefaultValue)
	}
}
