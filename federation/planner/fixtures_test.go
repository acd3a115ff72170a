package planner_test

import (
	"testing"

	"github.com/n9te9/go-graphql-fusion-gateway/federation/graph"
	"github.com/n9te9/go-graphql-fusion-gateway/federation/planner"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

const storefrontSchema = `
	schema { query: Query mutation: Mutation }

	type Query @fusion__type(schema: PRODUCTS) @fusion__type(schema: ACCOUNTS) @fusion__type(schema: REVIEWS) {
		productById(id: ID!): Product @fusion__field(schema: PRODUCTS)
		topProducts(first: Int): [Product!]! @fusion__field(schema: PRODUCTS)
		node(id: ID!): Node @fusion__field(schema: PRODUCTS)
		me: User @fusion__field(schema: ACCOUNTS)
		secretOfTheDay: String! @fusion__requires(schema: VAULT, field: "secretOfTheDay(day: Int!): String!", map: ["day"])
		day: Int! @fusion__field(schema: PRODUCTS)
	}

	type Mutation {
		renameProduct(id: ID!, name: String!): Product @fusion__field(schema: PRODUCTS)
		addReview(productId: ID!, body: String!): Review @fusion__field(schema: REVIEWS)
	}

	interface Node {
		id: ID! @fusion__field(schema: PRODUCTS)
	}

	type Product implements Node
		@fusion__type(schema: PRODUCTS)
		@fusion__type(schema: INVENTORY)
		@fusion__type(schema: SHIPPING)
		@fusion__type(schema: REVIEWS)
		@fusion__lookup(schema: PRODUCTS, key: "{ id }", field: "productById(id: ID!): Product", map: ["id"])
		@fusion__lookup(schema: INVENTORY, key: "{ id }", field: "inventoryProductById(id: ID!): Product", map: ["id"])
		@fusion__lookup(schema: SHIPPING, key: "{ id }", field: "shippingProductById(id: ID!): Product", map: ["id"])
		@fusion__lookup(schema: REVIEWS, key: "{ id }", field: "reviewsNodeById(id: ID!): Node") {
		id: ID! @fusion__field(schema: PRODUCTS) @fusion__field(schema: INVENTORY) @fusion__field(schema: SHIPPING) @fusion__field(schema: REVIEWS)
		name: String! @fusion__field(schema: PRODUCTS)
		description: String @fusion__field(schema: PRODUCTS)
		weight: Int! @fusion__field(schema: INVENTORY)
		inStock: Boolean! @fusion__field(schema: INVENTORY)
		secret: String! @fusion__field(schema: VAULT)
		deliveryEstimate(zip: String!): Int!
			@fusion__field(schema: SHIPPING)
			@fusion__requires(schema: SHIPPING, field: "deliveryEstimate(zip: String!, weight: Int!): Int!", map: [null, "weight"])
		reviews: [Review!]! @fusion__field(schema: REVIEWS)
	}

	type Review @fusion__type(schema: REVIEWS) {
		id: ID!
		body: String!
		author: User
	}

	type User
		@fusion__type(schema: ACCOUNTS)
		@fusion__type(schema: REVIEWS)
		@fusion__lookup(schema: ACCOUNTS, key: "{ id }", field: "userById(id: ID!): User", map: ["id"]) {
		id: ID! @fusion__field(schema: ACCOUNTS) @fusion__field(schema: REVIEWS)
		name: String! @fusion__field(schema: ACCOUNTS)
	}
`

func newTestPlanner(t *testing.T, sdl string) *planner.Planner {
	t.Helper()

	schema, err := graph.NewCompositeSchema([]byte(sdl))
	if err != nil {
		t.Fatalf("NewCompositeSchema failed: %v", err)
	}
	return planner.New(schema)
}

func parseOperation(t *testing.T, query string) *ast.QueryDocument {
	t.Helper()

	doc, err := parser.ParseQuery(&ast.Source{Name: "test.graphql", Input: query})
	if err != nil {
		t.Fatalf("ParseQuery failed: %v", err)
	}
	return doc
}

func mustPlan(t *testing.T, p *planner.Planner, query string) *planner.RequestPlan {
	t.Helper()

	plan, err := p.Plan(parseOperation(t, query), "")
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if err := plan.Validate(); err != nil {
		t.Fatalf("plan is not a valid DAG: %v", err)
	}
	return plan
}
