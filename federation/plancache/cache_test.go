package plancache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/n9te9/go-graphql-fusion-gateway/federation/graph"
	"github.com/n9te9/go-graphql-fusion-gateway/federation/plancache"
	"github.com/n9te9/go-graphql-fusion-gateway/federation/planner"
	"github.com/stretchr/testify/require"
)

const schemaSDL = `
	type Query @fusion__type(schema: PRODUCTS) {
		productById(id: ID!): Product
	}

	type Product @fusion__type(schema: PRODUCTS) {
		id: ID!
		name: String!
	}
`

type countingPlanner struct {
	next    plancache.Planner
	calls   atomic.Int32
	release chan struct{}
}

func (p *countingPlanner) PlanSource(query, operationName string) (*planner.RequestPlan, error) {
	p.calls.Add(1)
	if p.release != nil {
		<-p.release
	}
	return p.next.PlanSource(query, operationName)
}

type failingPlanner struct {
	calls atomic.Int32
}

func (p *failingPlanner) PlanSource(string, string) (*planner.RequestPlan, error) {
	p.calls.Add(1)
	return nil, errors.New("schema unavailable")
}

func newPlanner(t *testing.T) *planner.Planner {
	t.Helper()

	schema, err := graph.NewCompositeSchema([]byte(schemaSDL))
	require.NoError(t, err)
	return planner.New(schema)
}

func TestCache_Plan(t *testing.T) {
	p := &countingPlanner{next: newPlanner(t)}
	c, err := plancache.New(p, 16)
	require.NoError(t, err)
	defer c.Close()

	query := `query($id: ID!) { productById(id: $id) { name } }`

	first, hit, err := c.Plan(context.Background(), query, "")
	require.NoError(t, err)
	require.False(t, hit)
	require.Len(t, first.Nodes, 1)

	second, hit, err := c.Plan(context.Background(), query, "")
	require.NoError(t, err)
	require.True(t, hit)
	require.Same(t, first, second)

	require.EqualValues(t, 1, p.calls.Load())
	require.Equal(t, plancache.Stats{Hits: 1, Misses: 1}, c.Stats())
}

func TestCache_Plan_CachesPlanningErrors(t *testing.T) {
	p := &countingPlanner{next: newPlanner(t)}
	c, err := plancache.New(p, 16)
	require.NoError(t, err)
	defer c.Close()

	query := `{ productById(id: "1") { nope } }`

	for i := 0; i < 3; i++ {
		_, _, err := c.Plan(context.Background(), query, "")
		require.ErrorIs(t, err, planner.ErrUnknownField)
	}
	require.EqualValues(t, 1, p.calls.Load())
}

func TestCache_Plan_DoesNotCacheUnexpectedErrors(t *testing.T) {
	p := &failingPlanner{}
	c, err := plancache.New(p, 16)
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 2; i++ {
		_, _, err := c.Plan(context.Background(), `{ productById(id: "1") { name } }`, "")
		require.EqualError(t, err, "schema unavailable")
	}
	require.EqualValues(t, 2, p.calls.Load())
}

func TestCache_Plan_CollapsesConcurrentMisses(t *testing.T) {
	p := &countingPlanner{next: newPlanner(t), release: make(chan struct{})}
	c, err := plancache.New(p, 16)
	require.NoError(t, err)
	defer c.Close()

	query := `{ productById(id: "1") { id name } }`

	var wg sync.WaitGroup
	plans := make([]*planner.RequestPlan, 8)
	errs := make([]error, len(plans))
	for i := range plans {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			plans[i], _, errs[i] = c.Plan(context.Background(), query, "")
		}(i)
	}
	close(p.release)
	wg.Wait()

	require.EqualValues(t, 1, p.calls.Load())
	for i, plan := range plans {
		require.NoError(t, errs[i])
		require.Same(t, plans[0], plan)
	}
}

func TestKey(t *testing.T) {
	require.Equal(t, plancache.Key("A", "{ a }"), plancache.Key("A", "{ a }"))
	require.NotEqual(t, plancache.Key("A", "{ a }"), plancache.Key("B", "{ a }"))
	require.NotEqual(t, plancache.Key("", "A{ a }"), plancache.Key("A", "{ a }"))
}

func TestNew_InvalidSize(t *testing.T) {
	_, err := plancache.New(newPlanner(t), 0)
	require.Error(t, err)
}
