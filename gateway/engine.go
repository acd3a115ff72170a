package gateway

import (
	"fmt"

	"github.com/n9te9/go-graphql-fusion-gateway/federation/graph"
	"github.com/n9te9/go-graphql-fusion-gateway/federation/plancache"
	"github.com/n9te9/go-graphql-fusion-gateway/federation/planner"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// planningEngine bundles the read-only components required to plan operations.
// A new engine is built for every composite schema; it is never mutated afterwards.
type planningEngine struct {
	schema  *graph.CompositeSchema
	planner *planner.Planner
	cache   *plancache.Cache
}

// buildEngine composes the schema from sdl and puts a plan cache in front of its planner.
func buildEngine(sdl []byte, opt PlannerOption, logger *zap.Logger, tp trace.TracerProvider) (*planningEngine, error) {
	schema, err := graph.NewCompositeSchema(sdl)
	if err != nil {
		return nil, fmt.Errorf("composition failed: %w", err)
	}

	var plannerOpts []planner.Option
	if opt.MaxRequirementDepth > 0 {
		plannerOpts = append(plannerOpts, planner.WithMaxRequirementDepth(opt.MaxRequirementDepth))
	}
	p := planner.New(schema, plannerOpts...)

	cacheSize := opt.CacheSize
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cacheOpts := []plancache.Option{plancache.WithLogger(logger)}
	if tp != nil {
		cacheOpts = append(cacheOpts, plancache.WithTracerProvider(tp))
	}
	cache, err := plancache.New(p, cacheSize, cacheOpts...)
	if err != nil {
		return nil, err
	}

	return &planningEngine{
		schema:  schema,
		planner: p,
		cache:   cache,
	}, nil
}

func (e *planningEngine) close() {
	e.cache.Close()
}
