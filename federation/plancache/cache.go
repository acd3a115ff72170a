package plancache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/n9te9/go-graphql-fusion-gateway/federation/planner"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const ScopeName = "fusion-gateway.planner"

// Planner produces request plans from operation text.
type Planner interface {
	PlanSource(query, operationName string) (*planner.RequestPlan, error)
}

type entry struct {
	plan *planner.RequestPlan
	err  error
}

type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

// Cache memoizes plans by operation. Planning errors are cached too since they only
// depend on the schema and the operation.
type Cache struct {
	planner Planner
	cache   *ristretto.Cache[uint64, *entry]
	sf      singleflight.Group
	tracer  trace.Tracer
	logger  *zap.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

type Option func(*Cache)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Cache) {
		c.tracer = tp.Tracer(ScopeName)
	}
}

// New creates a cache holding up to size plans in front of p.
func New(p Planner, size int64, opts ...Option) (*Cache, error) {
	if size <= 0 {
		return nil, fmt.Errorf("plan cache size must be positive, got %d", size)
	}

	cache, err := ristretto.NewCache(&ristretto.Config[uint64, *entry]{
		MaxCost:            size,
		NumCounters:        size * 10,
		IgnoreInternalCost: true,
		BufferItems:        64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create plan cache: %w", err)
	}

	c := &Cache{
		planner: p,
		cache:   cache,
		tracer:  otel.GetTracerProvider().Tracer(ScopeName),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Key hashes the operation name and text.
func Key(operationName, query string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(operationName)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(query)
	return d.Sum64()
}

// Plan returns the plan of the operation, planning it at most once per key at a time.
// hit reports whether the result came from the cache.
func (c *Cache) Plan(ctx context.Context, query, operationName string) (plan *planner.RequestPlan, hit bool, err error) {
	key := Key(operationName, query)

	if cached, ok := c.cache.Get(key); ok && cached != nil {
		c.hits.Add(1)
		return cached.plan, true, cached.err
	}
	c.misses.Add(1)

	shared, err, _ := c.sf.Do(strconv.FormatUint(key, 10), func() (any, error) {
		// A previous flight may have finished between the lookup above and this call.
		if cached, ok := c.cache.Get(key); ok && cached != nil {
			return cached, nil
		}
		e, err := c.plan(ctx, key, query, operationName)
		if err != nil {
			return nil, err
		}
		c.cache.Set(key, e, 1)
		c.cache.Wait()
		return e, nil
	})
	if err != nil {
		return nil, false, err
	}

	e, ok := shared.(*entry)
	if !ok {
		return nil, false, errors.New("unexpected plan cache entry type")
	}
	return e.plan, false, e.err
}

// plan runs the planner. Only unexpected failures are returned as error; planning errors
// become part of the cached entry.
func (c *Cache) plan(ctx context.Context, key uint64, query, operationName string) (*entry, error) {
	_, span := c.tracer.Start(ctx, "Operation - Plan",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("graphql.operation.name", operationName),
			attribute.String("fusion.plan.key", strconv.FormatUint(key, 10)),
		),
	)
	defer span.End()

	plan, err := c.planner.PlanSource(query, operationName)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)

		var perr *planner.PlanningError
		if !errors.As(err, &perr) {
			return nil, err
		}
		c.logger.Debug("operation could not be planned",
			zap.String("operation_name", operationName),
			zap.String("kind", string(perr.Kind)),
			zap.Error(err),
		)
		return &entry{err: err}, nil
	}

	span.SetAttributes(attribute.Int("fusion.plan.nodes", len(plan.Nodes)))
	c.logger.Debug("operation planned",
		zap.String("operation_name", operationName),
		zap.Int("nodes", len(plan.Nodes)),
	)
	return &entry{plan: plan}, nil
}

func (c *Cache) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
}

// Clear drops every cached plan.
func (c *Cache) Clear() {
	c.cache.Clear()
}

func (c *Cache) Close() {
	c.cache.Close()
}
