package planner

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/n9te9/go-graphql-fusion-gateway/federation/graph"
	"github.com/vektah/gqlparser/v2/ast"
)

const requirementPrefix = "__fusion_requirement_"

// requirement is a value one node consumes from the result of another node.
type requirement struct {
	seq   int
	name  string
	node  *planNode // producing node
	path  string    // object path within the producing node's result
	field string    // response key of the value
	typ   string    // GraphQL type of the source field
}

// valuePath returns the path of the value itself within the producing node's result.
func (r *requirement) valuePath() string {
	if r.path == "" {
		return r.field
	}
	return r.path + "." + r.field
}

// chainLink is one step of a requirement chain: field of typeName fetched from subgraph.
type chainLink struct {
	subgraph string
	typeName string
	field    string
	requires bool // the field is fetched through @fusion__requires
}

// requirementChain is the stack of fields being resolved. It is copied on push so
// that sibling resolutions never observe each other's links.
type requirementChain []chainLink

func (c requirementChain) push(link chainLink, maxDepth int) (requirementChain, error) {
	for i, l := range c {
		if l.subgraph != link.subgraph || l.typeName != link.typeName || l.field != link.field {
			continue
		}
		// Looping through @requires means the field requires itself. A loop made of
		// lookups only means the key cannot be obtained on this route.
		cyclic := link.requires
		for _, ll := range c[i:] {
			cyclic = cyclic || ll.requires
		}
		if cyclic {
			return nil, newPlanningError(KindCyclicRequirement, nil, "field %s.%s in subgraph %s transitively requires itself", link.typeName, link.field, link.subgraph)
		}
		return nil, newPlanningError(KindUnresolvableRequirement, nil, "field %s.%s in subgraph %s cannot be reached without itself", link.typeName, link.field, link.subgraph)
	}

	if len(c) >= maxDepth {
		return nil, newPlanningError(KindCyclicRequirement, nil, "requirement chain for %s.%s exceeds %d hops", link.typeName, link.field, maxDepth)
	}

	next := make(requirementChain, len(c), len(c)+1)
	copy(next, c)
	return append(next, link), nil
}

func isCyclic(err error) bool {
	return errors.Is(err, ErrCyclicRequirement)
}

// fieldRoute describes how a field that is not local to the current node is fetched.
type fieldRoute struct {
	source *graph.FieldSource
	lookup *graph.Lookup
}

// routeField chooses the subgraph and lookup that supply def on an object of typeName when
// the walk currently is in subgraph from. Candidates are tried by lookup distance, ties
// broken by declaration order. The decision is static: nothing is added to the plan.
func (pc *planContext) routeField(typeName, from string, def *graph.Field, chain requirementChain) (*fieldRoute, error) {
	t, ok := pc.schema.Type(typeName)
	if !ok {
		return nil, newPlanningError(KindUnknownType, nil, "unknown type %s", typeName)
	}

	for _, src := range pc.orderSources(typeName, from, def) {
		if src.Subgraph == from && src.Requirement == nil {
			continue
		}

		next, err := chain.push(chainLink{
			subgraph: src.Subgraph,
			typeName: typeName,
			field:    def.Name,
			requires: src.Requirement != nil,
		}, pc.maxDepth)
		if err != nil {
			if isCyclic(err) {
				return nil, err
			}
			continue
		}

		lookup, err := pc.routeLookup(t, from, src.Subgraph, next)
		if err != nil {
			if isCyclic(err) {
				return nil, err
			}
			continue
		}

		if src.Requirement != nil {
			if err := pc.routeRequiredFields(t, from, src.Requirement, next); err != nil {
				if isCyclic(err) {
					return nil, err
				}
				continue
			}
		}

		return &fieldRoute{source: src, lookup: lookup}, nil
	}

	return nil, newPlanningError(KindUnresolvableRequirement, nil, "no subgraph can supply field %s.%s to subgraph %s", typeName, def.Name, from)
}

// routeLookup picks the first lookup of target whose key fields are obtainable from subgraph from.
func (pc *planContext) routeLookup(t *graph.Type, from, target string, chain requirementChain) (*graph.Lookup, error) {
	for _, l := range t.LookupsFor(target) {
		usable := true
		for _, arg := range l.Arguments {
			key, _ := t.Field(arg.KeyField)
			if key.IsLocal(from) {
				continue
			}
			if _, err := pc.routeField(t.Name, from, key, chain); err != nil {
				if isCyclic(err) {
					return nil, err
				}
				usable = false
				break
			}
		}
		if usable {
			return l, nil
		}
	}
	return nil, newPlanningError(KindUnresolvableRequirement, nil, "subgraph %s has no usable lookup for %s", target, t.Name)
}

func (pc *planContext) routeRequiredFields(t *graph.Type, from string, req *graph.FieldRequirement, chain requirementChain) error {
	for _, sibling := range req.RequiredFields() {
		def, _ := t.Field(sibling)
		if def.IsLocal(from) {
			continue
		}
		if _, err := pc.routeField(t.Name, from, def, chain); err != nil {
			return err
		}
	}
	return nil
}

// orderSources sorts the sources of def by lookup distance from subgraph from.
func (pc *planContext) orderSources(typeName, from string, def *graph.Field) []*graph.FieldSource {
	sources := slices.Clone(def.Sources)
	distance := func(src *graph.FieldSource) int {
		d, ok := pc.schema.Distance(typeName, from, src.Subgraph)
		if !ok {
			return math.MaxInt
		}
		return d
	}
	slices.SortStableFunc(sources, func(a, b *graph.FieldSource) int {
		da, db := distance(a), distance(b)
		switch {
		case da < db:
			return -1
		case da > db:
			return 1
		}
		return 0
	})
	return sources
}

// resolveRequirement makes the value of def available to a node created below ctx and
// returns the registered requirement. Fields local to the current node are injected
// into it; anything else is fetched through a further lookup.
func (pc *planContext) resolveRequirement(ctx walkContext, def *graph.Field, chain requirementChain) (*requirement, error) {
	if t, ok := pc.schema.Type(def.Type.Name()); ok && t.IsComposite() {
		return nil, newPlanningError(KindUnresolvableRequirement, nil, "field %s.%s of composite type %s cannot be used as a requirement", ctx.typeName, def.Name, def.Type.String())
	}

	if def.IsLocal(ctx.node.subgraph) {
		key := ctx.inject(def.Name)
		if ctx.typenameTarget != nil {
			ctx.node.ensureTypename(ctx.typenameTarget)
		}
		return pc.register(ctx.node, pathString(ctx.path), key, def.Type.String()), nil
	}

	route, err := pc.routeField(ctx.typeName, ctx.node.subgraph, def, chain)
	if err != nil {
		return nil, err
	}
	next, err := chain.push(chainLink{
		subgraph: route.lookup.Subgraph,
		typeName: ctx.typeName,
		field:    def.Name,
		requires: route.source.Requirement != nil,
	}, pc.maxDepth)
	if err != nil {
		return nil, err
	}

	var fieldReqs []*requirement
	if route.source.Requirement != nil {
		fieldReqs, err = pc.resolveFieldRequirements(ctx, route.source.Requirement, next)
		if err != nil {
			return nil, err
		}
	}

	child, err := pc.openLookup(ctx, route.lookup, fieldReqs, next)
	if err != nil {
		return nil, err
	}

	var key string
	if route.source.Requirement != nil {
		f := requiringField(newField(def.Name), route.source.Requirement, fieldReqs)
		key = injectField(child, f)
	} else {
		key = child.inject(def.Name)
	}

	return pc.register(child.node, pathString(child.path), key, def.Type.String()), nil
}

// resolveFieldRequirements resolves the sibling fields a @fusion__requires field depends
// on. The result is aligned with the requirement map; client-supplied arguments are nil.
func (pc *planContext) resolveFieldRequirements(ctx walkContext, req *graph.FieldRequirement, chain requirementChain) ([]*requirement, error) {
	t, _ := pc.schema.Type(ctx.typeName)

	reqs := make([]*requirement, len(req.Map))
	for i, sibling := range req.Map {
		if sibling == "" {
			continue
		}
		def, ok := t.Field(sibling)
		if !ok {
			return nil, newPlanningError(KindUnresolvableRequirement, nil, "required field %s.%s is not defined", ctx.typeName, sibling)
		}
		r, err := pc.resolveRequirement(ctx, def, chain)
		if err != nil {
			return nil, err
		}
		reqs[i] = r
	}
	return reqs, nil
}

// register records that a value is read from node. A (node, path, field) triple is
// registered once; names are assigned in resolution order.
func (pc *planContext) register(node *planNode, path, field, typ string) *requirement {
	key := fmt.Sprintf("%d|%s|%s", node.id, path, field)
	if r, ok := pc.requirements[key]; ok {
		return r
	}

	pc.requirementSeq++
	r := &requirement{
		seq:   pc.requirementSeq,
		name:  fmt.Sprintf("%s%d", requirementPrefix, pc.requirementSeq),
		node:  node,
		path:  path,
		field: field,
		typ:   typ,
	}
	pc.requirements[key] = r
	pc.requirementOrder = append(pc.requirementOrder, r)
	return r
}

// requiringField builds the subgraph-side selection of a @fusion__requires field. Mapped
// arguments are bound to requirement variables; the others come from the client field.
func requiringField(f *ast.Field, req *graph.FieldRequirement, reqs []*requirement) *ast.Field {
	field := &ast.Field{
		Alias:      responseKey(f),
		Name:       req.Field.Name,
		Directives: f.Directives,
		Position:   f.Position,
	}

	for i, arg := range req.Field.Arguments {
		if req.Map[i] == "" {
			if clientArg := f.Arguments.ForName(arg.Name); clientArg != nil {
				field.Arguments = append(field.Arguments, clientArg)
			}
			continue
		}
		field.Arguments = append(field.Arguments, &ast.Argument{
			Name:  arg.Name,
			Value: &ast.Value{Kind: ast.Variable, Raw: reqs[i].name},
		})
	}
	return field
}

// producedBefore reports whether every requirement is produced by a node created before id.
func producedBefore(reqs []*requirement, id int) bool {
	for _, r := range reqs {
		if r != nil && r.node.id >= id {
			return false
		}
	}
	return true
}
