package planner

import (
	"errors"
	"fmt"
	"slices"

	"github.com/n9te9/go-graphql-fusion-gateway/federation/graph"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
)

// MaxRequirementDepth is the default bound on nested requirement chains.
const MaxRequirementDepth = 8

// Planner turns client operations into request plans against one composite schema.
// A Planner is immutable after New and safe for concurrent use.
type Planner struct {
	schema   *graph.CompositeSchema
	maxDepth int
}

type Option func(*Planner)

// WithMaxRequirementDepth overrides the bound on nested requirement chains.
func WithMaxRequirementDepth(depth int) Option {
	return func(p *Planner) {
		if depth > 0 {
			p.maxDepth = depth
		}
	}
}

func New(schema *graph.CompositeSchema, opts ...Option) *Planner {
	p := &Planner{
		schema:   schema,
		maxDepth: MaxRequirementDepth,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Planner) Schema() *graph.CompositeSchema {
	return p.schema
}

// PlanSource parses query and plans it.
func (p *Planner) PlanSource(query, operationName string) (*RequestPlan, error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: "operation.graphql", Input: query})
	if err != nil {
		return nil, syntaxError(err)
	}
	return p.Plan(doc, operationName)
}

// Plan normalizes the selected operation of doc and builds its request plan.
func (p *Planner) Plan(doc *ast.QueryDocument, operationName string) (*RequestPlan, error) {
	op, err := Normalize(p.schema, doc, operationName)
	if err != nil {
		return nil, err
	}

	pc := &planContext{
		schema:       p.schema,
		op:           op,
		maxDepth:     p.maxDepth,
		lookupNodes:  make(map[string]*planNode),
		requirements: make(map[string]*requirement),
	}

	rootType, err := p.schema.RootTypeName(op.Operation)
	if err != nil {
		return nil, newPlanningError(KindUnknownType, op.Position, "%s", err.Error())
	}
	if err := pc.planRootSelections(op.SelectionSet, rootType, nil); err != nil {
		return nil, err
	}

	return pc.finalize(), nil
}

func syntaxError(err error) error {
	var gqlErr *gqlerror.Error
	if !errors.As(err, &gqlErr) {
		return newPlanningError(KindInvalidOperation, nil, "%s", err.Error())
	}

	perr := &PlanningError{Kind: KindInvalidOperation, Message: gqlErr.Message}
	for _, loc := range gqlErr.Locations {
		perr.Locations = append(perr.Locations, Location{Line: loc.Line, Column: loc.Column})
	}
	return perr
}

// planNode is a request node under construction.
type planNode struct {
	id           int
	subgraph     string
	root         bool
	typeName     string // root operation type, or the entity type of a lookup
	selectionSet ast.SelectionSet
	requirements []*requirement // consumed by this node, in resolution order
	skipIf       string

	// ancillary marks fields added only to feed other nodes.
	ancillary map[*ast.Field]bool
	// fieldTypes records the named type of composite fields in the selection set.
	fieldTypes map[*ast.Field]string

	entryTarget *ast.SelectionSet
	entryPath   []string
}

func newPlanNode(id int, subgraph, typeName string) *planNode {
	return &planNode{
		id:         id,
		subgraph:   subgraph,
		typeName:   typeName,
		ancillary:  make(map[*ast.Field]bool),
		fieldTypes: make(map[*ast.Field]string),
	}
}

// meaningful returns the selections of set that were not added for other nodes.
func (n *planNode) meaningful(set ast.SelectionSet) []ast.Selection {
	var out []ast.Selection
	for _, sel := range set {
		if f, ok := sel.(*ast.Field); ok && n.ancillary[f] {
			continue
		}
		out = append(out, sel)
	}
	return out
}

func (n *planNode) addRequirement(r *requirement) {
	if r == nil || slices.Contains(n.requirements, r) {
		return
	}
	n.requirements = append(n.requirements, r)
	slices.SortFunc(n.requirements, func(a, b *requirement) int { return a.seq - b.seq })
}

// ensureTypename adds an ancillary __typename to set unless one is already selected.
func (n *planNode) ensureTypename(set *ast.SelectionSet) {
	for _, sel := range *set {
		if f, ok := sel.(*ast.Field); ok && f.Name == typenameField && responseKey(f) == typenameField && len(f.Directives) == 0 {
			return
		}
	}
	f := newField(typenameField)
	*set = append(*set, f)
	n.ancillary[f] = true
}

// walkContext is the position of the planning walk inside a node.
type walkContext struct {
	node       *planNode
	target     *ast.SelectionSet
	typeName   string
	path       []string          // response path relative to the node result
	conditions ast.DirectiveList // variable conditions of the enclosing selections
	chain      requirementChain

	// typenameTarget is the selection set of the abstract field a narrowing fragment
	// sits in. Requirements read below the fragment need __typename there.
	typenameTarget *ast.SelectionSet
}

// merge adds a client field to the target and returns the selection it collapsed into.
func (ctx walkContext) merge(f *ast.Field) *ast.Field {
	if existing := findField(*ctx.target, f); existing != nil {
		delete(ctx.node.ancillary, existing)
		return existing
	}
	*ctx.target = append(*ctx.target, f)
	return f
}

// inject selects the plain field name in the target for other nodes and returns its
// response key. A client selection of the same field is reused when it has no
// arguments, alias or directives.
func (ctx walkContext) inject(name string) string {
	return injectField(ctx, newField(name))
}

// injectField adds f to the target of ctx as an ancillary selection.
func injectField(ctx walkContext, f *ast.Field) string {
	if existing := findField(*ctx.target, f); existing != nil {
		return responseKey(existing)
	}

	if keyTaken(*ctx.target, responseKey(f)) {
		f.Alias = "__fusion_" + responseKey(f)
		if existing := findField(*ctx.target, f); existing != nil {
			return responseKey(existing)
		}
	}

	*ctx.target = append(*ctx.target, f)
	ctx.node.ancillary[f] = true
	return responseKey(f)
}

func keyTaken(set ast.SelectionSet, key string) bool {
	for _, sel := range set {
		if f, ok := sel.(*ast.Field); ok && responseKey(f) == key {
			return true
		}
	}
	return false
}

func (ctx walkContext) remove(sel ast.Selection) {
	*ctx.target = slices.DeleteFunc(*ctx.target, func(s ast.Selection) bool { return s == sel })
}

// planContext holds the state of one Plan call.
type planContext struct {
	schema   *graph.CompositeSchema
	op       *ast.OperationDefinition
	maxDepth int

	nodes       []*planNode
	lookupNodes map[string]*planNode

	requirements     map[string]*requirement
	requirementOrder []*requirement
	requirementSeq   int
}

func (pc *planContext) newNode(subgraph, typeName string) *planNode {
	n := newPlanNode(len(pc.nodes)+1, subgraph, typeName)
	pc.nodes = append(pc.nodes, n)
	return n
}

func (pc *planContext) rootNodes() []*planNode {
	var out []*planNode
	for _, n := range pc.nodes {
		if n.root {
			out = append(out, n)
		}
	}
	return out
}

// planRootSelections partitions the root fields into root nodes. Root-level fragments
// are carried into every node that receives one of their fields.
func (pc *planContext) planRootSelections(set ast.SelectionSet, rootType string, wrappers []*ast.InlineFragment) error {
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			if def, src := pc.requiringRootSource(s, rootType); src != nil {
				if err := pc.planRequiringRootField(s, rootType, def, src, wrappers); err != nil {
					return atField(err, s, []string{responseKey(s)})
				}
				continue
			}

			node, err := pc.rootNodeFor(s, rootType)
			if err != nil {
				return err
			}

			var wrapped ast.Selection = s
			for i := len(wrappers) - 1; i >= 0; i-- {
				wrapped = &ast.InlineFragment{
					TypeCondition: wrappers[i].TypeCondition,
					Directives:    wrappers[i].Directives,
					SelectionSet:  ast.SelectionSet{wrapped},
					Position:      wrappers[i].Position,
				}
			}

			ctx := walkContext{node: node, target: &node.selectionSet, typeName: rootType}
			if err := pc.planSelection(ctx, wrapped); err != nil {
				return err
			}
		case *ast.InlineFragment:
			next := append(slices.Clip(wrappers), s)
			if err := pc.planRootSelections(s.SelectionSet, rootType, next); err != nil {
				return err
			}
		default:
			return newPlanningError(KindInvalidOperation, sel.GetPosition(), "unexpected selection %T in normalized operation", sel)
		}
	}
	return nil
}

// rootNodeFor picks the root node for a root field. Query fields join an existing node
// of a subgraph that resolves them; mutation fields only join the latest node so that
// mutations run in document order.
func (pc *planContext) rootNodeFor(f *ast.Field, rootType string) (*planNode, error) {
	roots := pc.rootNodes()
	isMutation := pc.op.Operation == ast.Mutation

	t, ok := pc.schema.Type(rootType)
	if !ok {
		return nil, newPlanningError(KindUnknownType, f.Position, "unknown type %s", rootType)
	}

	if f.Name == typenameField {
		if len(roots) > 0 {
			if isMutation {
				return roots[len(roots)-1], nil
			}
			return roots[0], nil
		}
		subgraph := ""
		if len(t.Sources) > 0 {
			subgraph = t.Sources[0]
		} else if len(pc.schema.Subgraphs) > 0 {
			subgraph = pc.schema.Subgraphs[0]
		}
		return pc.newRootNode(subgraph, rootType), nil
	}

	def, ok := t.Field(f.Name)
	if !ok {
		return nil, newPlanningError(KindUnknownField, f.Position, "cannot query field %q on type %q", f.Name, rootType)
	}

	var local []string
	for _, src := range def.Sources {
		if src.Requirement == nil {
			local = append(local, src.Subgraph)
		}
	}
	if len(local) == 0 {
		return nil, newPlanningError(KindUnresolvableRequirement, f.Position, "root field %s.%s cannot be resolved without requirements", rootType, f.Name)
	}

	if isMutation {
		if len(roots) > 0 && def.IsLocal(roots[len(roots)-1].subgraph) {
			return roots[len(roots)-1], nil
		}
		return pc.newRootNode(local[0], rootType), nil
	}

	for _, n := range roots {
		if def.IsLocal(n.subgraph) {
			return n, nil
		}
	}
	return pc.newRootNode(local[0], rootType), nil
}

// requiringRootSource returns the @fusion__requires source of a root field that no
// subgraph resolves on its own.
func (pc *planContext) requiringRootSource(f *ast.Field, rootType string) (*graph.Field, *graph.FieldSource) {
	t, ok := pc.schema.Type(rootType)
	if !ok || f.Name == typenameField {
		return nil, nil
	}
	def, ok := t.Field(f.Name)
	if !ok {
		return nil, nil
	}

	var requiring *graph.FieldSource
	for _, src := range def.Sources {
		if src.Requirement == nil {
			return nil, nil
		}
		if requiring == nil {
			requiring = src
		}
	}
	return def, requiring
}

// planRequiringRootField plans a root field whose only sources carry requirements. The
// sibling root fields it reads are selected in root nodes of their own subgraphs and the
// field is fetched by a later root node.
func (pc *planContext) planRequiringRootField(f *ast.Field, rootType string, def *graph.Field, src *graph.FieldSource, wrappers []*ast.InlineFragment) error {
	if pc.op.Operation == ast.Mutation {
		return newPlanningError(KindUnresolvableRequirement, f.Position, "mutation field %s.%s cannot read other mutation fields", rootType, f.Name)
	}
	t, _ := pc.schema.Type(rootType)

	reqs := make([]*requirement, len(src.Requirement.Map))
	for i, sibling := range src.Requirement.Map {
		if sibling == "" {
			continue
		}
		sdef, ok := t.Field(sibling)
		if !ok {
			return newPlanningError(KindUnresolvableRequirement, f.Position, "required field %s.%s is not defined", rootType, sibling)
		}
		if st, ok := pc.schema.Type(sdef.Type.Name()); ok && st.IsComposite() {
			return newPlanningError(KindUnresolvableRequirement, f.Position, "field %s.%s of composite type %s cannot be used as a requirement", rootType, sibling, sdef.Type.String())
		}

		producer, err := pc.rootNodeFor(newField(sibling), rootType)
		if err != nil {
			return err
		}
		ctx := walkContext{node: producer, target: &producer.selectionSet, typeName: rootType}
		reqs[i] = pc.register(producer, "", ctx.inject(sibling), sdef.Type.String())
	}

	var node *planNode
	for _, n := range pc.rootNodes() {
		if n.subgraph == src.Subgraph && producedBefore(reqs, n.id) {
			node = n
			break
		}
	}
	if node == nil {
		node = pc.newRootNode(src.Subgraph, rootType)
	}
	for _, r := range reqs {
		node.addRequirement(r)
	}

	ctx := walkContext{node: node, target: &node.selectionSet, typeName: rootType}
	for _, w := range wrappers {
		ctx, _ = enterFragment(ctx, w)
	}
	return pc.planLocalField(ctx, f, requiringField(f, src.Requirement, reqs), def)
}

func (pc *planContext) newRootNode(subgraph, rootType string) *planNode {
	n := pc.newNode(subgraph, rootType)
	n.root = true
	return n
}

func (pc *planContext) planSelectionSet(ctx walkContext, set ast.SelectionSet) error {
	for _, sel := range set {
		if err := pc.planSelection(ctx, sel); err != nil {
			return err
		}
	}
	return nil
}

func (pc *planContext) planSelection(ctx walkContext, sel ast.Selection) error {
	switch s := sel.(type) {
	case *ast.Field:
		return pc.planField(ctx, s)
	case *ast.InlineFragment:
		return pc.planInlineFragment(ctx, s)
	}
	return newPlanningError(KindInvalidOperation, sel.GetPosition(), "unexpected selection %T in normalized operation", sel)
}

func (pc *planContext) planField(ctx walkContext, f *ast.Field) error {
	if f.Name == typenameField {
		ctx.merge(shallowField(f))
		return nil
	}

	parent, ok := pc.schema.Type(ctx.typeName)
	if !ok {
		return newPlanningError(KindUnknownType, f.Position, "unknown type %s", ctx.typeName)
	}
	def, ok := parent.Field(f.Name)
	if !ok {
		return newPlanningError(KindUnknownField, f.Position, "cannot query field %q on type %q", f.Name, ctx.typeName)
	}

	if def.IsLocal(ctx.node.subgraph) {
		return pc.planLocalField(ctx, f, shallowField(f), def)
	}
	if parent.IsAbstract() {
		return pc.expandAbstractField(ctx, f, parent)
	}
	return pc.planBoundaryField(ctx, f, def)
}

// planLocalField adds field to the target and plans the children of f below it.
func (pc *planContext) planLocalField(ctx walkContext, f, field *ast.Field, def *graph.Field) error {
	merged := ctx.merge(field)
	if len(f.SelectionSet) == 0 {
		return nil
	}

	childType := def.Type.Name()
	ctx.node.fieldTypes[merged] = childType

	child := ctx
	child.target = &merged.SelectionSet
	child.typeName = childType
	child.path = appendPath(ctx.path, responseKey(merged))
	child.conditions = append(slices.Clip(ctx.conditions), conditionDirectives(f.Directives)...)
	child.typenameTarget = nil
	child.chain = nil

	if err := pc.planSelectionSet(child, f.SelectionSet); err != nil {
		return err
	}

	if len(merged.SelectionSet) == 0 {
		filler := newField(typenameField)
		merged.SelectionSet = ast.SelectionSet{filler}
		ctx.node.ancillary[filler] = true
	}
	return nil
}

// expandAbstractField plans a field of an abstract type that the current subgraph does
// not resolve as one selection per possible type.
func (pc *planContext) expandAbstractField(ctx walkContext, f *ast.Field, parent *graph.Type) error {
	for _, name := range parent.PossibleTypes {
		t, ok := pc.schema.Type(name)
		if !ok {
			continue
		}
		if _, ok := t.Field(f.Name); !ok {
			continue
		}
		frag := &ast.InlineFragment{
			TypeCondition: name,
			SelectionSet:  ast.SelectionSet{f},
			Position:      f.Position,
		}
		if err := pc.planInlineFragment(ctx, frag); err != nil {
			return err
		}
	}
	return nil
}

func (pc *planContext) planInlineFragment(ctx walkContext, frag *ast.InlineFragment) error {
	child, target := enterFragment(ctx, frag)
	if target == nil {
		return pc.planSelectionSet(ctx, frag.SelectionSet)
	}

	if err := pc.planSelectionSet(child, frag.SelectionSet); err != nil {
		return err
	}

	if len(target.SelectionSet) == 0 {
		ctx.remove(target)
	}
	return nil
}

// enterFragment returns ctx moved inside the inline fragment matching frag in the
// current target, creating it when needed. Fragments on the current type without
// directives add nothing: ctx is returned unchanged with a nil fragment.
func enterFragment(ctx walkContext, frag *ast.InlineFragment) (walkContext, *ast.InlineFragment) {
	condition := frag.TypeCondition
	if condition == "" {
		condition = ctx.typeName
	}
	if condition == ctx.typeName && len(frag.Directives) == 0 {
		return ctx, nil
	}

	target := findFragment(*ctx.target, condition, frag.Directives)
	if target == nil {
		target = &ast.InlineFragment{
			TypeCondition: condition,
			Directives:    frag.Directives,
			Position:      frag.Position,
		}
		*ctx.target = append(*ctx.target, target)
	}

	child := ctx
	child.target = &target.SelectionSet
	child.conditions = append(slices.Clip(ctx.conditions), conditionDirectives(frag.Directives)...)
	if condition != ctx.typeName {
		child.typeName = condition
		child.path = refinePath(ctx.path, condition)
		child.typenameTarget = ctx.target
	}
	return child, target
}

// planBoundaryField plans a field the current node cannot resolve. Its requirements are
// resolved first so that every node they come from precedes the lookup node.
func (pc *planContext) planBoundaryField(ctx walkContext, f *ast.Field, def *graph.Field) error {
	route, err := pc.routeField(ctx.typeName, ctx.node.subgraph, def, ctx.chain)
	if err != nil {
		return atField(err, f, appendPath(ctx.path, responseKey(f)))
	}

	next, err := ctx.chain.push(chainLink{
		subgraph: route.lookup.Subgraph,
		typeName: ctx.typeName,
		field:    def.Name,
		requires: route.source.Requirement != nil,
	}, pc.maxDepth)
	if err != nil {
		return atField(err, f, appendPath(ctx.path, responseKey(f)))
	}

	var fieldReqs []*requirement
	if route.source.Requirement != nil {
		// Nodes that only feed this field run under its own conditions too.
		reqCtx := ctx
		reqCtx.conditions = append(slices.Clip(ctx.conditions), conditionDirectives(f.Directives)...)
		fieldReqs, err = pc.resolveFieldRequirements(reqCtx, route.source.Requirement, next)
		if err != nil {
			return atField(err, f, appendPath(ctx.path, responseKey(f)))
		}
	}

	child, err := pc.openLookup(ctx, route.lookup, fieldReqs, next)
	if err != nil {
		return atField(err, f, appendPath(ctx.path, responseKey(f)))
	}
	child.chain = nil

	if route.source.Requirement == nil {
		return pc.planField(child, f)
	}
	return pc.planLocalField(child, f, requiringField(f, route.source.Requirement, fieldReqs), def)
}

// atField attaches the location and path of f to planning errors raised while routing it.
func atField(err error, f *ast.Field, path []string) error {
	var perr *PlanningError
	if !errors.As(err, &perr) {
		return err
	}
	located := *perr
	if len(located.Locations) == 0 && f.Position != nil {
		located.Locations = []Location{{Line: f.Position.Line, Column: f.Position.Column}}
	}
	return located.withPath(path)
}

// openLookup returns a walk context inside the lookup node that fetches lookup.TypeName
// from lookup.Subgraph for the object at ctx. The node is shared with earlier lookups
// of the same parent position when all requirements are produced before it.
func (pc *planContext) openLookup(ctx walkContext, lookup *graph.Lookup, fieldReqs []*requirement, chain requirementChain) (walkContext, error) {
	t, ok := pc.schema.Type(lookup.TypeName)
	if !ok {
		return walkContext{}, newPlanningError(KindUnknownType, nil, "unknown type %s", lookup.TypeName)
	}

	keyReqs := make([]*requirement, len(lookup.Arguments))
	for i, arg := range lookup.Arguments {
		key, ok := t.Field(arg.KeyField)
		if !ok {
			return walkContext{}, newPlanningError(KindUnresolvableRequirement, nil, "key field %s.%s is not defined", lookup.TypeName, arg.KeyField)
		}
		r, err := pc.resolveRequirement(ctx, key, chain)
		if err != nil {
			return walkContext{}, err
		}
		keyReqs[i] = r
	}

	all := append(slices.Clip(keyReqs), fieldReqs...)

	mergeKey := fmt.Sprintf("%d|%s|%s|%s|%s|%s",
		ctx.node.id, lookup.Subgraph, lookup.TypeName, lookup.Field.Name,
		pathString(ctx.path), directivesString(ctx.conditions))

	node, ok := pc.lookupNodes[mergeKey]
	if !ok || !producedBefore(all, node.id) {
		node = pc.newLookupNode(lookup, keyReqs, ctx.conditions)
		pc.lookupNodes[mergeKey] = node
	}
	for _, r := range all {
		node.addRequirement(r)
	}

	return walkContext{
		node:     node,
		target:   node.entryTarget,
		typeName: lookup.TypeName,
		path:     node.entryPath,
		chain:    chain,
	}, nil
}

func (pc *planContext) newLookupNode(lookup *graph.Lookup, keyReqs []*requirement, conditions ast.DirectiveList) *planNode {
	n := pc.newNode(lookup.Subgraph, lookup.TypeName)

	entry := newField(lookup.Field.Name)
	entry.Directives = slices.Clone(conditions)
	for i, arg := range lookup.Arguments {
		entry.Arguments = append(entry.Arguments, &ast.Argument{
			Name:  arg.Name,
			Value: &ast.Value{Kind: ast.Variable, Raw: keyReqs[i].name},
		})
	}
	n.selectionSet = ast.SelectionSet{entry}
	n.fieldTypes[entry] = lookup.Field.Type.Name()

	n.entryTarget = &entry.SelectionSet
	n.entryPath = []string{responseKey(entry)}
	if lookup.Field.Type.Name() != lookup.TypeName {
		frag := &ast.InlineFragment{TypeCondition: lookup.TypeName}
		entry.SelectionSet = ast.SelectionSet{frag}
		n.entryTarget = &frag.SelectionSet
		n.entryPath = refinePath(n.entryPath, lookup.TypeName)
	}

	return n
}

// finalize lifts skip conditions, drops nodes that ended up empty and renders the plan.
func (pc *planContext) finalize() *RequestPlan {
	required := make(map[*planNode][]string)
	for _, r := range pc.requirementOrder {
		required[r.node] = append(required[r.node], r.valuePath())
	}

	var kept []*planNode
	for _, n := range pc.nodes {
		if len(n.selectionSet) == 0 {
			continue
		}
		liftSkipCondition(n, required[n])
		kept = append(kept, n)
	}
	for i, n := range kept {
		n.id = i + 1
	}

	plan := &RequestPlan{
		OperationType: pc.op.Operation,
		OperationName: pc.op.Name,
		Nodes:         make([]*RequestPlanNode, 0, len(kept)),
	}
	for _, n := range kept {
		node := &RequestPlanNode{
			ID:        n.id,
			Subgraph:  n.subgraph,
			Operation: buildOperation(n, pc.op),
			SkipIf:    n.skipIf,
		}
		for _, r := range n.requirements {
			node.Requirements = append(node.Requirements, &Requirement{
				Name:         r.name,
				DependsOn:    r.node.id,
				SelectionSet: r.path,
				Field:        r.field,
				Type:         r.typ,
			})
		}
		plan.Nodes = append(plan.Nodes, node)
	}
	return plan
}
