package planner

import (
	"strings"

	"github.com/n9te9/fedgateway/federation/graph"
	"github.com/n9te9/graphql-parser/ast"
)

// pathSegment is one traversed edge of an OperationPath. Segments form an
// immutable chain through prev pointers, so paths branching from a common
// location share their prefix; the combination pass exploits that sharing
// when costing a merged query tree.
type pathSegment struct {
	prev     *pathSegment
	nodeID   string // tail node after taking this edge
	kind     graph.EdgeKind
	edgeCost int
	total    int // cumulative cost up to and including this segment
	length   int
}

// pathArena allocates every segment of one walk in slabs and releases them
// together when the walk's results are discarded. Extensions are interned:
// taking the same edge from the same segment always yields the same segment
// object, so any two paths through a common prefix share it by pointer
// identity — which is exactly how the combination pass recognizes shared
// work when costing a merged query tree.
type pathArena struct {
	slabs  [][]pathSegment
	used   int
	intern map[extendKey]*pathSegment
}

type extendKey struct {
	prev   *pathSegment
	nodeID string
	kind   graph.EdgeKind
}

const arenaSlabSize = 256

func newPathArena() *pathArena {
	return &pathArena{
		slabs:  [][]pathSegment{make([]pathSegment, arenaSlabSize)},
		intern: make(map[extendKey]*pathSegment),
	}
}

func (a *pathArena) alloc() *pathSegment {
	slab := a.slabs[len(a.slabs)-1]
	if a.used == len(slab) {
		slab = make([]pathSegment, arenaSlabSize)
		a.slabs = append(a.slabs, slab)
		a.used = 0
	}
	seg := &slab[a.used]
	a.used++
	return seg
}

func (a *pathArena) extend(prev *pathSegment, nodeID string, kind graph.EdgeKind, cost int) *pathSegment {
	key := extendKey{prev: prev, nodeID: nodeID, kind: kind}
	if seg, ok := a.intern[key]; ok {
		return seg
	}

	seg := a.alloc()
	seg.prev = prev
	seg.nodeID = nodeID
	seg.kind = kind
	seg.edgeCost = cost
	if prev != nil {
		seg.total = prev.total + cost
		seg.length = prev.length + 1
	} else {
		seg.total = cost
		seg.length = 1
	}
	a.intern[key] = seg
	return seg
}

// OperationPath is one candidate resolution route for a single leaf of the
// operation: the chain of graph moves from an operation root to the subgraph
// field node resolving the leaf, plus any requirement paths the route's
// moves demand. Paths are immutable once built.
type OperationPath struct {
	tail    *pathSegment
	Target  *graph.SubGraphV2
	Require []*OperationPath // upstream selections demanded by @requires on the final move

	seq string // cached edge sequence, the determinism tie-breaker
}

// Cost is the path's cumulative move cost including its requirements.
// Requirement paths branch off the main chain and share its prefix by
// segment identity; shared segments are charged once.
func (p *OperationPath) Cost() int {
	seen := make(map[*pathSegment]bool, p.tail.length)
	return p.costInto(seen)
}

func (p *OperationPath) costInto(seen map[*pathSegment]bool) int {
	cost := 0
	for seg := p.tail; seg != nil; seg = seg.prev {
		if seen[seg] {
			continue
		}
		seen[seg] = true
		cost += seg.edgeCost
	}
	for _, r := range p.Require {
		cost += r.costInto(seen)
	}
	return cost
}

// Len is the number of segments in the chain.
func (p *OperationPath) Len() int { return p.tail.length }

// EdgeSequence renders the chain's node IDs in traversal order. Two distinct
// routes always differ here, which makes it the final tie-breaker and the
// combination pass's memoization ingredient.
func (p *OperationPath) EdgeSequence() string {
	if p.seq != "" {
		return p.seq
	}
	ids := make([]string, p.tail.length)
	for seg, i := p.tail, p.tail.length-1; seg != nil; seg, i = seg.prev, i-1 {
		ids[i] = seg.nodeID
	}
	p.seq = strings.Join(ids, ">")
	return p.seq
}

// segments returns the chain root-first.
func (p *OperationPath) segments() []*pathSegment {
	out := make([]*pathSegment, p.tail.length)
	for seg, i := p.tail, p.tail.length-1; seg != nil; seg, i = seg.prev, i-1 {
		out[i] = seg
	}
	return out
}

// pathLess orders candidates by cost, then length, then edge sequence.
func pathLess(a, b *OperationPath) bool {
	if a.Cost() != b.Cost() {
		return a.Cost() < b.Cost()
	}
	if a.Len() != b.Len() {
		return a.Len() < b.Len()
	}
	return a.EdgeSequence() < b.EdgeSequence()
}

// bestPathTracker keeps the minimum-cost path seen so far and every tie,
// ordered by the determinism tie-break.
type bestPathTracker struct {
	best []*OperationPath
}

func (t *bestPathTracker) add(p *OperationPath) {
	if len(t.best) == 0 {
		t.best = []*OperationPath{p}
		return
	}
	switch {
	case p.Cost() < t.best[0].Cost():
		t.best = []*OperationPath{p}
	case p.Cost() == t.best[0].Cost():
		// Insertion keeps ties sorted by (length, sequence); duplicates of
		// the same route are dropped.
		for i, existing := range t.best {
			if existing.EdgeSequence() == p.EdgeSequence() {
				return
			}
			if pathLess(p, existing) {
				t.best = append(t.best[:i], append([]*OperationPath{p}, t.best[i:]...)...)
				return
			}
		}
		t.best = append(t.best, p)
	}
}

// leafCandidates is one leaf of the operation and its nonempty, ordered list
// of minimum-cost candidate paths.
type leafCandidates struct {
	Key        string // response path of the leaf, e.g. "product.reviews.rating"
	ParentType string
	FieldName  string
	Paths      []*OperationPath
}

// position is one location the walk currently occupies: a subgraph the
// enclosing selection resolves in, the path that got there, and the set of
// non-field edges that path has already taken (paths never revisit an edge).
type position struct {
	sg      *graph.SubGraphV2
	seg     *pathSegment
	visited map[string]bool
}

func (pos position) visitedWith(edgeKey string) map[string]bool {
	next := make(map[string]bool, len(pos.visited)+1)
	for k := range pos.visited {
		next[k] = true
	}
	next[edgeKey] = true
	return next
}

// walker enumerates candidate resolution paths for every leaf of an
// operation over the satisfiability graph.
type walker struct {
	super *graph.SuperGraphV2
	g     *graph.WeightedDirectedGraph
	arena *pathArena
}

func newWalker(super *graph.SuperGraphV2) *walker {
	return &walker{super: super, g: super.Graph, arena: newPathArena()}
}

// walkOperation walks the expanded root selections and returns the candidate
// groups for every routable leaf, in document order.
func (w *walker) walkOperation(rootTypeName string, selections []ast.Selection) []*leafCandidates {
	root := w.arena.extend(nil, graph.RootNodeID(rootTypeName), graph.EdgeSubgraphEntry, 0)

	var groups []*leafCandidates

	for _, sel := range selections {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		fieldName := field.Name.String()
		if strings.HasPrefix(fieldName, "__") {
			continue
		}

		tracker := &bestPathTracker{}
		for _, owner := range w.super.GetSubGraphsForField(rootTypeName, fieldName) {
			entry := w.arena.extend(root, graph.NodeKey(owner.Name, rootTypeName, ""), graph.EdgeSubgraphEntry, graph.CostSubgraphEntry)
			tail := w.arena.extend(entry, graph.NodeKey(owner.Name, rootTypeName, fieldName), graph.EdgeField, graph.CostFieldMove)
			tracker.add(&OperationPath{tail: tail, Target: owner})
		}
		if len(tracker.best) == 0 {
			continue
		}

		key := responseKeyName(field)
		if len(field.SelectionSet) == 0 {
			groups = append(groups, &leafCandidates{Key: key, ParentType: rootTypeName, FieldName: fieldName, Paths: tracker.best})
			continue
		}

		groups = append(groups, &leafCandidates{Key: key, ParentType: rootTypeName, FieldName: fieldName, Paths: tracker.best})

		childType, err := w.fieldTypeOf(rootTypeName, fieldName)
		if err != nil {
			continue
		}
		groups = append(groups, w.walkSelections(childType, field.SelectionSet, positionsOf(tracker.best), key+".")...)
	}

	return groups
}

// walkSelections recurses into a selection set from the given positions,
// producing candidate groups for each leaf underneath.
func (w *walker) walkSelections(parentType string, selections []ast.Selection, positions []position, prefix string) []*leafCandidates {
	var groups []*leafCandidates

	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			fieldName := s.Name.String()
			if strings.HasPrefix(fieldName, "__") {
				continue
			}

			candidates := w.fieldCandidates(parentType, fieldName, positions)
			if len(candidates) == 0 {
				continue
			}

			key := prefix + responseKeyName(s)
			groups = append(groups, &leafCandidates{Key: key, ParentType: parentType, FieldName: fieldName, Paths: candidates})

			if len(s.SelectionSet) > 0 {
				childType, err := w.fieldTypeOf(parentType, fieldName)
				if err != nil {
					continue
				}
				groups = append(groups, w.walkSelections(childType, s.SelectionSet, positionsOf(candidates), key+".")...)
			}

		case *ast.InlineFragment:
			cond := parentType
			if s.TypeCondition != nil {
				cond = s.TypeCondition.Name.String()
			}
			narrowed := w.narrowPositions(positions, parentType, cond)
			if len(narrowed) == 0 {
				// Unreachable concrete type: the branch contributes only
				// __typename, nothing to route.
				continue
			}
			groups = append(groups, w.walkSelections(cond, s.SelectionSet, narrowed, prefix)...)
		}
	}

	return groups
}

// fieldCandidates runs the best-path tracker for one field over every
// current position: direct field moves, @provides views, and entity or
// interface-object moves into owning subgraphs, each move carrying its
// @requires cost.
func (w *walker) fieldCandidates(parentType, fieldName string, positions []position) []*OperationPath {
	owners := w.super.GetSubGraphsForField(parentType, fieldName)
	tracker := &bestPathTracker{}

	for _, pos := range positions {
		// Direct path: the field lives where we already are.
		for _, owner := range owners {
			if owner.Name != pos.sg.Name {
				continue
			}
			tail := w.arena.extend(pos.seg, graph.NodeKey(pos.sg.Name, parentType, fieldName), graph.EdgeField, graph.CostFieldMove)
			tracker.add(&OperationPath{tail: tail, Target: owner, Require: w.requirementPaths(owner, parentType, fieldName, pos)})
		}

		// @provides view: the enclosing fetch already carries this field.
		if node, ok := w.g.Nodes[pos.seg.nodeID]; ok {
			for targetID := range node.ShortCut {
				target := w.g.Nodes[targetID]
				if target == nil || target.FieldName != fieldName {
					continue
				}
				view := w.arena.extend(pos.seg, graph.ViewNodeID(pos.sg.Name, node.TypeName, node.FieldName), graph.EdgeProvidedField, graph.CostProvidedField)
				tail := w.arena.extend(view, targetID, graph.EdgeProvidedField, graph.CostProvidedField)
				tracker.add(&OperationPath{tail: tail, Target: target.SubGraph})
			}
		}

		// Indirect paths: cross into an owning subgraph through an entity
		// or interface-object move, never revisiting an edge.
		fromType := graph.NodeKey(pos.sg.Name, parentType, "")
		for _, owner := range owners {
			if owner.Name == pos.sg.Name {
				continue
			}
			toType := graph.NodeKey(owner.Name, parentType, "")
			kind, ok := w.g.EdgeKindBetween(fromType, toType)
			if !ok || (kind != graph.EdgeEntityMove && kind != graph.EdgeInterfaceObjectMove) {
				continue
			}
			edgeKey := fromType + ">" + toType
			if pos.visited[edgeKey] {
				continue
			}

			hop := w.arena.extend(pos.seg, toType, kind, graph.CostEntityMove)
			tail := w.arena.extend(hop, graph.NodeKey(owner.Name, parentType, fieldName), graph.EdgeField, graph.CostFieldMove)
			tracker.add(&OperationPath{
				tail:    tail,
				Target:  owner,
				Require: w.requirementPaths(owner, parentType, fieldName, position{sg: pos.sg, seg: pos.seg, visited: pos.visitedWith(edgeKey)}),
			})
		}
	}

	return tracker.best
}

// requirementPaths plans the @requires selection of a field as its own
// upstream paths from the consuming position: each required sibling either
// resolves where the position already is, or costs an extra entity move.
func (w *walker) requirementPaths(owner *graph.SubGraphV2, parentType, fieldName string, pos position) []*OperationPath {
	entity, ok := owner.GetEntity(parentType)
	if !ok {
		return nil
	}
	field, ok := entity.Fields[fieldName]
	if !ok || len(field.Requires) == 0 {
		return nil
	}

	var require []*OperationPath
	for _, requiredField := range field.Requires {
		tracker := &bestPathTracker{}

		requiredOwners := w.super.GetSubGraphsForField(parentType, requiredField)
		for _, reqOwner := range requiredOwners {
			if reqOwner.Name == pos.sg.Name {
				tail := w.arena.extend(pos.seg, graph.NodeKey(reqOwner.Name, parentType, requiredField), graph.EdgeField, graph.CostFieldMove)
				tracker.add(&OperationPath{tail: tail, Target: reqOwner})
				continue
			}

			fromType := graph.NodeKey(pos.sg.Name, parentType, "")
			toType := graph.NodeKey(reqOwner.Name, parentType, "")
			edgeKey := fromType + ">" + toType
			if pos.visited[edgeKey] {
				continue
			}
			if kind, ok := w.g.EdgeKindBetween(fromType, toType); ok && kind == graph.EdgeEntityMove {
				hop := w.arena.extend(pos.seg, toType, graph.EdgeEntityMove, graph.CostEntityMove)
				tail := w.arena.extend(hop, graph.NodeKey(reqOwner.Name, parentType, requiredField), graph.EdgeField, graph.CostFieldMove)
				tracker.add(&OperationPath{tail: tail, Target: reqOwner})
			}
		}

		if len(tracker.best) > 0 {
			require = append(require, tracker.best[0])
		}
	}
	return require
}

// narrowPositions maps the current positions onto a type condition: stay in
// place when the subgraph defines the narrowed type (taking the abstract
// move where the graph has one), or cross an interface-object move into a
// subgraph that implements it.
func (w *walker) narrowPositions(positions []position, parentType, cond string) []position {
	if cond == parentType {
		return positions
	}

	var narrowed []position
	for _, pos := range positions {
		condKey := graph.NodeKey(pos.sg.Name, cond, "")
		if _, ok := w.g.Nodes[condKey]; ok {
			fromKey := graph.NodeKey(pos.sg.Name, parentType, "")
			if kind, ok := w.g.EdgeKindBetween(fromKey, condKey); ok && kind == graph.EdgeAbstractMove {
				seg := w.arena.extend(pos.seg, condKey, graph.EdgeAbstractMove, graph.CostAbstractMove)
				narrowed = append(narrowed, position{sg: pos.sg, seg: seg, visited: pos.visited})
				continue
			}
			narrowed = append(narrowed, position{sg: pos.sg, seg: pos.seg, visited: pos.visited})
			continue
		}

		// The concrete type is invisible here: follow an @interfaceObject
		// move into a subgraph that has it.
		fromKey := graph.NodeKey(pos.sg.Name, parentType, "")
		if node, ok := w.g.Nodes[fromKey]; ok {
			for dstID, edge := range node.Edges {
				if edge.Kind != graph.EdgeInterfaceObjectMove {
					continue
				}
				dst := w.g.Nodes[dstID]
				if dst == nil || dst.TypeName != cond {
					continue
				}
				edgeKey := fromKey + ">" + dstID
				if pos.visited[edgeKey] {
					continue
				}
				seg := w.arena.extend(pos.seg, dstID, graph.EdgeInterfaceObjectMove, graph.CostEntityMove)
				narrowed = append(narrowed, position{sg: dst.SubGraph, seg: seg, visited: pos.visitedWith(edgeKey)})
			}
		}
	}
	return narrowed
}

// positionsOf derives the follow-on positions from a candidate set: one per
// distinct target subgraph, carrying the first (best-ordered) candidate's
// chain.
func positionsOf(candidates []*OperationPath) []position {
	seen := make(map[string]bool, len(candidates))
	out := make([]position, 0, len(candidates))
	for _, c := range candidates {
		if c.Target == nil || seen[c.Target.Name] {
			continue
		}
		seen[c.Target.Name] = true
		out = append(out, position{sg: c.Target, seg: c.tail, visited: visitedEdgesOf(c)})
	}
	return out
}

// visitedEdgesOf reconstructs the non-field edges a path has taken, so
// descendants never take them again.
func visitedEdgesOf(p *OperationPath) map[string]bool {
	visited := make(map[string]bool)
	for seg := p.tail; seg != nil && seg.prev != nil; seg = seg.prev {
		switch seg.kind {
		case graph.EdgeEntityMove, graph.EdgeInterfaceObjectMove:
			visited[seg.prev.nodeID+">"+seg.nodeID] = true
		}
	}
	return visited
}

func (w *walker) fieldTypeOf(parentType, fieldName string) (string, error) {
	resolver := PlannerV2{SuperGraph: w.super}
	return resolver.getFieldTypeName(parentType, fieldName)
}

func responseKeyName(field *ast.Field) string {
	if field.Alias != nil && field.Alias.String() != "" {
		return field.Alias.String()
	}
	return field.Name.String()
}
