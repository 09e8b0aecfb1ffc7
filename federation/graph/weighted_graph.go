package graph

import (
	"container/heap"
	"fmt"
	"sort"

	"github.com/n9te9/graphql-parser/ast"
)

// Move costs for the satisfiability graph. Traversing a field inside a
// subgraph is cheap; every other move (entering a subgraph at a root,
// re-entering an entity through its key, widening or narrowing an abstract
// type, or forcing an @interfaceObject round-trip) implies an extra fetch or
// a polymorphic dispatch and dominates any number of field moves. A field
// reachable through a @provides projection costs nothing extra: the
// providing fetch already carries it.
const (
	CostFieldMove     = 1
	CostEntityMove    = 1000
	CostAbstractMove  = 1000
	CostSubgraphEntry = 1000
	CostProvidedField = 0
)

// NodeKind classifies a graph node.
type NodeKind int

const (
	// NodeSubgraphType is a type (or one of its fields) as visible inside
	// one subgraph.
	NodeSubgraphType NodeKind = iota
	// NodeRoot is one of the operation roots (Query/Mutation/Subscription),
	// owned by no subgraph.
	NodeRoot
	// NodeView is the transient projection of a subgraph type restricted to
	// a @provides selection.
	NodeView
)

// EdgeKind classifies a graph edge.
type EdgeKind int

const (
	// EdgeField traverses a field within a subgraph.
	EdgeField EdgeKind = iota
	// EdgeEntityMove crosses subgraphs by matching a shared @key.
	EdgeEntityMove
	// EdgeAbstractMove moves between an object type and an interface or
	// union it belongs to, within one subgraph.
	EdgeAbstractMove
	// EdgeInterfaceObjectMove narrows an @interfaceObject to a concrete
	// object type, forcing an entity round-trip.
	EdgeInterfaceObjectMove
	// EdgeSubgraphEntry enters a subgraph's root type from an operation root.
	EdgeSubgraphEntry
	// EdgeProvidedField reaches a field through a @provides view.
	EdgeProvidedField
)

// GraphEdge is one outgoing edge of a node.
type GraphEdge struct {
	Kind EdgeKind
	Cost int
}

// GraphNode is one node of the satisfiability graph.
// Key format: "{SubGraphName}:{typeName}.{fieldName}",
// "{SubGraphName}:{typeName}" for type-level nodes, "root:{Type}" for
// operation roots, and "view:{SubGraphName}:{typeName}.{fieldName}" for
// @provides views.
type GraphNode struct {
	ID        string
	Kind      NodeKind
	SubGraph  *SubGraphV2 // nil for root nodes
	TypeName  string
	FieldName string               // empty for type-level and root nodes; a view node carries its providing field's name
	Edges     map[string]GraphEdge // destination node ID → edge
	ShortCut  map[string]int       // provided-field reachability cache (targets of this node's views)
}

// WeightedDirectedGraph is the pre-computed satisfiability graph the planner
// walks: nodes are roots, (subgraph, type[, field]) pairs, and @provides
// views; edges are the typed moves between them.
type WeightedDirectedGraph struct {
	Nodes map[string]*GraphNode
}

// NewWeightedDirectedGraph creates an empty graph.
func NewWeightedDirectedGraph() *WeightedDirectedGraph {
	return &WeightedDirectedGraph{
		Nodes: make(map[string]*GraphNode),
	}
}

// AddNode adds a node to the graph. An existing node with the same ID is
// returned as-is.
func (g *WeightedDirectedGraph) AddNode(id string, kind NodeKind, subGraph *SubGraphV2, typeName, fieldName string) *GraphNode {
	if existing, ok := g.Nodes[id]; ok {
		return existing
	}
	node := &GraphNode{
		ID:        id,
		Kind:      kind,
		SubGraph:  subGraph,
		TypeName:  typeName,
		FieldName: fieldName,
		Edges:     make(map[string]GraphEdge),
		ShortCut:  make(map[string]int),
	}
	g.Nodes[id] = node
	return node
}

// AddEdge adds a directed edge from srcID to dstID. A duplicate edge keeps
// the cheaper cost.
func (g *WeightedDirectedGraph) AddEdge(srcID, dstID string, kind EdgeKind, cost int) {
	src, ok := g.Nodes[srcID]
	if !ok {
		return
	}
	if existing, exists := src.Edges[dstID]; !exists || cost < existing.Cost {
		src.Edges[dstID] = GraphEdge{Kind: kind, Cost: cost}
	}
}

// AddShortCut records a @provides projection target on srcID.
func (g *WeightedDirectedGraph) AddShortCut(srcID, dstID string) {
	src, ok := g.Nodes[srcID]
	if !ok {
		return
	}
	src.ShortCut[dstID] = CostProvidedField
}

// NodeKey returns the graph node key for a given subgraph, type, and field.
// When fieldName is empty, returns a type-level key.
func NodeKey(subGraphName, typeName, fieldName string) string {
	if fieldName == "" {
		return fmt.Sprintf("%s:%s", subGraphName, typeName)
	}
	return fmt.Sprintf("%s:%s.%s", subGraphName, typeName, fieldName)
}

// RootNodeID returns the node ID of an operation root.
func RootNodeID(rootTypeName string) string {
	return "root:" + rootTypeName
}

// ViewNodeID returns the node ID of the @provides view attached to a
// providing field.
func ViewNodeID(subGraphName, typeName, fieldName string) string {
	return fmt.Sprintf("view:%s:%s.%s", subGraphName, typeName, fieldName)
}

// -----------------------------------------------------------------------
// Dijkstra priority queue implementation
// -----------------------------------------------------------------------

type dijkstraItem struct {
	nodeID string
	cost   int
	index  int // maintained by heap.Interface
}

type dijkstraPQ []*dijkstraItem

func (pq dijkstraPQ) Len() int           { return len(pq) }
func (pq dijkstraPQ) Less(i, j int) bool { return pq[i].cost < pq[j].cost }
func (pq dijkstraPQ) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}
func (pq *dijkstraPQ) Push(x any) {
	n := len(*pq)
	item := x.(*dijkstraItem)
	item.index = n
	*pq = append(*pq, item)
}
func (pq *dijkstraPQ) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[:n-1]
	return item
}

// DijkstraResult contains the shortest path information from a Dijkstra run.
type DijkstraResult struct {
	// Dist maps nodeID -> minimum cost to reach that node from any entry point.
	Dist map[string]int
	// Prev maps nodeID -> predecessor nodeID (for path reconstruction).
	Prev map[string]string
}

// Dijkstra computes the minimum cost from the given entry points (cost 0) to
// every node. Unknown entry points are skipped; unreachable nodes keep an
// infinite distance.
func (g *WeightedDirectedGraph) Dijkstra(entryPoints []string) *DijkstraResult {
	dist := make(map[string]int, len(g.Nodes))
	prev := make(map[string]string, len(g.Nodes))

	const inf = int(^uint(0) >> 1)
	for id := range g.Nodes {
		dist[id] = inf
	}

	pq := &dijkstraPQ{}
	heap.Init(pq)

	for _, ep := range entryPoints {
		if _, ok := g.Nodes[ep]; ok {
			dist[ep] = 0
			heap.Push(pq, &dijkstraItem{nodeID: ep, cost: 0})
		}
	}

	for pq.Len() > 0 {
		item := heap.Pop(pq).(*dijkstraItem)
		u := item.nodeID

		if item.cost > dist[u] {
			continue // stale entry
		}

		node := g.Nodes[u]

		for vID, edge := range node.Edges {
			newCost := dist[u] + edge.Cost
			if newCost < dist[vID] {
				dist[vID] = newCost
				prev[vID] = u
				heap.Push(pq, &dijkstraItem{nodeID: vID, cost: newCost})
			}
		}

		for vID := range node.ShortCut {
			newCost := dist[u] + CostProvidedField
			existingCost, exists := dist[vID]
			if !exists || newCost < existingCost {
				dist[vID] = newCost
				prev[vID] = u
				heap.Push(pq, &dijkstraItem{nodeID: vID, cost: newCost})
			}
		}
	}

	return &DijkstraResult{Dist: dist, Prev: prev}
}

// ReconstructPath returns the path from any entry point to dstID using the
// prev map. Returns nil if dstID is unreachable.
func (r *DijkstraResult) ReconstructPath(dstID string) []string {
	const inf = int(^uint(0) >> 1)
	if cost, ok := r.Dist[dstID]; !ok || cost == inf {
		return nil
	}

	var path []string
	visited := make(map[string]bool)
	for cur := dstID; cur != ""; {
		if visited[cur] {
			break
		}
		visited[cur] = true
		path = append([]string{cur}, path...)
		prev, hasPrev := r.Prev[cur]
		if !hasPrev {
			break
		}
		cur = prev
	}
	return path
}

// BuildGraph constructs the satisfiability graph from the subgraphs' schema
// metadata. Called once per supergraph construction; the graph is never
// mutated afterwards.
//
// Construction order:
//  1. A type-level node per (subgraph, object type) pair that contributes
//     fields, plus one node per field, connected type → field.
//  2. Root nodes and subgraph-entry edges into each subgraph's root type.
//  3. Entity-move edges, both directions, between every pair of subgraphs
//     sharing a keyed type.
//  4. Abstract-move edges between object types and the interfaces/unions
//     they belong to, within each subgraph.
//  5. Interface-object-type-move edges from @interfaceObject declarations to
//     the concrete implementations living in other subgraphs.
//  6. @provides view nodes: the providing field routes through its view to
//     the provided fields at no extra cost.
func BuildGraph(subGraphs []*SubGraphV2) *WeightedDirectedGraph {
	g := NewWeightedDirectedGraph()

	g.addTypeAndFieldNodes(subGraphs)
	g.addRootEntryEdges(subGraphs)
	g.addEntityMoveEdges(subGraphs)
	g.addAbstractMoveEdges(subGraphs)
	g.addInterfaceObjectMoveEdges(subGraphs)
	g.addProvidesViews(subGraphs)

	return g
}

// addTypeAndFieldNodes creates one type-level and one field-level node per
// object type a subgraph contributes fields to, wiring type → field moves.
// Once every node exists, a second pass connects each composite field to its
// return type's node in the same subgraph at no cost: stepping into an
// object the fetch already returned is not a move.
func (g *WeightedDirectedGraph) addTypeAndFieldNodes(subGraphs []*SubGraphV2) {
	for _, sg := range subGraphs {
		for typeName, fields := range sg.objectFields() {
			typeKey := NodeKey(sg.Name, typeName, "")
			g.AddNode(typeKey, NodeSubgraphType, sg, typeName, "")

			for _, field := range fields {
				fieldKey := NodeKey(sg.Name, typeName, field.Name.String())
				g.AddNode(fieldKey, NodeSubgraphType, sg, typeName, field.Name.String())
				g.AddEdge(typeKey, fieldKey, EdgeField, CostFieldMove)
			}
		}
	}

	for _, sg := range subGraphs {
		for typeName, fields := range sg.objectFields() {
			for _, field := range fields {
				retKey := NodeKey(sg.Name, namedTypeName(field.Type), "")
				if _, ok := g.Nodes[retKey]; !ok {
					continue
				}
				fieldKey := NodeKey(sg.Name, typeName, field.Name.String())
				g.AddEdge(fieldKey, retKey, EdgeField, 0)
			}
		}
	}
}

// addRootEntryEdges creates one root node per operation root any subgraph
// defines, with subgraph-entry edges into each defining subgraph's root type.
func (g *WeightedDirectedGraph) addRootEntryEdges(subGraphs []*SubGraphV2) {
	for _, rootTypeName := range []string{"Query", "Mutation", "Subscription"} {
		for _, sg := range subGraphs {
			typeKey := NodeKey(sg.Name, rootTypeName, "")
			if _, ok := g.Nodes[typeKey]; !ok {
				continue
			}
			rootID := RootNodeID(rootTypeName)
			g.AddNode(rootID, NodeRoot, nil, rootTypeName, "")
			g.AddEdge(rootID, typeKey, EdgeSubgraphEntry, CostSubgraphEntry)
		}
	}
}

// addEntityMoveEdges connects the type-level nodes of every subgraph pair
// that shares a keyed type, in both directions: an entity can be re-entered
// from any side of the key.
func (g *WeightedDirectedGraph) addEntityMoveEdges(subGraphs []*SubGraphV2) {
	entitySubGraphs := make(map[string][]*SubGraphV2)
	for _, sg := range subGraphs {
		for typeName := range sg.GetEntities() {
			entitySubGraphs[typeName] = append(entitySubGraphs[typeName], sg)
		}
	}

	for typeName, sgs := range entitySubGraphs {
		if len(sgs) < 2 {
			continue
		}
		for i, sgA := range sgs {
			for _, sgB := range sgs[i+1:] {
				keyA := NodeKey(sgA.Name, typeName, "")
				keyB := NodeKey(sgB.Name, typeName, "")
				g.AddEdge(keyA, keyB, EdgeEntityMove, CostEntityMove)
				g.AddEdge(keyB, keyA, EdgeEntityMove, CostEntityMove)
			}
		}
	}
}

// addAbstractMoveEdges connects each object type to the interfaces it
// implements and the unions it belongs to, in both directions, within each
// subgraph: widening reaches the abstract type's fields, narrowing reaches a
// concrete implementation.
func (g *WeightedDirectedGraph) addAbstractMoveEdges(subGraphs []*SubGraphV2) {
	for _, sg := range subGraphs {
		for _, def := range sg.Schema.Definitions {
			switch td := def.(type) {
			case *ast.ObjectTypeDefinition:
				objKey := NodeKey(sg.Name, td.Name.String(), "")
				if _, ok := g.Nodes[objKey]; !ok {
					continue
				}
				for _, iface := range td.Interfaces {
					ifaceKey := NodeKey(sg.Name, iface.String(), "")
					g.AddNode(ifaceKey, NodeSubgraphType, sg, iface.String(), "")
					g.AddEdge(objKey, ifaceKey, EdgeAbstractMove, CostAbstractMove)
					g.AddEdge(ifaceKey, objKey, EdgeAbstractMove, CostAbstractMove)
				}

			case *ast.UnionTypeDefinition:
				unionKey := NodeKey(sg.Name, td.Name.String(), "")
				g.AddNode(unionKey, NodeSubgraphType, sg, td.Name.String(), "")
				for _, member := range td.Types {
					memberKey := NodeKey(sg.Name, member.String(), "")
					if _, ok := g.Nodes[memberKey]; !ok {
						continue
					}
					g.AddEdge(unionKey, memberKey, EdgeAbstractMove, CostAbstractMove)
					g.AddEdge(memberKey, unionKey, EdgeAbstractMove, CostAbstractMove)
				}
			}
		}
	}
}

// addInterfaceObjectMoveEdges wires @interfaceObject declarations: a subgraph
// seeing only the abstract shape of an entity reaches the concrete object
// types through an entity round-trip to the subgraphs that implement them.
func (g *WeightedDirectedGraph) addInterfaceObjectMoveEdges(subGraphs []*SubGraphV2) {
	for _, sg := range subGraphs {
		for _, def := range sg.Schema.Definitions {
			td, ok := def.(*ast.ObjectTypeDefinition)
			if !ok || !hasDirective(td.Directives, "interfaceObject") {
				continue
			}
			ifaceName := td.Name.String()
			srcKey := NodeKey(sg.Name, ifaceName, "")

			for _, other := range subGraphs {
				if other.Name == sg.Name {
					continue
				}
				for _, otherDef := range other.Schema.Definitions {
					impl, ok := otherDef.(*ast.ObjectTypeDefinition)
					if !ok {
						continue
					}
					for _, iface := range impl.Interfaces {
						if iface.String() != ifaceName {
							continue
						}
						implKey := NodeKey(other.Name, impl.Name.String(), "")
						if _, exists := g.Nodes[implKey]; exists {
							g.AddEdge(srcKey, implKey, EdgeInterfaceObjectMove, CostEntityMove)
						}
					}
				}
			}
		}
	}
}

// addProvidesViews materializes a view node per @provides declaration: the
// providing field enters its view for free, and the view exposes exactly the
// provided fields, targeting their nodes in the subgraph that owns them. The
// providing field's ShortCut map caches the resolved targets for quick
// membership checks.
func (g *WeightedDirectedGraph) addProvidesViews(subGraphs []*SubGraphV2) {
	for _, sg := range subGraphs {
		for typeName, entity := range sg.GetEntities() {
			for fieldName, field := range entity.Fields {
				if len(field.Provides) == 0 {
					continue
				}

				providingKey := NodeKey(sg.Name, typeName, fieldName)
				if _, ok := g.Nodes[providingKey]; !ok {
					continue
				}

				viewID := ViewNodeID(sg.Name, typeName, fieldName)
				g.AddNode(viewID, NodeView, sg, typeName, fieldName)
				g.AddEdge(providingKey, viewID, EdgeProvidedField, CostProvidedField)

				for _, providedField := range field.Provides {
					targetKey := g.findForeignFieldNode(sg.Name, providedField)
					if targetKey == "" {
						continue
					}
					g.AddEdge(viewID, targetKey, EdgeProvidedField, CostProvidedField)
					g.AddShortCut(providingKey, targetKey)
				}
			}
		}
	}
}

// findForeignFieldNode locates the node of fieldName in any subgraph other
// than excludeSubGraph; a @provides projection always targets fields the
// providing subgraph marks @external.
func (g *WeightedDirectedGraph) findForeignFieldNode(excludeSubGraph, fieldName string) string {
	// Deterministic pick: smallest node ID wins when several subgraphs
	// expose the field.
	best := ""
	for id, node := range g.Nodes {
		if node.Kind != NodeSubgraphType || node.FieldName != fieldName {
			continue
		}
		if node.SubGraph == nil || node.SubGraph.Name == excludeSubGraph {
			continue
		}
		if best == "" || id < best {
			best = id
		}
	}
	return best
}

// objectFields lists every object type the subgraph contributes fields to,
// with its field definitions, reading both definitions and extensions. Each
// type's field list is name-sorted for deterministic graph construction.
func (sg *SubGraphV2) objectFields() map[string][]*ast.FieldDefinition {
	fields := make(map[string][]*ast.FieldDefinition)

	for _, def := range sg.Schema.Definitions {
		switch td := def.(type) {
		case *ast.ObjectTypeDefinition:
			fields[td.Name.String()] = append(fields[td.Name.String()], td.Fields...)
		case *ast.ObjectTypeExtension:
			fields[td.Name.String()] = append(fields[td.Name.String()], td.Fields...)
		}
	}

	for typeName := range fields {
		defs := fields[typeName]
		sort.Slice(defs, func(i, j int) bool { return defs[i].Name.String() < defs[j].Name.String() })
	}
	return fields
}

// namedTypeName unwraps List/NonNull wrappers down to the base named type.
func namedTypeName(t ast.Type) string {
	switch typ := t.(type) {
	case *ast.NamedType:
		return typ.Name.String()
	case *ast.ListType:
		return namedTypeName(typ.Type)
	case *ast.NonNullType:
		return namedTypeName(typ.Type)
	default:
		return ""
	}
}

// EdgeKindBetween reports the kind of the edge from srcID to dstID, if one
// exists.
func (g *WeightedDirectedGraph) EdgeKindBetween(srcID, dstID string) (EdgeKind, bool) {
	src, ok := g.Nodes[srcID]
	if !ok {
		return 0, false
	}
	edge, ok := src.Edges[dstID]
	return edge.Kind, ok
}
