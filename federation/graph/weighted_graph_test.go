package graph_test

import (
	"testing"

	"github.com/n9te9/fedgateway/federation/graph"
)

func newGraphTestSubGraph(t *testing.T, name, schema string) *graph.SubGraphV2 {
	t.Helper()
	sg, err := graph.NewSubGraphV2(name, []byte(schema), "http://"+name+".internal")
	if err != nil {
		t.Fatalf("NewSubGraphV2(%s) failed: %v", name, err)
	}
	return sg
}

func TestBuildGraph_RootAndFieldNodes(t *testing.T) {
	flights := newGraphTestSubGraph(t, "flights", `
		type Flight @key(fields: "code") {
			code: ID!
			origin: String!
		}
		type Query { flight(code: ID!): Flight }
		type Mutation { delayFlight(code: ID!): Flight }
	`)

	g := graph.BuildGraph([]*graph.SubGraphV2{flights})

	for _, rootType := range []string{"Query", "Mutation"} {
		rootID := graph.RootNodeID(rootType)
		root, ok := g.Nodes[rootID]
		if !ok {
			t.Fatalf("missing root node %s", rootID)
		}
		if root.Kind != graph.NodeRoot || root.SubGraph != nil {
			t.Errorf("root node %s has kind=%d subgraph=%v", rootID, root.Kind, root.SubGraph)
		}

		entry := graph.NodeKey("flights", rootType, "")
		kind, ok := g.EdgeKindBetween(rootID, entry)
		if !ok || kind != graph.EdgeSubgraphEntry {
			t.Errorf("expected a subgraph-entry edge %s -> %s, got kind=%d ok=%v", rootID, entry, kind, ok)
		}
	}

	typeKey := graph.NodeKey("flights", "Flight", "")
	fieldKey := graph.NodeKey("flights", "Flight", "origin")
	node, ok := g.Nodes[typeKey]
	if !ok || node.Kind != graph.NodeSubgraphType {
		t.Fatalf("missing subgraph-type node %s", typeKey)
	}
	edge, ok := node.Edges[fieldKey]
	if !ok || edge.Kind != graph.EdgeField || edge.Cost != graph.CostFieldMove {
		t.Errorf("type -> field edge wrong: %+v ok=%v", edge, ok)
	}
}

func TestBuildGraph_EntityMovesConnectSharedKeys(t *testing.T) {
	flights := newGraphTestSubGraph(t, "flights", `
		type Flight @key(fields: "code") {
			code: ID!
			origin: String!
		}
		type Query { flight(code: ID!): Flight }
	`)
	bookings := newGraphTestSubGraph(t, "bookings", `
		extend type Flight @key(fields: "code") {
			code: ID! @external
			seatsFree: Int!
		}
	`)

	g := graph.BuildGraph([]*graph.SubGraphV2{flights, bookings})

	a := graph.NodeKey("flights", "Flight", "")
	b := graph.NodeKey("bookings", "Flight", "")

	for _, pair := range [][2]string{{a, b}, {b, a}} {
		kind, ok := g.EdgeKindBetween(pair[0], pair[1])
		if !ok || kind != graph.EdgeEntityMove {
			t.Errorf("expected entity move %s -> %s, got kind=%d ok=%v", pair[0], pair[1], kind, ok)
		}
		if edge := g.Nodes[pair[0]].Edges[pair[1]]; edge.Cost != graph.CostEntityMove {
			t.Errorf("entity move cost = %d, want %d", edge.Cost, graph.CostEntityMove)
		}
	}
}

func TestBuildGraph_AbstractMoves(t *testing.T) {
	lounge := newGraphTestSubGraph(t, "lounge", `
		interface Redeemable { id: ID! }

		type LoungePass implements Redeemable @key(fields: "id") {
			id: ID!
			tier: String!
		}

		type UpgradeVoucher @key(fields: "id") {
			id: ID!
			cabin: String!
		}

		union Perk = LoungePass | UpgradeVoucher

		type Query { perks: [Perk!]! }
	`)

	g := graph.BuildGraph([]*graph.SubGraphV2{lounge})

	pass := graph.NodeKey("lounge", "LoungePass", "")
	iface := graph.NodeKey("lounge", "Redeemable", "")
	union := graph.NodeKey("lounge", "Perk", "")

	// Object ↔ interface, both directions.
	for _, pair := range [][2]string{{pass, iface}, {iface, pass}} {
		kind, ok := g.EdgeKindBetween(pair[0], pair[1])
		if !ok || kind != graph.EdgeAbstractMove {
			t.Errorf("expected abstract move %s -> %s, got kind=%d ok=%v", pair[0], pair[1], kind, ok)
		}
	}

	// Union ↔ member, both directions.
	voucher := graph.NodeKey("lounge", "UpgradeVoucher", "")
	for _, pair := range [][2]string{{union, voucher}, {voucher, union}} {
		kind, ok := g.EdgeKindBetween(pair[0], pair[1])
		if !ok || kind != graph.EdgeAbstractMove {
			t.Errorf("expected abstract move %s -> %s, got kind=%d ok=%v", pair[0], pair[1], kind, ok)
		}
	}
}

func TestBuildGraph_InterfaceObjectMove(t *testing.T) {
	charts := newGraphTestSubGraph(t, "charts", `
		type Media @interfaceObject @key(fields: "id") {
			id: ID!
			rank: Int!
		}
		type Query { trending: Media }
	`)
	library := newGraphTestSubGraph(t, "library", `
		interface Media { id: ID! }
		type Song implements Media @key(fields: "id") {
			id: ID!
			title: String!
		}
	`)

	g := graph.BuildGraph([]*graph.SubGraphV2{charts, library})

	src := graph.NodeKey("charts", "Media", "")
	dst := graph.NodeKey("library", "Song", "")
	kind, ok := g.EdgeKindBetween(src, dst)
	if !ok || kind != graph.EdgeInterfaceObjectMove {
		t.Fatalf("expected interface-object move %s -> %s, got kind=%d ok=%v", src, dst, kind, ok)
	}
	if edge := g.Nodes[src].Edges[dst]; edge.Cost != graph.CostEntityMove {
		t.Errorf("interface-object move cost = %d, want %d", edge.Cost, graph.CostEntityMove)
	}
}

func TestBuildGraph_ProvidesView(t *testing.T) {
	bookings := newGraphTestSubGraph(t, "bookings", `
		type Booking @key(fields: "ref") {
			ref: ID!
			flight: Flight! @provides(fields: "origin")
		}
		extend type Flight @key(fields: "code") {
			code: ID! @external
			origin: String! @external
		}
		type Query { booking(ref: ID!): Booking }
	`)
	flights := newGraphTestSubGraph(t, "flights", `
		type Flight @key(fields: "code") {
			code: ID!
			origin: String!
		}
		type Query { flight(code: ID!): Flight }
	`)

	g := graph.BuildGraph([]*graph.SubGraphV2{bookings, flights})

	providing := graph.NodeKey("bookings", "Booking", "flight")
	viewID := graph.ViewNodeID("bookings", "Booking", "flight")
	provided := graph.NodeKey("flights", "Flight", "origin")

	view, ok := g.Nodes[viewID]
	if !ok || view.Kind != graph.NodeView {
		t.Fatalf("missing view node %s", viewID)
	}

	if kind, ok := g.EdgeKindBetween(providing, viewID); !ok || kind != graph.EdgeProvidedField {
		t.Errorf("providing field must enter its view, got kind=%d ok=%v", kind, ok)
	}
	if edge, ok := view.Edges[provided]; !ok || edge.Cost != graph.CostProvidedField {
		t.Errorf("view must expose the provided field at no cost, got %+v ok=%v", edge, ok)
	}

	// The shortcut cache mirrors the view's targets.
	if _, ok := g.Nodes[providing].ShortCut[provided]; !ok {
		t.Errorf("providing field's shortcut cache is missing %s: %v", provided, g.Nodes[providing].ShortCut)
	}
}

func TestDijkstra_CostsFollowMoveKinds(t *testing.T) {
	flights := newGraphTestSubGraph(t, "flights", `
		type Flight @key(fields: "code") {
			code: ID!
			origin: String!
		}
		type Query { flight(code: ID!): Flight }
	`)
	bookings := newGraphTestSubGraph(t, "bookings", `
		extend type Flight @key(fields: "code") {
			code: ID! @external
			seatsFree: Int!
		}
	`)

	g := graph.BuildGraph([]*graph.SubGraphV2{flights, bookings})

	result := g.Dijkstra([]string{graph.RootNodeID("Query")})

	cases := []struct {
		node string
		want int
	}{
		{graph.NodeKey("flights", "Query", ""), graph.CostSubgraphEntry},
		{graph.NodeKey("flights", "Query", "flight"), graph.CostSubgraphEntry + graph.CostFieldMove},
		// Stepping from the flight field into its Flight object is free;
		// crossing to bookings costs an entity move.
		{graph.NodeKey("flights", "Flight", ""), graph.CostSubgraphEntry + graph.CostFieldMove},
		{graph.NodeKey("bookings", "Flight", ""), graph.CostSubgraphEntry + graph.CostFieldMove + graph.CostEntityMove},
		{graph.NodeKey("bookings", "Flight", "seatsFree"), graph.CostSubgraphEntry + graph.CostFieldMove + graph.CostEntityMove + graph.CostFieldMove},
	}
	for _, tc := range cases {
		if got := result.Dist[tc.node]; got != tc.want {
			t.Errorf("Dist[%s] = %d, want %d", tc.node, got, tc.want)
		}
	}
}

func TestDijkstra_UnknownEntryAndUnreachable(t *testing.T) {
	flights := newGraphTestSubGraph(t, "flights", `
		type Flight @key(fields: "code") { code: ID! }
		type Query { flight(code: ID!): Flight }
	`)
	g := graph.BuildGraph([]*graph.SubGraphV2{flights})

	result := g.Dijkstra([]string{"nope:Ghost"})

	inf := int(^uint(0) >> 1)
	if got := result.Dist[graph.NodeKey("flights", "Flight", "")]; got != inf {
		t.Errorf("node reachable from a nonexistent entry: %d", got)
	}
	if path := result.ReconstructPath(graph.NodeKey("flights", "Flight", "code")); path != nil {
		t.Errorf("expected nil path for unreachable node, got %v", path)
	}
}

func TestReconstructPath_FollowsPredecessors(t *testing.T) {
	flights := newGraphTestSubGraph(t, "flights", `
		type Flight @key(fields: "code") {
			code: ID!
			origin: String!
		}
		type Query { flight(code: ID!): Flight }
	`)
	g := graph.BuildGraph([]*graph.SubGraphV2{flights})

	root := graph.RootNodeID("Query")
	target := graph.NodeKey("flights", "Flight", "origin")

	result := g.Dijkstra([]string{root})
	path := result.ReconstructPath(target)

	if len(path) == 0 || path[0] != root || path[len(path)-1] != target {
		t.Errorf("path must run root to target, got %v", path)
	}
}

func TestAddEdge_KeepsCheaperDuplicate(t *testing.T) {
	g := graph.NewWeightedDirectedGraph()
	g.AddNode("a", graph.NodeSubgraphType, nil, "T", "")
	g.AddNode("b", graph.NodeSubgraphType, nil, "T", "x")

	g.AddEdge("a", "b", graph.EdgeEntityMove, graph.CostEntityMove)
	g.AddEdge("a", "b", graph.EdgeField, graph.CostFieldMove)
	g.AddEdge("a", "b", graph.EdgeEntityMove, graph.CostEntityMove) // ignored, pricier

	edge := g.Nodes["a"].Edges["b"]
	if edge.Cost != graph.CostFieldMove || edge.Kind != graph.EdgeField {
		t.Errorf("duplicate edge must keep the cheaper move, got %+v", edge)
	}

	// Unknown source must not panic.
	g.AddEdge("ghost", "b", graph.EdgeField, graph.CostFieldMove)
	g.AddShortCut("ghost", "b")
}
