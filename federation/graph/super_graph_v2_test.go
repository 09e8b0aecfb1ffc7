package graph_test

import (
	"testing"

	"github.com/n9te9/fedgateway/federation/graph"
)

const composeFlightsSDL = `
	type Flight @key(fields: "code") {
		code: ID!
		origin: String!
		basePrice: Int!
	}

	type Query {
		flight(code: ID!): Flight
	}
`

const composeBookingsSDL = `
	type Booking @key(fields: "ref") {
		ref: ID!
		seat: String!
	}

	extend type Flight @key(fields: "code") {
		code: ID! @external
		bookings: [Booking!]!
	}

	type Query {
		booking(ref: ID!): Booking
	}
`

func composeSuperGraph(t *testing.T, sdls ...[2]string) *graph.SuperGraphV2 {
	t.Helper()
	subGraphs := make([]*graph.SubGraphV2, 0, len(sdls))
	for _, pair := range sdls {
		sg, err := graph.NewSubGraphV2(pair[0], []byte(pair[1]), "http://"+pair[0]+".internal")
		if err != nil {
			t.Fatalf("NewSubGraphV2(%s) failed: %v", pair[0], err)
		}
		subGraphs = append(subGraphs, sg)
	}
	superGraph, err := graph.NewSuperGraphV2(subGraphs)
	if err != nil {
		t.Fatalf("NewSuperGraphV2 failed: %v", err)
	}
	return superGraph
}

func ownerNamesOf(sg *graph.SuperGraphV2, typeName, fieldName string) []string {
	owners := sg.GetSubGraphsForField(typeName, fieldName)
	names := make([]string, 0, len(owners))
	for _, o := range owners {
		names = append(names, o.Name)
	}
	return names
}

func TestNewSuperGraphV2_ComposesAcrossSubgraphs(t *testing.T) {
	sg := composeSuperGraph(t,
		[2]string{"flights", composeFlightsSDL},
		[2]string{"bookings", composeBookingsSDL},
	)

	// Ownership is the observable composition product: the extension's field
	// resolves only in bookings, the base fields only in flights.
	if got := ownerNamesOf(sg, "Flight", "bookings"); len(got) != 1 || got[0] != "bookings" {
		t.Errorf("Flight.bookings owners = %v, want [bookings]", got)
	}
	if got := ownerNamesOf(sg, "Flight", "origin"); len(got) != 1 || got[0] != "flights" {
		t.Errorf("Flight.origin owners = %v, want [flights]", got)
	}
	// The @external copy of the key never resolves in the extending subgraph.
	if got := ownerNamesOf(sg, "Flight", "code"); len(got) != 1 || got[0] != "flights" {
		t.Errorf("Flight.code owners = %v, want [flights]", got)
	}

	// The satisfiability graph is built as part of composition.
	if sg.Graph == nil {
		t.Fatal("composition must pre-compute the satisfiability graph")
	}
	if _, ok := sg.Graph.Nodes[graph.RootNodeID("Query")]; !ok {
		t.Error("satisfiability graph is missing the Query root node")
	}
}

func TestNewSuperGraphV2_RejectsEmptyInput(t *testing.T) {
	if _, err := graph.NewSuperGraphV2(nil); err == nil {
		t.Fatal("expected an error for composition with no subgraphs")
	}
}

func TestGetEntityOwnerSubGraph_PrefersResolvableDefinition(t *testing.T) {
	sg := composeSuperGraph(t,
		[2]string{"flights", composeFlightsSDL},
		[2]string{"bookings", composeBookingsSDL},
	)

	owner := sg.GetEntityOwnerSubGraph("Flight")
	if owner == nil || owner.Name != "flights" {
		t.Errorf("Flight owner = %v, want flights (the non-extension definition)", owner)
	}
	if sg.GetEntityOwnerSubGraph("Nonexistent") != nil {
		t.Error("unknown type must have no entity owner")
	}
	if !sg.IsEntityType("Flight") || sg.IsEntityType("Query") {
		t.Error("IsEntityType misclassifies")
	}
}

func TestGetEntityOwnerSubGraph_SkipsUnresolvableStub(t *testing.T) {
	stubSDL := `
		type Flight @key(fields: "code", resolvable: false) {
			code: ID!
		}
		type Query { stub: Flight }
	`
	sg := composeSuperGraph(t,
		[2]string{"stubs", stubSDL},
		[2]string{"flights", composeFlightsSDL},
	)

	owner := sg.GetEntityOwnerSubGraph("Flight")
	if owner == nil || owner.Name != "flights" {
		t.Errorf("owner = %v, want flights; resolvable:false stubs cannot answer _entities", owner)
	}
}

func TestResolveOwner_ProgressiveOverrideThresholds(t *testing.T) {
	overrideSDL := `
		type Flight @key(fields: "code") {
			code: ID!
			basePrice: Int! @override(from: "flights", label: "percent(50)")
		}
	`
	sg := composeSuperGraph(t,
		[2]string{"flights", composeFlightsSDL},
		[2]string{"pricing", overrideSDL},
	)

	cases := []struct {
		percentage int
		want       string
	}{
		{0, "flights"},
		{49, "flights"},
		{50, "pricing"}, // at the label the rollout includes the request
		{100, "pricing"},
	}
	for _, tc := range cases {
		owner := sg.ResolveOwner("Flight", "basePrice", graph.OverrideContext{Percentage: tc.percentage})
		if owner == nil || owner.Name != tc.want {
			t.Errorf("ResolveOwner at %d%% = %v, want %s", tc.percentage, owner, tc.want)
		}
	}

	// Both sides stay resolvable while the rollout is progressive.
	owners := ownerNamesOf(sg, "Flight", "basePrice")
	if len(owners) != 2 {
		t.Errorf("progressive override must keep both owners, got %v", owners)
	}
}

func TestResolveOwner_FullOverrideRemovesOldOwner(t *testing.T) {
	overrideSDL := `
		type Flight @key(fields: "code") {
			code: ID!
			basePrice: Int! @override(from: "flights")
		}
	`
	sg := composeSuperGraph(t,
		[2]string{"flights", composeFlightsSDL},
		[2]string{"pricing", overrideSDL},
	)

	owners := ownerNamesOf(sg, "Flight", "basePrice")
	if len(owners) != 1 || owners[0] != "pricing" {
		t.Errorf("full override must leave only the new owner, got %v", owners)
	}
}

func TestPossibleTypesAndAbstractness(t *testing.T) {
	abstractSDL := `
		interface Redeemable { id: ID! }

		type LoungePass implements Redeemable {
			id: ID!
			tier: String!
		}

		type UpgradeVoucher {
			id: ID!
		}

		union Perk = LoungePass | UpgradeVoucher

		type Query { perks: [Perk!]! }
	`
	sg := composeSuperGraph(t, [2]string{"lounge", abstractSDL})

	if !sg.IsAbstractType("Perk") || !sg.IsAbstractType("Redeemable") {
		t.Error("union and interface must be abstract")
	}
	if sg.IsAbstractType("LoungePass") {
		t.Error("object type misreported as abstract")
	}

	union := sg.PossibleTypes("Perk")
	if len(union) != 2 || union[0] != "LoungePass" || union[1] != "UpgradeVoucher" {
		t.Errorf("PossibleTypes(Perk) = %v", union)
	}
	iface := sg.PossibleTypes("Redeemable")
	if len(iface) != 1 || iface[0] != "LoungePass" {
		t.Errorf("PossibleTypes(Redeemable) = %v", iface)
	}
}
