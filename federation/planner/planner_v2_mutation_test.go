package planner_test

import (
	"testing"

	"github.com/n9te9/fedgateway/federation/planner"
)

const flightsMutationSDL = `
	type Flight @key(fields: "code") {
		code: ID!
		origin: String!
	}

	type Query {
		flight(code: ID!): Flight
	}

	type Mutation {
		delayFlight(code: ID!): Flight
	}
`

const bookingsMutationSDL = `
	type Booking @key(fields: "ref") {
		ref: ID!
		seat: String!
	}

	type Query {
		booking(ref: ID!): Booking
	}

	type Mutation {
		cancelBooking(ref: ID!): Booking
		rebook(ref: ID!): Booking
	}
`

// Mutation root fields must execute in document order even when they
// interleave across subgraphs: every change of subgraph starts a new root
// step instead of merging into an earlier one.
func TestPlannerV2_MutationRootFieldsKeepDocumentOrder(t *testing.T) {
	superGraph := buildTravelSuperGraph(t, map[string]string{"flights": flightsMutationSDL, "bookings": bookingsMutationSDL})
	p := planner.NewPlannerV2(superGraph)

	plan, err := p.Plan(parseQuery(t, `mutation {
		cancelBooking(ref: "B1") { seat }
		delayFlight(code: "AZ10") { origin }
		rebook(ref: "B1") { seat }
	}`), nil)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if plan.OperationType != "mutation" {
		t.Errorf("operation type = %q, want mutation", plan.OperationType)
	}
	if len(plan.RootStepIndexes) != 3 {
		t.Fatalf("interleaved mutation must not merge across the flights step, got %d root steps:\n%s",
			len(plan.RootStepIndexes), planFingerprint(plan))
	}

	wantOrder := []struct {
		subGraph string
		field    string
	}{
		{"bookings", "cancelBooking"},
		{"flights", "delayFlight"},
		{"bookings", "rebook"},
	}
	for i, want := range wantOrder {
		step := plan.Steps[plan.RootStepIndexes[i]]
		if step.SubGraph.Name != want.subGraph {
			t.Errorf("root step %d subgraph = %s, want %s", i, step.SubGraph.Name, want.subGraph)
		}
		if !selectionTreeHasField(step.SelectionSet, want.field) {
			t.Errorf("root step %d is missing %s:\n%s", i, want.field, planFingerprint(plan))
		}
	}
}

// Adjacent mutation fields on the same subgraph still share one step.
func TestPlannerV2_MutationMergesAdjacentSameSubgraphFields(t *testing.T) {
	superGraph := buildTravelSuperGraph(t, map[string]string{"flights": flightsMutationSDL, "bookings": bookingsMutationSDL})
	p := planner.NewPlannerV2(superGraph)

	plan, err := p.Plan(parseQuery(t, `mutation {
		cancelBooking(ref: "B1") { seat }
		rebook(ref: "B1") { seat }
	}`), nil)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if len(plan.Steps) != 1 {
		t.Fatalf("adjacent same-subgraph mutation fields should share a step, got %d", len(plan.Steps))
	}
	step := plan.Steps[0]
	if !selectionTreeHasField(step.SelectionSet, "cancelBooking") || !selectionTreeHasField(step.SelectionSet, "rebook") {
		t.Errorf("merged mutation step is missing a field:\n%s", planFingerprint(plan))
	}
}

// The same fields in a query merge freely by subgraph; only mutations pin
// document order.
func TestPlannerV2_QueryMergesNonAdjacentSameSubgraphFields(t *testing.T) {
	superGraph := buildTravelSuperGraph(t, map[string]string{"flights": flightsMutationSDL, "bookings": bookingsMutationSDL})
	p := planner.NewPlannerV2(superGraph)

	plan, err := p.Plan(parseQuery(t, `query {
		booking(ref: "B1") { seat }
		flight(code: "AZ10") { origin }
		booking2: booking(ref: "B2") { seat }
	}`), nil)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if len(plan.RootStepIndexes) != 2 {
		t.Fatalf("expected the two bookings fields to merge for a query, got %d root steps", len(plan.RootStepIndexes))
	}
}
