package planner_test

import (
	"testing"

	"github.com/n9te9/fedgateway/federation/planner"
)

const bookingsProvidesSDL = `
	type Booking @key(fields: "ref") {
		ref: ID!
		seat: String!
		flight: Flight! @provides(fields: "origin")
	}

	extend type Flight @key(fields: "code") {
		code: ID! @external
		origin: String! @external
	}

	type Query {
		booking(ref: ID!): Booking
	}
`

// A field covered by @provides on the traversed edge resolves inside the
// providing fetch: no entity step is emitted for it.
func TestPlanOptimized_ProvidedFieldSkipsEntityStep(t *testing.T) {
	superGraph := buildTravelSuperGraph(t, map[string]string{"flights": flightsSDL, "bookings": bookingsProvidesSDL})
	p := planner.NewPlannerV2(superGraph)

	// Two root subgraphs force the graph-traversal path where the
	// @provides shortcut applies.
	plan, err := p.PlanOptimized(parseQuery(t, `query {
		booking(ref: "B1") { flight { origin } }
		flight(code: "AZ10") { destination }
	}`), nil)
	if err != nil {
		t.Fatalf("PlanOptimized failed: %v", err)
	}

	for _, step := range plan.Steps {
		if step.StepType != planner.StepTypeEntity {
			continue
		}
		if step.SubGraph.Name == "flights" && selectionTreeHasField(step.SelectionSet, "origin") {
			t.Errorf("origin is provided by Booking.flight and must not round-trip to flights:\n%s", planFingerprint(plan))
		}
	}

	// The providing subgraph's root step still carries the full selection.
	root := plan.Steps[plan.RootStepIndexes[0]]
	if root.SubGraph.Name != "bookings" || !selectionTreeHasField(root.SelectionSet, "origin") {
		t.Errorf("bookings root step should resolve origin through its @provides:\n%s", planFingerprint(plan))
	}
}
