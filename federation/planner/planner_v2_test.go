package planner_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/n9te9/fedgateway/federation/graph"
	"github.com/n9te9/fedgateway/federation/planner"
	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
)

const flightsSDL = `
	type Flight @key(fields: "code") {
		code: ID!
		origin: String!
		destination: String!
		distanceKm: Int!
	}

	type Query {
		flight(code: ID!): Flight
		departures(airport: String!): [Flight!]!
	}
`

const bookingsSDL = `
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

func buildTravelSuperGraph(t *testing.T, sdls map[string]string) *graph.SuperGraphV2 {
	t.Helper()
	subGraphs := make([]*graph.SubGraphV2, 0, len(sdls))
	for _, name := range []string{"flights", "bookings", "pricing", "crew", "maintenance", "lounge"} {
		sdl, ok := sdls[name]
		if !ok {
			continue
		}
		sg, err := graph.NewSubGraphV2(name, []byte(sdl), "http://"+name+".internal")
		if err != nil {
			t.Fatalf("NewSubGraphV2(%s) failed: %v", name, err)
		}
		subGraphs = append(subGraphs, sg)
	}
	superGraph, err := graph.NewSuperGraphV2(subGraphs)
	if err != nil {
		t.Fatalf("NewSuperGraphV2 failed: %v", err)
	}
	return superGraph
}

func parseQuery(t *testing.T, query string) *ast.Document {
	t.Helper()
	l := lexer.New(query)
	p := parser.New(l)
	doc := p.ParseDocument()
	if len(p.Errors()) > 0 {
		t.Fatalf("parse error: %v", p.Errors())
	}
	return doc
}

// planFingerprint renders every observable part of a plan into one string so
// two plans can be compared byte for byte.
func planFingerprint(plan *planner.PlanV2) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "op=%s roots=%v\n", plan.OperationType, plan.RootStepIndexes)
	for _, step := range plan.Steps {
		fmt.Fprintf(&sb, "step=%d sg=%s type=%d parent=%s path=%v insert=%v deps=%v sel=",
			step.ID, step.SubGraph.Name, step.StepType, step.ParentType, step.Path, step.InsertionPath, step.DependsOn)
		writeSelectionNames(&sb, step.SelectionSet)
		sb.WriteString("\n")
	}
	return sb.String()
}

func writeSelectionNames(sb *strings.Builder, selections []ast.Selection) {
	sb.WriteString("{")
	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			sb.WriteString(s.Name.String())
			if len(s.SelectionSet) > 0 {
				writeSelectionNames(sb, s.SelectionSet)
			}
		case *ast.InlineFragment:
			sb.WriteString("...on ")
			if s.TypeCondition != nil {
				sb.WriteString(s.TypeCondition.Name.String())
			}
			writeSelectionNames(sb, s.SelectionSet)
		}
		sb.WriteString(" ")
	}
	sb.WriteString("}")
}

func TestPlannerV2_SingleSubgraphPlan(t *testing.T) {
	superGraph := buildTravelSuperGraph(t, map[string]string{"flights": flightsSDL, "bookings": bookingsSDL})
	p := planner.NewPlannerV2(superGraph)

	plan, err := p.Plan(parseQuery(t, `query { flight(code: "AZ10") { origin destination } }`), nil)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if len(plan.Steps) != 1 {
		t.Fatalf("expected 1 step for a single-subgraph operation, got %d", len(plan.Steps))
	}
	step := plan.Steps[0]
	if step.SubGraph.Name != "flights" || step.StepType != planner.StepTypeQuery {
		t.Errorf("unexpected root step: sg=%s type=%d", step.SubGraph.Name, step.StepType)
	}
	if step.ParentType != "Query" || len(step.DependsOn) != 0 {
		t.Errorf("root step shape wrong: parent=%s deps=%v", step.ParentType, step.DependsOn)
	}
}

func TestPlannerV2_CrossSubgraphEntityStep(t *testing.T) {
	superGraph := buildTravelSuperGraph(t, map[string]string{"flights": flightsSDL, "bookings": bookingsSDL})
	p := planner.NewPlannerV2(superGraph)

	plan, err := p.Plan(parseQuery(t, `query { flight(code: "AZ10") { origin bookings { seat } } }`), nil)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if len(plan.Steps) != 2 {
		t.Fatalf("expected root + entity step, got %d steps:\n%s", len(plan.Steps), planFingerprint(plan))
	}

	root, entity := plan.Steps[0], plan.Steps[1]
	if root.SubGraph.Name != "flights" {
		t.Errorf("root step subgraph = %s, want flights", root.SubGraph.Name)
	}
	if entity.StepType != planner.StepTypeEntity || entity.SubGraph.Name != "bookings" {
		t.Errorf("entity step wrong: type=%d sg=%s", entity.StepType, entity.SubGraph.Name)
	}
	if entity.ParentType != "Flight" {
		t.Errorf("entity step parent type = %s, want Flight", entity.ParentType)
	}
	if len(entity.DependsOn) != 1 || entity.DependsOn[0] != root.ID {
		t.Errorf("entity step must depend on the root step, got %v", entity.DependsOn)
	}
	if got := strings.Join(entity.InsertionPath, "."); got != "Query.flight" {
		t.Errorf("entity insertion path = %q, want Query.flight", got)
	}

	// The planner must inject Flight's key into the root fetch so the entity
	// call can build its representations.
	if !selectionTreeHasField(root.SelectionSet, "code") {
		t.Errorf("root step is missing the injected key field:\n%s", planFingerprint(plan))
	}
}

func TestPlannerV2_PlansAreDeterministic(t *testing.T) {
	superGraph := buildTravelSuperGraph(t, map[string]string{"flights": flightsSDL, "bookings": bookingsSDL})
	p := planner.NewPlannerV2(superGraph)

	query := `query {
		flight(code: "AZ10") { origin bookings { seat } }
		booking(ref: "B1") { seat }
		departures(airport: "LHR") { destination }
	}`

	first, err := p.Plan(parseQuery(t, query), nil)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	want := planFingerprint(first)

	for i := 0; i < 20; i++ {
		plan, err := p.Plan(parseQuery(t, query), nil)
		if err != nil {
			t.Fatalf("Plan failed on run %d: %v", i, err)
		}
		if got := planFingerprint(plan); got != want {
			t.Fatalf("plan differs between runs:\n--- first\n%s\n--- run %d\n%s", want, i, got)
		}
	}
}

func TestPlannerV2_RootGroupsFollowDocumentOrder(t *testing.T) {
	superGraph := buildTravelSuperGraph(t, map[string]string{"flights": flightsSDL, "bookings": bookingsSDL})
	p := planner.NewPlannerV2(superGraph)

	// flight (flights), booking (bookings), departures (flights): for a
	// query the flights fields merge into one step, in first-use order.
	plan, err := p.Plan(parseQuery(t, `query {
		flight(code: "AZ10") { origin }
		booking(ref: "B1") { seat }
		departures(airport: "LHR") { destination }
	}`), nil)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if len(plan.RootStepIndexes) != 2 {
		t.Fatalf("expected 2 root steps, got %d", len(plan.RootStepIndexes))
	}
	first := plan.Steps[plan.RootStepIndexes[0]]
	second := plan.Steps[plan.RootStepIndexes[1]]
	if first.SubGraph.Name != "flights" || second.SubGraph.Name != "bookings" {
		t.Errorf("root step order = [%s %s], want [flights bookings]", first.SubGraph.Name, second.SubGraph.Name)
	}
	if !selectionTreeHasField(first.SelectionSet, "flight") || !selectionTreeHasField(first.SelectionSet, "departures") {
		t.Errorf("flights root step should carry both flights fields:\n%s", planFingerprint(plan))
	}
}
