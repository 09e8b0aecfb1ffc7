package planner_test

import (
	"testing"

	"github.com/n9te9/fedgateway/federation/graph"
	"github.com/n9te9/fedgateway/federation/planner"
	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
)

// Progressive @override: Product.price is being migrated from subgraph A to
// subgraph B behind a percent(50) label. A request's override context decides,
// per request, which side of the rollout it lands on.
func TestPlannerV2_ProgressiveOverride(t *testing.T) {
	schemaA := `
		type Product @key(fields: "id") {
			id: ID!
			name: String!
			price: Int!
		}
		type Query { product(id: ID!): Product }
	`
	schemaB := `
		type Product @key(fields: "id") {
			id: ID!
			price: Int! @override(from: "A", label: "percent(50)")
		}
	`

	sgA, err := graph.NewSubGraphV2("A", []byte(schemaA), "http://a.example.com")
	if err != nil {
		t.Fatalf("NewSubGraphV2(A) failed: %v", err)
	}
	sgB, err := graph.NewSubGraphV2("B", []byte(schemaB), "http://b.example.com")
	if err != nil {
		t.Fatalf("NewSubGraphV2(B) failed: %v", err)
	}

	superGraph, err := graph.NewSuperGraphV2([]*graph.SubGraphV2{sgA, sgB})
	if err != nil {
		t.Fatalf("NewSuperGraphV2 failed: %v", err)
	}

	query := `query { product(id: "1") { name price } }`
	l := lexer.New(query)
	psr := parser.New(l)
	doc := psr.ParseDocument()
	if len(psr.Errors()) > 0 {
		t.Fatalf("parse error: %v", psr.Errors())
	}

	p := planner.NewPlannerV2(superGraph)

	t.Run("below the rollout label the field stays on the original owner", func(t *testing.T) {
		plan, err := p.WithOverrideContext(graph.OverrideContext{Percentage: 40}).Plan(doc, nil)
		if err != nil {
			t.Fatalf("Plan failed: %v", err)
		}

		if len(plan.Steps) != 1 {
			t.Fatalf("expected a single fetch against A, got %d steps", len(plan.Steps))
		}
		if plan.Steps[0].SubGraph.Name != "A" {
			t.Errorf("root step subgraph = %q, want A", plan.Steps[0].SubGraph.Name)
		}
		if !selectionTreeHasField(plan.Steps[0].SelectionSet, "price") {
			t.Error("price must be fetched from A below the rollout percentage")
		}
	})

	t.Run("at or above the rollout label the field routes to the overriding subgraph", func(t *testing.T) {
		plan, err := p.WithOverrideContext(graph.OverrideContext{Percentage: 60}).Plan(doc, nil)
		if err != nil {
			t.Fatalf("Plan failed: %v", err)
		}

		if len(plan.Steps) < 2 {
			t.Fatalf("expected an entity step against B, got %d steps", len(plan.Steps))
		}

		var entityStep *planner.StepV2
		for _, step := range plan.Steps {
			if step.StepType == planner.StepTypeEntity {
				entityStep = step
			}
		}
		if entityStep == nil {
			t.Fatal("no entity step in plan")
		}
		if entityStep.SubGraph.Name != "B" {
			t.Errorf("entity step subgraph = %q, want B", entityStep.SubGraph.Name)
		}
		if !selectionTreeHasField(entityStep.SelectionSet, "price") {
			t.Error("price must be fetched from B at or above the rollout percentage")
		}
		if selectionTreeHasField(plan.Steps[0].SelectionSet, "price") {
			t.Error("price must not also be fetched from A")
		}
	})

	// The planner itself is untouched by WithOverrideContext: a later request
	// with no context plans against the original owner.
	t.Run("zero-value context keeps the original owner", func(t *testing.T) {
		plan, err := p.Plan(doc, nil)
		if err != nil {
			t.Fatalf("Plan failed: %v", err)
		}
		if len(plan.Steps) != 1 || plan.Steps[0].SubGraph.Name != "A" {
			t.Errorf("zero-value override context should route to A, got %d steps", len(plan.Steps))
		}
	})
}

func selectionTreeHasField(selections []ast.Selection, name string) bool {
	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			if s.Name.String() == name {
				return true
			}
			if selectionTreeHasField(s.SelectionSet, name) {
				return true
			}
		case *ast.InlineFragment:
			if selectionTreeHasField(s.SelectionSet, name) {
				return true
			}
		}
	}
	return false
}
