package executor_test

import (
	"testing"

	"github.com/n9te9/fedgateway/federation/executor"
	"github.com/n9te9/fedgateway/federation/planner"
	"github.com/n9te9/graphql-parser/ast"
)

func argument(name string, value ast.Value) *ast.Argument {
	return &ast.Argument{Name: &ast.Name{Value: name}, Value: value}
}

func stringValue(s string) *ast.StringValue { return &ast.StringValue{Value: s} }

func TestQueryBuilder_RootQueryIsMinified(t *testing.T) {
	qb := executor.NewQueryBuilderV2(nil)

	step := &planner.StepV2{
		StepType: planner.StepTypeQuery,
		SelectionSet: []ast.Selection{
			&ast.Field{
				Name:      &ast.Name{Value: "album"},
				Arguments: []*ast.Argument{argument("id", stringValue("a1"))},
				SelectionSet: []ast.Selection{
					field("id"),
					field("title"),
				},
			},
		},
	}

	query, _, err := qb.Build(step, nil, nil, "query")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if want := `query{album(id:"a1"){id title}}`; query != want {
		t.Errorf("minified query = %q, want %q", query, want)
	}
}

func TestQueryBuilder_VariableDefinitionsAreSortedAndTyped(t *testing.T) {
	qb := executor.NewQueryBuilderV2(nil)

	step := &planner.StepV2{
		StepType: planner.StepTypeQuery,
		SelectionSet: []ast.Selection{
			&ast.Field{
				Name: &ast.Name{Value: "search"},
				Arguments: []*ast.Argument{
					argument("limit", &ast.Variable{Name: "zLimit"}),
					argument("term", &ast.Variable{Name: "aTerm"}),
				},
				SelectionSet: []ast.Selection{field("id")},
			},
		},
	}

	variables := map[string]interface{}{"zLimit": 5, "aTerm": "jazz"}
	query, outVars, err := qb.Build(step, nil, variables, "query")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// Variables render sorted, so the same step always serializes to the
	// same body (the in-flight dedup keys on it).
	if want := `query($aTerm:String,$zLimit:Int){search(limit:$zLimit,term:$aTerm){id}}`; query != want {
		t.Errorf("query = %q, want %q", query, want)
	}
	if outVars["aTerm"] != "jazz" || outVars["zLimit"] != 5 {
		t.Errorf("variables passed through wrong: %+v", outVars)
	}
}

func TestQueryBuilder_MutationKeepsOperationType(t *testing.T) {
	qb := executor.NewQueryBuilderV2(nil)

	step := &planner.StepV2{
		StepType:     planner.StepTypeQuery,
		SelectionSet: []ast.Selection{field("publishAlbum", field("id"))},
	}

	query, _, err := qb.Build(step, nil, nil, "mutation")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if want := `mutation{publishAlbum{id}}`; query != want {
		t.Errorf("query = %q, want %q", query, want)
	}
}

func TestQueryBuilder_EntityQueryWrapsRepresentations(t *testing.T) {
	qb := executor.NewQueryBuilderV2(nil)

	step := &planner.StepV2{
		StepType:   planner.StepTypeEntity,
		ParentType: "Album",
		SelectionSet: []ast.Selection{
			field("title"),
			&ast.InlineFragment{
				TypeCondition: &ast.NamedType{Name: &ast.Name{Value: "Album"}},
				SelectionSet:  []ast.Selection{field("year")},
			},
		},
	}

	representations := []map[string]interface{}{
		{"__typename": "Album", "id": "a1"},
	}

	query, outVars, err := qb.Build(step, representations, map[string]interface{}{}, "query")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	want := `query($representations:[_Any!]!){_entities(representations:$representations){... on Album{title ... on Album{year}}}}`
	if query != want {
		t.Errorf("entity query = %q, want %q", query, want)
	}

	reps, ok := outVars["representations"].([]map[string]interface{})
	if !ok || len(reps) != 1 || reps[0]["id"] != "a1" {
		t.Errorf("representations variable wrong: %+v", outVars)
	}
}

func TestQueryBuilder_EntityQueryRequiresRepresentations(t *testing.T) {
	qb := executor.NewQueryBuilderV2(nil)

	step := &planner.StepV2{
		StepType:     planner.StepTypeEntity,
		ParentType:   "Album",
		SelectionSet: []ast.Selection{field("title")},
	}

	if _, _, err := qb.Build(step, nil, nil, "query"); err == nil {
		t.Fatal("entity query without representations must error")
	}
}
