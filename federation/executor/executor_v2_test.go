package executor_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/n9te9/fedgateway/federation/executor"
	"github.com/n9te9/fedgateway/federation/graph"
	"github.com/n9te9/fedgateway/federation/planner"
	"github.com/n9te9/graphql-parser/ast"
)

// createMockSubgraph builds a minimal subgraph for steps that never resolve
// entities.
func createMockSubgraph(name, host string) *graph.SubGraphV2 {
	sg, err := graph.NewSubGraphV2(name, []byte("type Query { _service: String }"), host)
	if err != nil {
		panic(err)
	}
	return sg
}

// createMockSubgraphWithEntity builds a subgraph declaring one keyed entity.
func createMockSubgraphWithEntity(name, host, entityType, keyField string) *graph.SubGraphV2 {
	schema := fmt.Sprintf(`
		type %s @key(fields: "%s") {
			%s: ID!
		}
	`, entityType, keyField, keyField)
	sg, err := graph.NewSubGraphV2(name, []byte(schema), host)
	if err != nil {
		panic(err)
	}
	return sg
}

// createMockSuperGraphV2 is the shared supergraph for entity-resolution
// tests: products owns the keyed Product entity, reviews extends it.
func createMockSuperGraphV2() *graph.SuperGraphV2 {
	return &graph.SuperGraphV2{
		SubGraphs: []*graph.SubGraphV2{
			createMockSubgraphWithEntity("products", "http://products", "Product", "id"),
			createMockSubgraph("reviews", "http://reviews"),
		},
		Schema: &ast.Document{},
	}
}

func jsonHandler(payload map[string]interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(payload)
	}
}

func rootStep(id int, sg *graph.SubGraphV2, fields ...ast.Selection) *planner.StepV2 {
	return &planner.StepV2{
		ID:           id,
		StepType:     planner.StepTypeQuery,
		SubGraph:     sg,
		SelectionSet: fields,
		Path:         []string{"Query"},
		DependsOn:    []int{},
	}
}

func field(name string, children ...ast.Selection) *ast.Field {
	return &ast.Field{Name: &ast.Name{Value: name}, SelectionSet: children}
}

func TestExecutorV2_MergesParallelRootSteps(t *testing.T) {
	catalog := httptest.NewServer(jsonHandler(map[string]interface{}{
		"data": map[string]interface{}{
			"album": map[string]interface{}{"id": "a1", "title": "Blue Train"},
		},
	}))
	defer catalog.Close()
	listeners := httptest.NewServer(jsonHandler(map[string]interface{}{
		"data": map[string]interface{}{
			"listener": map[string]interface{}{"id": "u7", "handle": "trane-fan"},
		},
	}))
	defer listeners.Close()

	plan := &planner.PlanV2{
		Steps: []*planner.StepV2{
			rootStep(0, createMockSubgraph("catalog", catalog.URL), field("album", field("id"), field("title"))),
			rootStep(1, createMockSubgraph("listeners", listeners.URL), field("listener", field("id"), field("handle"))),
		},
		RootStepIndexes: []int{0, 1},
	}

	exec := executor.NewExecutorV2(http.DefaultClient, nil)
	result, err := exec.Execute(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	want := map[string]interface{}{
		"album":    map[string]interface{}{"id": "a1", "title": "Blue Train"},
		"listener": map[string]interface{}{"id": "u7", "handle": "trane-fan"},
	}
	if !reflect.DeepEqual(result["data"], want) {
		t.Errorf("merged data = %+v, want %+v", result["data"], want)
	}
	if _, hasErrors := result["errors"]; hasErrors {
		t.Errorf("unexpected errors: %+v", result["errors"])
	}
}

func TestExecutorV2_EntityStepScattersIntoParent(t *testing.T) {
	products := httptest.NewServer(jsonHandler(map[string]interface{}{
		"data": map[string]interface{}{
			"product": map[string]interface{}{"__typename": "Product", "id": "p1", "name": "Amp"},
		},
	}))
	defer products.Close()
	reviews := httptest.NewServer(jsonHandler(map[string]interface{}{
		"data": map[string]interface{}{
			"_entities": []interface{}{
				map[string]interface{}{
					"reviews": []interface{}{
						map[string]interface{}{"body": "loud", "rating": float64(4)},
					},
				},
			},
		},
	}))
	defer reviews.Close()

	plan := &planner.PlanV2{
		Steps: []*planner.StepV2{
			rootStep(0, createMockSubgraph("products", products.URL),
				field("product", field("__typename"), field("id"), field("name"))),
			{
				ID:            1,
				StepType:      planner.StepTypeEntity,
				SubGraph:      createMockSubgraph("reviews", reviews.URL),
				ParentType:    "Product",
				SelectionSet:  []ast.Selection{field("reviews", field("body"), field("rating"))},
				DependsOn:     []int{0},
				Path:          []string{"Query", "product"},
				InsertionPath: []string{"Query", "product"},
			},
		},
		RootStepIndexes: []int{0},
	}

	exec := executor.NewExecutorV2(http.DefaultClient, createMockSuperGraphV2())
	result, err := exec.Execute(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	product := result["data"].(map[string]interface{})["product"].(map[string]interface{})
	reviewsList, ok := product["reviews"].([]interface{})
	if !ok || len(reviewsList) != 1 {
		t.Fatalf("entity result did not merge into the parent: %+v", product)
	}
	if reviewsList[0].(map[string]interface{})["body"] != "loud" {
		t.Errorf("scattered entity data wrong: %+v", reviewsList[0])
	}
}

func TestExecutorV2_TransportFailureIsCollectedNotFatal(t *testing.T) {
	healthy := httptest.NewServer(jsonHandler(map[string]interface{}{
		"data": map[string]interface{}{"album": map[string]interface{}{"id": "a1"}},
	}))
	defer healthy.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	plan := &planner.PlanV2{
		Steps: []*planner.StepV2{
			rootStep(0, createMockSubgraph("catalog", healthy.URL), field("album", field("id"))),
			rootStep(1, createMockSubgraph("listeners", broken.URL), field("listener", field("id"))),
		},
		RootStepIndexes: []int{0, 1},
	}

	exec := executor.NewExecutorV2(http.DefaultClient, nil)
	result, err := exec.Execute(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("a failing subgraph must not abort the request: %v", err)
	}

	data := result["data"].(map[string]interface{})
	if data["album"] == nil {
		t.Error("healthy sibling's data must survive")
	}
	if v, present := data["listener"]; !present || v != nil {
		t.Errorf("failed root field must be nulled, got %v (present=%v)", v, present)
	}

	errs, ok := result["errors"].([]executor.GraphQLError)
	if !ok || len(errs) != 1 {
		t.Fatalf("expected 1 collected error, got %+v", result["errors"])
	}
	if errs[0].Extensions["code"] != "SUBGRAPH_REQUEST_FAILURE" {
		t.Errorf("error code = %v, want SUBGRAPH_REQUEST_FAILURE", errs[0].Extensions["code"])
	}
	if errs[0].Extensions["serviceName"] != "listeners" {
		t.Errorf("serviceName = %v, want listeners", errs[0].Extensions["serviceName"])
	}
}

func TestExecutorV2_SubgraphGraphQLErrorsAreRewritten(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(map[string]interface{}{
		"data": map[string]interface{}{"album": nil},
		"errors": []interface{}{
			map[string]interface{}{"message": "album not found", "path": []interface{}{"album"}},
		},
	}))
	defer srv.Close()

	plan := &planner.PlanV2{
		Steps:           []*planner.StepV2{rootStep(0, createMockSubgraph("catalog", srv.URL), field("album", field("id")))},
		RootStepIndexes: []int{0},
	}

	exec := executor.NewExecutorV2(http.DefaultClient, nil)
	result, err := exec.Execute(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	errs, ok := result["errors"].([]executor.GraphQLError)
	if !ok || len(errs) != 1 {
		t.Fatalf("expected 1 error, got %+v", result["errors"])
	}
	if errs[0].Extensions["code"] != "DOWNSTREAM_SERVICE_ERROR" {
		t.Errorf("code = %v, want DOWNSTREAM_SERVICE_ERROR", errs[0].Extensions["code"])
	}
	if errs[0].Extensions["serviceName"] != "catalog" {
		t.Errorf("serviceName = %v", errs[0].Extensions["serviceName"])
	}
	if want := []interface{}{"album"}; !reflect.DeepEqual(errs[0].Path, want) {
		t.Errorf("path = %v, want %v", errs[0].Path, want)
	}
}

func TestExecutorV2_RejectsCyclicPlan(t *testing.T) {
	plan := &planner.PlanV2{
		Steps: []*planner.StepV2{
			{ID: 0, DependsOn: []int{2}},
			{ID: 1, DependsOn: []int{0}},
			{ID: 2, DependsOn: []int{1}},
		},
		RootStepIndexes: []int{0},
	}

	exec := executor.NewExecutorV2(http.DefaultClient, nil)
	if _, err := exec.Execute(context.Background(), plan, nil); err == nil {
		t.Fatal("cyclic plan must be rejected")
	}
}
