package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/n9te9/fedgateway/federation/cache"
	"github.com/n9te9/fedgateway/federation/graph"
	"github.com/n9te9/fedgateway/federation/planner"
	"github.com/n9te9/graphql-parser/ast"
	"golang.org/x/sync/errgroup"
)

// GraphQLError represents a GraphQL error with path information.
type GraphQLError struct {
	Message    string                 `json:"message"`
	Path       []interface{}          `json:"path,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// maxConcurrentCallsPerEndpoint caps in-flight HTTP calls per subgraph
// endpoint across all requests served by one executor.
const maxConcurrentCallsPerEndpoint = 64

// ExecutorV2 executes a query plan by orchestrating requests to subgraphs.
type ExecutorV2 struct {
	httpClient   *http.Client
	queryBuilder *QueryBuilderV2
	superGraph   *graph.SuperGraphV2
	endpoints    sync.Map // host → chan struct{} semaphore
}

// NewExecutorV2 creates a new ExecutorV2 instance.
func NewExecutorV2(httpClient *http.Client, superGraph *graph.SuperGraphV2) *ExecutorV2 {
	return &ExecutorV2{
		httpClient:   httpClient,
		queryBuilder: NewQueryBuilderV2(superGraph),
		superGraph:   superGraph,
	}
}

// acquireEndpoint blocks until a connection slot for host is free or ctx is
// canceled. The returned release func must be called once the call finishes.
func (e *ExecutorV2) acquireEndpoint(ctx context.Context, host string) (func(), error) {
	v, _ := e.endpoints.LoadOrStore(host, make(chan struct{}, maxConcurrentCallsPerEndpoint))
	sem := v.(chan struct{})
	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ExecutionContext holds the per-request execution state: the shared response
// data value every step merges into, the accumulated error list, the set of
// completed steps, and the in-flight call group deduplicating identical
// subgraph requests.
type ExecutionContext struct {
	ctx      context.Context
	plan     *planner.PlanV2
	data     map[string]interface{}
	errors   []GraphQLError
	done     map[int]bool
	inflight *inflightGroup
	mu       sync.Mutex
}

// Execute runs a query plan and returns the merged response. Steps with no
// pending dependencies run concurrently; each completed wave unlocks the
// steps depending on it. Mutations are the exception: their root steps run
// strictly in document order. Subgraph failures are collected into the
// response's errors array and never abort sibling steps.
func (e *ExecutorV2) Execute(
	ctx context.Context,
	plan *planner.PlanV2,
	variables map[string]interface{},
) (map[string]interface{}, error) {
	if err := e.validateDAG(plan); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}

	execCtx := &ExecutionContext{
		ctx:      ctx,
		plan:     plan,
		data:     make(map[string]interface{}),
		done:     make(map[int]bool),
		inflight: newInflightGroup(),
	}

	if plan.OperationType == string(ast.Mutation) {
		e.executeSequential(execCtx, plan.RootStepIndexes, variables)
	} else {
		e.executeWave(execCtx, plan.RootStepIndexes, variables)
	}

	response := map[string]interface{}{"data": execCtx.data}

	execCtx.mu.Lock()
	if len(execCtx.errors) > 0 {
		response["errors"] = execCtx.errors
	}
	execCtx.mu.Unlock()

	return response, nil
}

// validateDAG rejects plans whose dependency edges contain a cycle, using
// Kahn's topological sort.
func (e *ExecutorV2) validateDAG(plan *planner.PlanV2) error {
	inDegree := make(map[int]int)
	for _, step := range plan.Steps {
		if _, exists := inDegree[step.ID]; !exists {
			inDegree[step.ID] = 0
		}
		for range step.DependsOn {
			inDegree[step.ID]++
		}
	}

	queue := make([]int, 0)
	for stepID, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, stepID)
		}
	}

	visited := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		visited++

		for _, step := range plan.Steps {
			for _, dep := range step.DependsOn {
				if dep == current {
					inDegree[step.ID]--
					if inDegree[step.ID] == 0 {
						queue = append(queue, step.ID)
					}
				}
			}
		}
	}

	if visited != len(plan.Steps) {
		return fmt.Errorf("plan contains circular dependencies")
	}

	return nil
}

// executeWave runs stepIDs concurrently, then recurses into whichever steps
// their completion unblocked.
func (e *ExecutorV2) executeWave(execCtx *ExecutionContext, stepIDs []int, variables map[string]interface{}) {
	if len(stepIDs) == 0 {
		return
	}

	eg, ctx := errgroup.WithContext(execCtx.ctx)
	for _, stepID := range stepIDs {
		step := execCtx.plan.Steps[stepID]
		eg.Go(func() error {
			e.processStep(ctx, execCtx, step, variables)
			return nil
		})
	}
	eg.Wait()

	if next := e.findReadySteps(execCtx); len(next) > 0 {
		e.executeWave(execCtx, next, variables)
	}
}

// executeSequential runs root steps one at a time in plan order, draining
// each step's dependents before starting the next root. Mutation root fields
// observe their predecessors' writes this way.
func (e *ExecutorV2) executeSequential(execCtx *ExecutionContext, stepIDs []int, variables map[string]interface{}) {
	for _, stepID := range stepIDs {
		step := execCtx.plan.Steps[stepID]
		e.processStep(execCtx.ctx, execCtx, step, variables)

		if next := e.findReadySteps(execCtx); len(next) > 0 {
			e.executeWave(execCtx, next, variables)
		}
	}
}

// findReadySteps returns the not-yet-run steps whose dependencies have all completed.
func (e *ExecutorV2) findReadySteps(execCtx *ExecutionContext) []int {
	ready := make([]int, 0)

	execCtx.mu.Lock()
	defer execCtx.mu.Unlock()

	for _, step := range execCtx.plan.Steps {
		if execCtx.done[step.ID] || len(step.DependsOn) == 0 {
			continue
		}

		allDepsReady := true
		for _, depID := range step.DependsOn {
			if !execCtx.done[depID] {
				allDepsReady = false
				break
			}
		}

		if allDepsReady {
			ready = append(ready, step.ID)
		}
	}

	return ready
}

// markDone flags a step as completed so its dependents become schedulable.
func (e *ExecutorV2) markDone(execCtx *ExecutionContext, step *planner.StepV2) {
	execCtx.mu.Lock()
	execCtx.done[step.ID] = true
	execCtx.mu.Unlock()
}

// processStep runs one fetch step: a root fetch merges its data into the
// shared response, an entity fetch gathers representations from the response,
// batches them, and scatters the returned entities back.
func (e *ExecutorV2) processStep(
	ctx context.Context,
	execCtx *ExecutionContext,
	step *planner.StepV2,
	variables map[string]interface{},
) {
	defer e.markDone(execCtx, step)

	if step.SubGraph == nil {
		e.appendError(execCtx, GraphQLError{
			Message:    fmt.Sprintf("step %d has no subgraph to execute against", step.ID),
			Extensions: map[string]interface{}{"code": codeSubgraphRequestFailure},
		})
		return
	}

	if step.StepType == planner.StepTypeQuery {
		e.processRootStep(ctx, execCtx, step, variables)
		return
	}
	e.processEntityStep(ctx, execCtx, step, variables)
}

func (e *ExecutorV2) processRootStep(
	ctx context.Context,
	execCtx *ExecutionContext,
	step *planner.StepV2,
	variables map[string]interface{},
) {
	query, queryVars, err := e.queryBuilder.Build(step, nil, variables, execCtx.plan.OperationType)
	if err != nil {
		e.appendError(execCtx, GraphQLError{
			Message:    fmt.Sprintf("failed to build root query: %v", err),
			Path:       fetchPathOf(step),
			Extensions: map[string]interface{}{"code": codeSubgraphRequestFailure, "serviceName": step.SubGraph.Name},
		})
		return
	}

	result, err := e.sendRequest(ctx, execCtx, step.SubGraph.Host, query, queryVars)
	if err != nil {
		e.appendError(execCtx, transportError(step.SubGraph.Name, fetchPathOf(step), err))
		e.nullOutRootFields(execCtx, step)
		return
	}

	if rewritten := rewriteSubgraphErrors(result["errors"], fetchPathOf(step), nil, step.SubGraph.Name); len(rewritten) > 0 {
		e.appendErrors(execCtx, rewritten)
	}

	if data, ok := result["data"].(map[string]interface{}); ok {
		execCtx.mu.Lock()
		Merge(execCtx.data, data, nil)
		execCtx.mu.Unlock()
	}
}

func (e *ExecutorV2) processEntityStep(
	ctx context.Context,
	execCtx *ExecutionContext,
	step *planner.StepV2,
	variables map[string]interface{},
) {
	batch := e.collectBatch(execCtx, step)
	if batch.Len() == 0 {
		return
	}

	query, queryVars, err := e.queryBuilder.Build(step, batch.Representations(), variables, "query")
	if err != nil {
		e.appendError(execCtx, GraphQLError{
			Message:    fmt.Sprintf("failed to build entity query: %v", err),
			Path:       fetchPathOf(step),
			Extensions: map[string]interface{}{"code": codeSubgraphRequestFailure, "serviceName": step.SubGraph.Name},
		})
		return
	}

	result, err := e.sendRequest(ctx, execCtx, step.SubGraph.Host, query, queryVars)
	if err != nil {
		e.appendError(execCtx, transportError(step.SubGraph.Name, fetchPathOf(step), err))
		e.nullOutEntityFields(execCtx, step, batch)
		return
	}

	if rewritten := rewriteSubgraphErrors(result["errors"], fetchPathOf(step), batch, step.SubGraph.Name); len(rewritten) > 0 {
		e.appendErrors(execCtx, rewritten)
	}

	data, _ := result["data"].(map[string]interface{})
	entities, _ := data["_entities"].([]interface{})
	if entities == nil {
		e.nullOutEntityFields(execCtx, step, batch)
		return
	}

	execCtx.mu.Lock()
	batch.scatter(entities, func(dst, src map[string]interface{}) {
		Merge(dst, src, nil)
	})
	execCtx.mu.Unlock()
}

func (e *ExecutorV2) appendError(execCtx *ExecutionContext, err GraphQLError) {
	execCtx.mu.Lock()
	execCtx.errors = append(execCtx.errors, err)
	execCtx.mu.Unlock()
}

func (e *ExecutorV2) appendErrors(execCtx *ExecutionContext, errs []GraphQLError) {
	execCtx.mu.Lock()
	execCtx.errors = append(execCtx.errors, errs...)
	execCtx.mu.Unlock()
}

// fetchPathOf returns the gateway response path a step's output attaches at,
// with the synthetic root type segment dropped.
func fetchPathOf(step *planner.StepV2) []interface{} {
	segments := step.Path
	if step.StepType == planner.StepTypeEntity && len(step.InsertionPath) > 0 {
		segments = step.InsertionPath
	}

	path := make([]interface{}, 0, len(segments))
	for _, segment := range segments {
		if segment == "Query" || segment == "Mutation" || segment == "Subscription" {
			continue
		}
		path = append(path, segment)
	}
	return path
}

// nullOutRootFields writes null for every top-level field a failed root step
// would have produced, so the response shape stays aligned with the plan.
func (e *ExecutorV2) nullOutRootFields(execCtx *ExecutionContext, step *planner.StepV2) {
	execCtx.mu.Lock()
	defer execCtx.mu.Unlock()

	for _, sel := range step.SelectionSet {
		if field, ok := sel.(*ast.Field); ok {
			execCtx.data[responseKeyOf(field)] = nil
		}
	}
}

// nullOutEntityFields writes null for a failed entity step's fields at every
// position its batch covered.
func (e *ExecutorV2) nullOutEntityFields(execCtx *ExecutionContext, step *planner.StepV2, batch *representationBatch) {
	execCtx.mu.Lock()
	defer execCtx.mu.Unlock()

	for _, targets := range batch.targets {
		for _, tgt := range targets {
			setNullFieldsInEntity(tgt.entity, step.SelectionSet)
		}
	}
}

// setNullFieldsInEntity nulls the non-key fields an entity step was supposed
// to populate.
func setNullFieldsInEntity(entityMap map[string]interface{}, selectionSet []ast.Selection) {
	for _, sel := range selectionSet {
		if field, ok := sel.(*ast.Field); ok {
			key := responseKeyOf(field)
			if key == "__typename" {
				continue
			}
			if _, present := entityMap[key]; present {
				continue
			}
			entityMap[key] = nil
		}
	}
}

func responseKeyOf(field *ast.Field) string {
	if field.Alias != nil && field.Alias.String() != "" {
		return field.Alias.String()
	}
	return field.Name.String()
}

// collectBatch walks the shared response data down the step's insertion path,
// fanning out over every list it crosses, and gathers a deduplicated
// representation batch of the entities found there. The returned batch holds
// direct references into the response tree so results can be merged in place.
func (e *ExecutorV2) collectBatch(execCtx *ExecutionContext, step *planner.StepV2) *representationBatch {
	batch := newRepresentationBatch()

	keyFields := e.entityKeyFields(step.ParentType)
	if keyFields == "" {
		return batch
	}

	mergePath := make([]string, 0, len(step.InsertionPath))
	for i, segment := range step.InsertionPath {
		if i == 0 && (segment == "Query" || segment == "Mutation" || segment == "Subscription") {
			continue
		}
		mergePath = append(mergePath, segment)
	}

	execCtx.mu.Lock()
	defer execCtx.mu.Unlock()

	e.gatherTargets(execCtx.data, mergePath, nil, step.ParentType, keyFields, batch)
	return batch
}

// gatherTargets recursively descends value along path, appending traversed
// field names and list indices to the gateway path, and adds a
// (representation, target) pair for each entity object at the path's end.
func (e *ExecutorV2) gatherTargets(
	value interface{},
	path []string,
	gatewayPath []interface{},
	typeName, keyFields string,
	batch *representationBatch,
) {
	switch v := value.(type) {
	case []interface{}:
		for i, elem := range v {
			elemPath := append(append([]interface{}{}, gatewayPath...), i)
			e.gatherTargets(elem, path, elemPath, typeName, keyFields, batch)
		}

	case map[string]interface{}:
		if len(path) == 0 {
			if rep := buildRepresentation(v, typeName, keyFields); rep != nil {
				batch.add(rep, entityTarget{entity: v, path: gatewayPath})
			}
			return
		}

		next, exists := v[path[0]]
		if !exists || next == nil {
			return
		}
		childPath := append(append([]interface{}{}, gatewayPath...), path[0])
		e.gatherTargets(next, path[1:], childPath, typeName, keyFields, batch)
	}
}

// entityKeyFields returns the @key field set of typeName as declared by its
// owning subgraph, or "" when the type is not a resolvable entity.
func (e *ExecutorV2) entityKeyFields(typeName string) string {
	owner := e.superGraph.GetEntityOwnerSubGraph(typeName)
	if owner == nil {
		return ""
	}
	entity, exists := owner.GetEntity(typeName)
	if !exists || len(entity.Keys) == 0 {
		return ""
	}
	return entity.Keys[0].FieldSet
}

// buildRepresentation builds the {__typename, <key fields>} object used to
// address an entity in an _entities call. keyFields may be a composite key
// ("number departureDate"); a missing key field disqualifies the position.
func buildRepresentation(entity map[string]interface{}, typeName string, keyFields string) map[string]interface{} {
	representation := map[string]interface{}{
		"__typename": typeName,
	}

	for _, fieldName := range strings.Fields(keyFields) {
		keyValue, exists := entity[fieldName]
		if !exists {
			return nil
		}
		representation[fieldName] = keyValue
	}

	return representation
}

// sendRequest sends a GraphQL request to a subgraph. Identical concurrent
// calls within the request share one HTTP round trip via the execution
// context's in-flight group; every caller decodes its own copy of the body.
func (e *ExecutorV2) sendRequest(
	ctx context.Context,
	execCtx *ExecutionContext,
	host string,
	query string,
	variables map[string]interface{},
) (map[string]interface{}, error) {
	reqBody := map[string]interface{}{
		"query": query,
	}
	if len(variables) > 0 {
		reqBody["variables"] = variables
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	key := cache.Hash(host, string(bodyBytes))
	respBody, err := execCtx.inflight.Do(ctx, key, func() ([]byte, error) {
		return e.roundTrip(ctx, host, bodyBytes)
	})
	if err != nil {
		return nil, err
	}

	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return result, nil
}

// roundTrip performs the actual HTTP POST to a subgraph, distinguishing
// transport-layer failures (connection errors, non-2xx statuses, unreadable
// bodies) from GraphQL-layer errors carried in a 2xx body.
func (e *ExecutorV2) roundTrip(ctx context.Context, host string, body []byte) ([]byte, error) {
	release, err := e.acquireEndpoint(ctx, host)
	if err != nil {
		return nil, err
	}
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, host, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if inbound := GetRequestHeaderFromContext(ctx); inbound != nil {
		hangOverHeaders(req.Header, inbound)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return respBody, nil
}
