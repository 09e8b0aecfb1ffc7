package planner

import (
	"fmt"

	"github.com/n9te9/fedgateway/federation/graph"
	"github.com/n9te9/graphql-parser/ast"
)

// PlanOptimized generates an execution plan whose entity steps honor @provides.
//
// The algorithm:
//  1. Extract all fields required by the query.
//  2. Fast Path: if all root fields belong to a single subgraph, delegate to Plan().
//  3. Dijkstra Path: route the operation with the same walker/combination pass
//     Plan uses, and run Dijkstra from the entry-point nodes (each root field's
//     return-type node in its owning subgraphs). The Dijkstra result is handed
//     to the step builders; no step decision reads it.
//
// For the Dijkstra path the plan is rebuilt by:
//   - Grouping root fields by the subgraph that owns them (same as Plan()).
//   - For entity fields, checking whether the requested child fields are covered by
//     the boundary field's @provides ShortCut map, in which case no extra entity
//     resolution step is needed.
func (p *PlannerV2) PlanOptimized(doc *ast.Document, variables map[string]any) (*PlanV2, error) {
	op := p.getOperation(doc)
	if op == nil {
		return nil, fmt.Errorf("no operation found")
	}
	if len(op.SelectionSet) == 0 {
		return nil, fmt.Errorf("empty selection")
	}

	fragmentDefs := p.collectFragmentDefinitions(doc)

	rootTypeName, err := p.getRootTypeName(op)
	if err != nil {
		return nil, err
	}

	expandedSelections := p.expandFragmentsInSelections(op.SelectionSet, fragmentDefs, rootTypeName)

	// -----------------------------------------------------------------------
	// Fast Path check: can all root fields be served by a single subgraph?
	// -----------------------------------------------------------------------
	if p.isSingleSubGraphQuery(expandedSelections, rootTypeName) {
		return p.Plan(doc, variables)
	}

	// Route the operation the same way Plan does: the walker/combination
	// passes fix each position's subgraph before any step is built.
	p = p.withRoutes(rootTypeName, expandedSelections)

	// -----------------------------------------------------------------------
	// Dijkstra Path: build entry points and run graph traversal.
	// -----------------------------------------------------------------------
	entryPoints := p.collectEntryPoints(expandedSelections, rootTypeName)
	dijkstraResult := p.SuperGraph.Graph.Dijkstra(entryPoints)

	// Build the plan with @provides-aware subgraph assignment.
	plan := &PlanV2{
		Steps:            make([]*StepV2, 0),
		RootStepIndexes:  make([]int, 0),
		OriginalDocument: doc,
		OperationType:    string(op.Operation),
	}

	nextStepID := 0

	// Group root fields by their owning subgraph, preserving document order
	// (identical to Plan()).
	groups, err := p.groupRootFields(expandedSelections, rootTypeName, op.Operation == ast.Mutation)
	if err != nil {
		return nil, err
	}

	// Create root steps.
	for _, group := range groups {
		filteredSelections := p.buildStepSelections(group.selections, group.subGraph, rootTypeName, fragmentDefs)
		step := &StepV2{
			ID:           nextStepID,
			SubGraph:     group.subGraph,
			StepType:     StepTypeQuery,
			ParentType:   rootTypeName,
			SelectionSet: filteredSelections,
			Path:         []string{rootTypeName},
			DependsOn:    []int{},
		}
		plan.Steps = append(plan.Steps, step)
		plan.RootStepIndexes = append(plan.RootStepIndexes, nextStepID)
		nextStepID++
	}

	// Build entity steps with @provides optimization.
	for i, rootStepIdx := range plan.RootStepIndexes {
		rootStep := plan.Steps[rootStepIdx]
		p.findAndBuildEntityStepsOptimized(
			groups[i].selections,
			rootStep,
			plan,
			&nextStepID,
			rootStep.ParentType,
			rootStep.Path,
			fragmentDefs,
			dijkstraResult,
		)
	}

	p.injectRequiresDependencies(plan)

	return plan, nil
}

// isSingleSubGraphQuery returns true if all root-level fields are owned by the same subgraph.
func (p *PlannerV2) isSingleSubGraphQuery(selections []ast.Selection, rootTypeName string) bool {
	var singleSG *graph.SubGraphV2
	for _, sel := range selections {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		name := field.Name.String()
		if name == "__typename" || name == "__schema" || name == "__type" {
			continue
		}
		owners := p.SuperGraph.GetSubGraphsForField(rootTypeName, name)
		if len(owners) == 0 {
			return false
		}
		if singleSG == nil {
			singleSG = owners[0]
		} else if singleSG.Name != owners[0].Name {
			return false
		}
	}
	return singleSG != nil
}

// collectEntryPoints returns the Dijkstra entry node IDs for the given root selections.
// Each root field's owning subgraph type node is an entry point at cost 0.
func (p *PlannerV2) collectEntryPoints(selections []ast.Selection, rootTypeName string) []string {
	seen := make(map[string]bool)
	var entries []string
	for _, sel := range selections {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		name := field.Name.String()
		if name == "__typename" || name == "__schema" || name == "__type" {
			continue
		}
		owners := p.SuperGraph.GetSubGraphsForField(rootTypeName, name)
		for _, sg := range owners {
			// Entry at the field type node level
			fieldTypeName, err := p.getFieldTypeName(rootTypeName, name)
			if err != nil {
				continue
			}
			typeKey := graph.NodeKey(sg.Name, fieldTypeName, "")
			if !seen[typeKey] {
				seen[typeKey] = true
				entries = append(entries, typeKey)
			}
		}
	}
	return entries
}

// findAndBuildEntityStepsOptimized is an @provides-aware variant of findAndBuildEntitySteps.
// When a field is reachable via a cost-0 ShortCut from the current subgraph, no additional
// entity resolution step is generated for it.
func (p *PlannerV2) findAndBuildEntityStepsOptimized(
	selections []ast.Selection,
	parentStep *StepV2,
	plan *PlanV2,
	nextStepID *int,
	parentType string,
	currentPath []string,
	fragmentDefs map[string]*ast.FragmentDefinition,
	dijkstraResult *graph.DijkstraResult,
) {
	entityStepsByKey := make(map[string]*StepV2)

	for _, selection := range selections {
		if frag, ok := selection.(*ast.InlineFragment); ok {
			cond := parentType
			if frag.TypeCondition != nil {
				cond = frag.TypeCondition.Name.String()
			}
			p.findAndBuildEntityStepsOptimized(frag.SelectionSet, parentStep, plan, nextStepID, cond, currentPath, fragmentDefs, dijkstraResult)
			continue
		}

		field, ok := selection.(*ast.Field)
		if !ok {
			continue
		}

		fieldName := field.Name.String()
		if fieldName == "__typename" {
			continue
		}

		fieldType, err := p.getFieldTypeName(parentType, fieldName)
		if err != nil {
			continue
		}

		fieldIdentifier := fieldName
		if field.Alias != nil && field.Alias.String() != "" {
			fieldIdentifier = field.Alias.String()
		}
		fieldPath := append(append([]string{}, currentPath...), fieldIdentifier)

		subGraphs := p.SuperGraph.GetSubGraphsForField(parentType, fieldName)
		if len(subGraphs) == 0 {
			continue
		}
		fieldSubGraph := p.resolveFieldSubGraph(parentType, fieldName, subGraphs)
		entityOwnerSubGraph := p.SuperGraph.GetEntityOwnerSubGraph(fieldType)

		isBoundaryField := false
		targetSubGraph := fieldSubGraph

		if fieldSubGraph.Name != parentStep.SubGraph.Name {
			isBoundaryField = true
		} else if entityOwnerSubGraph != nil && entityOwnerSubGraph.Name != parentStep.SubGraph.Name {
			isBoundaryField = true
			targetSubGraph = entityOwnerSubGraph
		}

		if !isBoundaryField {
			if len(field.SelectionSet) > 0 {
				p.findAndBuildEntityStepsOptimized(
					field.SelectionSet, parentStep, plan, nextStepID,
					fieldType, fieldPath, fragmentDefs, dijkstraResult,
				)
			}
			continue
		}

		// -----------------------------------------------------------------------
		// @provides optimization: if every child field in field.SelectionSet is
		// reachable at cost 0 from the parent step's current subgraph node (via
		// ShortCut), we can skip generating an entity resolution step.
		// -----------------------------------------------------------------------
		if p.canResolveViaProvides(field.SelectionSet, parentStep.SubGraph, parentType, fieldName, fieldType, dijkstraResult) {
			// Inject the provided fields into the parent step's selection at
			// the boundary field's position, so they are fetched in the same
			// request.
			relative := relativeSelectionPath(parentStep, currentPath)
			parentStep.SelectionSet = p.injectProvidedFields(parentStep.SelectionSet, relative, fieldName, field.SelectionSet)
			continue
		}

		// Standard entity step creation (identical to findAndBuildEntitySteps).
		var entityTypeToResolve string
		_, parentIsExtendedInTarget := targetSubGraph.GetEntity(parentType)
		if parentIsExtendedInTarget {
			entityTypeToResolve = parentType
		} else {
			entityTypeToResolve = fieldType
		}

		isNestedEntity := (entityOwnerSubGraph != nil && entityOwnerSubGraph.Name == targetSubGraph.Name)
		boundaryFieldPath := append(append([]string{}, currentPath...), fieldName)
		stepKey := fmt.Sprintf("%s:%s:%d:%s", targetSubGraph.Name, entityTypeToResolve, parentStep.ID, joinPath(boundaryFieldPath))

		existingStep, exists := entityStepsByKey[stepKey]
		if exists {
			existingStep.SelectionSet = p.mergeSelections(existingStep.SelectionSet, []ast.Selection{selection}, targetSubGraph, entityTypeToResolve, fragmentDefs)
		} else {
			var entitySelections []ast.Selection
			var insertionPath []string

			if entityTypeToResolve == parentType {
				entitySelections = p.buildEntityStepSelections([]ast.Selection{selection}, targetSubGraph, parentType, parentStep, entityTypeToResolve, fragmentDefs)
				insertionPath = currentPath
			} else {
				entitySelections = p.buildEntityStepSelections(field.SelectionSet, targetSubGraph, entityTypeToResolve, parentStep, entityTypeToResolve, fragmentDefs)
				insertionPath = append(currentPath, fieldName)
			}

			newStep := &StepV2{
				ID:            *nextStepID,
				SubGraph:      targetSubGraph,
				StepType:      StepTypeEntity,
				ParentType:    entityTypeToResolve,
				SelectionSet:  entitySelections,
				Path:          fieldPath,
				DependsOn:     []int{parentStep.ID},
				InsertionPath: insertionPath,
			}
			plan.Steps = append(plan.Steps, newStep)
			entityStepsByKey[stepKey] = newStep
			*nextStepID++

			var relativePathForParent []string
			if len(parentStep.InsertionPath) == 0 {
				if len(currentPath) > 0 && currentPath[0] == "Query" {
					relativePathForParent = currentPath[1:]
				} else {
					relativePathForParent = currentPath
				}
			} else {
				relativePathForParent = currentPath[len(parentStep.InsertionPath):]
			}
			if isNestedEntity && entityTypeToResolve != parentType {
				relativePathForParent = append(relativePathForParent, fieldName)
			}

			p.injectKeyFieldsIntoParentStep(parentStep, entityTypeToResolve, targetSubGraph, relativePathForParent)

			if len(field.SelectionSet) > 0 {
				nestedParentType := entityTypeToResolve
				if entityTypeToResolve == parentType {
					nestedParentType = fieldType
				}
				p.findAndBuildEntityStepsOptimized(
					field.SelectionSet, newStep, plan, nextStepID,
					nestedParentType, fieldPath, fragmentDefs, dijkstraResult,
				)
			}
		}
	}
}

// canResolveViaProvides returns true when ALL child selections of a boundary field
// are reachable at cost 0 via ShortCut edges from the parent subgraph.
//
// The check is:
//  1. Compute the field node key for the parent subgraph: "{sg}:{parentType}.{fieldName}"
//  2. Look up that node in the graph; check its ShortCut map.
//  3. For each child field, verify some ShortCut entry targets a {fieldType}.{childField}
//     node, in whichever subgraph owns that field (the subgraph is not compared).
func (p *PlannerV2) canResolveViaProvides(
	childSelections []ast.Selection,
	parentSG *graph.SubGraphV2,
	parentType, fieldName, fieldType string,
	dijkstraResult *graph.DijkstraResult,
) bool {
	if len(childSelections) == 0 {
		return false
	}

	srcNodeKey := graph.NodeKey(parentSG.Name, parentType, fieldName)
	srcNode, ok := p.SuperGraph.Graph.Nodes[srcNodeKey]
	if !ok || len(srcNode.ShortCut) == 0 {
		return false
	}

	for _, sel := range childSelections {
		childField, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		childName := childField.Name.String()
		if childName == "__typename" {
			continue
		}
		// Check if this child field is in any ShortCut from srcNode.
		// ShortCut keys are real node IDs: "{sgName}:{fieldType}.{childField}"
		found := false
		for scKey := range srcNode.ShortCut {
			node, exists := p.SuperGraph.Graph.Nodes[scKey]
			if exists && node.TypeName == fieldType && node.FieldName == childName {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// injectProvidedFields splices the @provides-covered child selections into
// the parent step's selection tree at relativePath/fieldName. The children
// bypass ownership filtering on purpose: the @provides declaration is what
// makes them resolvable inside this fetch.
func (p *PlannerV2) injectProvidedFields(selections []ast.Selection, relativePath []string, fieldName string, childSelections []ast.Selection) []ast.Selection {
	if len(relativePath) > 0 {
		for _, sel := range selections {
			f, ok := sel.(*ast.Field)
			if !ok || responseKeyName(f) != relativePath[0] {
				continue
			}
			f.SelectionSet = p.injectProvidedFields(f.SelectionSet, relativePath[1:], fieldName, childSelections)
			return selections
		}
		return selections
	}

	copied := copySelectionTree(childSelections)
	for _, sel := range selections {
		if f, ok := sel.(*ast.Field); ok && f.Name.String() == fieldName {
			f.SelectionSet = p.mergeSelectionsByName(f.SelectionSet, copied)
			return selections
		}
	}
	return append(selections, &ast.Field{
		Name:         fieldNameToken(fieldName),
		SelectionSet: copied,
	})
}

// relativeSelectionPath maps an absolute traversal path onto a step's own
// selection tree: root steps drop the synthetic root-type segment, entity
// steps drop their insertion-path prefix.
func relativeSelectionPath(step *StepV2, currentPath []string) []string {
	if len(step.InsertionPath) == 0 {
		if len(currentPath) > 0 && (currentPath[0] == "Query" || currentPath[0] == "Mutation" || currentPath[0] == "Subscription") {
			return currentPath[1:]
		}
		return currentPath
	}
	if len(currentPath) >= len(step.InsertionPath) {
		return currentPath[len(step.InsertionPath):]
	}
	return nil
}

// copySelectionTree deep-copies fields and inline fragments so injected
// selections never alias the client's document.
func copySelectionTree(selections []ast.Selection) []ast.Selection {
	out := make([]ast.Selection, 0, len(selections))
	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			out = append(out, &ast.Field{
				Alias:        s.Alias,
				Name:         s.Name,
				Arguments:    s.Arguments,
				Directives:   s.Directives,
				SelectionSet: copySelectionTree(s.SelectionSet),
			})
		case *ast.InlineFragment:
			out = append(out, &ast.InlineFragment{
				TypeCondition: s.TypeCondition,
				SelectionSet:  copySelectionTree(s.SelectionSet),
			})
		}
	}
	return out
}

// mergeSelectionsByName merges new selections into existing ones, deduplicating by field name.
func (p *PlannerV2) mergeSelectionsByName(existing, additions []ast.Selection) []ast.Selection {
	names := make(map[string]bool)
	for _, sel := range existing {
		if f, ok := sel.(*ast.Field); ok {
			names[f.Name.String()] = true
		}
	}
	result := append([]ast.Selection{}, existing...)
	for _, sel := range additions {
		if f, ok := sel.(*ast.Field); ok {
			if !names[f.Name.String()] {
				result = append(result, sel)
				names[f.Name.String()] = true
			}
		}
	}
	return result
}

// joinPath joins path elements with ".".
func joinPath(path []string) string {
	result := ""
	for i, p := range path {
		if i > 0 {
			result += "."
		}
		result += p
	}
	return result
}

// fieldNameToken creates an *ast.Name from a plain string, used for synthetic field nodes.
func fieldNameToken(name string) *ast.Name {
	return &ast.Name{Value: name}
}
