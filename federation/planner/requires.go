package planner

import (
	"github.com/n9te9/graphql-parser/ast"
)

// injectRequiresDependencies walks entity steps looking for fields declared with
// @requires in their owning subgraph, and makes sure the fields they require are
// fetched by an upstream step before the requiring step runs. PlanOptimized calls
// this once after the entity-step tree is built.
func (p *PlannerV2) injectRequiresDependencies(plan *PlanV2) {
	for _, step := range plan.Steps {
		if step.StepType != StepTypeEntity {
			continue
		}

		entity, ok := step.SubGraph.GetEntity(step.ParentType)
		if !ok {
			continue
		}

		for _, sel := range step.SelectionSet {
			field, ok := sel.(*ast.Field)
			if !ok {
				continue
			}

			fieldDef, ok := entity.Fields[field.Name.String()]
			if !ok || len(fieldDef.Requires) == 0 {
				continue
			}

			for _, requiredField := range fieldDef.Requires {
				p.ensureRequiredFieldAvailable(plan, step, requiredField)
			}
		}
	}
}

// ensureRequiredFieldAvailable makes requiredField (a field of step.ParentType)
// available before step runs. It first checks whether a step already depended on
// by step resolves requiredField; if so nothing needs to change. Otherwise it walks
// the existing dependency chain for a subgraph that owns requiredField and injects
// it there, and failing that adds a new upstream entity step fetching just the key
// fields plus requiredField, ordering step behind it.
func (p *PlannerV2) ensureRequiredFieldAvailable(plan *PlanV2, step *StepV2, requiredField string) {
	for _, depID := range step.DependsOn {
		if depID < 0 || depID >= len(plan.Steps) {
			continue
		}
		depStep := plan.Steps[depID]
		if hasSelectionNamed(depStep.SelectionSet, requiredField) {
			return
		}

		owners := p.SuperGraph.GetSubGraphsForField(step.ParentType, requiredField)
		for _, owner := range owners {
			if owner.Name == depStep.SubGraph.Name {
				depStep.SelectionSet = append(depStep.SelectionSet, &ast.Field{
					Name: &ast.Name{Value: requiredField},
				})
				return
			}
		}
	}

	owners := p.SuperGraph.GetSubGraphsForField(step.ParentType, requiredField)
	if len(owners) == 0 {
		return
	}
	owner := owners[0]

	keyFields := p.getKeyFields(step.ParentType, owner)
	newStepID := len(plan.Steps)
	reqStep := &StepV2{
		ID:            newStepID,
		SubGraph:      owner,
		StepType:      StepTypeEntity,
		ParentType:    step.ParentType,
		SelectionSet:  append(fieldsFromNames(keyFields), &ast.Field{Name: &ast.Name{Value: requiredField}}),
		Path:          step.Path,
		DependsOn:     append([]int{}, step.DependsOn...),
		InsertionPath: step.InsertionPath,
	}
	plan.Steps = append(plan.Steps, reqStep)
	step.DependsOn = append(step.DependsOn, newStepID)
}

// hasSelectionNamed reports whether selections already contains a field named name.
func hasSelectionNamed(selections []ast.Selection, name string) bool {
	for _, sel := range selections {
		if field, ok := sel.(*ast.Field); ok && field.Name.String() == name {
			return true
		}
	}
	return false
}

// fieldsFromNames builds a flat selection set of bare field selections, one per name.
func fieldsFromNames(names []string) []ast.Selection {
	result := make([]ast.Selection, 0, len(names))
	for _, n := range names {
		result = append(result, &ast.Field{Name: &ast.Name{Value: n}})
	}
	return result
}
