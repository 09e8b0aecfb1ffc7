package normalize

import (
	"fmt"

	"github.com/n9te9/graphql-parser/ast"
)

// collectFragmentDefinitions indexes a document's named fragment definitions
// by name, the same lookup planner.PlannerV2 builds for its own (unrelated)
// fragment expansion at plan time.
func collectFragmentDefinitions(doc *ast.Document) map[string]*ast.FragmentDefinition {
	fragments := make(map[string]*ast.FragmentDefinition)
	for _, def := range doc.Definitions {
		if fragDef, ok := def.(*ast.FragmentDefinition); ok {
			fragments[fragDef.Name.String()] = fragDef
		}
	}
	return fragments
}

// inlineFragments rewrites every FragmentSpread in selections into an
// InlineFragment carrying the spread fragment's type condition and body,
// recursively, rejecting self-referential fragment chains. stack tracks the
// fragment names currently being expanded on the active recursion path.
func inlineFragments(selections []ast.Selection, fragmentDefs map[string]*ast.FragmentDefinition, stack map[string]bool) ([]ast.Selection, error) {
	result := make([]ast.Selection, 0, len(selections))

	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			newField := &ast.Field{
				Alias:      s.Alias,
				Name:       s.Name,
				Arguments:  s.Arguments,
				Directives: s.Directives,
			}
			if len(s.SelectionSet) > 0 {
				child, err := inlineFragments(s.SelectionSet, fragmentDefs, stack)
				if err != nil {
					return nil, err
				}
				newField.SelectionSet = child
			}
			result = append(result, newField)

		case *ast.InlineFragment:
			child, err := inlineFragments(s.SelectionSet, fragmentDefs, stack)
			if err != nil {
				return nil, err
			}
			result = append(result, &ast.InlineFragment{
				TypeCondition: s.TypeCondition,
				SelectionSet:  child,
			})

		case *ast.FragmentSpread:
			name := s.Name.String()
			if stack[name] {
				return nil, &Error{Code: CodeFragmentCycle, Message: fmt.Sprintf("fragment %q is part of a cycle", name)}
			}
			fragDef, ok := fragmentDefs[name]
			if !ok {
				return nil, &Error{Code: CodeUnresolvedFragment, Message: fmt.Sprintf("unresolved fragment spread %q", name)}
			}

			stack[name] = true
			child, err := inlineFragments(fragDef.SelectionSet, fragmentDefs, stack)
			delete(stack, name)
			if err != nil {
				return nil, err
			}

			result = append(result, &ast.InlineFragment{
				TypeCondition: fragDef.TypeCondition,
				SelectionSet:  child,
			})

		default:
			result = append(result, sel)
		}
	}

	return result, nil
}
