package normalize

import (
	"fmt"
	"sort"
	"strings"

	"github.com/n9te9/fedgateway/federation/graph"
	"github.com/n9te9/graphql-parser/ast"
)

// canonicalizeSelections implements normalization steps 3-5 against selections
// already spread-inlined by inlineFragments: it splices same-type inline
// fragments in place, merges inline fragments sharing a type condition,
// recurses into field sub-selections with their resolved parent type, and
// inserts __typename at every selection site rooted on an abstract type.
func canonicalizeSelections(selections []ast.Selection, parentType string, sg *graph.SuperGraphV2) ([]ast.Selection, error) {
	result := make([]ast.Selection, 0, len(selections))
	hasTypename := false

	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			fieldName := s.Name.String()
			if fieldName == "__typename" {
				hasTypename = true
				result = append(result, s)
				continue
			}

			fieldType, err := fieldTypeName(sg, parentType, fieldName)
			if err != nil {
				return nil, err
			}

			newField := &ast.Field{
				Alias:      s.Alias,
				Name:       s.Name,
				Arguments:  s.Arguments,
				Directives: s.Directives,
			}
			if len(s.SelectionSet) > 0 {
				child, err := canonicalizeSelections(s.SelectionSet, fieldType, sg)
				if err != nil {
					return nil, err
				}
				newField.SelectionSet = child
			}
			result = append(result, newField)

		case *ast.InlineFragment:
			typeCond := parentType
			if s.TypeCondition != nil {
				typeCond = s.TypeCondition.Name.String()
			}
			if !typeExists(sg, typeCond) {
				return nil, &Error{Code: CodeUnknownTypeInCond, Message: fmt.Sprintf("unknown type %q in type condition", typeCond)}
			}

			child, err := canonicalizeSelections(s.SelectionSet, typeCond, sg)
			if err != nil {
				return nil, err
			}

			if typeCond == parentType {
				// Splice a same-type fragment directly into the enclosing
				// selection set rather than keeping the wrapper.
				result = append(result, child...)
				continue
			}

			result = append(result, &ast.InlineFragment{
				TypeCondition: s.TypeCondition,
				SelectionSet:  child,
			})

		default:
			result = append(result, sel)
		}
	}

	if sg.IsAbstractType(parentType) {
		result = expandAbstractFields(result, parentType, sg)
	}
	result = mergeInlineFragmentsByType(result)

	if !hasTypename && sg.IsAbstractType(parentType) {
		typenameField := &ast.Field{Name: &ast.Name{Value: "__typename"}}
		result = append([]ast.Selection{typenameField}, result...)
	}

	return result, nil
}

// expandAbstractFields rewrites fields selected directly on an abstract type
// into one inline fragment per implementing object type. Expansion only
// happens when the implementations disagree on which subgraphs resolve the
// selected fields; a field uniformly resolvable across every implementation
// stays where it is and the planner routes it in one piece.
func expandAbstractFields(selections []ast.Selection, abstractType string, sg *graph.SuperGraphV2) []ast.Selection {
	var direct []*ast.Field
	rest := make([]ast.Selection, 0, len(selections))
	for _, sel := range selections {
		if f, ok := sel.(*ast.Field); ok && f.Name.String() != "__typename" {
			direct = append(direct, f)
			continue
		}
		rest = append(rest, sel)
	}
	if len(direct) == 0 {
		return selections
	}

	possible := sg.PossibleTypes(abstractType)
	if len(possible) == 0 || uniformlyResolvable(sg, possible, direct) {
		return selections
	}

	for _, typeName := range possible {
		scoped := make([]ast.Selection, len(direct))
		for i, f := range direct {
			scoped[i] = f
		}
		rest = append(rest, &ast.InlineFragment{
			TypeCondition: &ast.NamedType{Name: &ast.Name{Value: typeName}},
			SelectionSet:  scoped,
		})
	}
	return rest
}

// uniformlyResolvable reports whether every implementing type resolves every
// directly selected field in the same set of subgraphs.
func uniformlyResolvable(sg *graph.SuperGraphV2, possible []string, fields []*ast.Field) bool {
	for _, f := range fields {
		var first string
		for i, typeName := range possible {
			names := ownerNames(sg, typeName, f.Name.String())
			if i == 0 {
				first = names
				continue
			}
			if names != first {
				return false
			}
		}
	}
	return true
}

func ownerNames(sg *graph.SuperGraphV2, typeName, fieldName string) string {
	owners := sg.GetSubGraphsForField(typeName, fieldName)
	names := make([]string, 0, len(owners))
	for _, o := range owners {
		names = append(names, o.Name)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// splitIntrospection partitions top-level __schema/__type fields out of the
// operation's root selection set so the projector can splice them from
// precomputed schema metadata instead of the fetch-graph builder routing them
// to a subgraph.
func splitIntrospection(selections []ast.Selection) (rest, introspection []ast.Selection) {
	rest = make([]ast.Selection, 0, len(selections))
	for _, sel := range selections {
		if f, ok := sel.(*ast.Field); ok {
			name := f.Name.String()
			if name == "__schema" || name == "__type" {
				introspection = append(introspection, sel)
				continue
			}
		}
		rest = append(rest, sel)
	}
	return rest, introspection
}

// mergeInlineFragmentsByType combines every InlineFragment in selections that
// shares a type condition into a single fragment, preserving the position of
// the first occurrence of each type.
func mergeInlineFragmentsByType(selections []ast.Selection) []ast.Selection {
	merged := make(map[string]*ast.InlineFragment)
	result := make([]ast.Selection, 0, len(selections))

	for _, sel := range selections {
		frag, ok := sel.(*ast.InlineFragment)
		if !ok {
			result = append(result, sel)
			continue
		}

		key := ""
		if frag.TypeCondition != nil {
			key = frag.TypeCondition.Name.String()
		}

		if existing, seen := merged[key]; seen {
			existing.SelectionSet = append(existing.SelectionSet, frag.SelectionSet...)
			continue
		}

		merged[key] = frag
		result = append(result, frag)
	}

	return result
}

// fieldTypeName resolves fieldName's declared type on parentType, searching
// object and interface definitions in the composed schema. Fields on a union
// other than __typename are never valid, matching plain GraphQL semantics.
func fieldTypeName(sg *graph.SuperGraphV2, parentType, fieldName string) (string, error) {
	for _, def := range sg.Schema.Definitions {
		switch td := def.(type) {
		case *ast.ObjectTypeDefinition:
			if td.Name.String() != parentType {
				continue
			}
			for _, field := range td.Fields {
				if field.Name.String() == fieldName {
					return namedType(field.Type), nil
				}
			}
		case *ast.InterfaceTypeDefinition:
			if td.Name.String() != parentType {
				continue
			}
			for _, field := range td.Fields {
				if field.Name.String() == fieldName {
					return namedType(field.Type), nil
				}
			}
		}
	}

	return "", &Error{Code: CodeFieldNotInType, Message: fmt.Sprintf("field %q is not defined on type %q", fieldName, parentType)}
}

// typeExists reports whether name is any defined type in the composed schema.
func typeExists(sg *graph.SuperGraphV2, name string) bool {
	for _, def := range sg.Schema.Definitions {
		switch td := def.(type) {
		case *ast.ObjectTypeDefinition:
			if td.Name.String() == name {
				return true
			}
		case *ast.InterfaceTypeDefinition:
			if td.Name.String() == name {
				return true
			}
		case *ast.UnionTypeDefinition:
			if td.Name.String() == name {
				return true
			}
		}
	}
	return false
}

// namedType unwraps List/NonNull wrappers down to the base named type.
func namedType(t ast.Type) string {
	switch typ := t.(type) {
	case *ast.NamedType:
		return typ.Name.String()
	case *ast.ListType:
		return namedType(typ.Type)
	case *ast.NonNullType:
		return namedType(typ.Type)
	default:
		return ""
	}
}

// collectUsedVariables walks selections' arguments for $variable references,
// the same traversal executor.QueryBuilderV2 runs at plan-build time.
func collectUsedVariables(selections []ast.Selection, vars map[string]bool) {
	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			for _, arg := range s.Arguments {
				collectUsedVariablesFromValue(arg.Value, vars)
			}
			if len(s.SelectionSet) > 0 {
				collectUsedVariables(s.SelectionSet, vars)
			}
		case *ast.InlineFragment:
			collectUsedVariables(s.SelectionSet, vars)
		}
	}
}

func collectUsedVariablesFromValue(val ast.Value, vars map[string]bool) {
	switch v := val.(type) {
	case *ast.Variable:
		vars[v.Name] = true
	case *ast.ListValue:
		for _, item := range v.Values {
			collectUsedVariablesFromValue(item, vars)
		}
	case *ast.ObjectValue:
		for _, field := range v.Fields {
			collectUsedVariablesFromValue(field.Value, vars)
		}
	}
}
