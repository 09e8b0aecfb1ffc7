package gateway

import (
	"fmt"

	"github.com/n9te9/fedgateway/federation/cache"
	"github.com/n9te9/fedgateway/federation/graph"
	"github.com/n9te9/graphql-parser/ast"
)

// validateDocument runs the gateway's rule set over every operation of a
// parsed document against the composed schema, collecting every violation
// rather than stopping at the first. Rules: every field must exist on its
// parent type, no selected field may carry @inaccessible in any subgraph, and
// fragment spreads must resolve within the document.
func validateDocument(superGraph *graph.SuperGraphV2, doc *ast.Document) []cache.GraphQLError {
	v := &documentValidator{
		superGraph: superGraph,
		fragments:  make(map[string]*ast.FragmentDefinition),
	}

	for _, def := range doc.Definitions {
		if frag, ok := def.(*ast.FragmentDefinition); ok {
			v.fragments[frag.Name.String()] = frag
		}
	}

	for _, def := range doc.Definitions {
		op, ok := def.(*ast.OperationDefinition)
		if !ok {
			continue
		}

		rootTypeName := "Query"
		switch op.Operation {
		case ast.Mutation:
			rootTypeName = "Mutation"
		case ast.Subscription:
			rootTypeName = "Subscription"
		}

		v.validateSelections(op.SelectionSet, rootTypeName, nil)
	}

	return v.errs
}

type documentValidator struct {
	superGraph *graph.SuperGraphV2
	fragments  map[string]*ast.FragmentDefinition
	errs       []cache.GraphQLError
}

func (v *documentValidator) addError(message string, path []any) {
	v.errs = append(v.errs, cache.GraphQLError{Message: message, Path: path})
}

func (v *documentValidator) validateSelections(selections []ast.Selection, parentType string, path []any) {
	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			fieldName := s.Name.String()
			if fieldName == "__typename" || fieldName == "__schema" || fieldName == "__type" {
				continue
			}

			fieldPath := append(append([]any{}, path...), responseKeyFor(s))

			def := v.fieldDefinition(parentType, fieldName)
			if def == nil {
				v.addError(fmt.Sprintf("Cannot query field %q on type %q", fieldName, parentType), fieldPath)
				continue
			}

			if v.isInaccessible(parentType, fieldName) {
				v.addError(fmt.Sprintf("Cannot query field %q on type %q", fieldName, parentType), fieldPath)
				continue
			}

			if len(s.SelectionSet) > 0 {
				v.validateSelections(s.SelectionSet, unwrapName(def.Type), fieldPath)
			}

		case *ast.InlineFragment:
			cond := parentType
			if s.TypeCondition != nil {
				cond = s.TypeCondition.Name.String()
			}
			v.validateSelections(s.SelectionSet, cond, path)

		case *ast.FragmentSpread:
			frag, ok := v.fragments[s.Name.String()]
			if !ok {
				v.addError(fmt.Sprintf("Unknown fragment %q", s.Name.String()), path)
				continue
			}
			v.validateSelections(frag.SelectionSet, frag.TypeCondition.Name.String(), path)
		}
	}
}

// fieldDefinition looks up fieldName on parentType in the composed schema,
// covering object and interface parents. Unions expose only __typename, which
// the caller already passed through.
func (v *documentValidator) fieldDefinition(parentType, fieldName string) *ast.FieldDefinition {
	for _, def := range v.superGraph.Schema.Definitions {
		switch td := def.(type) {
		case *ast.ObjectTypeDefinition:
			if td.Name.String() != parentType {
				continue
			}
			for _, f := range td.Fields {
				if f.Name.String() == fieldName {
					return f
				}
			}
		case *ast.InterfaceTypeDefinition:
			if td.Name.String() != parentType {
				continue
			}
			for _, f := range td.Fields {
				if f.Name.String() == fieldName {
					return f
				}
			}
		}
	}
	return nil
}

// isInaccessible reports whether any subgraph declares typeName.fieldName
// @inaccessible; such fields compose into the supergraph but must never be
// queryable through the gateway.
func (v *documentValidator) isInaccessible(typeName, fieldName string) bool {
	for _, subGraph := range v.superGraph.SubGraphs {
		if entity, exists := subGraph.GetEntity(typeName); exists {
			if field, ok := entity.Fields[fieldName]; ok && field.IsInaccessible() {
				return true
			}
		}

		for _, def := range subGraph.Schema.Definitions {
			objDef, ok := def.(*ast.ObjectTypeDefinition)
			if !ok || objDef.Name.String() != typeName {
				continue
			}
			for _, f := range objDef.Fields {
				if f.Name.String() != fieldName {
					continue
				}
				for _, d := range f.Directives {
					if d.Name == "inaccessible" {
						return true
					}
				}
			}
		}
	}
	return false
}

func responseKeyFor(field *ast.Field) string {
	if field.Alias != nil && field.Alias.String() != "" {
		return field.Alias.String()
	}
	return field.Name.String()
}

func unwrapName(t ast.Type) string {
	switch typ := t.(type) {
	case *ast.NamedType:
		return typ.Name.String()
	case *ast.ListType:
		return unwrapName(typ.Type)
	case *ast.NonNullType:
		return unwrapName(typ.Type)
	}
	return ""
}
