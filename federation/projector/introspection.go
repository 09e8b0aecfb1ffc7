package projector

import (
	"github.com/n9te9/graphql-parser/ast"
)

// introspect answers a top-level __schema or __type field from composed-schema
// metadata. These never reach a subgraph: normalization splits them out of the
// planned operation and the projector splices the answer in here.
func (p *Projector) introspect(field *ast.Field, variables map[string]interface{}) interface{} {
	switch field.Name.String() {
	case "__schema":
		return projectMeta(field.SelectionSet, p.schemaMeta())
	case "__type":
		name := stringArgument(field, "name", variables)
		if name == "" {
			return nil
		}
		meta := p.typeMeta(name)
		if meta == nil {
			return nil
		}
		return projectMeta(field.SelectionSet, meta)
	default:
		return nil
	}
}

// projectMeta shapes a metadata value by a selection set: only requested keys
// appear, honoring aliases, with null for anything the metadata lacks.
func projectMeta(selections []ast.Selection, value interface{}) interface{} {
	if len(selections) == 0 {
		return value
	}

	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{})
		for _, sel := range selections {
			field, ok := sel.(*ast.Field)
			if !ok {
				continue
			}
			key := responseKey(field)
			child, exists := v[field.Name.String()]
			if !exists {
				out[key] = nil
				continue
			}
			out[key] = projectMeta(field.SelectionSet, child)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, elem := range v {
			out[i] = projectMeta(selections, elem)
		}
		return out
	default:
		return v
	}
}

// schemaMeta builds the __schema metadata value from the composed schema.
func (p *Projector) schemaMeta() map[string]interface{} {
	types := make([]interface{}, 0, len(p.superGraph.Schema.Definitions))
	var hasMutation, hasSubscription bool

	for _, def := range p.superGraph.Schema.Definitions {
		name := definitionName(def)
		if name == "" {
			continue
		}
		if name == "Mutation" {
			hasMutation = true
		}
		if name == "Subscription" {
			hasSubscription = true
		}
		if meta := p.typeMeta(name); meta != nil {
			types = append(types, meta)
		}
	}

	meta := map[string]interface{}{
		"__typename":       "__Schema",
		"types":            types,
		"queryType":        map[string]interface{}{"__typename": "__Type", "name": "Query"},
		"mutationType":     nil,
		"subscriptionType": nil,
	}
	if hasMutation {
		meta["mutationType"] = map[string]interface{}{"__typename": "__Type", "name": "Mutation"}
	}
	if hasSubscription {
		meta["subscriptionType"] = map[string]interface{}{"__typename": "__Type", "name": "Subscription"}
	}
	return meta
}

// typeMeta builds the __Type metadata value for one named type, or nil when
// the composed schema has no such type.
func (p *Projector) typeMeta(name string) map[string]interface{} {
	for _, def := range p.superGraph.Schema.Definitions {
		switch td := def.(type) {
		case *ast.ObjectTypeDefinition:
			if td.Name.String() == name {
				return objectLikeMeta("OBJECT", name, td.Fields, nil)
			}
		case *ast.InterfaceTypeDefinition:
			if td.Name.String() == name {
				return objectLikeMeta("INTERFACE", name, td.Fields, p.possibleTypeRefs(name))
			}
		case *ast.UnionTypeDefinition:
			if td.Name.String() == name {
				return objectLikeMeta("UNION", name, nil, p.possibleTypeRefs(name))
			}
		case *ast.EnumTypeDefinition:
			if td.Name.String() == name {
				values := make([]interface{}, 0, len(td.Values))
				for _, v := range td.Values {
					values = append(values, map[string]interface{}{
						"__typename": "__EnumValue",
						"name":       v.Name.String(),
					})
				}
				return map[string]interface{}{
					"__typename": "__Type",
					"kind":       "ENUM",
					"name":       name,
					"enumValues": values,
				}
			}
		case *ast.ScalarTypeDefinition:
			if td.Name.String() == name {
				return map[string]interface{}{"__typename": "__Type", "kind": "SCALAR", "name": name}
			}
		case *ast.InputObjectTypeDefinition:
			if td.Name.String() == name {
				return map[string]interface{}{"__typename": "__Type", "kind": "INPUT_OBJECT", "name": name}
			}
		}
	}

	switch name {
	case "String", "Int", "Float", "Boolean", "ID":
		return map[string]interface{}{"__typename": "__Type", "kind": "SCALAR", "name": name}
	}
	return nil
}

func objectLikeMeta(kind, name string, fields []*ast.FieldDefinition, possibleTypes []interface{}) map[string]interface{} {
	meta := map[string]interface{}{
		"__typename": "__Type",
		"kind":       kind,
		"name":       name,
	}

	if fields != nil {
		fieldMetas := make([]interface{}, 0, len(fields))
		for _, f := range fields {
			fieldMetas = append(fieldMetas, map[string]interface{}{
				"__typename": "__Field",
				"name":       f.Name.String(),
				"type":       typeRef(f.Type),
			})
		}
		meta["fields"] = fieldMetas
	}
	if possibleTypes != nil {
		meta["possibleTypes"] = possibleTypes
	}
	return meta
}

func (p *Projector) possibleTypeRefs(abstract string) []interface{} {
	names := p.superGraph.PossibleTypes(abstract)
	refs := make([]interface{}, 0, len(names))
	for _, n := range names {
		refs = append(refs, map[string]interface{}{
			"__typename": "__Type",
			"kind":       "OBJECT",
			"name":       n,
		})
	}
	return refs
}

// typeRef renders an ast.Type as the nested __Type reference introspection
// clients expect, with LIST/NON_NULL wrappers carried in ofType.
func typeRef(t ast.Type) map[string]interface{} {
	switch typ := t.(type) {
	case *ast.NonNullType:
		return map[string]interface{}{
			"__typename": "__Type",
			"kind":       "NON_NULL",
			"name":       nil,
			"ofType":     typeRef(typ.Type),
		}
	case *ast.ListType:
		return map[string]interface{}{
			"__typename": "__Type",
			"kind":       "LIST",
			"name":       nil,
			"ofType":     typeRef(typ.Type),
		}
	case *ast.NamedType:
		return map[string]interface{}{
			"__typename": "__Type",
			"kind":       "OBJECT",
			"name":       typ.Name.String(),
			"ofType":     nil,
		}
	default:
		return nil
	}
}

func definitionName(def ast.Definition) string {
	switch td := def.(type) {
	case *ast.ObjectTypeDefinition:
		return td.Name.String()
	case *ast.InterfaceTypeDefinition:
		return td.Name.String()
	case *ast.UnionTypeDefinition:
		return td.Name.String()
	case *ast.EnumTypeDefinition:
		return td.Name.String()
	case *ast.ScalarTypeDefinition:
		return td.Name.String()
	case *ast.InputObjectTypeDefinition:
		return td.Name.String()
	default:
		return ""
	}
}

// stringArgument resolves a field argument to a string, following a variable
// reference when the argument carries one.
func stringArgument(field *ast.Field, name string, variables map[string]interface{}) string {
	for _, arg := range field.Arguments {
		if arg.Name.String() != name {
			continue
		}
		switch v := arg.Value.(type) {
		case *ast.StringValue:
			return v.Value
		case *ast.Variable:
			if s, ok := variables[v.Name].(string); ok {
				return s
			}
		}
	}
	return ""
}
