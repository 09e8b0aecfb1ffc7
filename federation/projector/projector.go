// Package projector shapes the executor's merged response by the client's
// original operation: it walks the pre-normalization selection set over the
// response data, drops the key fields and __typename insertions planning
// added, evaluates @skip/@include gates, picks polymorphic branches by the
// __typename actually present in the data, enforces enum validity, and
// splices introspection results from composed-schema metadata.
package projector

import (
	"fmt"

	"github.com/n9te9/fedgateway/federation/graph"
	"github.com/n9te9/graphql-parser/ast"
)

// Error is a projection-time GraphQL error, shaped like the executor's error
// entries so the gateway can append both into one response errors array.
type Error struct {
	Message    string                 `json:"message"`
	Path       []interface{}          `json:"path,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// Projector projects raw executor output into the client-visible response.
type Projector struct {
	superGraph *graph.SuperGraphV2
}

// New creates a Projector against the given composed schema.
func New(superGraph *graph.SuperGraphV2) *Projector {
	return &Projector{superGraph: superGraph}
}

// Project walks the operation's selection set over data and returns the final
// response value plus any errors raised during projection (invalid enum
// values). introspection carries the __schema/__type fields split out during
// normalization; they are answered from schema metadata, never from data.
// Fields selected by the operation but absent from data project as null;
// fields present in data but not selected never appear in the output.
func (p *Projector) Project(
	op *ast.OperationDefinition,
	rootTypeName string,
	data map[string]interface{},
	variables map[string]interface{},
	introspection []ast.Selection,
) (map[string]interface{}, []Error) {
	out := make(map[string]interface{})
	var errs []Error

	p.projectSelections(op.SelectionSet, rootTypeName, data, variables, nil, out, &errs)

	for _, sel := range introspection {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		if skipped(field.Directives, variables) {
			continue
		}
		out[responseKey(field)] = p.introspect(field, variables)
	}

	return out, errs
}

// projectSelections projects one selection set of parentType over src into dst.
func (p *Projector) projectSelections(
	selections []ast.Selection,
	parentType string,
	src map[string]interface{},
	variables map[string]interface{},
	path []interface{},
	dst map[string]interface{},
	errs *[]Error,
) {
	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			if skipped(s.Directives, variables) {
				continue
			}
			p.projectField(s, parentType, src, variables, path, dst, errs)

		case *ast.InlineFragment:
			if skipped(s.Directives, variables) {
				continue
			}
			cond := parentType
			if s.TypeCondition != nil {
				cond = s.TypeCondition.Name.String()
			}
			if p.branchMatches(cond, src, parentType) {
				p.projectSelections(s.SelectionSet, cond, src, variables, path, dst, errs)
			}
		}
	}
}

func (p *Projector) projectField(
	field *ast.Field,
	parentType string,
	src map[string]interface{},
	variables map[string]interface{},
	path []interface{},
	dst map[string]interface{},
	errs *[]Error,
) {
	key := responseKey(field)
	fieldName := field.Name.String()

	if fieldName == "__typename" {
		if tn, ok := src["__typename"].(string); ok {
			dst[key] = tn
		} else {
			dst[key] = parentType
		}
		return
	}

	// The executor stores values under the client's alias when the plan
	// carried it, and under the field name when planning renamed or merged
	// the selection; accept either so internal renames collapse back.
	value, exists := src[key]
	if !exists {
		value, exists = src[fieldName]
	}
	if !exists || value == nil {
		dst[key] = nil
		return
	}

	fieldPath := append(append([]interface{}{}, path...), key)

	if len(field.SelectionSet) == 0 {
		dst[key] = p.projectLeaf(value, parentType, fieldName, fieldPath, errs)
		return
	}

	childType := p.fieldTypeName(parentType, fieldName)
	dst[key] = p.projectValue(field.SelectionSet, childType, value, variables, fieldPath, errs)
}

// projectValue projects a composite field's value, fanning out over lists.
func (p *Projector) projectValue(
	selections []ast.Selection,
	typeName string,
	value interface{},
	variables map[string]interface{},
	path []interface{},
	errs *[]Error,
) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		child := make(map[string]interface{})
		p.projectSelections(selections, typeName, v, variables, path, child, errs)
		return child
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, elem := range v {
			elemPath := append(append([]interface{}{}, path...), i)
			out[i] = p.projectValue(selections, typeName, elem, variables, elemPath, errs)
		}
		return out
	default:
		return v
	}
}

// projectLeaf validates a scalar position. A string landing in an enum
// position that is not one of the enum's declared values projects as null
// with an error appended.
func (p *Projector) projectLeaf(
	value interface{},
	parentType, fieldName string,
	path []interface{},
	errs *[]Error,
) interface{} {
	enumValues, isEnum := p.enumValuesFor(parentType, fieldName)
	if !isEnum {
		return value
	}

	s, ok := value.(string)
	if !ok {
		return value
	}
	for _, v := range enumValues {
		if v == s {
			return value
		}
	}

	*errs = append(*errs, Error{
		Message: fmt.Sprintf("value %q is not a member of the enum expected at %s.%s", s, parentType, fieldName),
		Path:    path,
	})
	return nil
}

// branchMatches decides whether an inline fragment on cond applies to src.
// The __typename present in the data wins; when the data carries none, the
// branch applies only when the condition equals (or abstracts) the statically
// known parent type.
func (p *Projector) branchMatches(cond string, src map[string]interface{}, parentType string) bool {
	actual, ok := src["__typename"].(string)
	if !ok {
		actual = parentType
	}
	if cond == actual {
		return true
	}
	for _, possible := range p.superGraph.PossibleTypes(cond) {
		if possible == actual {
			return true
		}
	}
	return false
}

// skipped evaluates @skip/@include gates against the request variables. An
// absent gate variable leaves the field included: @skip defaults to false,
// @include to true.
func skipped(directives []*ast.Directive, variables map[string]interface{}) bool {
	for _, d := range directives {
		switch d.Name {
		case "skip":
			if gateValue(d, variables) {
				return true
			}
		case "include":
			if !gateValue(d, variables) {
				return true
			}
		}
	}
	return false
}

// gateValue resolves a skip/include directive's if argument. Defaults follow
// the directive's no-op value: false for @skip, true for @include.
func gateValue(d *ast.Directive, variables map[string]interface{}) bool {
	for _, arg := range d.Arguments {
		if arg.Name.String() != "if" {
			continue
		}
		switch v := arg.Value.(type) {
		case *ast.BooleanValue:
			return v.Value
		case *ast.Variable:
			if val, ok := variables[v.Name].(bool); ok {
				return val
			}
			return d.Name == "include"
		}
	}
	return d.Name == "include"
}

// fieldTypeName resolves the named type of parentType.fieldName from the
// composed schema; unknown positions project structurally with "" (no enum
// or polymorphic handling).
func (p *Projector) fieldTypeName(parentType, fieldName string) string {
	def := p.fieldDefinition(parentType, fieldName)
	if def == nil {
		return ""
	}
	return unwrapTypeName(def.Type)
}

// enumValuesFor returns the declared values when parentType.fieldName is an
// enum position.
func (p *Projector) enumValuesFor(parentType, fieldName string) ([]string, bool) {
	def := p.fieldDefinition(parentType, fieldName)
	if def == nil {
		return nil, false
	}
	typeName := unwrapTypeName(def.Type)

	for _, d := range p.superGraph.Schema.Definitions {
		enumDef, ok := d.(*ast.EnumTypeDefinition)
		if !ok || enumDef.Name.String() != typeName {
			continue
		}
		values := make([]string, 0, len(enumDef.Values))
		for _, v := range enumDef.Values {
			values = append(values, v.Name.String())
		}
		return values, true
	}
	return nil, false
}

func (p *Projector) fieldDefinition(parentType, fieldName string) *ast.FieldDefinition {
	for _, def := range p.superGraph.Schema.Definitions {
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

func responseKey(field *ast.Field) string {
	if field.Alias != nil && field.Alias.String() != "" {
		return field.Alias.String()
	}
	return field.Name.String()
}

func unwrapTypeName(t ast.Type) string {
	switch typ := t.(type) {
	case *ast.NamedType:
		return typ.Name.String()
	case *ast.ListType:
		return unwrapTypeName(typ.Type)
	case *ast.NonNullType:
		return unwrapTypeName(typ.Type)
	default:
		return ""
	}
}
