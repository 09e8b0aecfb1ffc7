package normalize

import (
	"fmt"
	"strings"

	"github.com/n9te9/fedgateway/federation/cache"
	"github.com/n9te9/graphql-parser/ast"
)

// contentHash computes the stable 64-bit digest that keys the plan cache: a
// canonical textual serialization of the rewritten operation, the selected
// operation name, and the sorted list of referenced variables.
func contentHash(op *ast.OperationDefinition, operationName string, usedVars []string) uint64 {
	var sb strings.Builder
	sb.WriteString(string(op.Operation))
	sb.WriteString("|")
	sb.WriteString(operationName)
	sb.WriteString("|")
	sb.WriteString(strings.Join(usedVars, ","))
	sb.WriteString("|")
	writeSelections(&sb, op.SelectionSet)
	return cache.Hash(sb.String())
}

func writeSelections(sb *strings.Builder, selections []ast.Selection) {
	sb.WriteString("{")
	for _, sel := range selections {
		writeSelection(sb, sel)
		sb.WriteString(",")
	}
	sb.WriteString("}")
}

func writeSelection(sb *strings.Builder, sel ast.Selection) {
	switch s := sel.(type) {
	case *ast.Field:
		if s.Alias != nil && s.Alias.String() != "" {
			sb.WriteString(s.Alias.String())
			sb.WriteString(":")
		}
		sb.WriteString(s.Name.String())
		if len(s.Arguments) > 0 {
			sb.WriteString("(")
			for i, arg := range s.Arguments {
				if i > 0 {
					sb.WriteString(",")
				}
				sb.WriteString(arg.Name.String())
				sb.WriteString(":")
				writeValue(sb, arg.Value)
			}
			sb.WriteString(")")
		}
		if len(s.SelectionSet) > 0 {
			writeSelections(sb, s.SelectionSet)
		}
	case *ast.InlineFragment:
		sb.WriteString("...on ")
		if s.TypeCondition != nil {
			sb.WriteString(s.TypeCondition.Name.String())
		}
		writeSelections(sb, s.SelectionSet)
	}
}

func writeValue(sb *strings.Builder, val ast.Value) {
	switch v := val.(type) {
	case *ast.StringValue:
		fmt.Fprintf(sb, "%q", v.Value)
	case *ast.IntValue:
		fmt.Fprintf(sb, "%d", v.Value)
	case *ast.FloatValue:
		fmt.Fprintf(sb, "%f", v.Value)
	case *ast.BooleanValue:
		fmt.Fprintf(sb, "%t", v.Value)
	case *ast.Variable:
		sb.WriteString("$")
		sb.WriteString(v.Name)
	case *ast.ListValue:
		sb.WriteString("[")
		for i, item := range v.Values {
			if i > 0 {
				sb.WriteString(",")
			}
			writeValue(sb, item)
		}
		sb.WriteString("]")
	case *ast.ObjectValue:
		sb.WriteString("{")
		for i, field := range v.Fields {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(field.Name.String())
			sb.WriteString(":")
			writeValue(sb, field.Value)
		}
		sb.WriteString("}")
	case *ast.EnumValue:
		sb.WriteString(v.Value)
	default:
		sb.WriteString("null")
	}
}
