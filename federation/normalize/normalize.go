// Package normalize implements the canonicalization pass that runs between
// parsing and planning: it selects the operation to execute, inlines
// fragments, expands abstract selections, inserts __typename where the
// executor/projector need it to disambiguate polymorphic data, and produces
// a stable content hash the plan cache keys on.
package normalize

import (
	"fmt"
	"sort"

	"github.com/n9te9/fedgateway/federation/graph"
	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/token"
)

// Code classifies a normalization failure the way the gateway's error
// taxonomy expects (see federation/cache and gateway.ServeHTTP's writeErrors).
type Code string

const (
	CodeAmbiguousOperation Code = "AMBIGUOUS_OPERATION"
	CodeOperationNotFound  Code = "OPERATION_NOT_FOUND"
	CodeFragmentCycle      Code = "FRAGMENT_CYCLE"
	CodeUnresolvedFragment Code = "UNRESOLVED_FRAGMENT_REFERENCE"
	CodeUnknownTypeInCond  Code = "UNKNOWN_TYPE_IN_TYPE_CONDITION"
	CodeFieldNotInType     Code = "FIELD_NOT_IN_TYPE"
)

// Error is a normalization-specific failure; these are fatal to the request
// per the gateway's propagation policy (never collected alongside partial data).
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return e.Message }

// Normalized is the canonical form a normalization pass produces: a single
// rewritten operation with every fragment spread inlined, plus the
// introspection fields split out for the projector to splice from schema
// metadata instead of dispatching to subgraphs.
type Normalized struct {
	Operation               *ast.OperationDefinition
	RootTypeName            string
	IntrospectionSelections []ast.Selection
	UsedVariables           []string
	ContentHash             uint64
}

// Normalize runs the canonicalization pipeline described in §4.2: select the
// operation, inline fragments, expand/annotate abstract selections, collect
// referenced variables, and hash the result. operationName may be empty when
// the document carries exactly one operation.
func Normalize(doc *ast.Document, sg *graph.SuperGraphV2, operationName string) (*Normalized, error) {
	op, err := selectOperation(doc, operationName)
	if err != nil {
		return nil, err
	}

	fragmentDefs := collectFragmentDefinitions(doc)

	inlined, err := inlineFragments(op.SelectionSet, fragmentDefs, map[string]bool{})
	if err != nil {
		return nil, err
	}

	rootTypeName := rootTypeNameFor(op, sg)

	mainSelections, introspection := splitIntrospection(inlined)

	canonical, err := canonicalizeSelections(mainSelections, rootTypeName, sg)
	if err != nil {
		return nil, err
	}

	rewritten := &ast.OperationDefinition{
		Operation:    op.Operation,
		Name:         op.Name,
		SelectionSet: canonical,
	}

	usedVars := make(map[string]bool)
	collectUsedVariables(canonical, usedVars)
	varNames := make([]string, 0, len(usedVars))
	for v := range usedVars {
		varNames = append(varNames, v)
	}
	sort.Strings(varNames)

	return &Normalized{
		Operation:               rewritten,
		RootTypeName:            rootTypeName,
		IntrospectionSelections: introspection,
		UsedVariables:           varNames,
		ContentHash:             contentHash(rewritten, operationName, varNames),
	}, nil
}

// Operation picks the operation Normalize would select: the one named by
// operationName, or the document's single operation when operationName is
// empty and unambiguous. The gateway projects the response against this
// original operation rather than the normalized rewrite.
func Operation(doc *ast.Document, operationName string) (*ast.OperationDefinition, error) {
	return selectOperation(doc, operationName)
}

// selectOperation picks the operation named by operationName, or the
// document's single operation when operationName is empty and unambiguous.
func selectOperation(doc *ast.Document, operationName string) (*ast.OperationDefinition, error) {
	var ops []*ast.OperationDefinition
	for _, def := range doc.Definitions {
		if op, ok := def.(*ast.OperationDefinition); ok {
			ops = append(ops, op)
		}
	}

	if operationName != "" {
		for _, op := range ops {
			if op.Name != nil && op.Name.String() == operationName {
				return op, nil
			}
		}
		return nil, &Error{Code: CodeOperationNotFound, Message: fmt.Sprintf("no operation named %q", operationName)}
	}

	switch len(ops) {
	case 0:
		return nil, &Error{Code: CodeOperationNotFound, Message: "document contains no operation"}
	case 1:
		return ops[0], nil
	default:
		return nil, &Error{Code: CodeAmbiguousOperation, Message: "operationName is required when a document has multiple operations"}
	}
}

// rootTypeNameFor resolves an operation's root type name from the composed
// schema's schema definition, falling back to the conventional Query/
// Mutation/Subscription names when no explicit SchemaDefinition overrides them.
func rootTypeNameFor(op *ast.OperationDefinition, sg *graph.SuperGraphV2) string {
	fallback := "Query"
	switch op.Operation {
	case ast.Mutation:
		fallback = "Mutation"
	case ast.Subscription:
		fallback = "Subscription"
	}

	for _, def := range sg.Schema.Definitions {
		sd, ok := def.(*ast.SchemaDefinition)
		if !ok {
			continue
		}
		for _, ot := range sd.OperationTypes {
			if (ot.Operation == token.QUERY && op.Operation == ast.Query) ||
				(ot.Operation == token.MUTATION && op.Operation == ast.Mutation) ||
				(ot.Operation == token.SUBSCRIPTION && op.Operation == ast.Subscription) {
				return ot.Type.Name.String()
			}
		}
	}
	return fallback
}
