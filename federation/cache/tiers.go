package cache

import (
	"github.com/n9te9/graphql-parser/ast"
)

// GraphQLError is the shape of a validation error stored by the validate tier.
// It is defined here rather than imported from executor, because executor
// itself imports cache.
type GraphQLError struct {
	Message string
	Path    []any
}

// Tiers bundles the four independent caches described for the gateway's hot path:
// parse (document text -> AST), validate (document+schema version -> errors),
// normalize (document+schema version+operation -> normalized operation), and
// plan (normalized operation -> plan tree). All four are invalidated together on
// schema swap since validate/normalize/plan are keyed partly on schema version.
type Tiers struct {
	Parse     *Cache
	Validate  *Cache
	Normalize *Cache
	Plan      *Cache
}

// NewTiers builds the four caches with the given per-tier capacity.
func NewTiers(capacityPerTier int) *Tiers {
	return &Tiers{
		Parse:     New(capacityPerTier),
		Validate:  New(capacityPerTier),
		Normalize: New(capacityPerTier),
		Plan:      New(capacityPerTier),
	}
}

// InvalidateAll drops every entry in every tier. Wired as a Lifecycle.OnSwap hook.
func (t *Tiers) InvalidateAll() {
	t.Parse.Invalidate()
	t.Validate.Invalidate()
	t.Normalize.Invalidate()
	t.Plan.Invalidate()
}

// ParsedDocument is the immutable, shared value stored in the parse tier.
type ParsedDocument struct {
	Document *ast.Document
	Errors   []string
}

// GetOrParse returns the cached parse of query text, parsing it via parseFn on a
// miss. parseFn is expected to wrap lexer.New/parser.New and return any syntax errors.
func (t *Tiers) GetOrParse(queryText string, parseFn func(string) (*ast.Document, []string)) (*ParsedDocument, error) {
	key := Hash(queryText)
	v, err := t.Parse.GetOrBuild(key, func() (any, error) {
		doc, errs := parseFn(queryText)
		return &ParsedDocument{Document: doc, Errors: errs}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ParsedDocument), nil
}

// GetOrValidate returns the cached validation result for (queryHash, schemaVersion),
// running validateFn on a miss.
func (t *Tiers) GetOrValidate(queryHash uint64, schemaVersion string, validateFn func() []GraphQLError) []GraphQLError {
	key := Hash(hashKey(queryHash), schemaVersion)
	v, _ := t.Validate.GetOrBuild(key, func() (any, error) {
		return validateFn(), nil
	})
	if v == nil {
		return nil
	}
	return v.([]GraphQLError)
}

// GetOrNormalize returns the cached normalized operation for
// (queryHash, schemaVersion, operationName), building it with normalizeFn on a miss.
func (t *Tiers) GetOrNormalize(queryHash uint64, schemaVersion, operationName string, normalizeFn func() (any, error)) (any, error) {
	key := Hash(hashKey(queryHash), schemaVersion, operationName)
	return t.Normalize.GetOrBuild(key, normalizeFn)
}

// GetOrPlan returns the cached plan for a normalized operation's content hash,
// building it with planFn on a miss.
func (t *Tiers) GetOrPlan(normalizedOperationHash uint64, planFn func() (any, error)) (any, error) {
	return t.Plan.GetOrBuild(normalizedOperationHash, planFn)
}
