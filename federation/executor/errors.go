package executor

import (
	"fmt"
)

// Extension codes stamped onto errors surfaced from subgraph calls. Transport
// failures (timeout, non-2xx, malformed body) get their own code so clients
// can tell a dead subgraph from a subgraph that resolved with errors.
const (
	codeSubgraphRequestFailure = "SUBGRAPH_REQUEST_FAILURE"
	codeDownstreamServiceError = "DOWNSTREAM_SERVICE_ERROR"
)

// transportError builds the synthetic GraphQL error recorded when a subgraph
// call fails at the transport layer, attached at the fetch's response path.
func transportError(serviceName string, fetchPath []interface{}, err error) GraphQLError {
	return GraphQLError{
		Message: fmt.Sprintf("subgraph request to %q failed: %v", serviceName, err),
		Path:    fetchPath,
		Extensions: map[string]interface{}{
			"code":        codeSubgraphRequestFailure,
			"serviceName": serviceName,
		},
	}
}

// rewriteSubgraphErrors maps the errors array of a subgraph response onto
// gateway-visible errors. For entity fetches (batch non-nil), an error path
// beginning with _entities, i is replaced by the gateway path of every
// response position representation i covered, so one subgraph error fans out
// to one output error per deduplicated position. Any other path is prefixed
// with the fetch's response path truncated at its first list index. Every
// rewritten error carries serviceName and a code (defaulting to
// DOWNSTREAM_SERVICE_ERROR) in its extensions.
func rewriteSubgraphErrors(raw interface{}, fetchPath []interface{}, batch *representationBatch, serviceName string) []GraphQLError {
	errorList, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	var out []GraphQLError
	for _, item := range errorList {
		errMap, ok := item.(map[string]interface{})
		if !ok {
			continue
		}

		message, _ := errMap["message"].(string)
		if message == "" {
			message = "unknown error from subgraph"
		}

		extensions := map[string]interface{}{}
		if ext, ok := errMap["extensions"].(map[string]interface{}); ok {
			for k, v := range ext {
				extensions[k] = v
			}
		}
		if _, ok := extensions["code"]; !ok {
			extensions["code"] = codeDownstreamServiceError
		}
		extensions["serviceName"] = serviceName

		errPath, _ := errMap["path"].([]interface{})

		if batch != nil {
			if idx, rest, ok := splitEntitiesPath(errPath); ok {
				for _, position := range batch.positions(idx) {
					path := make([]interface{}, 0, len(position)+len(rest))
					path = append(path, position...)
					path = append(path, rest...)
					out = append(out, GraphQLError{Message: message, Path: path, Extensions: extensions})
				}
				continue
			}
		}

		prefix := truncateAtFirstIndex(fetchPath)
		path := make([]interface{}, 0, len(prefix)+len(errPath))
		path = append(path, prefix...)
		path = append(path, errPath...)
		out = append(out, GraphQLError{Message: message, Path: path, Extensions: extensions})
	}

	return out
}

// splitEntitiesPath recognizes a path of the form [_entities, i, rest...] and
// returns the representation index and the remainder. JSON numbers decode as
// float64; a handful of tests hand-build paths with int.
func splitEntitiesPath(path []interface{}) (int, []interface{}, bool) {
	if len(path) < 2 {
		return 0, nil, false
	}
	if s, ok := path[0].(string); !ok || s != "_entities" {
		return 0, nil, false
	}
	switch i := path[1].(type) {
	case float64:
		return int(i), path[2:], true
	case int:
		return i, path[2:], true
	default:
		return 0, nil, false
	}
}

// truncateAtFirstIndex cuts a response path at its first list index: a
// subgraph error without an _entities prefix cannot be attributed to a
// specific list element, so it attaches to the list itself.
func truncateAtFirstIndex(path []interface{}) []interface{} {
	for i, seg := range path {
		switch seg.(type) {
		case int, float64:
			return path[:i]
		}
	}
	return path
}
