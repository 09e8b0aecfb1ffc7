package executor

import (
	"context"
	"net/http"
)

// requestHeaderContextKey is the context key under which the inbound client's
// HTTP headers are stashed so ExecutorV2 can hang them over onto outbound
// subgraph requests when enable_hang_over_request_header is set.
type requestHeaderContextKey struct{}

// SetRequestHeaderToContext stashes header on ctx for later retrieval by
// GetRequestHeaderFromContext.
func SetRequestHeaderToContext(ctx context.Context, header http.Header) context.Context {
	return context.WithValue(ctx, requestHeaderContextKey{}, header)
}

// GetRequestHeaderFromContext returns the header stashed by
// SetRequestHeaderToContext, or nil if none was set.
func GetRequestHeaderFromContext(ctx context.Context) http.Header {
	h, _ := ctx.Value(requestHeaderContextKey{}).(http.Header)
	return h
}

// hangOverHeaderDenylist lists headers that must never be copied verbatim
// onto an outbound subgraph request: they are connection- and
// body-framing-specific to the inbound request and would corrupt or
// mismatch the outbound one.
var hangOverHeaderDenylist = map[string]bool{
	"Content-Length": true,
	"Content-Type":   true,
	"Host":           true,
	"Connection":     true,
}

// hangOverHeaders copies the subset of src safe to forward onto dst.
func hangOverHeaders(dst, src http.Header) {
	for name, values := range src {
		if hangOverHeaderDenylist[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}
