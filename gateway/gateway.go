package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/n9te9/fedgateway/federation/cache"
	"github.com/n9te9/fedgateway/federation/executor"
	"github.com/n9te9/fedgateway/federation/graph"
	"github.com/n9te9/fedgateway/federation/normalize"
	"github.com/n9te9/fedgateway/federation/planner"
	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// tiersCapacityPerTier bounds each of the four cache tiers (parse, validate,
// normalize, plan); a gateway process keeps at most this many distinct
// documents/plans resident per tier.
const tiersCapacityPerTier = 1024

type GatewayService struct {
	Name        string   `yaml:"name"`
	Host        string   `yaml:"host"`
	SchemaFiles []string `yaml:"schema_files"`
}

type GatewayOption struct {
	Endpoint                    string               `yaml:"endpoint"`
	ServiceName                 string               `yaml:"service_name"`
	Port                        int                  `yaml:"port"`
	TimeoutDuration             string               `yaml:"timeout_duration" default:"5s"`
	EnableHangOverRequestHeader bool                 `yaml:"enable_hang_over_request_header" default:"true"`
	Services                    []GatewayService     `yaml:"services"`
	Opentelemetry               OpentelemetrySetting `yaml:"opentelemetry"`
	// SupergraphPollInterval, when set, enables background supergraph reload:
	// subgraphs are re-introspected on this interval and the engine is
	// hot-swapped behind an atomic pointer when their combined SDL changes.
	// Empty means the supergraph loaded from Services is never refreshed.
	SupergraphPollInterval string      `yaml:"supergraph_poll_interval"`
	SupergraphFetchRetry   RetryOption `yaml:"supergraph_fetch_retry"`
}

type OpentelemetrySetting struct {
	TracingSetting OpentelemetryTracingSetting `yaml:"tracing"`
}

type OpentelemetryTracingSetting struct {
	Enable bool `yaml:"enable" default:"false"`
}

type gateway struct {
	graphQLEndpoint string
	serviceName     string
	lifecycle       *Lifecycle
	tiers           *cache.Tiers
	httpClient      *http.Client
	pollInterval    time.Duration
	retry           RetryOption
	requestTimeout  time.Duration

	enableComplementRequestId   bool
	enableHangOverRequestHeader bool
	enableOpentelemetryTracing  bool
}

var _ http.Handler = (*gateway)(nil)

// readSDLs reads every service's schema files and returns the (sdl, host) maps
// buildEngine expects, the same shape a SupergraphSource.Poll result carries.
func readSDLs(services []GatewayService) (map[string]string, map[string]string, error) {
	sdls := make(map[string]string, len(services))
	hosts := make(map[string]string, len(services))
	for _, s := range services {
		var schema []byte
		for _, f := range s.SchemaFiles {
			src, err := os.ReadFile(f)
			if err != nil {
				return nil, nil, err
			}
			schema = append(schema, src...)
		}
		sdls[s.Name] = string(schema)
		hosts[s.Name] = s.Host
	}
	return sdls, hosts, nil
}

func NewGateway(settings GatewayOption) (*gateway, error) {
	sdls, hosts, err := readSDLs(settings.Services)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Timeout: 3 * time.Second,
	}

	if settings.Opentelemetry.TracingSetting.Enable {
		httpClient.Transport = otelhttp.NewTransport(http.DefaultTransport)
	}

	tiers := cache.NewTiers(tiersCapacityPerTier)
	lifecycle := NewLifecycle(httpClient, nil)
	lifecycle.OnSwap(tiers.InvalidateAll)
	if err := lifecycle.Load(sdls, hosts); err != nil {
		return nil, err
	}

	var pollInterval time.Duration
	if settings.SupergraphPollInterval != "" {
		pollInterval, err = time.ParseDuration(settings.SupergraphPollInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid supergraph_poll_interval: %w", err)
		}
	}

	requestTimeout := 5 * time.Second
	if settings.TimeoutDuration != "" {
		requestTimeout, err = time.ParseDuration(settings.TimeoutDuration)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout_duration: %w", err)
		}
	}

	return &gateway{
		graphQLEndpoint:             settings.Endpoint,
		serviceName:                 settings.ServiceName,
		lifecycle:                   lifecycle,
		tiers:                       tiers,
		httpClient:                  httpClient,
		pollInterval:                pollInterval,
		retry:                       settings.SupergraphFetchRetry,
		requestTimeout:              requestTimeout,
		enableComplementRequestId:   true,
		enableHangOverRequestHeader: settings.EnableHangOverRequestHeader,
		enableOpentelemetryTracing:  settings.Opentelemetry.TracingSetting.Enable,
	}, nil
}

// StartPolling launches the background supergraph-reload loop when the
// gateway was configured with a nonzero supergraph_poll_interval. It blocks
// until ctx is canceled and is a no-op otherwise.
func (g *gateway) StartPolling(ctx context.Context) {
	if g.pollInterval <= 0 {
		return
	}
	store := g.lifecycle.Current()
	source := &PollingSupergraphSource{
		Services:   storeToServices(store),
		HTTPClient: g.httpClient,
		Retry:      g.retry,
		Interval:   g.pollInterval,
	}
	g.lifecycle.Run(ctx, source)
}

func storeToServices(store *schemaStore) []GatewayService {
	services := make([]GatewayService, 0, len(store.hosts))
	for name, host := range store.hosts {
		services = append(services, GatewayService{Name: name, Host: host})
	}
	return services
}

type graphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
	Extensions    map[string]any `json:"extensions"`
}

// graphQLResponseMediaType is the GraphQL-over-HTTP response content type that
// reports GraphQL-level errors via the HTTP status code rather than always 200.
const graphQLResponseMediaType = "application/graphql-response+json"

// parseGraphQLRequest extracts a graphQLRequest from either a JSON POST body or a
// GET request's query string, per the external HTTP contract: GET carries query
// as a plain string and variables/extensions JSON-encoded.
func parseGraphQLRequest(r *http.Request) (graphQLRequest, error) {
	var req graphQLRequest

	if r.Method == http.MethodGet {
		q := r.URL.Query()
		req.Query = q.Get("query")
		req.OperationName = q.Get("operationName")
		if v := q.Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &req.Variables); err != nil {
				return req, fmt.Errorf("invalid variables: %w", err)
			}
		}
		if e := q.Get("extensions"); e != "" {
			if err := json.Unmarshal([]byte(e), &req.Extensions); err != nil {
				return req, fmt.Errorf("invalid extensions: %w", err)
			}
		}
		if req.Query == "" {
			return req, fmt.Errorf("missing query parameter")
		}
		return req, nil
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, err
	}
	return req, nil
}

// negotiateResponseMediaType picks application/graphql-response+json when the
// client's Accept header names it, falling back to application/json otherwise.
func negotiateResponseMediaType(r *http.Request) string {
	accept := r.Header.Get("Accept")
	for _, part := range strings.Split(accept, ",") {
		if strings.HasPrefix(strings.TrimSpace(part), graphQLResponseMediaType) {
			return graphQLResponseMediaType
		}
	}
	return "application/json"
}

// overrideContextFrom pulls the progressive-override rollout value out of the
// request's extensions, when the client (or an upstream router) supplies one:
// {"extensions": {"overrideContext": {"percentage": 40}}}. Requests without
// one plan at percentage 0.
func overrideContextFrom(extensions map[string]any) graph.OverrideContext {
	octx := graph.OverrideContext{}
	oc, ok := extensions["overrideContext"].(map[string]any)
	if !ok {
		return octx
	}
	switch v := oc["percentage"].(type) {
	case float64:
		octx.Percentage = int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			octx.Percentage = n
		}
	}
	return octx
}

// graphQLError is one entry of a response's errors array.
type graphQLError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func codedError(code, message string) graphQLError {
	return graphQLError{Message: message, Extensions: map[string]any{"code": code}}
}

// responseWriter binds the negotiated media type and writes GraphQL responses
// with the right status: application/json reports request-level GraphQL
// errors as 200 while application/graphql-response+json surfaces the 4xx
// status; 5xx statuses pass through either way.
type responseWriter struct {
	http.ResponseWriter
	mediaType string
}

func (w responseWriter) writeErrors(status int, errs ...graphQLError) {
	w.Header().Set("Content-Type", w.mediaType)
	if w.mediaType == graphQLResponseMediaType || status >= 500 {
		w.WriteHeader(status)
	}
	json.NewEncoder(w).Encode(map[string]any{"errors": errs})
}

func (w responseWriter) writeResponse(payload map[string]any) {
	w.Header().Set("Content-Type", w.mediaType)
	json.NewEncoder(w).Encode(payload)
}

// ServeHTTP runs the request pipeline: parse → validate → normalize → plan →
// execute → project, with the parse/validate/normalize/plan stages backed by
// the content-hash cache tiers. Every request serves against the supergraph
// snapshot it captures here, regardless of concurrent hot swaps.
func (g *gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rw := responseWriter{ResponseWriter: w, mediaType: negotiateResponseMediaType(r)}

	requestID := uuid.NewString()
	logger := slog.Default().With("requestId", requestID)

	store := g.lifecycle.Current()
	if store == nil {
		w.Header().Set("Retry-After", "10")
		w.Header().Set("Content-Type", rw.mediaType)
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{
			"errors": []graphQLError{codedError("NO_SUPERGRAPH_AVAILABLE", ErrNoSupergraphAvailable.Error())},
		})
		return
	}

	req, err := parseGraphQLRequest(r)
	if err != nil {
		rw.writeErrors(http.StatusBadRequest, codedError("BAD_REQUEST", err.Error()))
		return
	}

	parsed, err := g.tiers.GetOrParse(req.Query, parseDocument)
	if err != nil {
		rw.writeErrors(http.StatusInternalServerError, codedError("PLAN_EXECUTION_FAILED", err.Error()))
		return
	}
	if len(parsed.Errors) > 0 {
		errs := make([]graphQLError, 0, len(parsed.Errors))
		for _, e := range parsed.Errors {
			errs = append(errs, codedError("GRAPHQL_PARSE_FAILED", e))
		}
		rw.writeErrors(http.StatusBadRequest, errs...)
		return
	}
	doc := parsed.Document

	originalOp, opErr := normalize.Operation(doc, req.OperationName)
	if opErr != nil {
		rw.writeErrors(http.StatusBadRequest, codedError("OPERATION_RESOLUTION_FAILURE", opErr.Error()))
		return
	}

	if r.Method == http.MethodGet && originalOp.Operation == ast.Mutation {
		w.Header().Set("Allow", http.MethodPost)
		w.Header().Set("Content-Type", rw.mediaType)
		w.WriteHeader(http.StatusMethodNotAllowed)
		json.NewEncoder(w).Encode(map[string]any{
			"errors": []graphQLError{codedError("MUTATION_NOT_ALLOWED_OVER_HTTP_GET", "mutations are not allowed over GET; use POST")},
		})
		return
	}

	queryHash := cache.Hash(req.Query)
	schemaVersion := store.versionString()

	validationErrs := g.tiers.GetOrValidate(queryHash, schemaVersion, func() []cache.GraphQLError {
		return validateDocument(store.engine.superGraph, doc)
	})
	if len(validationErrs) > 0 {
		errs := make([]graphQLError, 0, len(validationErrs))
		for _, ve := range validationErrs {
			errs = append(errs, graphQLError{
				Message:    ve.Message,
				Path:       ve.Path,
				Extensions: map[string]any{"code": "GRAPHQL_VALIDATION_FAILED"},
			})
		}
		rw.writeErrors(http.StatusBadRequest, errs...)
		return
	}

	normalizedAny, err := g.tiers.GetOrNormalize(queryHash, schemaVersion, req.OperationName, func() (any, error) {
		return normalize.Normalize(doc, store.engine.superGraph, req.OperationName)
	})
	if err != nil {
		rw.writeErrors(http.StatusBadRequest, codedError("OPERATION_RESOLUTION_FAILURE", err.Error()))
		return
	}
	normalized := normalizedAny.(*normalize.Normalized)

	octx := overrideContextFrom(req.Extensions)

	// The plan tier is keyed by the normalized operation's content hash plus
	// the override rollout value: two requests differing only in override
	// context get distinct cached plans.
	planKey := cache.Hash(strconv.FormatUint(normalized.ContentHash, 16), strconv.Itoa(octx.Percentage))
	cachedPlan, err := g.tiers.GetOrPlan(planKey, func() (any, error) {
		planDoc := &ast.Document{Definitions: []ast.Definition{normalized.Operation}}
		return store.engine.planner.WithOverrideContext(octx).Plan(planDoc, req.Variables)
	})
	if err != nil {
		// Planner failures are internal; the raw message never reaches clients.
		logger.Error("query plan build failed", "error", err, "operationName", req.OperationName)
		rw.writeErrors(http.StatusInternalServerError, codedError("QUERY_PLAN_BUILD_FAILED", "failed to build a query plan for this operation"))
		return
	}
	plan := cachedPlan.(*planner.PlanV2)

	ctx := r.Context()
	if g.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.requestTimeout)
		defer cancel()
	}
	if g.enableHangOverRequestHeader {
		ctx = executor.SetRequestHeaderToContext(ctx, r.Header)
	}

	resp, err := store.engine.executor.Execute(ctx, plan, req.Variables)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		logger.Error("request timed out", "operationName", req.OperationName)
		rw.writeErrors(http.StatusGatewayTimeout, codedError("GATEWAY_TIMEOUT", "request timed out"))
		return
	}
	if err != nil {
		logger.Error("plan execution failed", "error", err)
		rw.writeErrors(http.StatusInternalServerError, codedError("PLAN_EXECUTION_FAILED", "plan execution failed"))
		return
	}

	payload := g.projectResponse(store, originalOp, normalized, resp, req.Variables)
	if g.enableComplementRequestId {
		extensions, _ := payload["extensions"].(map[string]any)
		if extensions == nil {
			extensions = make(map[string]any)
			payload["extensions"] = extensions
		}
		extensions["requestId"] = requestID
	}

	rw.writeResponse(payload)
}

// projectResponse shapes the executor's merged output by the client's
// original operation and appends projection-time errors (enum violations)
// after the executor's collected subgraph errors.
func (g *gateway) projectResponse(
	store *schemaStore,
	originalOp *ast.OperationDefinition,
	normalized *normalize.Normalized,
	resp map[string]any,
	variables map[string]any,
) map[string]any {
	data, _ := resp["data"].(map[string]any)
	if data == nil {
		data = map[string]any{}
	}

	projected, projErrs := store.engine.projector.Project(
		originalOp,
		normalized.RootTypeName,
		data,
		variables,
		normalized.IntrospectionSelections,
	)

	payload := map[string]any{"data": projected}

	var allErrors []any
	if execErrs, ok := resp["errors"].([]executor.GraphQLError); ok {
		for _, e := range execErrs {
			allErrors = append(allErrors, e)
		}
	}
	for _, e := range projErrs {
		allErrors = append(allErrors, e)
	}
	if len(allErrors) > 0 {
		payload["errors"] = allErrors
	}

	return payload
}

// parseDocument wraps the lexer/parser pair for the parse cache tier.
func parseDocument(query string) (*ast.Document, []string) {
	l := lexer.New(query)
	p := parser.New(l)
	doc := p.ParseDocument()
	errs := make([]string, 0, len(p.Errors()))
	for _, e := range p.Errors() {
		errs = append(errs, fmt.Sprint(e))
	}
	return doc, errs
}

// ReadinessHandler reports whether this gateway's lifecycle has a live
// supergraph snapshot; see Lifecycle.ReadinessHandler.
func (g *gateway) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	g.lifecycle.ReadinessHandler(w, r)
}

func (g *gateway) Start(port int) error {
	fmt.Printf("Gateway started on port %d\n", port)
	return http.ListenAndServe(fmt.Sprintf(":%d", port), g)
}
