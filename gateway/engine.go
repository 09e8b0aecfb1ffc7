package gateway

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/n9te9/fedgateway/federation/cache"
	"github.com/n9te9/fedgateway/federation/executor"
	"github.com/n9te9/fedgateway/federation/graph"
	"github.com/n9te9/fedgateway/federation/planner"
	"github.com/n9te9/fedgateway/federation/projector"
)

// executionEngine bundles all read-only components required to serve GraphQL requests.
type executionEngine struct {
	planner    *planner.PlannerV2
	executor   *executor.ExecutorV2
	projector  *projector.Projector
	superGraph *graph.SuperGraphV2
}

// schemaStore holds the current set of raw SDLs, host URLs, and the pre-built engine.
// It is stored in atomic.Value, so every value must be read-only after it is constructed.
type schemaStore struct {
	sdls    map[string]string // subgraph name → SDL string
	hosts   map[string]string // subgraph name → base URL
	engine  *executionEngine
	version uint64 // content hash of sdls, used to key the normalize/validate cache tiers
}

// versionString renders the snapshot's schema version for use in cache keys.
func (s *schemaStore) versionString() string {
	return strconv.FormatUint(s.version, 16)
}

// schemaVersion hashes a subgraph-name-sorted concatenation of sdls so the
// same set of SDLs always yields the same version regardless of map
// iteration order.
func schemaVersion(sdls map[string]string) uint64 {
	names := make([]string, 0, len(sdls))
	for name := range sdls {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names)*2)
	for _, name := range names {
		parts = append(parts, name, sdls[name])
	}
	return cache.Hash(parts...)
}

// buildEngine composes a new SuperGraph from the given SDLs and host map, then wraps it
// in an executionEngine together with a PlannerV2 and ExecutorV2.
// The order that subgraphs are processed follows the iteration order of sdls, which is
// non-deterministic in Go maps; SuperGraphV2 is expected to be order-independent.
func buildEngine(sdls, hosts map[string]string, httpClient *http.Client) (*executionEngine, error) {
	subGraphs := make([]*graph.SubGraphV2, 0, len(sdls))
	for name, sdl := range sdls {
		sg, err := graph.NewSubGraphV2(name, []byte(sdl), hosts[name])
		if err != nil {
			return nil, fmt.Errorf("failed to build subgraph %q: %w", name, err)
		}
		subGraphs = append(subGraphs, sg)
	}

	superGraph, err := graph.NewSuperGraphV2(subGraphs)
	if err != nil {
		return nil, fmt.Errorf("composition failed: %w", err)
	}

	return &executionEngine{
		planner:    planner.NewPlannerV2(superGraph),
		executor:   executor.NewExecutorV2(httpClient, superGraph),
		projector:  projector.New(superGraph),
		superGraph: superGraph,
	}, nil
}

// copyMap returns a shallow copy of a string map.
func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
