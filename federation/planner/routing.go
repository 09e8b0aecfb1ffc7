package planner

import (
	"sort"

	"github.com/n9te9/fedgateway/federation/graph"
	"github.com/n9te9/graphql-parser/ast"
)

// withRoutes runs the walker and best-combination passes over the expanded
// selections and returns a planner clone carrying the resulting routing
// table: for each (type, field) position the operation touches, the subgraph
// the minimum-cost query tree resolves it in. Step construction consults the
// table through resolveFieldSubGraph; positions the walker could not route
// fall back to the ownership map's first owner.
func (p *PlannerV2) withRoutes(rootTypeName string, selections []ast.Selection) *PlannerV2 {
	if p.SuperGraph == nil || p.SuperGraph.Graph == nil {
		return p
	}

	w := newWalker(p.SuperGraph)
	groups := w.walkOperation(rootTypeName, selections)
	if len(groups) == 0 {
		return p
	}

	tree := bestCombination(groups)

	keys := make([]string, 0, len(tree.Chosen))
	for k := range tree.Chosen {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	routes := make(map[string]*graph.SubGraphV2, len(keys))
	for _, k := range keys {
		group := tree.Chosen[k]
		if len(group.Paths) == 0 || group.Paths[0].Target == nil {
			continue
		}
		routeKey := group.ParentType + "." + group.FieldName
		if _, ok := routes[routeKey]; !ok {
			routes[routeKey] = group.Paths[0].Target
		}
	}

	clone := *p
	clone.routes = routes
	return &clone
}
