package planner

import (
	"fmt"
	"strings"
	"testing"

	"github.com/n9te9/fedgateway/federation/graph"
	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
)

func walkerSuperGraph(t *testing.T, sdls map[string]string, order []string) *graph.SuperGraphV2 {
	t.Helper()
	subGraphs := make([]*graph.SubGraphV2, 0, len(order))
	for _, name := range order {
		sg, err := graph.NewSubGraphV2(name, []byte(sdls[name]), "http://"+name)
		if err != nil {
			t.Fatalf("NewSubGraphV2(%s) failed: %v", name, err)
		}
		subGraphs = append(subGraphs, sg)
	}
	superGraph, err := graph.NewSuperGraphV2(subGraphs)
	if err != nil {
		t.Fatalf("NewSuperGraphV2 failed: %v", err)
	}
	return superGraph
}

func walkerSelections(t *testing.T, query string) []ast.Selection {
	t.Helper()
	l := lexer.New(query)
	p := parser.New(l)
	doc := p.ParseDocument()
	if len(p.Errors()) > 0 {
		t.Fatalf("parse error: %v", p.Errors())
	}
	for _, def := range doc.Definitions {
		if op, ok := def.(*ast.OperationDefinition); ok {
			return op.SelectionSet
		}
	}
	t.Fatal("no operation in document")
	return nil
}

func findGroup(groups []*leafCandidates, key string) *leafCandidates {
	for _, g := range groups {
		if g.Key == key {
			return g
		}
	}
	return nil
}

func TestWalker_RemoteLeafCostsAnEntityMove(t *testing.T) {
	super := walkerSuperGraph(t, map[string]string{
		"albums": `
			type Album @key(fields: "id") {
				id: ID!
				title: String!
			}
			type Query { album(id: ID!): Album }
		`,
		"stats": `
			extend type Album @key(fields: "id") {
				id: ID! @external
				playCount: Int!
			}
		`,
	}, []string{"albums", "stats"})

	w := newWalker(super)
	groups := w.walkOperation("Query", walkerSelections(t, `{ album(id: "a1") { title playCount } }`))

	title := findGroup(groups, "album.title")
	if title == nil || len(title.Paths) != 1 {
		t.Fatalf("expected one candidate for album.title, got %+v", title)
	}
	// Entry (1000) + root field (1) + field move (1).
	if got := title.Paths[0].Cost(); got != 1002 {
		t.Errorf("direct path cost = %d, want 1002", got)
	}
	if title.Paths[0].Target.Name != "albums" {
		t.Errorf("title target = %s, want albums", title.Paths[0].Target.Name)
	}

	plays := findGroup(groups, "album.playCount")
	if plays == nil || len(plays.Paths) != 1 {
		t.Fatalf("expected one candidate for album.playCount, got %+v", plays)
	}
	// Entry (1000) + root field (1) + entity move (1000) + field move (1).
	if got := plays.Paths[0].Cost(); got != 2002 {
		t.Errorf("indirect path cost = %d, want 2002", got)
	}
	if plays.Paths[0].Target.Name != "stats" {
		t.Errorf("playCount target = %s, want stats", plays.Paths[0].Target.Name)
	}
	if seq := plays.Paths[0].EdgeSequence(); !strings.Contains(seq, "stats:Album") {
		t.Errorf("indirect path must pass through the stats entity node, got %s", seq)
	}
}

func TestWalker_SharedFieldStaysInCurrentSubgraph(t *testing.T) {
	super := walkerSuperGraph(t, map[string]string{
		"albums": `
			type Album @key(fields: "id") {
				id: ID!
				title: String! @shareable
			}
			type Query { album(id: ID!): Album }
		`,
		"stats": `
			type Album @key(fields: "id") {
				id: ID!
				title: String! @shareable
			}
		`,
	}, []string{"albums", "stats"})

	w := newWalker(super)
	groups := w.walkOperation("Query", walkerSelections(t, `{ album(id: "a1") { title } }`))

	title := findGroup(groups, "album.title")
	if title == nil {
		t.Fatal("no candidates for album.title")
	}
	// The best-path tracker keeps only the minimum: the direct move beats
	// the entity round-trip, so one candidate survives.
	if len(title.Paths) != 1 || title.Paths[0].Target.Name != "albums" {
		t.Fatalf("expected the direct albums path only, got %+v", title.Paths)
	}
	if title.Paths[0].Cost() != 1002 {
		t.Errorf("cost = %d, want 1002", title.Paths[0].Cost())
	}
}

func TestWalker_TiedCandidatesAreOrderedDeterministically(t *testing.T) {
	// Both subgraphs resolve the root field at identical cost; the tracker
	// must keep both, ordered by edge sequence.
	super := walkerSuperGraph(t, map[string]string{
		"alpha": `
			type Track @key(fields: "id") { id: ID! length: Int! @shareable }
			type Query { track(id: ID!): Track @shareable }
		`,
		"beta": `
			type Track @key(fields: "id") { id: ID! length: Int! @shareable }
			type Query { track(id: ID!): Track @shareable }
		`,
	}, []string{"beta", "alpha"}) // registration order must not matter

	w := newWalker(super)
	groups := w.walkOperation("Query", walkerSelections(t, `{ track(id: "t1") { length } }`))

	root := findGroup(groups, "track")
	if root == nil || len(root.Paths) != 2 {
		t.Fatalf("expected both entry candidates for the root field, got %+v", root)
	}
	if root.Paths[0].EdgeSequence() >= root.Paths[1].EdgeSequence() {
		t.Errorf("tied candidates must be ordered by edge sequence: %s then %s",
			root.Paths[0].EdgeSequence(), root.Paths[1].EdgeSequence())
	}
}

func TestWalker_InterfaceObjectNarrowingCrossesSubgraphs(t *testing.T) {
	super := walkerSuperGraph(t, map[string]string{
		"charts": `
			type Media @interfaceObject @key(fields: "id") {
				id: ID!
			}
			type Query { trending: Media }
		`,
		"library": `
			interface Media { id: ID! }
			type Song implements Media @key(fields: "id") {
				id: ID!
				title: String!
			}
		`,
	}, []string{"charts", "library"})

	w := newWalker(super)
	groups := w.walkOperation("Query", walkerSelections(t, `{ trending { ... on Song { title } } }`))

	title := findGroup(groups, "trending.title")
	if title == nil || len(title.Paths) == 0 {
		t.Fatalf("narrowing an @interfaceObject must reach the concrete type's fields, got %+v", groups)
	}
	if title.Paths[0].Target.Name != "library" {
		t.Errorf("title target = %s, want library", title.Paths[0].Target.Name)
	}
	if seq := title.Paths[0].EdgeSequence(); !strings.Contains(seq, "library:Song") {
		t.Errorf("path must cross into library:Song, got %s", seq)
	}
}

func TestWalker_RequirementAttachesToEntityMove(t *testing.T) {
	super := walkerSuperGraph(t, map[string]string{
		"albums": `
			type Album @key(fields: "id") {
				id: ID!
				trackCount: Int!
			}
			type Query { album(id: ID!): Album }
		`,
		"pricing": `
			extend type Album @key(fields: "id") {
				id: ID! @external
				trackCount: Int! @external
				price: Int! @requires(fields: "trackCount")
			}
		`,
	}, []string{"albums", "pricing"})

	w := newWalker(super)
	groups := w.walkOperation("Query", walkerSelections(t, `{ album(id: "a1") { price } }`))

	price := findGroup(groups, "album.price")
	if price == nil || len(price.Paths) == 0 {
		t.Fatal("no candidates for album.price")
	}
	candidate := price.Paths[0]
	if len(candidate.Require) != 1 {
		t.Fatalf("expected the @requires selection as a requirement path, got %d", len(candidate.Require))
	}
	// Entity move (2002) plus the requirement's field move (1).
	if got := candidate.Cost(); got != 2003 {
		t.Errorf("cost with requirement = %d, want 2003", got)
	}
	if req := candidate.Require[0]; req.Target.Name != "albums" {
		t.Errorf("requirement resolves in %s, want albums", req.Target.Name)
	}
}

func TestBestCombination_SharesSubgraphEntries(t *testing.T) {
	// Both leaves are resolvable in either subgraph at identical path cost;
	// the combination must co-locate them so only one subgraph entry is paid.
	super := walkerSuperGraph(t, map[string]string{
		"alpha": `
			type Query {
				latest: String @shareable
				featured: String @shareable
			}
		`,
		"beta": `
			type Query {
				latest: String @shareable
				featured: String @shareable
			}
		`,
	}, []string{"alpha", "beta"})

	w := newWalker(super)
	groups := w.walkOperation("Query", walkerSelections(t, `{ latest featured }`))
	if len(groups) != 2 {
		t.Fatalf("expected 2 leaf groups, got %d", len(groups))
	}

	tree := bestCombination(groups)

	// Entry (1000) + two root field moves: co-located. Split across both
	// subgraphs it would cost 2002.
	if tree.Cost != 1002 {
		t.Errorf("combination cost = %d, want 1002", tree.Cost)
	}

	latest := tree.Chosen["latest"].Paths[0].Target.Name
	featured := tree.Chosen["featured"].Paths[0].Target.Name
	if latest != featured {
		t.Errorf("combination split leaves across %s and %s instead of sharing one entry", latest, featured)
	}
}

func TestBestCombination_IsDeterministic(t *testing.T) {
	super := walkerSuperGraph(t, map[string]string{
		"alpha": `
			type Query {
				latest: String @shareable
				featured: String @shareable
				archive: String @shareable
			}
		`,
		"beta": `
			type Query {
				latest: String @shareable
				featured: String @shareable
				archive: String @shareable
			}
		`,
	}, []string{"alpha", "beta"})

	pick := func() (string, int) {
		w := newWalker(super)
		groups := w.walkOperation("Query", walkerSelections(t, `{ latest featured archive }`))
		tree := bestCombination(groups)
		names := make([]string, 0, len(tree.Chosen))
		for _, key := range []string{"latest", "featured", "archive"} {
			names = append(names, tree.Chosen[key].Paths[0].Target.Name)
		}
		return strings.Join(names, ","), tree.Cost
	}

	firstNames, firstCost := pick()
	for i := 0; i < 10; i++ {
		names, cost := pick()
		if names != firstNames || cost != firstCost {
			t.Fatalf("combination differs across runs: %s/%d vs %s/%d", firstNames, firstCost, names, cost)
		}
	}
}

func TestOperationPath_ArenaSharesPrefixes(t *testing.T) {
	arena := newPathArena()

	root := arena.extend(nil, "root:Query", graph.EdgeSubgraphEntry, 0)
	entry := arena.extend(root, "a:Query", graph.EdgeSubgraphEntry, graph.CostSubgraphEntry)
	left := arena.extend(entry, "a:Query.latest", graph.EdgeField, graph.CostFieldMove)
	right := arena.extend(entry, "a:Query.featured", graph.EdgeField, graph.CostFieldMove)

	if left.prev != right.prev {
		t.Error("sibling segments must share their prefix segment")
	}
	if left.total != 1001 || right.total != 1001 {
		t.Errorf("cumulative costs = %d/%d, want 1001/1001", left.total, right.total)
	}

	p := &OperationPath{tail: left}
	if p.Len() != 3 {
		t.Errorf("Len = %d, want 3", p.Len())
	}
	if want := "root:Query>a:Query>a:Query.latest"; p.EdgeSequence() != want {
		t.Errorf("EdgeSequence = %q, want %q", p.EdgeSequence(), want)
	}

	// Re-extending with the same edge returns the interned segment.
	if again := arena.extend(entry, "a:Query.latest", graph.EdgeField, graph.CostFieldMove); again != left {
		t.Error("identical extensions must share one segment")
	}

	// Allocation crosses slab boundaries without disturbing earlier segments.
	for i := 0; i < arenaSlabSize*2; i++ {
		arena.extend(entry, fmt.Sprintf("a:Query.bulk%d", i), graph.EdgeField, graph.CostFieldMove)
	}
	if left.nodeID != "a:Query.latest" || left.total != 1001 {
		t.Error("slab growth corrupted an existing segment")
	}
}
