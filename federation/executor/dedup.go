package executor

import (
	"encoding/json"
	"sort"

	"github.com/n9te9/fedgateway/federation/cache"
)

// entityTarget is one position in the shared response data an entity
// representation was gathered from. entity points directly into the response
// tree so a scattered _entities result can be merged in place; path is the
// gateway-visible response path to that position, list indices included,
// used when subgraph errors are rewritten back onto the response.
type entityTarget struct {
	entity map[string]interface{}
	path   []interface{}
}

// representationBatch collects the representations gathered at one flatten
// location before an _entities call. Identical representations are sent once:
// the batch remembers every position each unique representation covers, and
// scatter fans the single returned entity back out to all of them.
type representationBatch struct {
	reps    []map[string]interface{}
	byHash  map[uint64]int
	targets [][]entityTarget
}

func newRepresentationBatch() *representationBatch {
	return &representationBatch{byHash: make(map[uint64]int)}
}

// add registers rep as needed at tgt. A representation identical to one
// already in the batch only records the extra position.
func (b *representationBatch) add(rep map[string]interface{}, tgt entityTarget) {
	h := hashRepresentation(rep)
	if i, ok := b.byHash[h]; ok {
		b.targets[i] = append(b.targets[i], tgt)
		return
	}
	b.byHash[h] = len(b.reps)
	b.reps = append(b.reps, rep)
	b.targets = append(b.targets, []entityTarget{tgt})
}

// Len returns the number of unique representations in the batch.
func (b *representationBatch) Len() int { return len(b.reps) }

// Representations returns the unique representations in first-occurrence
// order, the order the _entities result is expected back in.
func (b *representationBatch) Representations() []map[string]interface{} { return b.reps }

// positions returns the gateway response paths of every position unique
// representation i was gathered from. Error rewriting fans a subgraph error
// on _entities[i] out to one error per returned path.
func (b *representationBatch) positions(i int) [][]interface{} {
	if i < 0 || i >= len(b.targets) {
		return nil
	}
	paths := make([][]interface{}, 0, len(b.targets[i]))
	for _, tgt := range b.targets[i] {
		paths = append(paths, tgt.path)
	}
	return paths
}

// scatter merges entities[i] into every position unique representation i was
// gathered from. Entries beyond the batch size, and non-object entries (a
// subgraph may return null for an unresolvable representation), are skipped.
func (b *representationBatch) scatter(entities []interface{}, merge func(dst, src map[string]interface{})) {
	for i, entity := range entities {
		if i >= len(b.targets) {
			break
		}
		src, ok := entity.(map[string]interface{})
		if !ok {
			continue
		}
		for _, tgt := range b.targets[i] {
			merge(tgt.entity, src)
		}
	}
}

// hashRepresentation computes a stable digest of a representation: keys are
// sorted before hashing so two maps with the same contents always collide.
func hashRepresentation(rep map[string]interface{}) uint64 {
	keys := make([]string, 0, len(rep))
	for k := range rep {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		v, err := json.Marshal(rep[k])
		if err != nil {
			v = []byte("?")
		}
		parts = append(parts, k, string(v))
	}
	return cache.Hash(parts...)
}
