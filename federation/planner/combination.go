package planner

import (
	"sort"
	"strconv"

	"github.com/n9te9/fedgateway/federation/cache"
)

// QueryTree is the union of one chosen candidate per leaf group. Segments
// shared between paths (common prefixes, shared subgraph entries) are
// counted once, so the tree's cost rewards combinations that reuse fetches.
type QueryTree struct {
	Chosen map[string]*leafCandidates // leaf key → its group, Paths narrowed to the single choice
	Cost   int
}

// bestCombination selects one candidate per group such that the merged
// query tree has minimum total cost. Groups are processed smallest-first;
// three greedy seeds establish an initial bound; a DFS with branch-and-bound
// explores the rest, memoizing visited (group index, chosen-prefix hash)
// states. Tied candidates are pre-ordered by cost, length, and edge
// sequence, so the result is deterministic for a given input.
func bestCombination(groups []*leafCandidates) *QueryTree {
	if len(groups) == 0 {
		return &QueryTree{Chosen: map[string]*leafCandidates{}}
	}

	ordered := make([]*leafCandidates, len(groups))
	copy(ordered, groups)
	sort.SliceStable(ordered, func(i, j int) bool {
		if len(ordered[i].Paths) != len(ordered[j].Paths) {
			return len(ordered[i].Paths) < len(ordered[j].Paths)
		}
		return ordered[i].Key < ordered[j].Key
	})

	s := &combinationSearch{
		groups:   ordered,
		suffixLB: suffixLowerBounds(ordered),
		used:     make(map[*pathSegment]int),
		memo:     make(map[uint64]int),
		chosen:   make([]*OperationPath, len(ordered)),
		best:     make([]*OperationPath, len(ordered)),
	}

	// Greedy seeds in three orderings establish the initial bound the DFS
	// prunes against.
	s.bestCost = s.greedySeed(forwardOrder(len(ordered)))
	if cost := s.greedySeed(reverseOrder(len(ordered))); cost < s.bestCost {
		s.bestCost = cost
	}
	if cost := s.greedySeed(outsideInOrder(len(ordered))); cost < s.bestCost {
		s.bestCost = cost
	}

	s.dfs(0, 0, 0)

	tree := &QueryTree{Chosen: make(map[string]*leafCandidates, len(ordered)), Cost: s.bestCost}
	for i, group := range ordered {
		choice := s.best[i]
		if choice == nil {
			choice = group.Paths[0]
		}
		tree.Chosen[group.Key] = &leafCandidates{
			Key:        group.Key,
			ParentType: group.ParentType,
			FieldName:  group.FieldName,
			Paths:      []*OperationPath{choice},
		}
	}
	return tree
}

type combinationSearch struct {
	groups   []*leafCandidates
	suffixLB []int
	used     map[*pathSegment]int // segment → reference count in the accumulating tree
	memo     map[uint64]int       // (group index, prefix hash) → best cost seen entering that state
	chosen   []*OperationPath
	best     []*OperationPath
	bestCost int
}

// dfs tries every candidate of group idx against the accumulating tree,
// pruning branches that cannot beat the best known combination.
func (s *combinationSearch) dfs(idx int, costSoFar int, prefixHash uint64) {
	if costSoFar+s.suffixLB[idx] >= s.bestCost && anyChosen(s.best) {
		return
	}

	if idx == len(s.groups) {
		if costSoFar < s.bestCost || !anyChosen(s.best) {
			s.bestCost = costSoFar
			copy(s.best, s.chosen)
		}
		return
	}

	stateKey := cache.Hash(strconv.Itoa(idx), strconv.FormatUint(prefixHash, 16))
	if seen, ok := s.memo[stateKey]; ok && seen <= costSoFar {
		return
	}
	s.memo[stateKey] = costSoFar

	for _, candidate := range s.groups[idx].Paths {
		added := s.addPath(candidate)
		s.chosen[idx] = candidate
		s.dfs(idx+1, costSoFar+added, cache.Hash(strconv.FormatUint(prefixHash, 16), candidate.EdgeSequence()))
		s.chosen[idx] = nil
		s.removePath(candidate)
	}
}

// greedySeed picks, in the given group order, the candidate with the lowest
// marginal cost against the tree built so far, records it as the current
// best, and returns the total.
func (s *combinationSearch) greedySeed(order []int) int {
	seedUsed := make(map[*pathSegment]int)
	seedChosen := make([]*OperationPath, len(s.groups))
	total := 0

	for _, idx := range order {
		group := s.groups[idx]
		var pick *OperationPath
		pickCost := 0
		for _, candidate := range group.Paths {
			marginal := marginalCost(candidate, seedUsed)
			if pick == nil || marginal < pickCost {
				pick = candidate
				pickCost = marginal
			}
		}
		seedChosen[idx] = pick
		total += pickCost
		countPath(pick, seedUsed, 1)
	}

	if !anyChosen(s.best) || total < s.bestCost {
		copy(s.best, seedChosen)
	}
	return total
}

// addPath merges a candidate into the accumulating tree and returns the cost
// of the segments it newly contributed.
func (s *combinationSearch) addPath(p *OperationPath) int {
	added := 0
	for _, seg := range p.segments() {
		if s.used[seg] == 0 {
			added += seg.edgeCost
		}
		s.used[seg]++
	}
	for _, r := range p.Require {
		added += s.addPath(r)
	}
	return added
}

func (s *combinationSearch) removePath(p *OperationPath) {
	for _, seg := range p.segments() {
		s.used[seg]--
		if s.used[seg] == 0 {
			delete(s.used, seg)
		}
	}
	for _, r := range p.Require {
		s.removePath(r)
	}
}

func marginalCost(p *OperationPath, used map[*pathSegment]int) int {
	cost := 0
	for _, seg := range p.segments() {
		if used[seg] == 0 {
			cost += seg.edgeCost
		}
	}
	for _, r := range p.Require {
		cost += marginalCost(r, used)
	}
	return cost
}

func countPath(p *OperationPath, used map[*pathSegment]int, delta int) {
	for _, seg := range p.segments() {
		used[seg] += delta
	}
	for _, r := range p.Require {
		countPath(r, used, delta)
	}
}

// suffixLowerBounds computes, per starting index, a lower bound on the
// marginal cost of completing the remaining groups. A group whose
// (type, field) is unique in the whole set must at least pay its cheapest
// candidate's final field move; a duplicated leaf may share everything, so
// it contributes nothing to the bound.
func suffixLowerBounds(groups []*leafCandidates) []int {
	occurrences := make(map[string]int, len(groups))
	for _, g := range groups {
		occurrences[g.ParentType+"."+g.FieldName]++
	}

	bounds := make([]int, len(groups)+1)
	for i := len(groups) - 1; i >= 0; i-- {
		lb := 0
		if occurrences[groups[i].ParentType+"."+groups[i].FieldName] == 1 {
			lb = groups[i].Paths[0].tail.edgeCost
			for _, candidate := range groups[i].Paths[1:] {
				if candidate.tail.edgeCost < lb {
					lb = candidate.tail.edgeCost
				}
			}
		}
		bounds[i] = bounds[i+1] + lb
	}
	return bounds
}

func anyChosen(chosen []*OperationPath) bool {
	for _, c := range chosen {
		if c != nil {
			return true
		}
	}
	return false
}

func forwardOrder(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

func reverseOrder(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = n - 1 - i
	}
	return order
}

func outsideInOrder(n int) []int {
	order := make([]int, 0, n)
	for lo, hi := 0, n-1; lo <= hi; lo, hi = lo+1, hi-1 {
		order = append(order, lo)
		if lo != hi {
			order = append(order, hi)
		}
	}
	return order
}
