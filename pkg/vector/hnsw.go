package vector

import (
	"errors"
	"math"
	"math/rand"
	"sync"

	"strata/pkg/types"
)

// ErrDimensionMismatch is returned by Insert/Search when a vector's
// dimension doesn't match the index's configured dimension.
var ErrDimensionMismatch = errors.New("vector: dimension mismatch")

// hnswIndex is the layered-graph approximate nearest-neighbor backend.
// Unlike an index where each node owns its own vector pointer, hnswIndex
// holds only graph structure and reads vector data from the
// collection's shared heap, so brute-force and HNSW backends over one
// collection never duplicate vector storage.
type hnswIndex struct {
	mu         sync.RWMutex
	config     Config
	heap       *heap
	nodes      map[uint64]*hnswNode
	entryPoint uint64
	maxLevel   int
}

func newHNSWIndex(cfg Config, h *heap) *hnswIndex {
	return &hnswIndex{config: cfg, heap: h, nodes: make(map[uint64]*hnswNode)}
}

func (idx *hnswIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.nodes)
}

// distance compares query against the vector stored at id under the
// index's configured metric. A missing heap entry (the node was deleted
// out from under a concurrent reader) sorts as maximally far rather than
// panicking.
func (idx *hnswIndex) distance(query *types.Vector, id uint64) float32 {
	v, ok := idx.heap.get(id)
	if !ok {
		return math.MaxFloat32
	}
	return query.Distance(v, idx.config.DistanceMetric)
}

func (idx *hnswIndex) randomLevel() int {
	level := 0
	for rand.Float64() < idx.config.ML && level < 32 {
		level++
	}
	return level
}

// Insert adds id's vector (already present in the heap) to the graph.
func (idx *hnswIndex) Insert(id uint64, vector *types.Vector) error {
	if vector.Dimension() != idx.config.Dimension {
		return ErrDimensionMismatch
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	level := idx.randomLevel()
	node := newHNSWNode(id, level)

	if len(idx.nodes) == 0 {
		idx.nodes[id] = node
		idx.entryPoint = id
		idx.maxLevel = level
		return nil
	}

	ep := idx.entryPoint
	currentLevel := idx.maxLevel

	// Phase 1: descend from the top level to just above this node's
	// level, tracking the closest node seen at each level.
	for l := currentLevel; l > level; l-- {
		ep = idx.searchLayerClosest(vector, ep, l)
	}

	// Phase 2: from this node's level down to 0, find neighbors, connect
	// bidirectionally, and prune any neighbor that now has too many
	// connections.
	for l := min(level, currentLevel); l >= 0; l-- {
		candidates := idx.searchLayer(vector, ep, idx.config.EfConstruction, l)

		maxNeighbors := idx.config.M
		if l == 0 {
			maxNeighbors = idx.config.MMax0
		}
		selected := idx.selectNeighbors(vector, candidates, maxNeighbors)

		node.SetNeighbors(l, selected)
		for _, neighborID := range selected {
			neighbor := idx.nodes[neighborID]
			if neighbor == nil {
				continue
			}
			neighbor.AddNeighbor(l, id)
			idx.pruneConnections(neighbor, l, maxNeighbors)
		}
		if len(selected) > 0 {
			ep = selected[0]
		}
	}

	idx.nodes[id] = node
	if level > idx.maxLevel {
		idx.entryPoint = id
		idx.maxLevel = level
	}
	return nil
}

// searchLayerClosest greedily walks to the closest node to query
// reachable from ep at level, used to descend through the upper layers.
func (idx *hnswIndex) searchLayerClosest(query *types.Vector, ep uint64, level int) uint64 {
	current := ep
	node, ok := idx.nodes[current]
	if !ok {
		return ep
	}
	currentDist := idx.distance(query, current)

	for {
		improved := false
		node, ok = idx.nodes[current]
		if !ok {
			break
		}
		for _, neighborID := range node.Neighbors(level) {
			if _, ok := idx.nodes[neighborID]; !ok {
				continue
			}
			dist := idx.distance(query, neighborID)
			if dist < currentDist {
				current = neighborID
				currentDist = dist
				improved = true
			}
		}
		if !improved {
			break
		}
	}
	return current
}

// distNode pairs a node id with its distance, used by the sorted
// candidate/result lists in searchLayer.
type distNode struct {
	id   uint64
	dist float32
}

func insertSorted(slice []distNode, node distNode) []distNode {
	i := 0
	for i < len(slice) && slice[i].dist < node.dist {
		i++
	}
	slice = append(slice, distNode{})
	copy(slice[i+1:], slice[i:])
	slice[i] = node
	return slice
}

// searchLayer finds up to ef nodes close to query at level, starting
// from ep.
func (idx *hnswIndex) searchLayer(query *types.Vector, ep uint64, ef int, level int) []uint64 {
	if _, ok := idx.nodes[ep]; !ok {
		return nil
	}

	visited := map[uint64]bool{ep: true}
	epDist := idx.distance(query, ep)
	candidates := []distNode{{id: ep, dist: epDist}}
	results := []distNode{{id: ep, dist: epDist}}

	for len(candidates) > 0 {
		closest := candidates[0]
		candidates = candidates[1:]

		if len(results) >= ef && closest.dist > results[len(results)-1].dist {
			break
		}

		currentNode, ok := idx.nodes[closest.id]
		if !ok {
			continue
		}

		for _, neighborID := range currentNode.Neighbors(level) {
			if visited[neighborID] {
				continue
			}
			visited[neighborID] = true

			if _, ok := idx.nodes[neighborID]; !ok {
				continue
			}
			dist := idx.distance(query, neighborID)

			if len(results) < ef || dist < results[len(results)-1].dist {
				results = insertSorted(results, distNode{id: neighborID, dist: dist})
				if len(results) > ef {
					results = results[:ef]
				}
				candidates = insertSorted(candidates, distNode{id: neighborID, dist: dist})
			}
		}
	}

	ids := make([]uint64, len(results))
	for i, r := range results {
		ids[i] = r.id
	}
	return ids
}

// selectNeighbors picks m neighbors out of candidates, using the
// heuristic selection from the HNSW paper when configured to.
func (idx *hnswIndex) selectNeighbors(query *types.Vector, candidates []uint64, m int) []uint64 {
	if len(candidates) <= m {
		return candidates
	}
	if idx.config.UseHeuristic {
		return idx.selectNeighborsHeuristic(query, candidates, m, idx.config.ExtendCandidates)
	}
	return candidates[:m]
}

func (idx *hnswIndex) selectNeighborsHeuristic(query *types.Vector, candidates []uint64, m int, extend bool) []uint64 {
	if len(candidates) == 0 {
		return nil
	}

	candidateSet := make(map[uint64]bool, len(candidates))
	for _, c := range candidates {
		candidateSet[c] = true
	}
	if extend {
		for _, c := range candidates {
			node, ok := idx.nodes[c]
			if !ok {
				continue
			}
			for _, n := range node.Neighbors(0) {
				candidateSet[n] = true
			}
		}
	}

	workQueue := make([]distNode, 0, len(candidateSet))
	for id := range candidateSet {
		if _, ok := idx.nodes[id]; !ok {
			continue
		}
		workQueue = append(workQueue, distNode{id: id, dist: idx.distance(query, id)})
	}
	sortDistNodes(workQueue)

	selected := make([]uint64, 0, m)
	for _, cand := range workQueue {
		if len(selected) >= m {
			break
		}
		candVec, ok := idx.heap.get(cand.id)
		if !ok {
			continue
		}
		isGood := true
		for _, selID := range selected {
			selVec, ok := idx.heap.get(selID)
			if !ok {
				continue
			}
			distToNeighbor := candVec.Distance(selVec, idx.config.DistanceMetric)
			if distToNeighbor < cand.dist {
				isGood = false
				break
			}
		}
		if isGood {
			selected = append(selected, cand.id)
		}
	}

	if len(selected) < m {
		already := make(map[uint64]bool, len(selected))
		for _, s := range selected {
			already[s] = true
		}
		for _, cand := range workQueue {
			if len(selected) >= m {
				break
			}
			if !already[cand.id] {
				selected = append(selected, cand.id)
			}
		}
	}
	return selected
}

// pruneConnections trims node's neighbor list at level down to its
// closest maxConnections entries.
func (idx *hnswIndex) pruneConnections(node *hnswNode, level int, maxConnections int) {
	neighbors := node.Neighbors(level)
	if len(neighbors) <= maxConnections {
		return
	}

	vec, ok := idx.heap.get(node.id)
	if !ok {
		return
	}

	ranked := make([]distNode, 0, len(neighbors))
	for _, nid := range neighbors {
		nv, ok := idx.heap.get(nid)
		if !ok {
			continue
		}
		ranked = append(ranked, distNode{id: nid, dist: vec.Distance(nv, idx.config.DistanceMetric)})
	}
	sortDistNodes(ranked)

	if len(ranked) > maxConnections {
		ranked = ranked[:maxConnections]
	}
	kept := make([]uint64, len(ranked))
	for i, r := range ranked {
		kept[i] = r.id
	}
	node.SetNeighbors(level, kept)
}

func sortDistNodes(nodes []distNode) {
	for i := 0; i < len(nodes)-1; i++ {
		for j := i + 1; j < len(nodes); j++ {
			if nodes[j].dist < nodes[i].dist {
				nodes[i], nodes[j] = nodes[j], nodes[i]
			}
		}
	}
}

// Delete removes id from the graph, rewiring its neighbors and, where
// connectivity drops too low, attempting to repair it from
// neighbors-of-neighbors.
func (idx *hnswIndex) Delete(id uint64) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	node, ok := idx.nodes[id]
	if !ok {
		return false
	}

	for level := 0; level <= node.level; level++ {
		for _, neighborID := range node.Neighbors(level) {
			neighbor := idx.nodes[neighborID]
			if neighbor == nil {
				continue
			}
			neighbor.RemoveNeighbor(level, id)
			idx.repairNeighborConnections(neighbor, level)
		}
	}

	delete(idx.nodes, id)
	if idx.entryPoint == id {
		idx.updateEntryPoint()
	}
	return true
}

// repairNeighborConnections adds connections from neighbors-of-neighbors
// when a deletion has left node with too few links at level.
func (idx *hnswIndex) repairNeighborConnections(node *hnswNode, level int) {
	maxNeighbors := idx.config.M
	if level == 0 {
		maxNeighbors = idx.config.MMax0
	}

	current := node.Neighbors(level)
	if len(current) >= maxNeighbors/2 {
		return
	}

	candidateSet := make(map[uint64]bool)
	for _, nid := range current {
		candidateSet[nid] = true
		neighbor := idx.nodes[nid]
		if neighbor == nil {
			continue
		}
		for _, nnid := range neighbor.Neighbors(level) {
			if nnid != node.id {
				candidateSet[nnid] = true
			}
		}
	}
	for _, nid := range current {
		delete(candidateSet, nid)
	}

	vec, ok := idx.heap.get(node.id)
	if !ok {
		return
	}
	candidates := make([]distNode, 0, len(candidateSet))
	for cid := range candidateSet {
		cnode := idx.nodes[cid]
		if cnode == nil || cnode.level < level {
			continue
		}
		cv, ok := idx.heap.get(cid)
		if !ok {
			continue
		}
		candidates = append(candidates, distNode{id: cid, dist: vec.Distance(cv, idx.config.DistanceMetric)})
	}
	sortDistNodes(candidates)

	for _, c := range candidates {
		if len(node.Neighbors(level)) >= maxNeighbors {
			break
		}
		node.AddNeighbor(level, c.id)
		if cnode := idx.nodes[c.id]; cnode != nil {
			cnode.AddNeighbor(level, node.id)
		}
	}
}

// updateEntryPoint picks a new entry point after the current one is
// deleted, preferring the remaining node with the highest level.
func (idx *hnswIndex) updateEntryPoint() {
	if len(idx.nodes) == 0 {
		idx.entryPoint = 0
		idx.maxLevel = 0
		return
	}
	maxLevel := -1
	var newEntryPoint uint64
	for id, node := range idx.nodes {
		if node.level > maxLevel {
			maxLevel = node.level
			newEntryPoint = id
		}
	}
	idx.entryPoint = newEntryPoint
	idx.maxLevel = maxLevel
}
