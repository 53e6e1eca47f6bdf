package index

import (
	"cmp"
	"container/heap"
	"fmt"
	"math"
	"math/rand"
	"sync"
)

const (
	defaultM              = 16
	defaultEfConstruction = 200
	defaultEfSearch       = 100
)

// Match is a single nearest-neighbor result.
type Match[K cmp.Ordered] struct {
	ID       K
	Distance float32
}

// HNSW is an in-memory hierarchical navigable small world graph over
// unit-normalized vectors. Insertion is incremental; there is no retrain
// step. Distance is cosine distance (1 - dot product), which assumes every
// stored and query vector has unit length.
//
// Removals are tombstones: the node stays in the graph as a routing point
// but is never returned from Search. Re-inserting a tombstoned key revives
// it with the new vector.
//
// All methods are safe for concurrent use.
type HNSW[K cmp.Ordered] struct {
	mu sync.RWMutex

	dim      int
	m        int
	maxM0    int
	efCons   int
	efSearch int

	levelMult float64
	rng       *rand.Rand

	nodes    map[K]*hnswNode[K]
	entry    K
	hasEntry bool
	maxLevel int
	live     int
}

type hnswNode[K cmp.Ordered] struct {
	id      K
	vector  []float32
	level   int
	links   [][]K
	deleted bool
}

// HNSWOption configures an HNSW index.
type HNSWOption[K cmp.Ordered] func(*HNSW[K])

// WithM sets the per-layer neighbor budget.
func WithM[K cmp.Ordered](m int) HNSWOption[K] {
	return func(h *HNSW[K]) {
		if m > 0 {
			h.m = m
			h.maxM0 = m * 2
		}
	}
}

// WithEfSearch sets the search-time candidate beam width.
func WithEfSearch[K cmp.Ordered](ef int) HNSWOption[K] {
	return func(h *HNSW[K]) {
		if ef > 0 {
			h.efSearch = ef
		}
	}
}

// WithSeed fixes the level-assignment RNG, for reproducible tests.
func WithSeed[K cmp.Ordered](seed int64) HNSWOption[K] {
	return func(h *HNSW[K]) {
		h.rng = rand.New(rand.NewSource(seed))
	}
}

// NewHNSW creates an empty index for vectors of the given dimension.
func NewHNSW[K cmp.Ordered](dim int, opts ...HNSWOption[K]) *HNSW[K] {
	h := &HNSW[K]{
		dim:      dim,
		m:        defaultM,
		maxM0:    defaultM * 2,
		efCons:   defaultEfConstruction,
		efSearch: defaultEfSearch,
		rng:      rand.New(rand.NewSource(rand.Int63())),
		nodes:    make(map[K]*hnswNode[K]),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.levelMult = 1.0 / math.Log(float64(h.m))
	return h
}

// Len returns the number of live (non-tombstoned) vectors.
func (h *HNSW[K]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.live
}

// Insert adds a vector under the given key, replacing any previous vector
// for that key.
func (h *HNSW[K]) Insert(id K, vector []float32) error {
	if len(vector) != h.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), h.dim)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.nodes[id]; ok {
		// Keep the key's graph position; stale links still route correctly
		// because distance is recomputed from the stored vector on every hop.
		if old.deleted {
			old.deleted = false
			h.live++
		}
		old.vector = vector
		return nil
	}

	level := h.randomLevel()
	node := &hnswNode[K]{
		id:     id,
		vector: vector,
		level:  level,
		links:  make([][]K, level+1),
	}
	h.nodes[id] = node
	h.live++

	if !h.hasEntry {
		h.entry = id
		h.hasEntry = true
		h.maxLevel = level
		return nil
	}

	cur := h.entry
	curDist := cosineDistance(vector, h.nodes[cur].vector)

	// Greedy descent through the layers above the new node's level.
	for l := h.maxLevel; l > level; l-- {
		cur, curDist = h.greedyStep(vector, cur, curDist, l)
	}

	for l := min(level, h.maxLevel); l >= 0; l-- {
		candidates := h.searchLayer(vector, cur, h.efCons, l)

		budget := h.m
		if l == 0 {
			budget = h.maxM0
		}

		neighbors := candidates
		if len(neighbors) > budget {
			neighbors = neighbors[:budget]
		}
		node.links[l] = make([]K, 0, len(neighbors))
		for _, c := range neighbors {
			node.links[l] = append(node.links[l], c.id)
			h.linkBack(c.id, id, l, budget)
		}

		if len(candidates) > 0 {
			cur = candidates[0].id
		}
	}

	if level > h.maxLevel {
		h.maxLevel = level
		h.entry = id
	}
	return nil
}

// Remove tombstones a key. Removing an absent key is a no-op.
func (h *HNSW[K]) Remove(id K) {
	h.mu.Lock()
	defer h.mu.Unlock()

	node, ok := h.nodes[id]
	if !ok || node.deleted {
		return
	}
	node.deleted = true
	h.live--

	if h.entry == id {
		h.hasEntry = false
		for _, n := range h.nodes {
			if !n.deleted {
				h.entry = n.id
				h.hasEntry = true
				if n.level > h.maxLevel {
					h.maxLevel = n.level
				}
				break
			}
		}
	}
}

// Search returns up to k live nearest neighbors of the query, ordered by
// ascending distance with ties broken by ascending key.
func (h *HNSW[K]) Search(query []float32, k int) ([]Match[K], error) {
	if len(query) != h.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(query), h.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.hasEntry || h.live == 0 {
		return nil, nil
	}

	cur := h.entry
	curDist := cosineDistance(query, h.nodes[cur].vector)
	for l := h.maxLevel; l > 0; l-- {
		cur, curDist = h.greedyStep(query, cur, curDist, l)
	}

	ef := h.efSearch
	if k > ef {
		ef = k
	}
	candidates := h.searchLayer(query, cur, ef, 0)

	results := make([]Match[K], 0, k)
	for _, c := range candidates {
		if h.nodes[c.id].deleted {
			continue
		}
		results = append(results, Match[K]{ID: c.id, Distance: c.dist})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// greedyStep moves to the closest neighbor of cur at the given layer until
// no neighbor improves on the current distance.
func (h *HNSW[K]) greedyStep(query []float32, cur K, curDist float32, layer int) (K, float32) {
	for {
		improved := false
		node := h.nodes[cur]
		if layer < len(node.links) {
			for _, nid := range node.links[layer] {
				d := cosineDistance(query, h.nodes[nid].vector)
				if d < curDist {
					cur, curDist = nid, d
					improved = true
				}
			}
		}
		if !improved {
			return cur, curDist
		}
	}
}

// searchLayer runs an ef-bounded best-first search at one layer, returning
// candidates sorted by ascending distance (ties by ascending key).
func (h *HNSW[K]) searchLayer(query []float32, entry K, ef int, layer int) []scored[K] {
	entryDist := cosineDistance(query, h.nodes[entry].vector)

	visited := map[K]bool{entry: true}
	frontier := &scoredHeap[K]{}      // min-heap of nodes to expand
	found := &scoredHeap[K]{max: true} // max-heap capped at ef

	heap.Push(frontier, scored[K]{id: entry, dist: entryDist})
	heap.Push(found, scored[K]{id: entry, dist: entryDist})

	for frontier.Len() > 0 {
		cur := heap.Pop(frontier).(scored[K])
		if found.Len() >= ef && cur.dist > found.items[0].dist {
			break
		}
		node := h.nodes[cur.id]
		if layer >= len(node.links) {
			continue
		}
		for _, nid := range node.links[layer] {
			if visited[nid] {
				continue
			}
			visited[nid] = true
			d := cosineDistance(query, h.nodes[nid].vector)
			if found.Len() < ef || d < found.items[0].dist {
				heap.Push(frontier, scored[K]{id: nid, dist: d})
				heap.Push(found, scored[K]{id: nid, dist: d})
				if found.Len() > ef {
					heap.Pop(found)
				}
			}
		}
	}

	results := make([]scored[K], found.Len())
	for i := len(results) - 1; i >= 0; i-- {
		results[i] = heap.Pop(found).(scored[K])
	}
	return results
}

// linkBack adds a reverse edge and prunes the neighbor's link list to the
// layer budget, keeping the closest edges.
func (h *HNSW[K]) linkBack(from, to K, layer, budget int) {
	node := h.nodes[from]
	if layer >= len(node.links) {
		return
	}
	node.links[layer] = append(node.links[layer], to)
	if len(node.links[layer]) <= budget {
		return
	}

	pruned := make([]scored[K], 0, len(node.links[layer]))
	for _, nid := range node.links[layer] {
		pruned = append(pruned, scored[K]{id: nid, dist: cosineDistance(node.vector, h.nodes[nid].vector)})
	}
	sortScored(pruned)
	node.links[layer] = node.links[layer][:0]
	for _, c := range pruned[:budget] {
		node.links[layer] = append(node.links[layer], c.id)
	}
}

func (h *HNSW[K]) randomLevel() int {
	level := int(-math.Log(h.rng.Float64()) * h.levelMult)
	// Cap to keep descent bounded regardless of RNG tail.
	if level > 32 {
		level = 32
	}
	return level
}

// cosineDistance is 1 - dot(a, b); valid only for unit vectors.
func cosineDistance(a, b []float32) float32 {
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return 1 - dot
}

type scored[K cmp.Ordered] struct {
	id   K
	dist float32
}

// scoredHeap is a binary heap over scored entries, min-ordered by default
// and max-ordered when max is set. Ties compare by key so ordering is total.
type scoredHeap[K cmp.Ordered] struct {
	items []scored[K]
	max   bool
}

func (sh *scoredHeap[K]) Len() int { return len(sh.items) }

func (sh *scoredHeap[K]) Less(i, j int) bool {
	a, b := sh.items[i], sh.items[j]
	if sh.max {
		a, b = b, a
	}
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	return a.id < b.id
}

func (sh *scoredHeap[K]) Swap(i, j int) { sh.items[i], sh.items[j] = sh.items[j], sh.items[i] }

func (sh *scoredHeap[K]) Push(x any) { sh.items = append(sh.items, x.(scored[K])) }

func (sh *scoredHeap[K]) Pop() any {
	n := len(sh.items)
	item := sh.items[n-1]
	sh.items = sh.items[:n-1]
	return item
}

func sortScored[K cmp.Ordered](items []scored[K]) {
	// Insertion sort; link lists are tiny.
	for i := 1; i < len(items); i++ {
		for j := i; j > 0; j-- {
			a, b := items[j-1], items[j]
			if b.dist < a.dist || (b.dist == a.dist && b.id < a.id) {
				items[j-1], items[j] = b, a
			} else {
				break
			}
		}
	}
}
