// Package batch packs a dependency-aware set of jobs into buckets
// suitable for submission to an external batch scheduler, one bucket
// per scheduler job. Three policies are supported: by-count (flat or
// atomic layout) and by-duration (growing-bin first-fit-decreasing).
package batch

import (
	"container/heap"
	"sort"
)

// bucketLoad is one min-heap entry tracking a bucket's running total
// extent; index is maintained by Swap so Fix can locate an entry in
// O(1) after its total changes, the same self-tracking-index idiom the
// resource queue's own heap uses.
type bucketLoad struct {
	bucketIdx int
	total     int
	heapIdx   int
}

type loadHeap []*bucketLoad

func (h loadHeap) Len() int           { return len(h) }
func (h loadHeap) Less(i, j int) bool { return h[i].total < h[j].total }
func (h loadHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx, h[j].heapIdx = i, j
}
func (h *loadHeap) Push(x any) {
	e := x.(*bucketLoad)
	e.heapIdx = len(*h)
	*h = append(*h, e)
}
func (h *loadHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// newLoadHeap builds a min-heap over n buckets, all starting at zero load.
func newLoadHeap(n int) (*loadHeap, []*bucketLoad) {
	entries := make([]*bucketLoad, n)
	h := make(loadHeap, 0, n)
	for i := 0; i < n; i++ {
		entries[i] = &bucketLoad{bucketIdx: i}
		h = append(h, entries[i])
	}
	heap.Init(&h)
	return &h, entries
}

// assign adds extent to the lightest bucket's load and returns its
// index, re-heapifying in O(log n).
func (h *loadHeap) assign(extent int) int {
	e := (*h)[0]
	e.total += extent
	heap.Fix(h, e.heapIdx)
	return e.bucketIdx
}

// Block is one unit of packable work.
type Block struct {
	ID     string
	Width  int // cpus
	Height int // estimated runtime, arbitrary unit (e.g. seconds)
	Extent int // cpus, repeated from Width for clarity at call sites
	Deps   []string
}

// Bucket is an ordered group of blocks slated for one scheduler submission.
type Bucket struct {
	Blocks []Block
}

// topologicalLayers groups blocks into layers such that every block's
// dependencies lie in a strictly earlier layer. Blocks with no
// unresolved dependencies form layer 0.
func topologicalLayers(blocks []Block) [][]Block {
	byID := make(map[string]Block, len(blocks))
	indegree := make(map[string]int, len(blocks))
	dependents := make(map[string][]string)
	for _, b := range blocks {
		byID[b.ID] = b
		indegree[b.ID] = len(b.Deps)
		for _, d := range b.Deps {
			dependents[d] = append(dependents[d], b.ID)
		}
	}

	var layers [][]Block
	remaining := len(blocks)
	ready := make([]string, 0)
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	for remaining > 0 && len(ready) > 0 {
		layer := make([]Block, 0, len(ready))
		next := make([]string, 0)
		for _, id := range ready {
			layer = append(layer, byID[id])
			remaining--
			for _, dep := range dependents[id] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		sort.Strings(next)
		layers = append(layers, layer)
		ready = next
	}
	return layers
}

// PackByCountFlat distributes blocks into roughly n buckets, walking
// dependency layers in order: each layer gets its own share of buckets
// (n scaled by the layer's fraction of all blocks, rounded up, at least
// one), and the layer's blocks go to whichever of those buckets
// currently has the smallest total extent. Layers are never mixed, so
// a bucket's members carry no intra-bucket dependency and buckets
// depend only on earlier buckets, never on a later one. Because shares
// round up, the total can exceed n by up to one bucket per layer.
func PackByCountFlat(blocks []Block, n int) []Bucket {
	if n <= 0 {
		n = 1
	}
	total := len(blocks)
	var buckets []Bucket
	for _, layer := range topologicalLayers(blocks) {
		share := (n*len(layer) + total - 1) / total
		layerBuckets := make([]Bucket, share)
		h, _ := newLoadHeap(share)
		for _, b := range layer {
			idx := h.assign(b.Extent)
			layerBuckets[idx].Blocks = append(layerBuckets[idx].Blocks, b)
		}
		buckets = append(buckets, layerBuckets...)
	}
	return discardEmpty(buckets)
}

// PackByCountAtomic distributes whole connected components (by
// dependency edges, undirected) into n buckets, each placed wholly into
// whichever bucket currently has the smallest total extent. Buckets are
// mutually independent but may contain internal dependencies.
func PackByCountAtomic(blocks []Block, n int) []Bucket {
	if n <= 0 {
		n = 1
	}
	components := connectedComponents(blocks)

	buckets := make([]Bucket, n)
	h, _ := newLoadHeap(n)
	for _, comp := range components {
		sum := 0
		for _, b := range comp {
			sum += b.Extent
		}
		idx := h.assign(sum)
		buckets[idx].Blocks = append(buckets[idx].Blocks, comp...)
	}
	return discardEmpty(buckets)
}

func connectedComponents(blocks []Block) [][]Block {
	byID := make(map[string]Block, len(blocks))
	adj := make(map[string][]string)
	for _, b := range blocks {
		byID[b.ID] = b
		for _, d := range b.Deps {
			adj[b.ID] = append(adj[b.ID], d)
			adj[d] = append(adj[d], b.ID)
		}
	}

	visited := make(map[string]bool, len(blocks))
	var comps [][]Block

	ids := make([]string, 0, len(blocks))
	for _, b := range blocks {
		ids = append(ids, b.ID)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if visited[id] {
			continue
		}
		var comp []Block
		stack := []string{id}
		visited[id] = true
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			comp = append(comp, byID[cur])
			for _, n := range adj[cur] {
				if !visited[n] {
					visited[n] = true
					stack = append(stack, n)
				}
			}
		}
		comps = append(comps, comp)
	}
	return comps
}

func discardEmpty(buckets []Bucket) []Bucket {
	out := buckets[:0]
	for _, b := range buckets {
		if len(b.Blocks) > 0 {
			out = append(out, b)
		}
	}
	return out
}
