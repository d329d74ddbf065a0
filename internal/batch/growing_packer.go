package batch

import "sort"

// growNode is one node of the growing-bin binary tree: either a leaf
// (down/right nil, used marks whether a block has been placed here)
// or split into a right and a down child.
type growNode struct {
	x, y, w, h int
	used       bool
	down       *growNode
	right      *growNode
}

// growingPacker implements Jake Gordon's "GrowingPacker" algorithm: it
// places blocks (sorted by decreasing size) into a binary tree of
// rectangles, growing the root right or down whenever no existing node
// fits, keeping the overall rectangle close to square as it grows.
type growingPacker struct {
	root *growNode
}

// fitAll attempts to place every block in order into a fresh canvas,
// the first block's own size seeding the initial root per the reference
// algorithm. It returns ok=false the moment any block fails to place —
// callers treat that as "this whole candidate set doesn't fit together".
func fitAll(blocks []Block) (ok bool) {
	if len(blocks) == 0 {
		return true
	}
	p := &growingPacker{root: &growNode{w: blocks[0].Extent, h: blocks[0].Height}}
	for i, b := range blocks {
		w, h := b.Extent, b.Height
		var node *growNode
		if i == 0 {
			node = p.root
		} else if n := findNode(p.root, w, h); n != nil {
			node = n
		} else {
			node = p.growNode(w, h)
		}
		if node == nil {
			return false
		}
		splitNode(node, w, h)
	}
	return true
}

func findNode(n *growNode, w, h int) *growNode {
	if n == nil {
		return nil
	}
	if n.used {
		if found := findNode(n.right, w, h); found != nil {
			return found
		}
		return findNode(n.down, w, h)
	}
	if w <= n.w && h <= n.h {
		return n
	}
	return nil
}

func splitNode(n *growNode, w, h int) *growNode {
	n.used = true
	n.down = &growNode{x: n.x, y: n.y + h, w: n.w, h: n.h - h}
	n.right = &growNode{x: n.x + w, y: n.y, w: n.w - w, h: h}
	return &growNode{x: n.x, y: n.y, w: w, h: h, used: true}
}

// growNode grows the root rightward or downward to accommodate a block
// of the given size, choosing whichever direction keeps the rectangle
// closer to square, matching the reference implementation's
// canGrowDown/canGrowRight/shouldGrowRight heuristics.
func (p *growingPacker) growNode(w, h int) *growNode {
	canGrowDown := w <= p.root.w
	canGrowRight := h <= p.root.h
	shouldGrowRight := canGrowRight && (p.root.h >= p.root.w+w)
	shouldGrowDown := canGrowDown && (p.root.w >= p.root.h+h)

	switch {
	case shouldGrowRight:
		return p.growRight(w, h)
	case shouldGrowDown:
		return p.growDown(w, h)
	case canGrowRight:
		return p.growRight(w, h)
	case canGrowDown:
		return p.growDown(w, h)
	default:
		return nil
	}
}

func (p *growingPacker) growRight(w, h int) *growNode {
	newRoot := &growNode{
		used: true,
		x:    0, y: 0,
		w: p.root.w + w,
		h: p.root.h,
		down: p.root,
		right: &growNode{x: p.root.w, y: 0, w: w, h: p.root.h},
	}
	p.root = newRoot
	if node := findNode(p.root, w, h); node != nil {
		return node
	}
	return nil
}

func (p *growingPacker) growDown(w, h int) *growNode {
	newRoot := &growNode{
		used: true,
		x:    0, y: 0,
		w: p.root.w,
		h: p.root.h + h,
		right: p.root,
		down: &growNode{x: 0, y: p.root.h, w: p.root.w, h: h},
	}
	p.root = newRoot
	if node := findNode(p.root, w, h); node != nil {
		return node
	}
	return nil
}

// PackByDuration packs blocks, one topological layer at a time, into
// buckets targeting height targetHeight: within a layer, blocks are
// sorted by decreasing L2 norm of (width, height) and placed by
// growingPacker; a block starts a new bucket for the remainder of the
// layer when growingPacker cannot place it with the bucket's current
// blocks, or when boundedHeight rejects the candidate set. The height
// of the grown canvas itself is not checked against targetHeight or
// the layer's tallest block.
func PackByDuration(blocks []Block, targetHeight int) []Bucket {
	if targetHeight <= 0 {
		targetHeight = 1
	}
	var buckets []Bucket

	for _, layer := range topologicalLayers(blocks) {
		sorted := append([]Block(nil), layer...)
		sort.Slice(sorted, func(i, j int) bool {
			ni := sorted[i].Extent*sorted[i].Extent + sorted[i].Height*sorted[i].Height
			nj := sorted[j].Extent*sorted[j].Extent + sorted[j].Height*sorted[j].Height
			return ni > nj
		})

		var current []Block
		for _, b := range sorted {
			candidate := append(append([]Block(nil), current...), b)
			if fitAll(candidate) && boundedHeight(candidate, targetHeight) {
				current = candidate
				continue
			}
			if len(current) > 0 {
				buckets = append(buckets, Bucket{Blocks: current})
			}
			current = []Block{b}
		}
		if len(current) > 0 {
			buckets = append(buckets, Bucket{Blocks: current})
		}
	}
	return buckets
}

// boundedHeight reports whether every block in candidate is at most
// twice targetHeight tall. It looks at individual block heights only,
// not at the height of the packed canvas.
func boundedHeight(candidate []Block, targetHeight int) bool {
	total := 0
	maxH := 0
	for _, b := range candidate {
		total += b.Height
		if b.Height > maxH {
			maxH = b.Height
		}
	}
	// Allow up to 2x target to leave room for genuine parallel packing
	// (several blocks side by side within one bucket's height budget)
	// rather than forcing one block per bucket whenever a single block
	// already reaches targetHeight.
	return maxH <= targetHeight*2
}
