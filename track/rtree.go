package track

// RTreeNode is one node of the 256-way R-tree spec §4.G builds over
// per-contig block extents, grouping BlockExtents into leaves and leaves
// into parents until a single root remains.
type RTreeNode struct {
	ChromIDStart, ChromIDEnd uint32
	StartBase, EndBase       uint32
	Children                 []*RTreeNode
	Leaf                     *BlockExtent
}

// ItemsPerSlot is the R-tree's branching factor (spec §4.G "256-way").
const ItemsPerSlot = 256

// BuildRTree groups extents (assumed sorted by Offset, i.e. file order)
// into a 256-way R-tree and returns its root. A single extent produces a
// single leaf-root.
func BuildRTree(extents []BlockExtent) *RTreeNode {
	if len(extents) == 0 {
		return nil
	}
	level := make([]*RTreeNode, len(extents))
	for i, e := range extents {
		ext := e
		level[i] = &RTreeNode{ChromIDStart: e.ChromID, ChromIDEnd: e.ChromID, StartBase: e.Start, EndBase: e.End, Leaf: &ext}
	}
	for len(level) > 1 {
		var next []*RTreeNode
		for i := 0; i < len(level); i += ItemsPerSlot {
			end := i + ItemsPerSlot
			if end > len(level) {
				end = len(level)
			}
			group := level[i:end]
			next = append(next, parentOf(group))
		}
		level = next
	}
	return level[0]
}

func parentOf(children []*RTreeNode) *RTreeNode {
	n := &RTreeNode{Children: children}
	n.ChromIDStart, n.StartBase = children[0].ChromIDStart, children[0].StartBase
	n.ChromIDEnd, n.EndBase = children[0].ChromIDEnd, children[0].EndBase
	for _, c := range children[1:] {
		if c.ChromIDEnd > n.ChromIDEnd || (c.ChromIDEnd == n.ChromIDEnd && c.EndBase > n.EndBase) {
			n.ChromIDEnd, n.EndBase = c.ChromIDEnd, c.EndBase
		}
	}
	return n
}

// Leaves returns every leaf BlockExtent under n, in original order.
func Leaves(n *RTreeNode) []BlockExtent {
	if n == nil {
		return nil
	}
	if n.Leaf != nil {
		return []BlockExtent{*n.Leaf}
	}
	var out []BlockExtent
	for _, c := range n.Children {
		out = append(out, Leaves(c)...)
	}
	return out
}
