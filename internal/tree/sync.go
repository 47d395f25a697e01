package tree

import (
	"slices"
)

// ChildrenFunc returns the desired children of a node. Returning nil for a
// leaf-level node means "no children".
type ChildrenFunc func(n *Node) []Payload

// Stats counts the mutations performed by one Update.
type Stats struct {
	Added   int
	Removed int
	Moved   int
}

// Mutations is the total number of structural changes.
func (s Stats) Mutations() int { return s.Added + s.Removed + s.Moved }

func (s *Stats) add(o Stats) {
	s.Added += o.Added
	s.Removed += o.Removed
	s.Moved += o.Moved
}

// Synchronizer merges a desired snapshot into the tree in place.
type Synchronizer struct {
	tree *Tree
}

func NewSynchronizer(t *Tree) *Synchronizer {
	return &Synchronizer{tree: t}
}

// Update reconciles the subtree of node with children. Nodes whose payload
// left the desired set are removed; new payloads are inserted at their sorted
// position; surviving nodes keep their identity and lifecycle state. Running
// Update twice on unchanged input performs no mutations.
func (s *Synchronizer) Update(node *Node, children ChildrenFunc) Stats {
	var st Stats
	desired := children(node)
	want := make(map[identity]Payload, len(desired))
	for _, p := range desired {
		want[p.identity()] = p
	}

	// 1. drop what is no longer wanted
	for i := len(node.children) - 1; i >= 0; i-- {
		c := node.children[i]
		if _, ok := want[c.payload.identity()]; !ok {
			s.tree.Remove(c)
			st.Removed++
		}
	}

	// leaves whose offset moved keep their node; restore the order once
	moved := false
	for _, c := range node.children {
		if c.payload.Kind != KindLeaf {
			continue
		}
		if p := want[c.payload.identity()]; p.Offset != c.payload.Offset {
			c.payload = p
			moved = true
			st.Moved++
		}
	}
	if moved {
		slices.SortStableFunc(node.children, func(a, b *Node) int { return Compare(a.payload, b.payload) })
		s.tree.generated++
	}

	// 2. merge the desired set
	for _, p := range desired {
		i, found := search(node.children, p)
		var child *Node
		if found {
			child = node.children[i]
		} else {
			child = s.tree.insertAt(node, i, p)
			st.Added++
		}
		st.add(s.Update(child, children))
	}
	return st
}
