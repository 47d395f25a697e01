// Package tree holds the rendered diagnostic tree and keeps it in sync with
// a recomputed snapshot through minimal, ordered mutations.
package tree

import "sort"

// Listener observes node additions or removals.
type Listener func(n *Node)

// Tree is the rendered proxy tree. It is not safe for concurrent use.
type Tree struct {
	root      *Node
	onAdd     []Listener
	onRemove  []Listener
	generated uint64
}

// New creates a tree with a root node in NotStarted state.
func New() *Tree {
	return &Tree{root: &Node{payload: Payload{Kind: KindRoot}, expanded: true}}
}

func (t *Tree) Root() *Node { return t.root }

// OnAdd registers a listener called after a node is linked.
func (t *Tree) OnAdd(fn Listener) { t.onAdd = append(t.onAdd, fn) }

// OnRemove registers a listener called for each node of a removed subtree,
// children first, before unlinking.
func (t *Tree) OnRemove(fn Listener) { t.onRemove = append(t.onRemove, fn) }

// Version increases on every mutation.
func (t *Tree) Version() uint64 { return t.generated }

// Find returns the child of parent carrying p.
func (t *Tree) Find(parent *Node, p Payload) *Node {
	i, ok := search(parent.children, p)
	if ok {
		return parent.children[i]
	}
	// a leaf whose offset moved is still found by identity
	if p.Kind == KindLeaf {
		for _, c := range parent.children {
			if c.payload.Same(p) {
				return c
			}
		}
	}
	return nil
}

// Ensure returns the child of parent carrying p, creating it at its sorted
// position when missing. The boolean reports creation.
func (t *Tree) Ensure(parent *Node, p Payload) (*Node, bool) {
	if n := t.Find(parent, p); n != nil {
		return n, false
	}
	i, _ := search(parent.children, p)
	return t.insertAt(parent, i, p), true
}

func (t *Tree) insertAt(parent *Node, i int, p Payload) *Node {
	n := &Node{payload: p, parent: parent}
	parent.children = append(parent.children, nil)
	copy(parent.children[i+1:], parent.children[i:])
	parent.children[i] = n
	t.generated++
	for _, fn := range t.onAdd {
		fn(n)
	}
	return n
}

// Remove unlinks n and its subtree. Removal listeners run depth-first,
// post-order, while the nodes are still linked.
func (t *Tree) Remove(n *Node) {
	if n == nil || n.parent == nil {
		return
	}
	t.notifyRemoved(n)
	parent := n.parent
	if i := n.Index(); i >= 0 {
		parent.children = append(parent.children[:i], parent.children[i+1:]...)
	}
	n.parent = nil
	t.generated++
}

func (t *Tree) notifyRemoved(n *Node) {
	for _, c := range n.children {
		t.notifyRemoved(c)
	}
	for _, fn := range t.onRemove {
		fn(n)
	}
}

// Walk visits nodes depth-first, pre-order. Returning false skips the subtree.
func (t *Tree) Walk(fn func(n *Node) bool) {
	walk(t.root, fn)
}

func walk(n *Node, fn func(n *Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.children {
		walk(c, fn)
	}
}

// Count returns the number of nodes below the root.
func (t *Tree) Count() int {
	n := -1
	t.Walk(func(*Node) bool { n++; return true })
	return n
}

// Reset drops every node below the root and puts the root back to NotStarted.
func (t *Tree) Reset() {
	for len(t.root.children) > 0 {
		t.Remove(t.root.children[len(t.root.children)-1])
	}
	t.root.state = StateNotStarted
	t.root.failed = false
	t.root.duration = 0
}

func search(children []*Node, p Payload) (int, bool) {
	i := sort.Search(len(children), func(i int) bool {
		return Compare(children[i].payload, p) >= 0
	})
	return i, i < len(children) && children[i].payload.Same(p)
}
