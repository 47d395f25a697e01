// Package testkit holds structural checks shared by tests of the tree and
// the unit registry.
package testkit

import (
	"fmt"

	"fortio.org/safecast"

	"arbor/internal/source"
	"arbor/internal/tree"
	"arbor/internal/unit"
)

// CheckTreeInvariants walks the tree below root and reports the first violation:
// 1) every child points back at its parent
// 2) siblings are strictly ordered by tree.Compare, so no payload appears twice
// 3) kinds nest root > container > leaf (possibly nested) > diagnostic
func CheckTreeInvariants(root *tree.Node) error {
	if root == nil {
		return fmt.Errorf("nil root")
	}
	if root.Kind() != tree.KindRoot {
		return fmt.Errorf("root has kind %s", root.Kind())
	}
	return checkNode(root)
}

func checkNode(n *tree.Node) error {
	children := n.Children()
	for i, c := range children {
		if c.Parent() != n {
			return fmt.Errorf("%s/%s: parent link broken", n.Label(), c.Label())
		}
		if !allowedChild(n.Kind(), c.Kind()) {
			return fmt.Errorf("%s %q under %s %q", c.Kind(), c.Label(), n.Kind(), n.Label())
		}
		if i > 0 && tree.Compare(children[i-1].Payload(), c.Payload()) >= 0 {
			return fmt.Errorf("%s: children %q and %q out of order", n.Label(), children[i-1].Label(), c.Label())
		}
		if err := checkNode(c); err != nil {
			return err
		}
	}
	return nil
}

func allowedChild(parent, child tree.Kind) bool {
	switch parent {
	case tree.KindRoot:
		return child == tree.KindContainer
	case tree.KindContainer, tree.KindLeaf:
		return child == tree.KindLeaf || child == tree.KindDiagnostic
	}
	return false
}

// CheckUnitSpans verifies the leaves of every live container:
// 1) the span is non-empty and points into the container's file
// 2) the span ends within the current content of that file
// 3) a nested leaf lies inside its parent leaf
func CheckUnitSpans(reg *unit.Registry, files *source.FileSet) error {
	for _, c := range reg.Containers() {
		f := files.Get(c.File)
		if f == nil {
			return fmt.Errorf("container %s: unknown file %d", c.Key, c.File)
		}
		size, err := safecast.Conv[uint32](len(f.Content))
		if err != nil {
			return fmt.Errorf("container %s: content length overflow: %w", c.Key, err)
		}
		for _, l := range reg.Leaves(c.Key.Module) {
			sp := l.Span
			if sp.Empty() {
				return fmt.Errorf("leaf %s: empty span %v", l.Key, sp)
			}
			if sp.File != c.File {
				return fmt.Errorf("leaf %s: span file mismatch: got=%d want=%d", l.Key, sp.File, c.File)
			}
			if sp.End > size {
				return fmt.Errorf("leaf %s: span end beyond content: %d > %d", l.Key, sp.End, size)
			}
			if !l.HasParent() {
				continue
			}
			parent, ok := reg.Resolve(l.Parent)
			if !ok {
				return fmt.Errorf("leaf %s: parent %s is gone", l.Key, l.Parent)
			}
			if !parent.Span.Encloses(sp) {
				return fmt.Errorf("leaf %s span %v is outside parent %s span %v", l.Key, sp, parent.Key, parent.Span)
			}
		}
	}
	return nil
}
