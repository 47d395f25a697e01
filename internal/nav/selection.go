// Package nav connects the rendered tree with source positions: selecting
// diagnostic rows, scrolling them into view, finding the diagnostics under a
// cursor and jumping from a row to its source.
package nav

import (
	"arbor/internal/diag"
	"arbor/internal/tree"
)

// Viewport is the visible area of the tree view, in rows and columns.
type Viewport struct {
	Width          int
	Height         int
	ScrollbarWidth int
}

// Rect is the visible rectangle after scrolling.
type Rect struct {
	X, Y          int
	Width, Height int
}

// Selection tracks the selected row and the scroll position of one view.
// Like the tree it belongs to the session's consumer goroutine.
type Selection struct {
	selected  *tree.Node
	viewport  Viewport
	scrollTop int
	visible   Rect
}

// NewSelection creates a selection for a view of the given size.
func NewSelection(vp Viewport) *Selection {
	s := &Selection{}
	s.Resize(vp)
	return s
}

// Resize changes the viewport and keeps the selection in view.
func (s *Selection) Resize(vp Viewport) {
	s.viewport = vp
	s.visible.Width = max(0, vp.Width-vp.ScrollbarWidth)
	s.visible.Height = max(0, vp.Height)
}

// Selected returns the selected node, or nil. A node removed from the tree
// since it was selected is reported as nil.
func (s *Selection) Selected() *tree.Node {
	if s.selected == nil {
		return nil
	}
	if !s.selected.Attached() {
		s.selected = nil
	}
	return s.selected
}

// Visible returns the rectangle currently in view.
func (s *Selection) Visible() Rect { return s.visible }

// ScrollTop is the index of the first visible row.
func (s *Selection) ScrollTop() int { return s.scrollTop }

// Select finds the diagnostic node carrying d under root (or the first
// diagnostic node when d is nil), selects it, expands its ancestors and
// scrolls it into view. It reports whether a node was found.
func (s *Selection) Select(root *tree.Node, d *diag.Diagnostic) bool {
	n := findDiagnostic(root, d)
	if n == nil {
		return false
	}
	s.SelectNode(root, n)
	return true
}

// SelectFirst selects the first diagnostic in tree order.
func (s *Selection) SelectFirst(root *tree.Node) bool {
	return s.Select(root, nil)
}

// SelectNode selects n, expands its path and scrolls it into view.
func (s *Selection) SelectNode(root, n *tree.Node) {
	for p := n.Parent(); p != nil; p = p.Parent() {
		p.SetExpanded(true)
	}
	s.selected = n
	s.scrollIntoView(Rows(root), n)
}

func (s *Selection) scrollIntoView(rows []*tree.Node, n *tree.Node) {
	row := -1
	for i, r := range rows {
		if r == n {
			row = i
			break
		}
	}
	if row < 0 {
		return
	}
	height := max(1, s.viewport.Height)
	switch {
	case row < s.scrollTop:
		s.scrollTop = row
	case row >= s.scrollTop+height:
		s.scrollTop = row - height + 1
	}
	s.visible = Rect{
		X:      0,
		Y:      s.scrollTop,
		Width:  max(0, s.viewport.Width-s.viewport.ScrollbarWidth),
		Height: max(0, s.viewport.Height),
	}
}

// Rows flattens the visible part of the tree below root: children of
// expanded nodes, depth-first.
func Rows(root *tree.Node) []*tree.Node {
	var out []*tree.Node
	var walk func(n *tree.Node)
	walk = func(n *tree.Node) {
		for _, c := range n.Children() {
			out = append(out, c)
			if c.Expanded() {
				walk(c)
			}
		}
	}
	walk(root)
	return out
}

// Depth is the indentation level of n below the root.
func Depth(n *tree.Node) int {
	d := -1
	for p := n; p != nil; p = p.Parent() {
		d++
	}
	return d
}

func findDiagnostic(n *tree.Node, d *diag.Diagnostic) *tree.Node {
	if n.Kind() == tree.KindDiagnostic && (d == nil || n.Diagnostic() == d) {
		return n
	}
	for _, c := range n.Children() {
		if found := findDiagnostic(c, d); found != nil {
			return found
		}
	}
	return nil
}
