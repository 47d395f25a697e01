package ui

import (
	"time"

	"arbor/internal/diag"
	"arbor/internal/nav"
	"arbor/internal/tree"
)

// Row is one visible line of the tree.
type Row struct {
	Depth    int
	Kind     tree.Kind
	Label    string
	State    tree.State
	Failed   bool
	Severity diag.Severity
	Duration time.Duration
	Expanded bool
	Children int
	Selected bool
}

// Frame is an immutable picture of a session, safe to hand to the UI
// goroutine.
type Frame struct {
	Title     string
	State     tree.State
	Duration  time.Duration
	Rows      []Row
	Leaves    int
	Done      int
	Failed    int
	ScrollTop int
}

// BuildFrame flattens the expanded part of root. It must run where the tree
// is owned, i.e. inside session.View.
func BuildFrame(title string, root *tree.Node, sel *nav.Selection) Frame {
	f := Frame{
		Title:    title,
		State:    root.State(),
		Duration: root.Duration(),
	}
	var selected *tree.Node
	if sel != nil {
		selected = sel.Selected()
		f.ScrollTop = sel.ScrollTop()
	}
	for _, n := range nav.Rows(root) {
		row := Row{
			Depth:    nav.Depth(n) - 1,
			Kind:     n.Kind(),
			Label:    n.Label(),
			State:    n.State(),
			Failed:   n.Failed(),
			Duration: n.Duration(),
			Expanded: n.Expanded(),
			Children: n.Len(),
			Selected: n == selected,
		}
		if d := n.Diagnostic(); d != nil {
			row.Severity = d.Severity
		}
		f.Rows = append(f.Rows, row)
	}
	countLeaves(root, &f)
	return f
}

func countLeaves(n *tree.Node, f *Frame) {
	for _, c := range n.Children() {
		switch c.Kind() {
		case tree.KindContainer:
			countLeaves(c, f)
		case tree.KindLeaf:
			f.Leaves++
			switch c.State() {
			case tree.StateFinished, tree.StateTerminated:
				f.Done++
			case tree.StateNotStarted, tree.StateRunning, tree.StateFailed:
			}
			if c.Failed() {
				f.Failed++
			}
		case tree.KindRoot, tree.KindDiagnostic:
		}
	}
}

// Progress is the share of leaves that are done, 0 when there are none.
func (f Frame) Progress() float64 {
	if f.Leaves == 0 {
		return 0
	}
	return float64(f.Done) / float64(f.Leaves)
}
