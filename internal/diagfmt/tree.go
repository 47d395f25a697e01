package diagfmt

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"arbor/internal/tree"
)

// Tree dumps the rendered tree below root with box-drawing guides:
//
//	finished  mod
//	├─ finished  def1  12ms
//	│  └─ ERROR ANA2001 type mismatch
//	└─ failed    def2
func Tree(w io.Writer, root *tree.Node, opts TreeOpts) error {
	p := newPalette(opts.Color)
	header := fmt.Sprintf("session %s", p.stateColor(root.State()).Sprint(root.State().String()))
	if opts.Timings && root.Duration() > 0 {
		header += " " + root.Duration().Round(time.Millisecond).String()
	}
	if _, err := fmt.Fprintln(w, header); err != nil {
		return err
	}
	for _, c := range root.Children() {
		if err := writeNode(w, c, "", "", opts, p); err != nil {
			return err
		}
	}
	return nil
}

func writeNode(w io.Writer, n *tree.Node, lead, childLead string, opts TreeOpts, p palette) error {
	if _, err := fmt.Fprintln(w, lead+nodeLine(n, opts, p, runewidth.StringWidth(lead))); err != nil {
		return err
	}
	if opts.Collapsed && n.Kind() == tree.KindLeaf && !n.Expanded() {
		return nil
	}
	children := n.Children()
	for i, c := range children {
		branch, next := "├─ ", "│  "
		if i == len(children)-1 {
			branch, next = "└─ ", "   "
		}
		if err := writeNode(w, c, childLead+branch, childLead+next, opts, p); err != nil {
			return err
		}
	}
	return nil
}

func nodeLine(n *tree.Node, opts TreeOpts, p palette, indent int) string {
	if d := n.Diagnostic(); d != nil {
		sev := p.severity(d.Severity).Sprint(d.Severity.String())
		return sev + " " + fit(d.OneLine(), opts.Width, indent+runewidth.StringWidth(d.Severity.String())+1)
	}
	state := stateLabel(n)
	var b strings.Builder
	b.WriteString(p.stateColor(n.State()).Sprintf("%-11s", state))
	suffix := ""
	if opts.Timings && n.Kind() == tree.KindLeaf && n.Duration() > 0 {
		suffix = "  " + n.Duration().Round(time.Millisecond).String()
	}
	b.WriteString(fit(n.Label(), opts.Width, indent+11+runewidth.StringWidth(suffix)))
	b.WriteString(suffix)
	return b.String()
}

func stateLabel(n *tree.Node) string {
	if n.Failed() && n.State() != tree.StateFailed {
		return n.State().String() + "!"
	}
	return n.State().String()
}

func fit(s string, width, used int) string {
	if width <= 0 {
		return s
	}
	room := width - used
	if room <= 3 {
		return runewidth.Truncate(s, max(0, room), "")
	}
	return runewidth.Truncate(s, room, "...")
}

func (p palette) stateColor(s tree.State) *color.Color {
	if c, ok := p.state[s.String()]; ok {
		return c
	}
	return p.dim
}
