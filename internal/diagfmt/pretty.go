package diagfmt

import (
	"fmt"
	"io"
	"strings"

	"fortio.org/safecast"
	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"arbor/internal/diag"
	"arbor/internal/source"
)

// Pretty форматирует диагностики в человекочитаемый вид.
// Идёт по bag.Items() (ожидается bag.Sort() заранее).
// Для каждого diag печатает:
// <path>:<line>:<col>: <SEV> <CODE>: <Message>
// затем контекст строки с подчёркиванием ^~~~ по Span, затем Notes.
// Diagnostics whose location is stale are printed without position and context.
func Pretty(w io.Writer, bag *diag.Bag, fs *source.FileSet, opts PrettyOpts) {
	p := newPalette(opts.Color)
	for _, d := range bag.Items() {
		prettyOne(w, d, fs, opts, p)
	}
}

func prettyOne(w io.Writer, d *diag.Diagnostic, fs *source.FileSet, opts PrettyOpts, p palette) {
	f := fs.Get(d.Primary.File)
	path := formatPath(f, opts.PathMode, fs.BaseDir())
	start, end, ok := fs.Resolve(d.Location())

	sev := p.severity(d.Severity).Sprint(d.Severity.String())
	msg := fitWidth(d.Message, opts.Width)
	if !ok {
		fmt.Fprintf(w, "%s: %s %s: %s %s\n", path, sev, d.Code.ID(), msg, p.dim.Sprint("(stale)"))
		return
	}
	fmt.Fprintf(w, "%s:%d:%d: %s %s: %s\n", path, start.Line, start.Col, sev, d.Code.ID(), msg)
	writeContext(w, f, start, end, int(opts.Context), p)

	if !opts.ShowNotes {
		return
	}
	for _, n := range d.Notes {
		loc := source.Location{Span: n.Span, Revision: d.Revision}
		if ns, _, ok := fs.Resolve(loc); ok {
			nf := fs.Get(n.Span.File)
			fmt.Fprintf(w, "  %s %s:%d:%d: %s\n", p.note.Sprint("note:"), formatPath(nf, opts.PathMode, fs.BaseDir()), ns.Line, ns.Col, n.Msg)
			continue
		}
		fmt.Fprintf(w, "  %s %s\n", p.note.Sprint("note:"), n.Msg)
	}
}

func writeContext(w io.Writer, f *source.File, start, end source.LineCol, context int, p palette) {
	if f == nil || context < 0 {
		return
	}
	lines, err := safecast.Conv[uint32](len(f.LineIdx) + 1)
	if err != nil {
		return
	}
	ctx, err := safecast.Conv[uint32](context)
	if err != nil {
		return
	}
	first := uint32(1)
	if start.Line > ctx {
		first = start.Line - ctx
	}
	last := min(start.Line+ctx, lines)
	gutter := len(fmt.Sprint(last))

	for n := first; n <= last; n++ {
		text := strings.TrimRight(f.GetLine(n), "\r")
		fmt.Fprintf(w, " %*d | %s\n", gutter, n, text)
		if n != start.Line {
			continue
		}
		col := int(start.Col) - 1
		width := 1
		if end.Line == start.Line && end.Col > start.Col {
			width = int(end.Col - start.Col)
		}
		pad := runewidth.StringWidth(prefixBytes(text, col))
		marker := "^" + strings.Repeat("~", max(0, width-1))
		fmt.Fprintf(w, " %s | %s%s\n", strings.Repeat(" ", gutter), strings.Repeat(" ", pad), p.caret.Sprint(marker))
	}
}

func prefixBytes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if n >= len(s) {
		return s
	}
	return s[:n]
}

func fitWidth(s string, width uint8) string {
	if width == 0 || runewidth.StringWidth(s) <= int(width) {
		return s
	}
	return runewidth.Truncate(s, int(width), "...")
}

type palette struct {
	err, warn, goal, info *color.Color
	note, caret, dim      *color.Color
	state                 map[string]*color.Color
}

func newPalette(enabled bool) palette {
	mk := func(attrs ...color.Attribute) *color.Color {
		c := color.New(attrs...)
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c
	}
	return palette{
		err:   mk(color.FgRed, color.Bold),
		warn:  mk(color.FgYellow, color.Bold),
		goal:  mk(color.FgMagenta),
		info:  mk(color.FgBlue),
		note:  mk(color.FgCyan),
		caret: mk(color.FgGreen, color.Bold),
		dim:   mk(color.Faint),
		state: map[string]*color.Color{
			"running":     mk(color.FgCyan),
			"failed":      mk(color.FgRed),
			"finished":    mk(color.FgGreen),
			"terminated":  mk(color.FgYellow),
			"not-started": mk(color.Faint),
		},
	}
}

func (p palette) severity(sev diag.Severity) *color.Color {
	switch sev {
	case diag.SevError:
		return p.err
	case diag.SevWarning, diag.SevWarningUnused:
		return p.warn
	case diag.SevGoal:
		return p.goal
	case diag.SevInfo:
		return p.info
	}
	return p.info
}
